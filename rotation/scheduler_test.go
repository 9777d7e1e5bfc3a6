package rotation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/tee-key-rotation/interfaces"
	"github.com/ruteri/tee-key-rotation/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

const (
	testLower   = 100
	testUpper   = 1000
	testTimeout = 5 * time.Second
)

var (
	kernel0 = interfaces.KeyPairID{Space: 0, Tier: interfaces.TierKernel}
	user0   = interfaces.KeyPairID{Space: 0, Tier: interfaces.TierUser}
	user1   = interfaces.KeyPairID{Space: 1, Tier: interfaces.TierUser}
)

type testLayout struct{}

func (testLayout) Name() string { return "test" }

func (testLayout) KeySpaces() []interfaces.KeySpace { return []interfaces.KeySpace{0, 1} }

func (testLayout) KeySpaceName(s interfaces.KeySpace) string { return fmt.Sprintf("engine-%d", s) }

type fakeCounter struct {
	mu    sync.Mutex
	usage interfaces.PairUsage
	err   error
}

func (f *fakeCounter) ReadUsage() (interfaces.PairUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage, f.err
}

func (f *fakeCounter) setOps(ops uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage.H2D.TotalEncryptOps = ops
}

func (f *fakeCounter) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type notification struct {
	event  interfaces.Event
	status interfaces.Status
}

type recordingTransport struct {
	mu   sync.Mutex
	sent map[interfaces.ConsumerID][]notification
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{sent: make(map[interfaces.ConsumerID][]notification)}
}

func (r *recordingTransport) Notify(id interfaces.ConsumerID, event interfaces.Event, status interfaces.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[id] = append(r.sent[id], notification{event, status})
}

func (r *recordingTransport) received(id interfaces.ConsumerID) []notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification(nil), r.sent[id]...)
}

func statusChanged(s interfaces.Status) notification {
	return notification{interfaces.EventStatusChanged, s}
}

func abort(s interfaces.Status) notification {
	return notification{interfaces.EventAbort, s}
}

type harness struct {
	s         *Scheduler
	clock     *clock.Mock
	deriver   *kms.MockKeyDeriver
	transport *recordingTransport
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock:     clock.NewMock(),
		deriver:   new(kms.MockKeyDeriver),
		transport: newRecordingTransport(),
	}
	cfg := Config{
		EnableMask:   interfaces.MaskAll,
		Threshold:    ThresholdConfig{LowerLimit: testLower, UpperLimit: testUpper},
		Timeout:      testTimeout,
		TickInterval: time.Second,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithClock(h.clock)}, opts...)
	s, err := NewScheduler(cfg, testLayout{}, h.deriver, h.transport, logger, opts...)
	require.NoError(t, err)
	h.s = s
	t.Cleanup(s.Close)
	return h
}

func (h *harness) expectRotation(pair interfaces.KeyPairID) *mock.Call {
	material := &interfaces.KeyMaterial{
		Pair: pair.Pair(),
		H2D:  interfaces.Key{ID: pair.Pair().H2D, Secret: []byte{1, 2, 3}},
		D2H:  interfaces.Key{ID: pair.Pair().D2H, Secret: []byte{4, 5, 6}},
	}
	return h.deriver.On("DeriveKeys", mock.Anything, pair.Pair()).Return(material, nil)
}

func (h *harness) state(t *testing.T, pair interfaces.KeyPairID) interfaces.RotationState {
	t.Helper()
	st, err := h.s.State(pair.Pair().H2D)
	assert.NoError(t, err)
	return st
}

func (h *harness) register(t *testing.T, pair interfaces.KeyPairID, id string) (*Consumer, *fakeCounter) {
	t.Helper()
	counter := &fakeCounter{}
	c, err := h.s.Register(pair, counter, interfaces.ConsumerID(id))
	require.NoError(t, err)
	return c, counter
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	require.NoError(t, h.s.Tick(context.Background()))
}

func TestScheduler_GracefulRotation(t *testing.T) {
	h := newHarness(t)
	h.expectRotation(user0).Once()

	c, counter := h.register(t, user0, "c1")
	counter.setOps(150)
	h.tick(t)

	assert.Equal(t, interfaces.StatePending, h.state(t, user0))
	assert.Equal(t, []notification{statusChanged(interfaces.StatusPending)}, h.transport.received("c1"))
	snap, err := h.s.PairSnapshot(user0)
	require.NoError(t, err)
	assert.Equal(t, testTimeout, snap.TimeoutRemaining)
	assert.Equal(t, uint64(150), snap.WorkUnits)

	// still waiting while the consumer has not quiesced
	h.tick(t)
	assert.Equal(t, interfaces.StatePending, h.state(t, user0))

	c.SetQuiesced(true)
	h.tick(t)

	assert.Equal(t, interfaces.StateIdle, h.state(t, user0))
	assert.False(t, c.Quiesced())
	assert.Equal(t, []notification{
		statusChanged(interfaces.StatusPending),
		statusChanged(interfaces.StatusIdle),
	}, h.transport.received("c1"))

	snap, err = h.s.PairSnapshot(user0)
	require.NoError(t, err)
	assert.True(t, snap.Usage.IsZero())
	assert.Equal(t, uint64(1), snap.Rotations)
	assert.Zero(t, snap.TimeoutRemaining)

	// the counter is cumulative, usage since the rotation stays zero
	h.tick(t)
	assert.Equal(t, interfaces.StateIdle, h.state(t, user0))
	h.deriver.AssertExpectations(t)

	// the disarmed timer never fires
	h.clock.Add(2 * testTimeout)
	assert.Never(t, func() bool { return h.state(t, user0) != interfaces.StateIdle }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestScheduler_TimeoutForcesRotation(t *testing.T) {
	h := newHarness(t)
	h.expectRotation(user0).Once()

	c, counter := h.register(t, user0, "c1")
	counter.setOps(150)
	h.tick(t)
	require.Equal(t, interfaces.StatePending, h.state(t, user0))

	h.clock.Add(testTimeout)
	require.Eventually(t, func() bool {
		return h.state(t, user0) == interfaces.StateFailedTimeout
	}, time.Second, 5*time.Millisecond)

	h.tick(t)

	assert.Equal(t, interfaces.StateIdle, h.state(t, user0))
	assert.Equal(t, []notification{
		statusChanged(interfaces.StatusPending),
		statusChanged(interfaces.StatusFailedTimeout),
		abort(interfaces.StatusFailedTimeout),
		statusChanged(interfaces.StatusIdle),
	}, h.transport.received("c1"))
	assert.False(t, c.EnableAfterRotation())
	h.deriver.AssertExpectations(t)
}

func TestScheduler_UpperThresholdAbortsOnlyBusyConsumers(t *testing.T) {
	h := newHarness(t)
	h.expectRotation(user1).Once()

	busy, busyCounter := h.register(t, user1, "busy")
	idle, _ := h.register(t, user1, "idle")
	idle.SetQuiesced(true)

	// crossing both limits within one tick skips Pending
	busyCounter.setOps(testUpper)
	h.tick(t)

	assert.Equal(t, interfaces.StateIdle, h.state(t, user1))
	assert.Equal(t, []notification{
		statusChanged(interfaces.StatusFailedThreshold),
		abort(interfaces.StatusFailedThreshold),
		statusChanged(interfaces.StatusIdle),
	}, h.transport.received("busy"))
	assert.Equal(t, []notification{
		statusChanged(interfaces.StatusFailedThreshold),
		statusChanged(interfaces.StatusIdle),
	}, h.transport.received("idle"))
	assert.False(t, busy.EnableAfterRotation())
	h.deriver.AssertExpectations(t)
}

func TestScheduler_FailedRotationIsTerminalUntilRecovered(t *testing.T) {
	h := newHarness(t)
	h.deriver.On("DeriveKeys", mock.Anything, user0.Pair()).
		Return(nil, errors.New("seed source unreachable")).Once()

	c, counter := h.register(t, user0, "c1")
	c.SetQuiesced(true)
	counter.setOps(150)
	h.tick(t)

	assert.Equal(t, interfaces.StateFailedRotation, h.state(t, user0))
	snap, err := h.s.PairSnapshot(user0)
	require.NoError(t, err)
	assert.EqualError(t, snap.LastError, "seed source unreachable")

	// neither ticks nor further usage leave the failed state
	counter.setOps(testUpper * 2)
	h.tick(t)
	assert.Equal(t, interfaces.StateFailedRotation, h.state(t, user0))

	err = h.s.Trigger(user0)
	assert.True(t, interfaces.IsRotationFailed(err))

	h.expectRotation(user0).Once()
	require.NoError(t, h.s.Recover(context.Background(), user0))
	assert.Equal(t, interfaces.StateIdle, h.state(t, user0))

	err = h.s.Recover(context.Background(), user0)
	assert.ErrorIs(t, err, interfaces.ErrPairNotFailed)
	h.deriver.AssertExpectations(t)
}

func TestScheduler_RecoverFailureStaysFailed(t *testing.T) {
	h := newHarness(t)
	h.deriver.On("DeriveKeys", mock.Anything, kernel0.Pair()).
		Return(nil, errors.New("install failed")).Twice()

	_, counter := h.register(t, kernel0, "k1")
	counter.setOps(testUpper)
	h.tick(t)
	require.Equal(t, interfaces.StateFailedRotation, h.state(t, kernel0))

	err := h.s.Recover(context.Background(), kernel0)
	assert.True(t, interfaces.IsRotationFailed(err))
	assert.Equal(t, interfaces.StateFailedRotation, h.state(t, kernel0))
}

func TestScheduler_KernelPairNeverTimesOut(t *testing.T) {
	h := newHarness(t)

	_, counter := h.register(t, kernel0, "k1")
	counter.setOps(150)
	h.tick(t)
	require.Equal(t, interfaces.StatePending, h.state(t, kernel0))

	snap, err := h.s.PairSnapshot(kernel0)
	require.NoError(t, err)
	assert.Zero(t, snap.TimeoutRemaining)

	h.clock.Add(time.Hour)
	h.tick(t)
	assert.Equal(t, interfaces.StatePending, h.state(t, kernel0))
	h.deriver.AssertNotCalled(t, "DeriveKeys", mock.Anything, mock.Anything)
}

func TestScheduler_UserTimeoutSuppressedWhileKernelPending(t *testing.T) {
	h := newHarness(t)

	_, kernelCounter := h.register(t, kernel0, "k1")
	_, userCounter := h.register(t, user0, "u1")
	kernelCounter.setOps(150)
	userCounter.setOps(150)
	h.tick(t)

	require.Equal(t, interfaces.StatePending, h.state(t, kernel0))
	require.Equal(t, interfaces.StatePending, h.state(t, user0))
	snap, err := h.s.PairSnapshot(user0)
	require.NoError(t, err)
	assert.Zero(t, snap.TimeoutRemaining)

	h.clock.Add(2 * testTimeout)
	h.tick(t)
	assert.Equal(t, interfaces.StatePending, h.state(t, user0))
}

func TestScheduler_LaterKernelPendingKeepsUserTimer(t *testing.T) {
	h := newHarness(t)

	_, kernelCounter := h.register(t, kernel0, "k1")
	_, userCounter := h.register(t, user0, "u1")
	userCounter.setOps(150)
	h.tick(t)
	require.Equal(t, interfaces.StatePending, h.state(t, user0))

	kernelCounter.setOps(150)
	h.tick(t)
	require.Equal(t, interfaces.StatePending, h.state(t, kernel0))

	snap, err := h.s.PairSnapshot(user0)
	require.NoError(t, err)
	assert.Equal(t, testTimeout, snap.TimeoutRemaining)

	h.clock.Add(testTimeout)
	require.Eventually(t, func() bool {
		return h.state(t, user0) == interfaces.StateFailedTimeout
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_RetiredUsageCountsUntilRotation(t *testing.T) {
	h := newHarness(t)
	h.expectRotation(user0).Once()

	c, counter := h.register(t, user0, "gone")
	counter.setOps(60)
	h.tick(t)
	require.NoError(t, h.s.Unregister(c.ID()))

	_, err := h.s.Registry().Get(c.ID())
	assert.True(t, interfaces.IsUnknownConsumer(err))

	// a second consumer pushes the combined total over the lower limit
	_, counter2 := h.register(t, user0, "live")
	counter2.setOps(50)
	h.s.SetEnabled(false)
	h.tick(t)
	snap, err := h.s.PairSnapshot(user0)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), snap.RetiredUsage.H2D.TotalEncryptOps)

	h.s.SetEnabled(true)
	live, err := h.s.Registry().Get("live")
	require.NoError(t, err)
	live.SetQuiesced(true)
	h.tick(t)

	assert.Equal(t, interfaces.StateIdle, h.state(t, user0))
	snap, err = h.s.PairSnapshot(user0)
	require.NoError(t, err)
	assert.True(t, snap.Usage.IsZero())
	assert.True(t, snap.RetiredUsage.IsZero())
	assert.Equal(t, uint64(1), snap.Rotations)
}

func TestScheduler_PendingWithoutConsumersRotatesImmediately(t *testing.T) {
	h := newHarness(t)
	h.expectRotation(user0).Once()

	c, counter := h.register(t, user0, "c1")
	counter.setOps(150)
	require.NoError(t, h.s.Unregister(c.ID()))
	h.tick(t)

	assert.Equal(t, interfaces.StateIdle, h.state(t, user0))
	h.deriver.AssertExpectations(t)
}

func TestScheduler_DisabledTicksDoNothing(t *testing.T) {
	h := newHarness(t)

	_, counter := h.register(t, user0, "c1")
	counter.setOps(testUpper)
	h.s.SetEnabled(false)
	assert.False(t, h.s.Enabled())
	h.tick(t)
	assert.Equal(t, interfaces.StateIdle, h.state(t, user0))
	assert.Empty(t, h.transport.received("c1"))

	h.expectRotation(user0).Once()
	h.s.SetEnabled(true)
	h.tick(t)
	assert.Equal(t, interfaces.StateIdle, h.state(t, user0))
	snap, err := h.s.PairSnapshot(user0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Rotations)
}

func TestScheduler_Trigger(t *testing.T) {
	h := newHarness(t)
	h.expectRotation(user1).Once()

	c, _ := h.register(t, user1, "c1")
	require.NoError(t, h.s.Trigger(user1))
	assert.Equal(t, interfaces.StateFailedThreshold, h.state(t, user1))

	h.tick(t)
	assert.Equal(t, interfaces.StateIdle, h.state(t, user1))
	assert.Contains(t, h.transport.received(c.ID()), abort(interfaces.StatusFailedThreshold))

	err := h.s.Trigger(interfaces.KeyPairID{Space: 7, Tier: interfaces.TierUser})
	assert.True(t, interfaces.IsUnknownKeyPair(err))
}

func TestScheduler_ReadFailureKeepsLastUsage(t *testing.T) {
	h := newHarness(t)

	_, counter := h.register(t, user0, "c1")
	counter.setOps(50)
	h.tick(t)

	counter.setErr(errors.New("buffer unmapped"))
	err := h.s.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "c1")

	snap, err := h.s.PairSnapshot(user0)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), snap.WorkUnits)
	assert.Equal(t, interfaces.StateIdle, snap.State)
}

func TestScheduler_RegisterValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.s.Register(interfaces.KeyPairID{Space: 9}, &fakeCounter{}, "")
	assert.True(t, interfaces.IsUnknownKeyPair(err))

	c, err := h.s.Register(user0, &fakeCounter{}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID())
	assert.Equal(t, user0, c.Pair())

	_, err = h.s.Register(user0, &fakeCounter{}, c.ID())
	assert.ErrorIs(t, err, interfaces.ErrConsumerExists)

	assert.True(t, interfaces.IsUnknownConsumer(h.s.Unregister("missing")))
}

func TestScheduler_LateConsumerLearnsPendingStatus(t *testing.T) {
	h := newHarness(t)

	_, counter := h.register(t, user0, "early")
	counter.setOps(150)
	h.tick(t)

	h.register(t, user0, "late")
	assert.Equal(t, []notification{statusChanged(interfaces.StatusPending)}, h.transport.received("late"))
}

func TestScheduler_StateSharedByPairMembers(t *testing.T) {
	h := newHarness(t)

	_, counter := h.register(t, kernel0, "k1")
	counter.setOps(150)
	h.tick(t)

	pair := kernel0.Pair()
	h2d, err := h.s.State(pair.H2D)
	require.NoError(t, err)
	d2h, err := h.s.State(pair.D2H)
	require.NoError(t, err)
	assert.Equal(t, h2d, d2h)
	assert.Equal(t, interfaces.StatePending, d2h)

	_, err = h.s.State(interfaces.KeyID(0x0000_0007))
	assert.ErrorIs(t, err, interfaces.ErrInvalidKeyID)
}

type blockingDeriver struct {
	release chan struct{}
	calls   chan interfaces.KeyPair
}

func (d *blockingDeriver) DeriveKeys(ctx context.Context, pair interfaces.KeyPair) (*interfaces.KeyMaterial, error) {
	d.calls <- pair
	<-d.release
	return &interfaces.KeyMaterial{Pair: pair}, nil
}

func TestScheduler_AsyncRotationDoesNotBlockTick(t *testing.T) {
	deriver := &blockingDeriver{release: make(chan struct{}), calls: make(chan interfaces.KeyPair, 4)}
	cfg := Config{
		EnableMask:   interfaces.MaskAll,
		Threshold:    ThresholdConfig{LowerLimit: testLower, UpperLimit: testUpper},
		Timeout:      testTimeout,
		TickInterval: time.Second,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewScheduler(cfg, testLayout{}, deriver, newRecordingTransport(), logger,
		WithClock(clock.NewMock()), WithWorkQueue(NewAsyncQueue(2, 4)))
	require.NoError(t, err)

	counter := &fakeCounter{}
	_, err = s.Register(user0, counter, "c1")
	require.NoError(t, err)
	counter.setOps(testUpper)

	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, user0.Pair(), <-deriver.calls)

	// the pair is busy, further ticks neither block nor dispatch again
	require.NoError(t, s.Tick(context.Background()))
	st, err := s.State(user0.Pair().H2D)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StateInProgress, st)
	assert.ErrorIs(t, s.Trigger(user0), interfaces.ErrRotationBusy)

	close(deriver.release)
	require.Eventually(t, func() bool {
		st, _ := s.State(user0.Pair().H2D)
		return st == interfaces.StateIdle
	}, time.Second, 5*time.Millisecond)

	s.Close()
	assert.Empty(t, deriver.calls)
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t)

	_, counter := h.register(t, kernel0, "k1")
	counter.setOps(150)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.s.Run(ctx) }()

	require.Eventually(t, func() bool {
		h.clock.Add(time.Second)
		return h.state(t, kernel0) == interfaces.StatePending
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestNewScheduler_Validation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := DefaultConfig()
	cfg.Threshold = ThresholdConfig{LowerLimit: 10, UpperLimit: 5}
	_, err := NewScheduler(cfg, testLayout{}, new(kms.MockKeyDeriver), newRecordingTransport(), logger)
	assert.True(t, interfaces.IsInvalidThreshold(err))

	_, err = NewScheduler(DefaultConfig(), testLayout{}, nil, newRecordingTransport(), logger)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.EnableMask = interfaces.MaskNone.With(user1)
	s, err := NewScheduler(cfg, testLayout{}, new(kms.MockKeyDeriver), newRecordingTransport(), logger)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.KeyPairID{user1}, s.Pairs())
	_, err = s.Register(user0, &fakeCounter{}, "")
	assert.True(t, interfaces.IsUnknownKeyPair(err))
}

func TestScheduler_ConcurrentUnregisterRetiresOnce(t *testing.T) {
	h := newHarness(t)

	c, counter := h.register(t, user0, "c1")
	counter.setOps(60)
	h.tick(t)
	counter.setOps(70)

	// hold the pair lock so both teardowns pass the registry lookup first
	rec, err := h.s.store.record(user0)
	require.NoError(t, err)
	rec.mu.Lock()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.s.Unregister(c.ID())
		}()
	}
	time.Sleep(20 * time.Millisecond)
	rec.mu.Unlock()
	wg.Wait()
	close(errs)

	var succeeded, unknown int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case interfaces.IsUnknownConsumer(err):
			unknown++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, unknown)

	snap, err := h.s.PairSnapshot(user0)
	require.NoError(t, err)
	assert.Equal(t, uint64(70), snap.RetiredUsage.H2D.TotalEncryptOps)
	assert.Equal(t, uint64(70), snap.Usage.H2D.TotalEncryptOps)

	assert.True(t, interfaces.IsUnknownConsumer(h.s.Unregister(c.ID())))
}

func TestScheduler_TotalNeverDecreasesWithoutRotation(t *testing.T) {
	h := newHarness(t)

	a, counterA := h.register(t, user0, "a")
	_, counterB := h.register(t, user0, "b")

	var last uint64
	expectTotal := func(want uint64) {
		t.Helper()
		snap, err := h.s.PairSnapshot(user0)
		require.NoError(t, err)
		got := snap.Usage.H2D.TotalEncryptOps
		assert.GreaterOrEqual(t, got, last)
		assert.Equal(t, want, got)
		last = got
	}

	counterA.setOps(30)
	counterB.setOps(20)
	h.tick(t)
	expectTotal(50)

	// growth since the last refresh is picked up by the teardown
	counterA.setOps(40)
	require.NoError(t, h.s.Unregister(a.ID()))
	expectTotal(60)

	h.tick(t)
	expectTotal(60)

	counterB.setOps(25)
	h.tick(t)
	expectTotal(65)

	// a consumer torn down before any refresh still counts
	late, counterLate := h.register(t, user0, "late")
	counterLate.setOps(10)
	require.NoError(t, h.s.Unregister(late.ID()))
	expectTotal(75)

	h.tick(t)
	expectTotal(75)
	assert.Equal(t, interfaces.StateIdle, h.state(t, user0))
}

type readFailureObserver struct {
	nopObserver
	failures atomic.Int64
}

func (o *readFailureObserver) ConsumerReadFailed(interfaces.KeyPairID) {
	o.failures.Inc()
}

func TestScheduler_ReadFailureAtRotationIsReported(t *testing.T) {
	observer := &readFailureObserver{}
	h := newHarness(t, WithObserver(observer))
	h.expectRotation(user0).Once()

	c, counter := h.register(t, user0, "c1")
	counter.setOps(150)
	h.tick(t)
	require.Equal(t, interfaces.StatePending, h.state(t, user0))

	counter.setOps(170)
	counter.setErr(errors.New("buffer unmapped"))
	c.SetQuiesced(true)
	require.Error(t, h.s.Tick(context.Background()))

	assert.Equal(t, interfaces.StateIdle, h.state(t, user0))
	// one failure during the refresh, one while moving the baseline
	assert.Equal(t, int64(2), observer.failures.Load())

	// the baseline stayed at the last good read
	counter.setErr(nil)
	h.tick(t)
	snap, err := h.s.PairSnapshot(user0)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), snap.WorkUnits)
	h.deriver.AssertExpectations(t)
}

func TestScheduler_InternalLimitAppliesToKernelPairs(t *testing.T) {
	cfg := Config{
		EnableMask:   interfaces.MaskAll,
		Threshold:    ThresholdConfig{LowerLimit: testLower, UpperLimit: testUpper, InternalLimit: 500},
		Timeout:      testTimeout,
		TickInterval: time.Second,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewScheduler(cfg, testLayout{}, new(kms.MockKeyDeriver), newRecordingTransport(), logger,
		WithClock(clock.NewMock()))
	require.NoError(t, err)
	t.Cleanup(s.Close)

	kernelCounter, userCounter := &fakeCounter{}, &fakeCounter{}
	_, err = s.Register(kernel0, kernelCounter, "k1")
	require.NoError(t, err)
	_, err = s.Register(user1, userCounter, "u1")
	require.NoError(t, err)

	kernelCounter.setOps(150)
	userCounter.setOps(150)
	require.NoError(t, s.Tick(context.Background()))

	st, err := s.State(kernel0.Pair().H2D)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StateIdle, st)
	st, err = s.State(user1.Pair().H2D)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatePending, st)

	kernelCounter.setOps(500)
	require.NoError(t, s.Tick(context.Background()))
	st, err = s.State(kernel0.Pair().H2D)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatePending, st)
}

package rotation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/tee-key-rotation/interfaces"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

// RotationTask is one rotation handed to the work queue. The pair is already
// InProgress when the task is built.
type RotationTask struct {
	Pair     interfaces.KeyPair
	Prior    interfaces.RotationState
	QueuedAt time.Time
}

// Forced reports whether the rotation aborts consumers.
func (t RotationTask) Forced() bool {
	return t.Prior.IsForced()
}

// Scheduler drives the rotation state machine of every enabled pair from a
// periodic tick.
type Scheduler struct {
	cfg       Config
	layout    interfaces.Layout
	pairs     []interfaces.KeyPairID
	policy    *ThresholdPolicy
	store     *StateStore
	ledger    *UsageLedger
	registry  *ConsumerRegistry
	executor  *Executor
	transport interfaces.ConsumerTransport
	queue     WorkQueue
	clock     clock.Clock
	observer  Observer
	enabled   atomic.Bool
	log       *slog.Logger
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithWorkQueue replaces the default inline queue.
func WithWorkQueue(q WorkQueue) Option {
	return func(s *Scheduler) { s.queue = q }
}

// WithObserver registers lifecycle callbacks.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

// NewScheduler builds a scheduler over the pairs of layout selected by
// cfg.EnableMask. Rotation starts enabled.
func NewScheduler(cfg Config, layout interfaces.Layout, deriver interfaces.KeyDeriver, transport interfaces.ConsumerTransport, log *slog.Logger, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rotation config: %w", err)
	}
	if layout == nil || deriver == nil || transport == nil {
		return nil, fmt.Errorf("layout, key deriver and consumer transport are required")
	}
	policy, err := NewThresholdPolicy(cfg.Threshold)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		cfg:       cfg,
		layout:    layout,
		pairs:     interfaces.PairsFor(layout, cfg.EnableMask),
		policy:    policy,
		registry:  NewConsumerRegistry(),
		transport: transport,
		queue:     InlineQueue{},
		clock:     clock.New(),
		observer:  nopObserver{},
		log:       log,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.store = NewStateStore(s.clock, s.pairs)
	s.ledger = NewUsageLedger(s.pairs)
	s.executor = &Executor{
		deriver:   deriver,
		store:     s.store,
		ledger:    s.ledger,
		registry:  s.registry,
		transport: transport,
		clock:     s.clock,
		observer:  s.observer,
		log:       log,
	}
	s.enabled.Store(true)

	lower, upper := policy.Limits()
	log.Info("Key rotation scheduler configured",
		"layout", layout.Name(),
		"pairs", len(s.pairs),
		"lowerLimit", lower,
		"upperLimit", upper,
		"internalLimit", policy.InternalLimit(),
		"timeout", cfg.Timeout,
		"tickInterval", cfg.TickInterval)
	return s, nil
}

// Pairs lists the pairs under rotation.
func (s *Scheduler) Pairs() []interfaces.KeyPairID {
	return append([]interfaces.KeyPairID(nil), s.pairs...)
}

// Policy returns the threshold policy in use.
func (s *Scheduler) Policy() *ThresholdPolicy {
	return s.policy
}

// Registry returns the consumer registry.
func (s *Scheduler) Registry() *ConsumerRegistry {
	return s.registry
}

// State returns the rotation state of the pair owning the given key id.
func (s *Scheduler) State(key interfaces.KeyID) (interfaces.RotationState, error) {
	return s.store.State(key)
}

// SetEnabled toggles rotation globally. While disabled, ticks do nothing and
// in-flight rotations run to completion.
func (s *Scheduler) SetEnabled(enabled bool) {
	if s.enabled.Swap(enabled) != enabled {
		s.log.Info("Key rotation toggled", "enabled", enabled)
	}
}

// Enabled reports the global toggle.
func (s *Scheduler) Enabled() bool {
	return s.enabled.Load()
}

// Register binds a new consumer to a pair. An empty id is replaced by a
// random one. A consumer joining a pair that already awaits rotation is told
// the current status.
func (s *Scheduler) Register(pair interfaces.KeyPairID, counter interfaces.UsageCounter, id interfaces.ConsumerID) (*Consumer, error) {
	rec, err := s.store.record(pair)
	if err != nil {
		return nil, err
	}
	if counter == nil {
		return nil, fmt.Errorf("consumer usage counter is required")
	}
	if id == "" {
		id = interfaces.NewConsumerID()
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	c := &Consumer{id: id, pair: pair, counter: counter, createdAt: s.clock.Now()}
	if err := s.registry.add(c); err != nil {
		return nil, err
	}
	if st := rec.state(); st == interfaces.StatePending || st.IsForced() {
		s.transport.Notify(c.id, interfaces.EventStatusChanged, interfaces.StatusForState(st))
	}
	s.log.Debug("Consumer registered", "consumer", c.id, "pair", pair)
	return c, nil
}

// Unregister tears a consumer down. Its usage since the last rotation keeps
// counting toward the pair until the next rotation. Of concurrent teardowns of
// the same consumer only the first succeeds; the others get ErrUnknownConsumer.
func (s *Scheduler) Unregister(id interfaces.ConsumerID) error {
	c, err := s.registry.Get(id)
	if err != nil {
		return err
	}
	rec, err := s.store.record(c.pair)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	// the lookup above ran unlocked, another teardown may have won since
	if !s.registry.remove(id) {
		return fmt.Errorf("%w: %s", interfaces.ErrUnknownConsumer, id)
	}

	counted := c.usage()
	if err := c.refresh(); err != nil {
		s.observer.ConsumerReadFailed(c.pair)
		s.log.Warn("Failed to read final usage of consumer", "consumer", id, "err", err)
	}
	s.ledger.Retire(c.pair, counted, c.usage())
	s.log.Debug("Consumer unregistered", "consumer", id, "pair", c.pair)
	return nil
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.log.Info("Key rotation scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Key rotation scheduler stopped")
			return nil
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.log.Warn("Key rotation tick reported errors", "err", err)
			}
		}
	}
}

// Close stops all timers and waits for queued rotations.
func (s *Scheduler) Close() {
	for _, id := range s.pairs {
		rec := s.store.records[id]
		rec.mu.Lock()
		s.store.disarmTimer(rec)
		rec.mu.Unlock()
	}
	s.queue.Close()
}

// Tick evaluates every enabled pair once. Errors of individual pairs do not
// stop the others; they are returned combined.
func (s *Scheduler) Tick(ctx context.Context) error {
	if !s.enabled.Load() {
		return nil
	}

	var errs error
	for _, id := range s.pairs {
		task, err := s.tickPair(id)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", id, err))
		}
		if task != nil {
			if err := s.dispatch(ctx, *task); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", id, err))
			}
		}
	}
	return errs
}

func (s *Scheduler) tickPair(id interfaces.KeyPairID) (*RotationTask, error) {
	rec := s.store.records[id]
	rec.mu.Lock()
	defer rec.mu.Unlock()

	switch st := rec.state(); st {
	case interfaces.StateInProgress, interfaces.StateFailedRotation:
		return nil, nil
	case interfaces.StateFailedThreshold, interfaces.StateFailedTimeout:
		return s.forceLocked(rec, st), nil
	}

	consumers := s.registry.Bound(id)
	usage, readErr := s.ledger.Refresh(id, consumers)
	if readErr != nil {
		s.observer.ConsumerReadFailed(id)
	}
	s.observer.UsageRefreshed(id, usage)

	switch s.policy.ClassifyPair(id, usage) {
	case ThresholdUpperCrossed:
		s.log.Warn("Key pair reached upper usage limit, forcing rotation",
			"pair", id, "workUnits", usage.MaxWorkUnits())
		s.transitionLocked(rec, interfaces.StateFailedThreshold)
		return s.forceLocked(rec, interfaces.StateFailedThreshold), readErr
	case ThresholdLowerCrossed:
		if rec.state() == interfaces.StateIdle {
			s.enterPendingLocked(rec, consumers)
		}
	}

	if rec.state() == interfaces.StatePending && allQuiesced(consumers) {
		return s.beginRotationLocked(rec, interfaces.StatePending), readErr
	}
	return nil, readErr
}

func allQuiesced(consumers []*Consumer) bool {
	for _, c := range consumers {
		if !c.Quiesced() {
			return false
		}
	}
	return true
}

func (s *Scheduler) transitionLocked(rec *pairRecord, to interfaces.RotationState) {
	from := rec.state()
	if from == to {
		return
	}
	rec.setState(to)
	s.observer.StateChanged(rec.pair.ID, from, to)
	s.log.Debug("Key rotation state changed", "pair", rec.pair.ID, "from", from, "to", to)
}

// enterPendingLocked requests a graceful rotation. Only user-tier pairs get a
// timeout, and not while the kernel pair of the same keyspace is pending.
func (s *Scheduler) enterPendingLocked(rec *pairRecord, consumers []*Consumer) {
	s.transitionLocked(rec, interfaces.StatePending)
	for _, c := range consumers {
		s.transport.Notify(c.id, interfaces.EventStatusChanged, interfaces.StatusPending)
	}
	s.log.Info("Key rotation requested", "pair", rec.pair.ID, "consumers", len(consumers))

	if rec.pair.ID.IsKernel() {
		return
	}
	if s.store.Published(rec.pair.ID.Sibling()) == interfaces.StatePending {
		s.log.Debug("Rotation timeout suppressed while kernel pair is pending", "pair", rec.pair.ID)
		return
	}
	s.store.armTimer(rec, s.cfg.Timeout, s.onTimeout)
}

// onTimeout runs on the timer goroutine. A fire for a disarmed or re-armed
// timer, or for a pair no longer pending, is discarded.
func (s *Scheduler) onTimeout(id interfaces.KeyPairID, gen uint64) {
	rec := s.store.records[id]
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.timerArmed() || rec.timerGen != gen {
		return
	}
	rec.timer = nil
	rec.timerDeadline = time.Time{}
	if rec.state() != interfaces.StatePending {
		return
	}
	s.log.Warn("Key rotation timed out waiting for consumers", "pair", id, "timeout", s.cfg.Timeout)
	s.transitionLocked(rec, interfaces.StateFailedTimeout)
}

func (s *Scheduler) beginRotationLocked(rec *pairRecord, prior interfaces.RotationState) *RotationTask {
	s.store.disarmTimer(rec)
	s.transitionLocked(rec, interfaces.StateInProgress)
	return &RotationTask{Pair: rec.pair, Prior: prior, QueuedAt: s.clock.Now()}
}

func (s *Scheduler) dispatch(ctx context.Context, task RotationTask) error {
	ctx = context.WithoutCancel(ctx)
	err := s.queue.Submit(func() {
		if err := s.executor.Rotate(ctx, task); err != nil {
			s.log.Error("Key rotation failed", "pair", task.Pair.ID, "err", err)
		}
	})
	if err != nil {
		s.executor.fail(task.Pair.ID, err)
		return fmt.Errorf("%w: %w", interfaces.ErrRotationFailed, err)
	}
	return nil
}

// Trigger condemns a pair to an immediate forced rotation on the next tick.
func (s *Scheduler) Trigger(id interfaces.KeyPairID) error {
	rec, err := s.store.record(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	switch st := rec.state(); st {
	case interfaces.StateIdle, interfaces.StatePending:
		s.store.disarmTimer(rec)
		s.transitionLocked(rec, interfaces.StateFailedThreshold)
		s.log.Info("Key rotation triggered", "pair", id, "from", st)
		return nil
	case interfaces.StateFailedRotation:
		return fmt.Errorf("%w: %s", interfaces.ErrRotationFailed, id)
	default:
		return fmt.Errorf("%w: %s is %s", interfaces.ErrRotationBusy, id, st)
	}
}

// Recover retries the rotation of a pair left in FailedRotation. It runs
// synchronously and returns the outcome of the retry.
func (s *Scheduler) Recover(ctx context.Context, id interfaces.KeyPairID) error {
	rec, err := s.store.record(id)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	if st := rec.state(); st != interfaces.StateFailedRotation {
		rec.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", interfaces.ErrPairNotFailed, id, st)
	}
	task := s.beginRotationLocked(rec, interfaces.StateFailedRotation)
	rec.mu.Unlock()

	s.log.Info("Recovering failed key rotation", "pair", id)
	return s.executor.Rotate(ctx, *task)
}

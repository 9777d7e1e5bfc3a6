package rotation

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/tee-key-rotation/interfaces"
	"go.uber.org/atomic"
)

// pairRecord is the rotation bookkeeping of one key pair. All fields except
// published are guarded by mu.
type pairRecord struct {
	mu   sync.Mutex
	pair interfaces.KeyPair

	// stored per key id, both members are written on every transition
	states map[interfaces.KeyID]interfaces.RotationState
	// lock-free mirror of the pair state for sibling reads and snapshots
	published atomic.Uint32

	timer         *clock.Timer
	timerGen      uint64
	timerDeadline time.Time

	rotations    uint64
	lastRotation time.Time
	lastError    error
}

// state returns the pair state. The two members disagreeing is a programming
// error, never a runtime condition.
func (r *pairRecord) state() interfaces.RotationState {
	h2d, d2h := r.states[r.pair.H2D], r.states[r.pair.D2H]
	if h2d != d2h {
		panic(fmt.Sprintf("rotation state of %s diverged: h2d=%s d2h=%s", r.pair.ID, h2d, d2h))
	}
	return h2d
}

func (r *pairRecord) setState(s interfaces.RotationState) {
	r.states[r.pair.H2D] = s
	r.states[r.pair.D2H] = s
	r.published.Store(uint32(s))
}

func (r *pairRecord) timerArmed() bool {
	return r.timer != nil
}

// StateStore holds the rotation state of every enabled pair and the timers of
// pending user-tier pairs.
type StateStore struct {
	clock   clock.Clock
	records map[interfaces.KeyPairID]*pairRecord
}

// NewStateStore creates Idle records for the given pairs.
func NewStateStore(clk clock.Clock, ids []interfaces.KeyPairID) *StateStore {
	s := &StateStore{clock: clk, records: make(map[interfaces.KeyPairID]*pairRecord, len(ids))}
	for _, id := range ids {
		pair := id.Pair()
		rec := &pairRecord{pair: pair, states: make(map[interfaces.KeyID]interfaces.RotationState, 2)}
		rec.setState(interfaces.StateIdle)
		s.records[id] = rec
	}
	return s
}

func (s *StateStore) record(id interfaces.KeyPairID) (*pairRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnknownKeyPair, id)
	}
	return rec, nil
}

// Published returns the last state written for the pair without taking its
// lock. Unknown pairs read as Idle.
func (s *StateStore) Published(id interfaces.KeyPairID) interfaces.RotationState {
	rec, ok := s.records[id]
	if !ok {
		return interfaces.StateIdle
	}
	return interfaces.RotationState(rec.published.Load())
}

// State returns the state of the pair resolved from either key id.
func (s *StateStore) State(key interfaces.KeyID) (interfaces.RotationState, error) {
	pair, err := interfaces.PairOfKey(key)
	if err != nil {
		return 0, err
	}
	rec, err := s.record(pair.ID)
	if err != nil {
		return 0, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state(), nil
}

// armTimer starts the pending timeout unless one is already armed. The
// callback receives the generation the timer was armed with.
func (s *StateStore) armTimer(rec *pairRecord, d time.Duration, fire func(interfaces.KeyPairID, uint64)) {
	if rec.timerArmed() {
		return
	}
	rec.timerGen++
	id, gen := rec.pair.ID, rec.timerGen
	rec.timerDeadline = s.clock.Now().Add(d)
	rec.timer = s.clock.AfterFunc(d, func() { fire(id, gen) })
}

// disarmTimer stops the pending timeout. A callback already running observes
// the bumped generation and discards itself.
func (s *StateStore) disarmTimer(rec *pairRecord) {
	if rec.timer == nil {
		return
	}
	rec.timer.Stop()
	rec.timer = nil
	rec.timerGen++
	rec.timerDeadline = time.Time{}
}

// timeRemaining reports how long until the armed timer fires.
func (s *StateStore) timeRemaining(rec *pairRecord) time.Duration {
	if !rec.timerArmed() {
		return 0
	}
	return max(rec.timerDeadline.Sub(s.clock.Now()), 0)
}

package rotation

import (
	"time"

	"github.com/ruteri/tee-key-rotation/interfaces"
)

// PairSnapshot is a point-in-time view of one pair.
type PairSnapshot struct {
	ID               interfaces.KeyPairID
	KeySpaceName     string
	State            interfaces.RotationState
	Usage            interfaces.PairUsage
	RetiredUsage     interfaces.PairUsage
	WorkUnits        uint64
	Consumers        int
	Quiesced         int
	Rotations        uint64
	LastRotation     time.Time
	TimeoutRemaining time.Duration
	LastError        error
}

// PairSnapshot returns the view of one pair.
func (s *Scheduler) PairSnapshot(id interfaces.KeyPairID) (PairSnapshot, error) {
	rec, err := s.store.record(id)
	if err != nil {
		return PairSnapshot{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	consumers := s.registry.Bound(id)
	quiesced := 0
	for _, c := range consumers {
		if c.Quiesced() {
			quiesced++
		}
	}
	usage := s.ledger.Totals(id)
	return PairSnapshot{
		ID:               id,
		KeySpaceName:     s.layout.KeySpaceName(id.Space),
		State:            rec.state(),
		Usage:            usage,
		RetiredUsage:     s.ledger.Retired(id),
		WorkUnits:        usage.MaxWorkUnits(),
		Consumers:        len(consumers),
		Quiesced:         quiesced,
		Rotations:        rec.rotations,
		LastRotation:     rec.lastRotation,
		TimeoutRemaining: s.store.timeRemaining(rec),
		LastError:        rec.lastError,
	}, nil
}

// Snapshot returns the view of every pair, in tick order.
func (s *Scheduler) Snapshot() []PairSnapshot {
	snaps := make([]PairSnapshot, 0, len(s.pairs))
	for _, id := range s.pairs {
		snap, err := s.PairSnapshot(id)
		if err != nil {
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps
}

package rotation

import (
	"github.com/ruteri/tee-key-rotation/interfaces"
)

// forceLocked starts a rotation without waiting for consumers. Every bound
// consumer is told the failure status; those that had not quiesced are
// aborted and flagged to be re-enabled once the rotation completes.
func (s *Scheduler) forceLocked(rec *pairRecord, st interfaces.RotationState) *RotationTask {
	s.store.disarmTimer(rec)

	status := interfaces.StatusForState(st)
	consumers := s.registry.Bound(rec.pair.ID)
	for _, c := range consumers {
		s.transport.Notify(c.id, interfaces.EventStatusChanged, status)
	}

	aborted := 0
	for _, c := range consumers {
		if c.Quiesced() {
			continue
		}
		s.transport.Notify(c.id, interfaces.EventAbort, status)
		c.enableAfterRotation.Store(true)
		aborted++
	}
	s.log.Warn("Forcing key rotation",
		"pair", rec.pair.ID,
		"reason", st,
		"consumers", len(consumers),
		"aborted", aborted)

	return s.beginRotationLocked(rec, st)
}

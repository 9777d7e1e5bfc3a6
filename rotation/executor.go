package rotation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/tee-key-rotation/interfaces"
)

// Executor performs the rotation of a pair that the scheduler moved to
// InProgress. Key derivation runs without the pair lock; the result is
// committed under it.
type Executor struct {
	deriver   interfaces.KeyDeriver
	store     *StateStore
	ledger    *UsageLedger
	registry  *ConsumerRegistry
	transport interfaces.ConsumerTransport
	clock     clock.Clock
	observer  Observer
	log       *slog.Logger
}

// Rotate derives and installs fresh keys for the task's pair. On failure the
// pair is left in FailedRotation and the error wraps ErrRotationFailed.
func (e *Executor) Rotate(ctx context.Context, task RotationTask) error {
	id := task.Pair.ID
	material, err := e.deriver.DeriveKeys(ctx, task.Pair)
	if err != nil {
		e.fail(id, err)
		return fmt.Errorf("%w: %s: %w", interfaces.ErrRotationFailed, id, err)
	}
	material.Wipe()

	rec, err := e.store.record(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if st := rec.state(); st != interfaces.StateInProgress {
		panic(fmt.Sprintf("committing rotation of %s in state %s", id, st))
	}

	consumers := e.registry.Bound(id)
	for _, c := range consumers {
		if err := c.resetUsage(); err != nil {
			e.observer.ConsumerReadFailed(id)
			e.log.Warn("Failed to read consumer usage at rotation",
				"pair", id, "consumer", c.id, "err", err)
		}
		c.quiesced.Store(false)
		c.enableAfterRotation.Store(false)
		e.transport.Notify(c.id, interfaces.EventStatusChanged, interfaces.StatusIdle)
	}
	e.ledger.Reset(id)

	now := e.clock.Now()
	rec.rotations++
	rec.lastRotation = now
	rec.lastError = nil
	rec.setState(interfaces.StateIdle)
	e.observer.StateChanged(id, interfaces.StateInProgress, interfaces.StateIdle)
	e.observer.RotationCompleted(id, task.Forced(), now.Sub(task.QueuedAt))

	e.log.Info("Key pair rotated",
		"pair", id,
		"forced", task.Forced(),
		"prior", task.Prior,
		"consumers", len(consumers),
		"rotations", rec.rotations)
	return nil
}

// fail moves the pair to FailedRotation, where it stays until recovered.
func (e *Executor) fail(id interfaces.KeyPairID, cause error) {
	rec, err := e.store.record(id)
	if err != nil {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	from := rec.state()
	rec.lastError = cause
	rec.setState(interfaces.StateFailedRotation)
	e.observer.StateChanged(id, from, interfaces.StateFailedRotation)
	e.observer.RotationFailed(id)
}

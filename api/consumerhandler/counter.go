package consumerhandler

import (
	"errors"
	"sync"

	"github.com/ruteri/tee-key-rotation/interfaces"
)

// ErrCounterRegression is returned when a report decreases a cumulative counter.
var ErrCounterRegression = errors.New("usage counters must not decrease")

// remoteCounter holds the last counters reported by a remote consumer.
type remoteCounter struct {
	mu    sync.Mutex
	usage interfaces.PairUsage
}

func (c *remoteCounter) ReadUsage() (interfaces.PairUsage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage, nil
}

func (c *remoteCounter) report(u interfaces.PairUsage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if regressed(u.H2D, c.usage.H2D) || regressed(u.D2H, c.usage.D2H) {
		return ErrCounterRegression
	}
	c.usage = u
	return nil
}

func regressed(next, prev interfaces.UsageStats) bool {
	return next.TotalBytesEncrypted < prev.TotalBytesEncrypted || next.TotalEncryptOps < prev.TotalEncryptOps
}

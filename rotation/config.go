package rotation

import (
	"errors"
	"time"

	"github.com/ruteri/tee-key-rotation/interfaces"
)

const (
	DefaultTickInterval = time.Second
	DefaultTimeout      = 2 * time.Second
)

// Config is read once at start-up.
type Config struct {
	// EnableMask selects the (keyspace, tier) pairs under rotation.
	EnableMask interfaces.EnableMask
	// Threshold selects the usage limits.
	Threshold ThresholdConfig
	// Timeout bounds how long a user-tier pair may stay pending.
	Timeout time.Duration
	// TickInterval is the scheduler period.
	TickInterval time.Duration
}

// DefaultConfig enables every pair with the default limits.
func DefaultConfig() Config {
	return Config{
		EnableMask:   interfaces.MaskAll,
		Threshold:    ThresholdConfig{AttackerAdvantage: DefaultAttackerAdvantage, Delta: DefaultThresholdDelta},
		Timeout:      DefaultTimeout,
		TickInterval: DefaultTickInterval,
	}
}

// Validate checks the durations and the threshold configuration.
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return errors.New("rotation timeout must be positive")
	}
	if c.TickInterval <= 0 {
		return errors.New("tick interval must be positive")
	}
	_, err := NewThresholdPolicy(c.Threshold)
	return err
}

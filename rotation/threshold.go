package rotation

import (
	"fmt"

	"github.com/ruteri/tee-key-rotation/interfaces"
)

// Classification is the outcome of evaluating a pair's usage.
type Classification uint8

const (
	ThresholdNone Classification = iota
	ThresholdLowerCrossed
	ThresholdUpperCrossed
)

func (c Classification) String() string {
	switch c {
	case ThresholdNone:
		return "none"
	case ThresholdLowerCrossed:
		return "lower_crossed"
	case ThresholdUpperCrossed:
		return "upper_crossed"
	default:
		return "unknown"
	}
}

const (
	MinAttackerAdvantage     = 50
	MaxAttackerAdvantage     = 65
	DefaultAttackerAdvantage = 60

	// DefaultThresholdDelta is the distance between the upper and lower limits, in work units.
	DefaultThresholdDelta = 20_000_000
)

// upperLimits[a-MinAttackerAdvantage] is round(2^((128-a)/2)) work units: the
// usage at which an attacker's distinguishing advantage reaches 2^-a.
var upperLimits = [MaxAttackerAdvantage - MinAttackerAdvantage + 1]uint64{
	549755813888, // 50
	388736063997,
	274877906944,
	194368031998,
	137438953472,
	97184015999, // 55
	68719476736,
	48592008000,
	34359738368,
	24296004000,
	17179869184, // 60
	12148002000,
	8589934592,
	6074001000,
	4294967296,
	3037000500, // 65
}

// ThresholdConfig selects the usage limits. Zero fields take defaults.
type ThresholdConfig struct {
	// AttackerAdvantage indexes the upper-limit table (50..65).
	AttackerAdvantage uint64
	// Delta is subtracted from the upper limit to obtain the lower limit.
	Delta uint64
	// LowerLimit and UpperLimit override the derived limits when non-zero.
	LowerLimit uint64
	UpperLimit uint64
	// InternalLimit, when non-zero, replaces the lower limit for kernel-tier
	// pairs. It must lie below the upper limit.
	InternalLimit uint64
}

// ThresholdPolicy classifies pair usage against a lower (request rotation)
// and an upper (force rotation) limit. lower < upper always holds.
type ThresholdPolicy struct {
	lower    uint64
	upper    uint64
	internal uint64
}

// NewThresholdPolicy derives the limits from cfg, rejecting any configuration
// that would violate lower < upper.
func NewThresholdPolicy(cfg ThresholdConfig) (*ThresholdPolicy, error) {
	upper := cfg.UpperLimit
	if upper == 0 {
		advantage := cfg.AttackerAdvantage
		if advantage == 0 {
			advantage = DefaultAttackerAdvantage
		}
		if advantage < MinAttackerAdvantage || advantage > MaxAttackerAdvantage {
			return nil, fmt.Errorf("%w: attacker advantage %d outside [%d, %d]",
				interfaces.ErrInvalidThreshold, advantage, MinAttackerAdvantage, MaxAttackerAdvantage)
		}
		upper = upperLimits[advantage-MinAttackerAdvantage]
	}

	lower := cfg.LowerLimit
	if lower == 0 {
		delta := cfg.Delta
		if delta == 0 {
			delta = DefaultThresholdDelta
		}
		if delta >= upper {
			return nil, fmt.Errorf("%w: delta %d not below upper limit %d", interfaces.ErrInvalidThreshold, delta, upper)
		}
		lower = upper - delta
	}

	if lower == 0 || lower >= upper {
		return nil, fmt.Errorf("%w: lower limit %d must be positive and below upper limit %d",
			interfaces.ErrInvalidThreshold, lower, upper)
	}
	internal := cfg.InternalLimit
	if internal == 0 {
		internal = lower
	}
	if internal >= upper {
		return nil, fmt.Errorf("%w: internal limit %d must be below upper limit %d",
			interfaces.ErrInvalidThreshold, internal, upper)
	}
	return &ThresholdPolicy{lower: lower, upper: upper, internal: internal}, nil
}

// Limits returns the lower and upper limits in work units.
func (p *ThresholdPolicy) Limits() (lower, upper uint64) {
	return p.lower, p.upper
}

// InternalLimit returns the request limit of kernel-tier pairs. It equals the
// lower limit unless overridden.
func (p *ThresholdPolicy) InternalLimit() uint64 {
	return p.internal
}

// LowerLimitFor returns the request limit of the given pair.
func (p *ThresholdPolicy) LowerLimitFor(id interfaces.KeyPairID) uint64 {
	if id.IsKernel() {
		return p.internal
	}
	return p.lower
}

// LowerCrossed reports whether either key of the pair reached the lower limit.
func (p *ThresholdPolicy) LowerCrossed(u interfaces.PairUsage) bool {
	return u.MaxWorkUnits() >= p.lower
}

// UpperCrossed reports whether either key of the pair reached the upper limit.
func (p *ThresholdPolicy) UpperCrossed(u interfaces.PairUsage) bool {
	return u.MaxWorkUnits() >= p.upper
}

// Classify evaluates each key id independently; the upper limit wins.
func (p *ThresholdPolicy) Classify(u interfaces.PairUsage) Classification {
	return p.classify(u, p.lower)
}

// ClassifyPair is Classify with the request limit of the given pair's tier.
func (p *ThresholdPolicy) ClassifyPair(id interfaces.KeyPairID, u interfaces.PairUsage) Classification {
	return p.classify(u, p.LowerLimitFor(id))
}

func (p *ThresholdPolicy) classify(u interfaces.PairUsage, lower uint64) Classification {
	switch units := u.MaxWorkUnits(); {
	case units >= p.upper:
		return ThresholdUpperCrossed
	case units >= lower:
		return ThresholdLowerCrossed
	default:
		return ThresholdNone
	}
}

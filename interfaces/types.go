package interfaces

import (
	"fmt"

	"github.com/google/uuid"
)

// UsageStats accumulates encryption usage of a single key id.
type UsageStats struct {
	TotalBytesEncrypted uint64 `json:"total_bytes_encrypted"`
	TotalEncryptOps     uint64 `json:"total_encrypt_ops"`
}

// BlockSize is the cipher block size used to convert bytes to work units.
const BlockSize = 16

// WorkUnits returns bytes/16 + ops, the usage metric of the cipher's safe-usage model.
func (s UsageStats) WorkUnits() uint64 {
	return s.TotalBytesEncrypted/BlockSize + s.TotalEncryptOps
}

// Add returns the sum of both stats.
func (s UsageStats) Add(o UsageStats) UsageStats {
	return UsageStats{
		TotalBytesEncrypted: s.TotalBytesEncrypted + o.TotalBytesEncrypted,
		TotalEncryptOps:     s.TotalEncryptOps + o.TotalEncryptOps,
	}
}

// Sub returns s - o, saturating each field at zero.
func (s UsageStats) Sub(o UsageStats) UsageStats {
	return UsageStats{
		TotalBytesEncrypted: satSub(s.TotalBytesEncrypted, o.TotalBytesEncrypted),
		TotalEncryptOps:     satSub(s.TotalEncryptOps, o.TotalEncryptOps),
	}
}

// IsZero reports whether no usage has been recorded.
func (s UsageStats) IsZero() bool {
	return s.TotalBytesEncrypted == 0 && s.TotalEncryptOps == 0
}

func satSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// PairUsage holds the usage of both members of a key pair.
type PairUsage struct {
	H2D UsageStats `json:"h2d"`
	D2H UsageStats `json:"d2h"`
}

// Add returns the member-wise sum.
func (u PairUsage) Add(o PairUsage) PairUsage {
	return PairUsage{H2D: u.H2D.Add(o.H2D), D2H: u.D2H.Add(o.D2H)}
}

// Sub returns the member-wise saturating difference.
func (u PairUsage) Sub(o PairUsage) PairUsage {
	return PairUsage{H2D: u.H2D.Sub(o.H2D), D2H: u.D2H.Sub(o.D2H)}
}

// IsZero reports whether both members are zero.
func (u PairUsage) IsZero() bool {
	return u.H2D.IsZero() && u.D2H.IsZero()
}

// MaxWorkUnits returns the larger work-unit count of the two members.
func (u PairUsage) MaxWorkUnits() uint64 {
	return max(u.H2D.WorkUnits(), u.D2H.WorkUnits())
}

// RotationState is the per-pair rotation state machine value.
type RotationState uint8

const (
	StateIdle RotationState = iota
	StatePending
	StateInProgress
	StateFailedThreshold
	StateFailedTimeout
	// StateFailedRotation is terminal until an operator recovers the pair.
	StateFailedRotation
)

func (s RotationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateInProgress:
		return "in_progress"
	case StateFailedThreshold:
		return "failed_threshold"
	case StateFailedTimeout:
		return "failed_timeout"
	case StateFailedRotation:
		return "failed_rotation"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// IsForced reports whether the state condemns the pair to a forced rotation.
func (s RotationState) IsForced() bool {
	return s == StateFailedThreshold || s == StateFailedTimeout
}

// Status is the rotation status visible to consumers.
type Status uint8

const (
	// StatusIdle: rotation complete or not needed, traffic may flow.
	StatusIdle Status = iota
	// StatusPending: rotation requested, consumers should drain and quiesce.
	StatusPending
	// StatusFailedThreshold: forced rotation, in-flight work may be lost.
	StatusFailedThreshold
	// StatusFailedTimeout: forced rotation, in-flight work may be lost.
	StatusFailedTimeout
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusFailedThreshold:
		return "failed_threshold"
	case StatusFailedTimeout:
		return "failed_timeout"
	default:
		return "unknown"
	}
}

// StatusForState maps a forced state to the failure status sent to consumers.
func StatusForState(s RotationState) Status {
	switch s {
	case StatePending:
		return StatusPending
	case StateFailedThreshold:
		return StatusFailedThreshold
	case StateFailedTimeout:
		return StatusFailedTimeout
	default:
		return StatusIdle
	}
}

// Event distinguishes a status notification from a forced abort instruction.
type Event uint8

const (
	EventStatusChanged Event = iota
	EventAbort
)

func (e Event) String() string {
	switch e {
	case EventStatusChanged:
		return "status_changed"
	case EventAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// ConsumerID identifies one consumer bound to a key pair.
type ConsumerID string

// NewConsumerID returns a random consumer id.
func NewConsumerID() ConsumerID {
	return ConsumerID(uuid.NewString())
}

// Key is freshly derived material for one key id.
type Key struct {
	ID     KeyID
	Secret []byte
	IVMask []byte
}

// KeyMaterial is the replacement material for both members of a pair.
type KeyMaterial struct {
	Pair KeyPair
	H2D  Key
	D2H  Key
}

// Wipe zeroes all secret bytes.
func (m *KeyMaterial) Wipe() {
	if m == nil {
		return
	}
	for _, k := range []*Key{&m.H2D, &m.D2H} {
		clear(k.Secret)
		clear(k.IVMask)
	}
}

var (
	rotationStates = []RotationState{StateIdle, StatePending, StateInProgress, StateFailedThreshold, StateFailedTimeout, StateFailedRotation}
	statuses       = []Status{StatusIdle, StatusPending, StatusFailedThreshold, StatusFailedTimeout}
	events         = []Event{EventStatusChanged, EventAbort}
)

func unmarshalEnum[T fmt.Stringer](text []byte, values []T, kind string) (T, error) {
	for _, v := range values {
		if v.String() == string(text) {
			return v, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("unknown %s %q", kind, text)
}

// MarshalText encodes the state by name.
func (s RotationState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a state name.
func (s *RotationState) UnmarshalText(text []byte) (err error) {
	*s, err = unmarshalEnum(text, rotationStates, "rotation state")
	return err
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) (err error) {
	*s, err = unmarshalEnum(text, statuses, "status")
	return err
}

// MarshalText encodes the event by name.
func (e Event) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

// UnmarshalText decodes an event name.
func (e *Event) UnmarshalText(text []byte) (err error) {
	*e, err = unmarshalEnum(text, events, "event")
	return err
}

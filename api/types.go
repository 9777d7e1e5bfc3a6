package api

import (
	"context"
	"time"

	"github.com/ruteri/tee-key-rotation/interfaces"
	"github.com/ruteri/tee-key-rotation/notify"
	"github.com/ruteri/tee-key-rotation/rotation"
)

// RotationAdmin is the operator-facing control surface of the rotation
// service, implemented by the admin client.
type RotationAdmin interface {
	// KeyPairs lists every key pair under rotation.
	KeyPairs(ctx context.Context) ([]KeyPairStatus, error)
	// KeyPair returns one key pair.
	KeyPair(ctx context.Context, pair interfaces.KeyPairID) (*KeyPairStatus, error)
	// Trigger forces a rotation of the pair on the next tick.
	Trigger(ctx context.Context, pair interfaces.KeyPairID) error
	// Recover retries the rotation of a pair in the failed state.
	Recover(ctx context.Context, pair interfaces.KeyPairID) error
	// Enabled reports the global rotation toggle.
	Enabled(ctx context.Context) (bool, error)
	// SetEnabled flips the global rotation toggle.
	SetEnabled(ctx context.Context, enabled bool) error
}

// KeyPairStatus is the JSON view of one key pair.
type KeyPairStatus struct {
	Pair               string                   `json:"pair"`
	KeySpace           string                   `json:"keyspace"`
	Tier               string                   `json:"tier"`
	State              interfaces.RotationState `json:"state"`
	Usage              interfaces.PairUsage     `json:"usage"`
	RetiredUsage       interfaces.PairUsage     `json:"retired_usage"`
	WorkUnits          uint64                   `json:"work_units"`
	LowerLimit         uint64                   `json:"lower_limit"`
	UpperLimit         uint64                   `json:"upper_limit"`
	Consumers          int                      `json:"consumers"`
	Quiesced           int                      `json:"quiesced"`
	Rotations          uint64                   `json:"rotations"`
	LastRotation       *time.Time               `json:"last_rotation,omitempty"`
	TimeoutRemainingMs int64                    `json:"timeout_remaining_ms"`
	LastError          string                   `json:"last_error,omitempty"`
}

// NewKeyPairStatus converts a scheduler snapshot.
func NewKeyPairStatus(snap rotation.PairSnapshot, policy *rotation.ThresholdPolicy) KeyPairStatus {
	_, upper := policy.Limits()
	lower := policy.LowerLimitFor(snap.ID)
	status := KeyPairStatus{
		Pair:               snap.ID.String(),
		KeySpace:           snap.KeySpaceName,
		Tier:               snap.ID.Tier.String(),
		State:              snap.State,
		Usage:              snap.Usage,
		RetiredUsage:       snap.RetiredUsage,
		WorkUnits:          snap.WorkUnits,
		LowerLimit:         lower,
		UpperLimit:         upper,
		Consumers:          snap.Consumers,
		Quiesced:           snap.Quiesced,
		Rotations:          snap.Rotations,
		TimeoutRemainingMs: snap.TimeoutRemaining.Milliseconds(),
	}
	if !snap.LastRotation.IsZero() {
		t := snap.LastRotation
		status.LastRotation = &t
	}
	if snap.LastError != nil {
		status.LastError = snap.LastError.Error()
	}
	return status
}

// RotationToggle is the body of the global toggle endpoints.
type RotationToggle struct {
	Enabled bool `json:"enabled"`
}

// RegisterConsumerRequest binds a remote consumer to a key pair. ID is
// optional; the server assigns one when empty.
type RegisterConsumerRequest struct {
	Pair string                `json:"pair"`
	ID   interfaces.ConsumerID `json:"id,omitempty"`
}

// RegisterConsumerResponse confirms the binding.
type RegisterConsumerResponse struct {
	ID   interfaces.ConsumerID `json:"id"`
	Pair string                `json:"pair"`
}

// UsageReport carries a consumer's cumulative counters since it was created.
type UsageReport struct {
	Usage interfaces.PairUsage `json:"usage"`
}

// QuiescedRequest sets the consumer's quiesced flag.
type QuiescedRequest struct {
	Quiesced bool `json:"quiesced"`
}

// EventsResponse returns the events queued for a consumer.
type EventsResponse struct {
	Events []notify.Message `json:"events"`
}

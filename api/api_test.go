package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/ruteri/tee-key-rotation/interfaces"
	"github.com/ruteri/tee-key-rotation/rotation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("wrapped: %w", interfaces.ErrInvalidKeyID), http.StatusBadRequest},
		{interfaces.ErrUnknownKeyPair, http.StatusNotFound},
		{interfaces.ErrUnknownConsumer, http.StatusNotFound},
		{interfaces.ErrPairNotFailed, http.StatusConflict},
		{interfaces.ErrRotationBusy, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, StatusForError(tt.err), tt.err.Error())
	}
}

func TestPairPath_RoundTrip(t *testing.T) {
	id := interfaces.KeyPairID{Space: 8, Tier: interfaces.TierUser}
	assert.Equal(t, "8/user", PairPath(id))

	parsed, err := ParsePairPath("8", "user")
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParsePairPath("x", "user")
	assert.ErrorIs(t, err, interfaces.ErrInvalidKeyID)
	_, err = ParsePairPath("40", "user")
	assert.ErrorIs(t, err, interfaces.ErrInvalidKeyID)
	_, err = ParsePairPath("1", "root")
	assert.ErrorIs(t, err, interfaces.ErrInvalidKeyID)
}

func TestNewKeyPairStatus(t *testing.T) {
	policy, err := rotation.NewThresholdPolicy(rotation.ThresholdConfig{LowerLimit: 10, UpperLimit: 20})
	require.NoError(t, err)

	snap := rotation.PairSnapshot{
		ID:               interfaces.KeyPairID{Space: 1, Tier: interfaces.TierKernel},
		KeySpaceName:     "secure-copy-1",
		State:            interfaces.StateFailedRotation,
		TimeoutRemaining: 1500 * time.Millisecond,
		LastError:        errors.New("seed source unreachable"),
	}
	status := NewKeyPairStatus(snap, policy)
	assert.Equal(t, "ks1/kernel", status.Pair)
	assert.Equal(t, "kernel", status.Tier)
	assert.Equal(t, uint64(10), status.LowerLimit)
	assert.Equal(t, uint64(20), status.UpperLimit)
	assert.Equal(t, int64(1500), status.TimeoutRemainingMs)
	assert.Nil(t, status.LastRotation)
	assert.Equal(t, "seed source unreachable", status.LastError)
}

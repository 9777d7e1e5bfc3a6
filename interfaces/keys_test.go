package interfaces

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyPair_MembersDifferByD2HBit(t *testing.T) {
	for space := KeySpace(0); space < 4; space++ {
		for _, tier := range []Tier{TierKernel, TierUser} {
			pair := KeyPairID{Space: space, Tier: tier}.Pair()
			assert.Equal(t, D2HBit, pair.H2D^pair.D2H)
			assert.False(t, pair.H2D.IsD2H())
			assert.True(t, pair.D2H.IsD2H())

			fromH2D, err := PairOfKey(pair.H2D)
			require.NoError(t, err)
			fromD2H, err := PairOfKey(pair.D2H)
			require.NoError(t, err)
			assert.Equal(t, pair, fromH2D)
			assert.Equal(t, pair, fromD2H)
		}
	}
}

func TestPairOfKey_RejectsUnknownLocal(t *testing.T) {
	_, err := PairOfKey(KeyID(1<<16 | 7))
	assert.ErrorIs(t, err, ErrInvalidKeyID)
}

func TestParseKeyPairID(t *testing.T) {
	id := KeyPairID{Space: 3, Tier: TierUser}
	parsed, err := ParseKeyPairID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.Equal(t, "ks3/user", id.String())

	for _, bad := range []string{"", "ks3", "3/user", "ks99/user", "ks1/root"} {
		_, err := ParseKeyPairID(bad)
		assert.ErrorIs(t, err, ErrInvalidKeyID, bad)
	}
}

func TestEnableMask(t *testing.T) {
	kernel := KeyPairID{Space: 1, Tier: TierKernel}
	user := KeyPairID{Space: 1, Tier: TierUser}

	assert.True(t, MaskAll.Enabled(kernel))
	assert.True(t, MaskKernel.Enabled(kernel))
	assert.False(t, MaskKernel.Enabled(user))
	assert.True(t, MaskUser.Enabled(user))
	assert.False(t, MaskNone.Enabled(user))
	assert.True(t, MaskNone.With(user).Enabled(user))

	m, err := ParseEnableMask("0x8")
	require.NoError(t, err)
	assert.True(t, m.Enabled(user))
	assert.False(t, m.Enabled(kernel))

	_, err = ParseEnableMask("bogus")
	assert.Error(t, err)
}

func TestUsageStats_WorkUnits(t *testing.T) {
	s := UsageStats{TotalBytesEncrypted: 160, TotalEncryptOps: 3}
	assert.Equal(t, uint64(13), s.WorkUnits())

	u := PairUsage{H2D: s, D2H: UsageStats{TotalEncryptOps: 20}}
	assert.Equal(t, uint64(20), u.MaxWorkUnits())

	diff := s.Sub(UsageStats{TotalBytesEncrypted: 1000, TotalEncryptOps: 1})
	assert.Equal(t, UsageStats{TotalBytesEncrypted: 0, TotalEncryptOps: 2}, diff)
}

func TestEnums_TextRoundTrip(t *testing.T) {
	b, err := json.Marshal(struct {
		State  RotationState `json:"state"`
		Status Status        `json:"status"`
		Event  Event         `json:"event"`
	}{StateFailedTimeout, StatusPending, EventAbort})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"failed_timeout","status":"pending","event":"abort"}`, string(b))

	var st RotationState
	require.NoError(t, st.UnmarshalText([]byte("in_progress")))
	assert.Equal(t, StateInProgress, st)
	assert.Error(t, st.UnmarshalText([]byte("bogus")))
}

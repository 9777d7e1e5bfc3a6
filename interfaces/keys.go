package interfaces

import (
	"fmt"
	"strconv"
	"strings"
)

// KeySpace enumerates an engine class whose traffic is encrypted
// (a secure-copy engine, the secure-offload engine, ...).
type KeySpace uint8

// MaxKeySpaces bounds the number of keyspaces an EnableMask can address.
const MaxKeySpaces = 32

// Tier separates kernel-only consumers of a keyspace from user-initiated ones.
// Each tier is tracked as its own key pair.
type Tier uint8

const (
	TierKernel Tier = iota
	TierUser
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierKernel:
		return "kernel"
	case TierUser:
		return "user"
	default:
		return "unknown"
	}
}

// ParseTier parses "kernel" or "user".
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(s) {
	case "kernel":
		return TierKernel, nil
	case "user":
		return TierUser, nil
	default:
		return 0, fmt.Errorf("%w: unknown tier %q", ErrInvalidKeyID, s)
	}
}

// KeyID is a global key identifier: the keyspace in the upper 16 bits and the
// local key index in the lower 16. H2D and D2H members of a pair differ only in
// D2HBit.
type KeyID uint32

const (
	// D2HBit is the reserved bit distinguishing a D2H key from its H2D sibling.
	D2HBit KeyID = 1

	keySpaceShift = 16
	localKeyMask  = KeyID(1<<keySpaceShift - 1)

	// local key indices: kernel pair {0,1}, user pair {2,3}
	localKeysPerSpace = 4
)

// Space returns the keyspace the key belongs to.
func (k KeyID) Space() KeySpace {
	return KeySpace(k >> keySpaceShift)
}

// Local returns the key index within its keyspace.
func (k KeyID) Local() uint16 {
	return uint16(k & localKeyMask)
}

// IsD2H reports whether this is the device-to-host member of its pair.
func (k KeyID) IsD2H() bool {
	return k&D2HBit != 0
}

func (k KeyID) String() string {
	return fmt.Sprintf("0x%08x", uint32(k))
}

// KeyPairID is the only key index used outside the lookup boundary.
type KeyPairID struct {
	Space KeySpace
	Tier  Tier
}

// String formats the id as "ks<space>/<tier>", e.g. "ks2/user".
func (id KeyPairID) String() string {
	return fmt.Sprintf("ks%d/%s", id.Space, id.Tier)
}

// IsKernel reports whether the pair serves kernel-privilege consumers.
func (id KeyPairID) IsKernel() bool {
	return id.Tier == TierKernel
}

// Sibling returns the pair of the other tier on the same keyspace.
func (id KeyPairID) Sibling() KeyPairID {
	if id.Tier == TierKernel {
		return KeyPairID{Space: id.Space, Tier: TierUser}
	}
	return KeyPairID{Space: id.Space, Tier: TierKernel}
}

// Pair resolves the H2D/D2H key ids of this pair.
func (id KeyPairID) Pair() KeyPair {
	h2d := KeyID(id.Space)<<keySpaceShift | KeyID(id.Tier)*2
	return KeyPair{ID: id, H2D: h2d, D2H: h2d | D2HBit}
}

// ParseKeyPairID parses the String form of a KeyPairID.
func ParseKeyPairID(s string) (KeyPairID, error) {
	spacePart, tierPart, ok := strings.Cut(s, "/")
	if !ok || !strings.HasPrefix(spacePart, "ks") {
		return KeyPairID{}, fmt.Errorf("%w: malformed key pair %q", ErrInvalidKeyID, s)
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(spacePart, "ks"), 10, 8)
	if err != nil || n >= MaxKeySpaces {
		return KeyPairID{}, fmt.Errorf("%w: malformed keyspace in %q", ErrInvalidKeyID, s)
	}
	tier, err := ParseTier(tierPart)
	if err != nil {
		return KeyPairID{}, err
	}
	return KeyPairID{Space: KeySpace(n), Tier: tier}, nil
}

// KeyPair is an H2D key and its D2H sibling, always manipulated together.
type KeyPair struct {
	ID  KeyPairID
	H2D KeyID
	D2H KeyID
}

// Keys returns both members, H2D first.
func (p KeyPair) Keys() [2]KeyID {
	return [2]KeyID{p.H2D, p.D2H}
}

// PairOfKey resolves either member of a pair to the same KeyPair.
func PairOfKey(k KeyID) (KeyPair, error) {
	local := k.Local()
	if local >= localKeysPerSpace || uint32(k.Space()) >= MaxKeySpaces {
		return KeyPair{}, fmt.Errorf("%w: %s", ErrInvalidKeyID, k)
	}
	id := KeyPairID{Space: k.Space(), Tier: Tier(local / 2)}
	return id.Pair(), nil
}

// EnableMask selects which (keyspace, tier) pairs take part in rotation.
// Bit 2*space enables the kernel pair, bit 2*space+1 the user pair.
type EnableMask uint64

const (
	MaskNone   EnableMask = 0
	MaskAll    EnableMask = ^EnableMask(0)
	MaskKernel EnableMask = 0x5555555555555555
	MaskUser   EnableMask = 0xAAAAAAAAAAAAAAAA
)

// Enabled reports whether the given pair is selected.
func (m EnableMask) Enabled(id KeyPairID) bool {
	bit := uint(id.Space)*2 + uint(id.Tier)
	return m&(1<<bit) != 0
}

// With returns the mask with the given pair enabled.
func (m EnableMask) With(id KeyPairID) EnableMask {
	return m | 1<<(uint(id.Space)*2+uint(id.Tier))
}

// ParseEnableMask accepts "all", "kernel", "user", "none" or a hex bitmask.
func ParseEnableMask(s string) (EnableMask, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all", "":
		return MaskAll, nil
	case "kernel":
		return MaskKernel, nil
	case "user":
		return MaskUser, nil
	case "none":
		return MaskNone, nil
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid enable mask %q: %w", s, err)
	}
	return EnableMask(v), nil
}

package interfaces

import "context"

// KeyDeriver produces replacement key material for a pair and installs it
// into the engine. The controller treats any error as an unconditional
// failure of that rotation attempt.
type KeyDeriver interface {
	DeriveKeys(ctx context.Context, pair KeyPair) (*KeyMaterial, error)
}

// KeyInstaller programs one key into its engine. It is called by the key
// deriver, never by the rotation core directly. One implementation exists per
// hardware generation.
type KeyInstaller interface {
	InstallKey(ctx context.Context, key Key) error
}

// SeedSource supplies fresh entropy from which a key generation is expanded.
type SeedSource interface {
	// NextSeed returns seed material for the given pair and generation.
	NextSeed(ctx context.Context, pair KeyPair, generation uint64) ([]byte, error)

	// LocationURI identifies the source, with credentials redacted.
	LocationURI() string
}

// ConsumerTransport delivers rotation events to consumers. Notify is
// fire-and-forget: it must not block on acknowledgment.
type ConsumerTransport interface {
	Notify(consumer ConsumerID, event Event, status Status)
}

// UsageCounter is the consumer-owned byte/op counter buffer. The controller
// only reads it. Values are cumulative since the consumer was created.
type UsageCounter interface {
	ReadUsage() (PairUsage, error)
}

// Layout describes the keyspaces of one hardware generation.
type Layout interface {
	Name() string
	KeySpaces() []KeySpace
	KeySpaceName(KeySpace) string
}

// PairsFor lists the pairs of a layout selected by the mask, kernel tier first
// within each keyspace.
func PairsFor(layout Layout, mask EnableMask) []KeyPairID {
	var ids []KeyPairID
	for _, space := range layout.KeySpaces() {
		for _, tier := range []Tier{TierKernel, TierUser} {
			id := KeyPairID{Space: space, Tier: tier}
			if mask.Enabled(id) {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

package kms

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/ruteri/tee-key-rotation/interfaces"
)

// LocalSeedSource derives seeds deterministically from an in-memory master key.
// Suitable for development and testing, it yields the same key sequence
// across restarts for the same master key.
type LocalSeedSource struct {
	mu        sync.RWMutex
	masterKey []byte
}

// Compile-time interface check.
var _ interfaces.SeedSource = (*LocalSeedSource)(nil)

// NewLocalSeedSource creates a seed source from a master key of at least 32 bytes.
// The key is copied; the caller may zero the original.
func NewLocalSeedSource(masterKey []byte) (*LocalSeedSource, error) {
	if len(masterKey) < 32 {
		return nil, errors.New("master key must be at least 32 bytes")
	}
	k := make([]byte, len(masterKey))
	copy(k, masterKey)
	return &LocalSeedSource{masterKey: k}, nil
}

// NextSeed hashes the master key with the pair's key ids and the generation.
func (s *LocalSeedSource) NextSeed(ctx context.Context, pair interfaces.KeyPair, generation uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf [16]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(pair.H2D))
	binary.BigEndian.PutUint32(buf[4:8], uint32(pair.D2H))
	binary.BigEndian.PutUint64(buf[8:16], generation)

	s.mu.RLock()
	h := sha256.New()
	h.Write(s.masterKey)
	s.mu.RUnlock()
	h.Write(buf[:])
	h.Write([]byte("seed"))
	return h.Sum(nil), nil
}

// LocationURI returns a redacted URI.
func (s *LocalSeedSource) LocationURI() string {
	return "local://***"
}

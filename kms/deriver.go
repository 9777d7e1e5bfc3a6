package kms

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ruteri/tee-key-rotation/engine"
	"github.com/ruteri/tee-key-rotation/interfaces"
	"golang.org/x/crypto/hkdf"
)

const derivationLabel = "tee-key-rotation/v1"

// Deriver derives replacement key pairs by expanding a per-generation seed
// with HKDF-SHA256 and installs them through the hardware installer.
// It is safe for concurrent use; rotations of distinct pairs may overlap.
type Deriver struct {
	source    interfaces.SeedSource
	installer interfaces.KeyInstaller
	log       *slog.Logger

	mu          sync.Mutex
	generations map[interfaces.KeyPairID]uint64
}

// Compile-time interface check.
var _ interfaces.KeyDeriver = (*Deriver)(nil)

// NewDeriver creates a deriver drawing seeds from source and installing keys with installer.
func NewDeriver(source interfaces.SeedSource, installer interfaces.KeyInstaller, log *slog.Logger) (*Deriver, error) {
	if source == nil {
		return nil, errors.New("kms: seed source is nil")
	}
	if installer == nil {
		return nil, errors.New("kms: key installer is nil")
	}
	return &Deriver{
		source:      source,
		installer:   installer,
		log:         log,
		generations: make(map[interfaces.KeyPairID]uint64),
	}, nil
}

// Generation returns the number of successful derivations for a pair.
func (d *Deriver) Generation(id interfaces.KeyPairID) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generations[id]
}

// DeriveKeys produces and installs fresh keys and IV masks for both members of
// the pair. The generation counter advances only when both keys are installed.
func (d *Deriver) DeriveKeys(ctx context.Context, pair interfaces.KeyPair) (*interfaces.KeyMaterial, error) {
	d.mu.Lock()
	generation := d.generations[pair.ID] + 1
	d.mu.Unlock()

	seed, err := d.source.NextSeed(ctx, pair, generation)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain seed from %s: %w", d.source.LocationURI(), err)
	}
	defer clear(seed)

	h2d, err := expandKey(seed, pair.H2D, generation)
	if err != nil {
		return nil, err
	}
	d2h, err := expandKey(seed, pair.D2H, generation)
	if err != nil {
		clear(h2d.Secret)
		return nil, err
	}
	material := &interfaces.KeyMaterial{Pair: pair, H2D: h2d, D2H: d2h}

	for _, key := range []interfaces.Key{material.H2D, material.D2H} {
		if err := d.installer.InstallKey(ctx, key); err != nil {
			material.Wipe()
			return nil, fmt.Errorf("failed to install key %s: %w", key.ID, err)
		}
	}

	d.mu.Lock()
	d.generations[pair.ID] = generation
	d.mu.Unlock()

	d.log.Info("Derived new key pair",
		slog.String("pair", pair.ID.String()),
		slog.Uint64("generation", generation))
	return material, nil
}

// expandKey derives the key and IV mask of one key id from the seed.
func expandKey(seed []byte, id interfaces.KeyID, generation uint64) (interfaces.Key, error) {
	salt := make([]byte, 12)
	binary.BigEndian.PutUint32(salt[:4], uint32(id))
	binary.BigEndian.PutUint64(salt[4:], generation)

	secret := make([]byte, engine.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed, salt, []byte(derivationLabel+"/key")), secret); err != nil {
		return interfaces.Key{}, fmt.Errorf("failed to expand key %s: %w", id, err)
	}
	ivMask := make([]byte, engine.IVMaskSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed, salt, []byte(derivationLabel+"/iv")), ivMask); err != nil {
		clear(secret)
		return interfaces.Key{}, fmt.Errorf("failed to expand IV mask %s: %w", id, err)
	}
	return interfaces.Key{ID: id, Secret: secret, IVMask: ivMask}, nil
}

package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/tee-key-rotation/interfaces"
)

const (
	// KeySize is the size of an engine key.
	KeySize = 32
	// IVMaskSize is the size of the IV mask installed alongside a key.
	IVMaskSize = 12
)

// SlotInfo describes the key currently installed in a slot. Key bytes are
// never retained; only a fingerprint is kept for diagnostics.
type SlotInfo struct {
	Generation  uint64
	Fingerprint string
	InstalledAt time.Time
}

// SlotBank is an in-memory key slot table standing in for the engine key
// registers of one hardware generation. It is safe for concurrent use.
type SlotBank struct {
	mu     sync.RWMutex
	layout *Layout
	slots  map[interfaces.KeyID]SlotInfo
	log    *slog.Logger
	now    func() time.Time
}

// Compile-time interface check.
var _ interfaces.KeyInstaller = (*SlotBank)(nil)

// NewSlotBank creates an empty slot table for the layout.
func NewSlotBank(layout *Layout, log *slog.Logger) *SlotBank {
	return &SlotBank{
		layout: layout,
		slots:  make(map[interfaces.KeyID]SlotInfo),
		log:    log,
		now:    time.Now,
	}
}

// InstallKey validates and installs a key, bumping the slot generation.
func (b *SlotBank) InstallKey(ctx context.Context, key interfaces.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.layout.Contains(key.ID) {
		return fmt.Errorf("%w: %s not in layout %s", interfaces.ErrInvalidKeyID, key.ID, b.layout.Name())
	}
	if len(key.Secret) != KeySize {
		return fmt.Errorf("invalid key size for %s: got %d bytes", key.ID, len(key.Secret))
	}
	if len(key.IVMask) != IVMaskSize {
		return fmt.Errorf("invalid IV mask size for %s: got %d bytes", key.ID, len(key.IVMask))
	}

	sum := sha256.Sum256(key.Secret)
	fingerprint := hex.EncodeToString(sum[:8])

	b.mu.Lock()
	prev := b.slots[key.ID]
	info := SlotInfo{
		Generation:  prev.Generation + 1,
		Fingerprint: fingerprint,
		InstalledAt: b.now(),
	}
	b.slots[key.ID] = info
	b.mu.Unlock()

	b.log.Debug("Installed engine key",
		slog.String("key", key.ID.String()),
		slog.String("keyspace", b.layout.KeySpaceName(key.ID.Space())),
		slog.Uint64("generation", info.Generation),
		slog.String("fingerprint", fingerprint))
	return nil
}

// Installed returns the slot info of a key, if one was installed.
func (b *SlotBank) Installed(key interfaces.KeyID) (SlotInfo, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	info, ok := b.slots[key]
	return info, ok
}

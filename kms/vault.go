package kms

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/tee-key-rotation/interfaces"
)

// TransitClient abstracts the Vault transit data-key operation so tests can
// inject a mock.
type TransitClient interface {
	// GenerateDataKey returns plaintext key material from the named transit key.
	GenerateDataKey(ctx context.Context, mountPath, keyName string, keyContext map[string]string) ([]byte, error)
}

// vaultTransit implements TransitClient over the Vault API client.
type vaultTransit struct {
	client *api.Client
}

// GenerateDataKey calls POST <mount>/datakey/plaintext/<key> and decodes the plaintext.
func (v *vaultTransit) GenerateDataKey(ctx context.Context, mountPath, keyName string, keyContext map[string]string) ([]byte, error) {
	path := fmt.Sprintf("%s/datakey/plaintext/%s", mountPath, keyName)

	data := map[string]interface{}{"bits": 256}
	if len(keyContext) > 0 {
		var parts []string
		for _, k := range slices.Sorted(maps.Keys(keyContext)) {
			parts = append(parts, k+"="+keyContext[k])
		}
		data["context"] = base64.StdEncoding.EncodeToString([]byte(strings.Join(parts, ",")))
	}

	secret, err := v.client.Logical().WriteWithContext(ctx, path, data)
	if err != nil {
		return nil, err
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("empty response from %s", path)
	}
	encoded, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid data key format in response from %s", path)
	}
	return base64.StdEncoding.DecodeString(encoded)
}

// VaultSeedSource draws seeds from a HashiCorp Vault transit key.
// Every generation requests a fresh data key, so seeds are not reproducible.
type VaultSeedSource struct {
	client      TransitClient
	mountPath   string
	keyName     string
	log         *slog.Logger
	locationURI string
}

// Compile-time interface check.
var _ interfaces.SeedSource = (*VaultSeedSource)(nil)

// NewVaultSeedSource creates a Vault-backed seed source. The token is read from
// the environment (VAULT_TOKEN) by the Vault client.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: transit mount path (e.g. "transit")
//   - keyName: name of the transit key
//   - log: Structured logger for operational insights
func NewVaultSeedSource(address, mountPath, keyName string, log *slog.Logger) (*VaultSeedSource, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{
		Timeout: 30 * time.Second,
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	return NewVaultSeedSourceWithClient(&vaultTransit{client: client}, address, mountPath, keyName, log), nil
}

// NewVaultSeedSourceWithClient creates a seed source over an existing transit client.
func NewVaultSeedSourceWithClient(client TransitClient, address, mountPath, keyName string, log *slog.Logger) *VaultSeedSource {
	mountPath = strings.Trim(mountPath, "/")
	keyName = strings.Trim(keyName, "/")

	return &VaultSeedSource{
		client:      client,
		mountPath:   mountPath,
		keyName:     keyName,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(strings.TrimPrefix(address, "https://"), "http://"), mountPath, keyName),
	}
}

// NextSeed requests a fresh 256-bit data key bound to the pair and generation.
func (s *VaultSeedSource) NextSeed(ctx context.Context, pair interfaces.KeyPair, generation uint64) ([]byte, error) {
	start := time.Now()
	seed, err := s.client.GenerateDataKey(ctx, s.mountPath, s.keyName, map[string]string{
		"pair":       pair.ID.String(),
		"generation": fmt.Sprintf("%d", generation),
	})
	if err != nil {
		s.log.Error("Failed to generate data key in Vault",
			slog.String("key", s.keyName),
			slog.String("pair", pair.ID.String()),
			"err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrKeySourceUnavailable, err)
	}
	if len(seed) < 32 {
		clear(seed)
		return nil, fmt.Errorf("%w: data key too short (%d bytes)", interfaces.ErrKeySourceUnavailable, len(seed))
	}

	s.log.Debug("Obtained seed from Vault",
		slog.String("pair", pair.ID.String()),
		slog.Duration("duration", time.Since(start)))
	return seed, nil
}

// LocationURI returns the Vault location of the transit key.
func (s *VaultSeedSource) LocationURI() string {
	return s.locationURI
}

package kms

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruteri/tee-key-rotation/interfaces"
)

// SeedSourceFactory creates seed sources from location URIs.
type SeedSourceFactory struct {
	log *slog.Logger
}

// NewSeedSourceFactory creates a new factory instance.
func NewSeedSourceFactory(logger *slog.Logger) *SeedSourceFactory {
	return &SeedSourceFactory{log: logger}
}

// SeedSourceFor creates a seed source from a location URI.
//
// Supported schemes:
//   - local://<64 hex chars> - deterministic seeds from a master key
//   - vault://host:port/<mount>/<key>[?tls=false] - Vault transit data keys
//   - awskms://<region>/<key id>[?endpoint=...] - AWS KMS data keys; access:secret@ userinfo optional
//
// A comma-separated list yields a MultiSeedSource trying each in order.
func (f *SeedSourceFactory) SeedSourceFor(uri string) (interfaces.SeedSource, error) {
	if !strings.Contains(uri, ",") {
		return f.singleSource(uri)
	}

	var sources []interfaces.SeedSource
	for _, part := range strings.Split(uri, ",") {
		source, err := f.singleSource(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	return NewMultiSeedSource(sources, f.log), nil
}

func (f *SeedSourceFactory) singleSource(uri string) (interfaces.SeedSource, error) {
	loc, err := interfaces.NewKeySourceLocation(uri)
	if err != nil {
		return nil, err
	}

	switch loc.Scheme {
	case "local":
		return f.createLocalSource(loc)
	case "vault":
		return f.createVaultSource(loc)
	case "awskms":
		return f.createAWSKMSSource(loc)
	default:
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnsupportedKeySource, loc.Scheme)
	}
}

// createLocalSource parses the master key from the host part.
func (f *SeedSourceFactory) createLocalSource(loc interfaces.KeySourceLocation) (interfaces.SeedSource, error) {
	masterKey, err := hex.DecodeString(loc.Host)
	if err != nil {
		return nil, fmt.Errorf("invalid local master key: %w", err)
	}
	defer clear(masterKey)

	f.log.Warn("Using local seed source - keys are derived from a static master key")
	return NewLocalSeedSource(masterKey)
}

// createVaultSource expects the path to be /<mount>/<key name>.
func (f *SeedSourceFactory) createVaultSource(loc interfaces.KeySourceLocation) (interfaces.SeedSource, error) {
	parts := strings.Split(strings.Trim(loc.Path, "/"), "/")
	if len(parts) < 2 || loc.Host == "" {
		return nil, fmt.Errorf("invalid vault key source, expected vault://host/<mount>/<key>: %s", loc.Raw)
	}
	mountPath := strings.Join(parts[:len(parts)-1], "/")
	keyName := parts[len(parts)-1]

	scheme := "https"
	if loc.Query.Get("tls") == "false" {
		scheme = "http"
	}

	f.log.Debug("Creating Vault seed source", slog.String("host", loc.Host), slog.String("mount", mountPath))
	return NewVaultSeedSource(fmt.Sprintf("%s://%s", scheme, loc.Host), mountPath, keyName, f.log)
}

// createAWSKMSSource expects the host to be the region and the path the key id or alias.
func (f *SeedSourceFactory) createAWSKMSSource(loc interfaces.KeySourceLocation) (interfaces.SeedSource, error) {
	keyID := strings.TrimPrefix(loc.Path, "/")
	if loc.Host == "" || keyID == "" {
		return nil, fmt.Errorf("invalid awskms key source, expected awskms://<region>/<key id>: %s", loc.Raw)
	}

	var accessKey, secretKey string
	if loc.Auth != "" {
		accessKey, secretKey, _ = strings.Cut(loc.Auth, ":")
	}

	f.log.Debug("Creating AWS KMS seed source", slog.String("region", loc.Host))
	return NewAWSKMSSeedSource(keyID, loc.Host, loc.Query.Get("endpoint"), accessKey, secretKey, f.log)
}

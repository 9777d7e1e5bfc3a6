package kms

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/tee-key-rotation/interfaces"
	"go.uber.org/multierr"
)

// MultiSeedSource implements interfaces.SeedSource over several sources with
// fallback: the first source to answer wins.
type MultiSeedSource struct {
	sources []interfaces.SeedSource
	log     *slog.Logger
}

// NewMultiSeedSource creates a seed source trying sources in order.
func NewMultiSeedSource(sources []interfaces.SeedSource, logger *slog.Logger) *MultiSeedSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiSeedSource{sources: sources, log: logger}
}

func (m *MultiSeedSource) NextSeed(ctx context.Context, pair interfaces.KeyPair, generation uint64) ([]byte, error) {
	start := time.Now()
	var errs error

	for _, source := range m.sources {
		seed, err := source.NextSeed(ctx, pair, generation)
		if err == nil {
			m.log.Debug("Obtained seed",
				slog.String("source", source.LocationURI()),
				slog.String("pair", pair.ID.String()),
				slog.Duration("duration", time.Since(start)))
			return seed, nil
		}

		errs = multierr.Append(errs, fmt.Errorf("%s: %w", source.LocationURI(), err))
		m.log.Warn("Seed source failed, trying next",
			slog.String("source", source.LocationURI()),
			slog.String("pair", pair.ID.String()),
			"err", err)
		if ctx.Err() != nil {
			break
		}
	}

	m.log.Error("All seed sources failed",
		slog.String("pair", pair.ID.String()),
		slog.Int("failedSources", len(multierr.Errors(errs))),
		slog.Duration("duration", time.Since(start)))
	return nil, fmt.Errorf("%w: all seed sources failed: %w", interfaces.ErrKeySourceUnavailable, errs)
}

// LocationURI combines the locations of all sources.
func (m *MultiSeedSource) LocationURI() string {
	locations := make([]string, 0, len(m.sources))
	for _, source := range m.sources {
		locations = append(locations, source.LocationURI())
	}
	return "multi:[" + strings.Join(locations, ",") + "]"
}

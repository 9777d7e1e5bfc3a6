package rotation

import (
	"fmt"

	"github.com/ruteri/tee-key-rotation/interfaces"
	"go.uber.org/multierr"
)

type ledgerEntry struct {
	// live is the summed usage of the consumers bound at the last refresh.
	live interfaces.PairUsage
	// retired holds the usage of consumers torn down since the last rotation.
	retired interfaces.PairUsage
}

func (e *ledgerEntry) total() interfaces.PairUsage {
	return e.live.Add(e.retired)
}

// UsageLedger aggregates consumer usage into per-pair totals. The set of pairs
// is fixed at construction, so lookups need no lock; every entry is guarded by
// its pair's lock in the StateStore.
type UsageLedger struct {
	entries map[interfaces.KeyPairID]*ledgerEntry
}

// NewUsageLedger creates zeroed entries for the given pairs.
func NewUsageLedger(ids []interfaces.KeyPairID) *UsageLedger {
	l := &UsageLedger{entries: make(map[interfaces.KeyPairID]*ledgerEntry, len(ids))}
	for _, id := range ids {
		l.entries[id] = &ledgerEntry{}
	}
	return l
}

func (l *UsageLedger) entry(id interfaces.KeyPairID) (*ledgerEntry, error) {
	e, ok := l.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnknownKeyPair, id)
	}
	return e, nil
}

// Refresh re-reads the counters of the given consumers and recomputes the
// pair total. A consumer whose counter cannot be read keeps contributing its
// last known usage; the read errors are returned together.
func (l *UsageLedger) Refresh(id interfaces.KeyPairID, consumers []*Consumer) (interfaces.PairUsage, error) {
	e, err := l.entry(id)
	if err != nil {
		return interfaces.PairUsage{}, err
	}

	var (
		live interfaces.PairUsage
		errs error
	)
	for _, c := range consumers {
		if err := c.refresh(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reading usage of consumer %s: %w", c.ID(), err))
		}
		live = live.Add(c.usage())
	}
	e.live = live
	return e.total(), errs
}

// Retire hands the usage of a consumer being torn down over to the retired
// sum. counted is what the consumer contributed to the live sum at the last
// refresh, final its usage at teardown; the pair total grows by the difference.
func (l *UsageLedger) Retire(id interfaces.KeyPairID, counted, final interfaces.PairUsage) {
	e, ok := l.entries[id]
	if !ok {
		return
	}
	e.live = e.live.Sub(counted)
	e.retired = e.retired.Add(final)
}

// Reset zeroes the pair after a successful rotation.
func (l *UsageLedger) Reset(id interfaces.KeyPairID) {
	if e, ok := l.entries[id]; ok {
		*e = ledgerEntry{}
	}
}

// Totals returns live plus retired usage as of the last refresh.
func (l *UsageLedger) Totals(id interfaces.KeyPairID) interfaces.PairUsage {
	if e, ok := l.entries[id]; ok {
		return e.total()
	}
	return interfaces.PairUsage{}
}

// Retired returns the usage of consumers torn down since the last rotation.
func (l *UsageLedger) Retired(id interfaces.KeyPairID) interfaces.PairUsage {
	if e, ok := l.entries[id]; ok {
		return e.retired
	}
	return interfaces.PairUsage{}
}

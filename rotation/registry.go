package rotation

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ruteri/tee-key-rotation/interfaces"
	"go.uber.org/atomic"
)

// Consumer is a workload bound to one key pair. Its counter buffer is owned by
// the consumer and only read here; usage since the last rotation is the
// difference between the last read and the baseline taken at that rotation.
type Consumer struct {
	id        interfaces.ConsumerID
	pair      interfaces.KeyPairID
	counter   interfaces.UsageCounter
	createdAt time.Time

	quiesced            atomic.Bool
	enableAfterRotation atomic.Bool

	// guarded by the pair lock
	lastRead interfaces.PairUsage
	baseline interfaces.PairUsage
}

// ID returns the consumer id.
func (c *Consumer) ID() interfaces.ConsumerID { return c.id }

// Pair returns the key pair the consumer is bound to.
func (c *Consumer) Pair() interfaces.KeyPairID { return c.pair }

// CreatedAt returns the registration time.
func (c *Consumer) CreatedAt() time.Time { return c.createdAt }

// SetQuiesced records whether the consumer has drained its in-flight work.
func (c *Consumer) SetQuiesced(v bool) { c.quiesced.Store(v) }

// Quiesced reports the consumer's quiesced flag.
func (c *Consumer) Quiesced() bool { return c.quiesced.Load() }

// EnableAfterRotation reports whether the consumer was aborted by a forced
// rotation and must be re-enabled once it completes.
func (c *Consumer) EnableAfterRotation() bool { return c.enableAfterRotation.Load() }

func (c *Consumer) refresh() error {
	u, err := c.counter.ReadUsage()
	if err != nil {
		return err
	}
	c.lastRead = u
	return nil
}

func (c *Consumer) usage() interfaces.PairUsage {
	return c.lastRead.Sub(c.baseline)
}

// resetUsage zeroes the consumer's usage since the last rotation by moving
// the baseline to the current counter value. If the counter cannot be read the
// baseline moves to the last successful read, and usage between that read and
// the rotation is charged to the new key.
func (c *Consumer) resetUsage() error {
	err := c.refresh()
	c.baseline = c.lastRead
	return err
}

// ConsumerRegistry tracks the consumers bound to each pair.
type ConsumerRegistry struct {
	mu        sync.RWMutex
	consumers map[interfaces.ConsumerID]*Consumer
	byPair    map[interfaces.KeyPairID]map[interfaces.ConsumerID]*Consumer
}

// NewConsumerRegistry returns an empty registry.
func NewConsumerRegistry() *ConsumerRegistry {
	return &ConsumerRegistry{
		consumers: make(map[interfaces.ConsumerID]*Consumer),
		byPair:    make(map[interfaces.KeyPairID]map[interfaces.ConsumerID]*Consumer),
	}
}

func (r *ConsumerRegistry) add(c *Consumer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.consumers[c.id]; ok {
		return fmt.Errorf("%w: %s", interfaces.ErrConsumerExists, c.id)
	}
	r.consumers[c.id] = c
	bound, ok := r.byPair[c.pair]
	if !ok {
		bound = make(map[interfaces.ConsumerID]*Consumer)
		r.byPair[c.pair] = bound
	}
	bound[c.id] = c
	return nil
}

// remove reports whether the consumer was still registered.
func (r *ConsumerRegistry) remove(id interfaces.ConsumerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.consumers[id]
	if !ok {
		return false
	}
	delete(r.consumers, id)
	delete(r.byPair[c.pair], id)
	return true
}

// Get looks up a consumer.
func (r *ConsumerRegistry) Get(id interfaces.ConsumerID) (*Consumer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.consumers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnknownConsumer, id)
	}
	return c, nil
}

// Bound enumerates the consumers of a pair, ordered by id.
func (r *ConsumerRegistry) Bound(pair interfaces.KeyPairID) []*Consumer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bound := make([]*Consumer, 0, len(r.byPair[pair]))
	for _, c := range r.byPair[pair] {
		bound = append(bound, c)
	}
	slices.SortFunc(bound, func(a, b *Consumer) int {
		return strings.Compare(string(a.id), string(b.id))
	})
	return bound
}

// Count returns the number of registered consumers.
func (r *ConsumerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.consumers)
}

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/tee-key-rotation/interfaces"
	"go.uber.org/atomic"
)

// DefaultMailboxSize bounds the undelivered events kept per consumer.
const DefaultMailboxSize = 16

// Message is one event queued for a consumer.
type Message struct {
	Consumer interfaces.ConsumerID `json:"consumer"`
	Event    interfaces.Event      `json:"event"`
	Status   interfaces.Status     `json:"status"`
	Sequence uint64                `json:"sequence"`
	SentAt   time.Time             `json:"sent_at"`
}

// ChannelTransport implements interfaces.ConsumerTransport with in-process
// mailboxes.
type ChannelTransport struct {
	mu        sync.RWMutex
	mailboxes map[interfaces.ConsumerID]chan Message
	size      int

	seq     atomic.Uint64
	dropped atomic.Uint64
	log     *slog.Logger
}

var _ interfaces.ConsumerTransport = (*ChannelTransport)(nil)

// NewChannelTransport creates a transport with mailboxes of the given size.
func NewChannelTransport(size int, log *slog.Logger) *ChannelTransport {
	if size <= 0 {
		size = DefaultMailboxSize
	}
	return &ChannelTransport{
		mailboxes: make(map[interfaces.ConsumerID]chan Message),
		size:      size,
		log:       log,
	}
}

// Subscribe opens the mailbox of a consumer.
func (t *ChannelTransport) Subscribe(id interfaces.ConsumerID) (<-chan Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.mailboxes[id]; ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrConsumerExists, id)
	}
	ch := make(chan Message, t.size)
	t.mailboxes[id] = ch
	return ch, nil
}

// Unsubscribe closes the mailbox of a consumer. Undelivered events are lost.
func (t *ChannelTransport) Unsubscribe(id interfaces.ConsumerID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ch, ok := t.mailboxes[id]; ok {
		close(ch)
		delete(t.mailboxes, id)
	}
}

// Notify queues the event without blocking.
func (t *ChannelTransport) Notify(id interfaces.ConsumerID, event interfaces.Event, status interfaces.Status) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ch, ok := t.mailboxes[id]
	if !ok {
		t.log.Debug("Dropping event for consumer without mailbox", "consumer", id, "event", event)
		return
	}

	msg := Message{Consumer: id, Event: event, Status: status, Sequence: t.seq.Inc(), SentAt: time.Now()}
	select {
	case ch <- msg:
	default:
		t.dropped.Inc()
		t.log.Warn("Consumer mailbox full, dropping event", "consumer", id, "event", event, "status", status)
	}
}

// Dropped returns the number of events lost to full mailboxes.
func (t *ChannelTransport) Dropped() uint64 {
	return t.dropped.Load()
}

// Drain returns the queued events of a consumer without waiting.
func (t *ChannelTransport) Drain(id interfaces.ConsumerID) ([]Message, error) {
	t.mu.RLock()
	ch, ok := t.mailboxes[id]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnknownConsumer, id)
	}
	return drain(ch, nil), nil
}

// Wait blocks until the consumer has at least one event or ctx is done, then
// returns everything queued. A done context yields an empty result, not an error.
func (t *ChannelTransport) Wait(ctx context.Context, id interfaces.ConsumerID) ([]Message, error) {
	t.mu.RLock()
	ch, ok := t.mailboxes[id]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnknownConsumer, id)
	}

	select {
	case <-ctx.Done():
		return nil, nil
	case msg, open := <-ch:
		if !open {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrUnknownConsumer, id)
		}
		return drain(ch, []Message{msg}), nil
	}
}

func drain(ch <-chan Message, msgs []Message) []Message {
	for {
		select {
		case msg, open := <-ch:
			if !open {
				return msgs
			}
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

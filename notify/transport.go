package notify

import (
	"context"
	"log/slog"

	"github.com/ruteri/tee-key-rotation/interfaces"
)

// LogTransport writes every event to the logger.
type LogTransport struct {
	log *slog.Logger
}

// NewLogTransport creates a LogTransport.
func NewLogTransport(log *slog.Logger) *LogTransport {
	return &LogTransport{log: log}
}

func (t *LogTransport) Notify(id interfaces.ConsumerID, event interfaces.Event, status interfaces.Status) {
	level := slog.LevelInfo
	if event == interfaces.EventAbort {
		level = slog.LevelWarn
	}
	t.log.Log(context.Background(), level, "Consumer notified", "consumer", id, "event", event, "status", status)
}

// FanOut forwards each event to all transports in order.
type FanOut []interfaces.ConsumerTransport

func (f FanOut) Notify(id interfaces.ConsumerID, event interfaces.Event, status interfaces.Status) {
	for _, t := range f {
		t.Notify(id, event, status)
	}
}

package consumerhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/tee-key-rotation/api"
	"github.com/ruteri/tee-key-rotation/interfaces"
	"github.com/ruteri/tee-key-rotation/notify"
	"github.com/ruteri/tee-key-rotation/rotation"
)

// MaxWait caps the long-poll duration of the events endpoint.
const MaxWait = 30 * time.Second

// Scheduler is the part of rotation.Scheduler the handler drives.
type Scheduler interface {
	Register(pair interfaces.KeyPairID, counter interfaces.UsageCounter, id interfaces.ConsumerID) (*rotation.Consumer, error)
	Unregister(id interfaces.ConsumerID) error
}

// Mailboxes is the part of notify.ChannelTransport the handler drives.
type Mailboxes interface {
	Subscribe(id interfaces.ConsumerID) (<-chan notify.Message, error)
	Unsubscribe(id interfaces.ConsumerID)
	Drain(id interfaces.ConsumerID) ([]notify.Message, error)
	Wait(ctx context.Context, id interfaces.ConsumerID) ([]notify.Message, error)
}

type remoteConsumer struct {
	consumer *rotation.Consumer
	counter  *remoteCounter
}

// Handler processes requests of remote consumers.
type Handler struct {
	scheduler Scheduler
	mailboxes Mailboxes
	log       *slog.Logger

	mu        sync.RWMutex
	consumers map[interfaces.ConsumerID]*remoteConsumer
}

// NewHandler creates a new HTTP request handler with the specified dependencies.
func NewHandler(scheduler Scheduler, mailboxes Mailboxes, log *slog.Logger) *Handler {
	return &Handler{
		scheduler: scheduler,
		mailboxes: mailboxes,
		log:       log,
		consumers: make(map[interfaces.ConsumerID]*remoteConsumer),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/v1/consumers", h.HandleRegister)
	r.Put("/api/v1/consumers/{id}/usage", h.HandleReportUsage)
	r.Put("/api/v1/consumers/{id}/quiesced", h.HandleSetQuiesced)
	r.Get("/api/v1/consumers/{id}/events", h.HandleEvents)
	r.Delete("/api/v1/consumers/{id}", h.HandleUnregister)
}

func (h *Handler) lookup(r *http.Request) (interfaces.ConsumerID, *remoteConsumer, error) {
	id := interfaces.ConsumerID(chi.URLParam(r, "id"))
	h.mu.RLock()
	defer h.mu.RUnlock()
	rc, ok := h.consumers[id]
	if !ok {
		return id, nil, fmt.Errorf("%w: %s", interfaces.ErrUnknownConsumer, id)
	}
	return id, rc, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Errorf("could not encode response: %w", err).Error(), http.StatusInternalServerError)
	}
}

// HandleRegister binds a remote consumer to a key pair and opens its mailbox.
//
// Request body: {"pair": "ks2/user", "id": "optional"}
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterConsumerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Errorf("invalid request body: %w", err).Error(), http.StatusBadRequest)
		return
	}
	pair, err := interfaces.ParseKeyPairID(req.Pair)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := req.ID
	if id == "" {
		id = interfaces.NewConsumerID()
	}

	// the mailbox exists before the scheduler can address the consumer
	if _, err := h.mailboxes.Subscribe(id); err != nil {
		http.Error(w, err.Error(), api.StatusForError(err))
		return
	}

	counter := &remoteCounter{}
	consumer, err := h.scheduler.Register(pair, counter, id)
	if err != nil {
		h.mailboxes.Unsubscribe(id)
		http.Error(w, err.Error(), api.StatusForError(err))
		return
	}

	h.mu.Lock()
	h.consumers[id] = &remoteConsumer{consumer: consumer, counter: counter}
	h.mu.Unlock()

	h.log.Info("Remote consumer registered", "consumer", id, "pair", pair)
	writeJSON(w, http.StatusCreated, api.RegisterConsumerResponse{ID: id, Pair: pair.String()})
}

// HandleReportUsage records the consumer's cumulative counters.
//
// Request body: {"usage": {"h2d": {...}, "d2h": {...}}}
func (h *Handler) HandleReportUsage(w http.ResponseWriter, r *http.Request) {
	_, rc, err := h.lookup(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	var report api.UsageReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		http.Error(w, fmt.Errorf("invalid request body: %w", err).Error(), http.StatusBadRequest)
		return
	}
	if err := rc.counter.report(report.Usage); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetQuiesced sets the consumer's quiesced flag.
//
// Request body: {"quiesced": true|false}
func (h *Handler) HandleSetQuiesced(w http.ResponseWriter, r *http.Request) {
	id, rc, err := h.lookup(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	var req api.QuiescedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Errorf("invalid request body: %w", err).Error(), http.StatusBadRequest)
		return
	}
	rc.consumer.SetQuiesced(req.Quiesced)
	h.log.Debug("Consumer quiesced flag set", "consumer", id, "quiesced", req.Quiesced)
	w.WriteHeader(http.StatusNoContent)
}

// HandleEvents returns the queued events of the consumer. With ?wait=<duration>
// it blocks until an event arrives or the wait expires.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	id, _, err := h.lookup(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	var msgs []notify.Message
	if waitParam := r.URL.Query().Get("wait"); waitParam != "" {
		wait, perr := time.ParseDuration(waitParam)
		if perr != nil || wait < 0 {
			http.Error(w, fmt.Sprintf("invalid wait duration %q", waitParam), http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), min(wait, MaxWait))
		defer cancel()
		msgs, err = h.mailboxes.Wait(ctx, id)
	} else {
		msgs, err = h.mailboxes.Drain(id)
	}
	if err != nil {
		http.Error(w, err.Error(), api.StatusForError(err))
		return
	}
	if msgs == nil {
		msgs = []notify.Message{}
	}
	writeJSON(w, http.StatusOK, api.EventsResponse{Events: msgs})
}

// HandleUnregister tears the consumer down. Its usage keeps counting toward
// the pair until the next rotation.
func (h *Handler) HandleUnregister(w http.ResponseWriter, r *http.Request) {
	id, _, err := h.lookup(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	if err := h.scheduler.Unregister(id); err != nil && !errors.Is(err, interfaces.ErrUnknownConsumer) {
		http.Error(w, err.Error(), api.StatusForError(err))
		return
	}
	h.mailboxes.Unsubscribe(id)

	h.mu.Lock()
	delete(h.consumers, id)
	h.mu.Unlock()

	h.log.Info("Remote consumer unregistered", "consumer", id)
	w.WriteHeader(http.StatusNoContent)
}

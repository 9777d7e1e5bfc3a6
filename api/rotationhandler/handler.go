package rotationhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/tee-key-rotation/api"
	"github.com/ruteri/tee-key-rotation/interfaces"
	"github.com/ruteri/tee-key-rotation/rotation"
)

// Scheduler is the part of rotation.Scheduler the handler drives.
type Scheduler interface {
	Snapshot() []rotation.PairSnapshot
	PairSnapshot(id interfaces.KeyPairID) (rotation.PairSnapshot, error)
	Policy() *rotation.ThresholdPolicy
	Trigger(id interfaces.KeyPairID) error
	Recover(ctx context.Context, id interfaces.KeyPairID) error
	SetEnabled(enabled bool)
	Enabled() bool
}

// Handler processes operator requests.
type Handler struct {
	scheduler Scheduler
	log       *slog.Logger
}

// NewHandler creates a new HTTP request handler with the specified dependencies.
func NewHandler(scheduler Scheduler, log *slog.Logger) *Handler {
	return &Handler{scheduler: scheduler, log: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/keypairs", h.HandleListKeyPairs)
	r.Get("/api/v1/keypairs/{space}/{tier}", h.HandleGetKeyPair)
	r.Post("/api/v1/keypairs/{space}/{tier}/trigger", h.HandleTrigger)
	r.Post("/api/v1/keypairs/{space}/{tier}/recover", h.HandleRecover)
	r.Get("/api/v1/rotation/enabled", h.HandleGetEnabled)
	r.Put("/api/v1/rotation/enabled", h.HandleSetEnabled)
}

func pairFromRequest(r *http.Request) (interfaces.KeyPairID, error) {
	return api.ParsePairPath(chi.URLParam(r, "space"), chi.URLParam(r, "tier"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Errorf("could not encode response: %w", err).Error(), http.StatusInternalServerError)
	}
}

// HandleListKeyPairs returns every pair under rotation, kernel tier first
// within each keyspace.
func (h *Handler) HandleListKeyPairs(w http.ResponseWriter, r *http.Request) {
	policy := h.scheduler.Policy()
	snaps := h.scheduler.Snapshot()
	statuses := make([]api.KeyPairStatus, 0, len(snaps))
	for _, snap := range snaps {
		statuses = append(statuses, api.NewKeyPairStatus(snap, policy))
	}
	writeJSON(w, statuses)
}

// HandleGetKeyPair returns one pair.
//
// URL format: GET /api/v1/keypairs/{space}/{tier}
func (h *Handler) HandleGetKeyPair(w http.ResponseWriter, r *http.Request) {
	id, err := pairFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	snap, err := h.scheduler.PairSnapshot(id)
	if err != nil {
		http.Error(w, err.Error(), api.StatusForError(err))
		return
	}
	writeJSON(w, api.NewKeyPairStatus(snap, h.scheduler.Policy()))
}

// HandleTrigger condemns an idle or pending pair to a forced rotation. Pairs
// already rotating or failed answer 409.
//
// URL format: POST /api/v1/keypairs/{space}/{tier}/trigger
func (h *Handler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := pairFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.scheduler.Trigger(id); err != nil {
		h.log.Warn("Manual rotation trigger rejected", "pair", id, "err", err)
		http.Error(w, err.Error(), api.StatusForError(err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleRecover retries the rotation of a failed pair and waits for the
// outcome. A pair that is not failed answers 409; a retry that fails again
// answers 500 and leaves the pair failed.
//
// URL format: POST /api/v1/keypairs/{space}/{tier}/recover
func (h *Handler) HandleRecover(w http.ResponseWriter, r *http.Request) {
	id, err := pairFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = h.scheduler.Recover(r.Context(), id)
	switch {
	case err == nil:
	case interfaces.IsRotationFailed(err):
		h.log.Error("Recovery of failed key rotation failed", "pair", id, "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	default:
		http.Error(w, err.Error(), api.StatusForError(err))
		return
	}

	snap, err := h.scheduler.PairSnapshot(id)
	if err != nil {
		http.Error(w, err.Error(), api.StatusForError(err))
		return
	}
	writeJSON(w, api.NewKeyPairStatus(snap, h.scheduler.Policy()))
}

// HandleGetEnabled returns the global rotation toggle.
func (h *Handler) HandleGetEnabled(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, api.RotationToggle{Enabled: h.scheduler.Enabled()})
}

// HandleSetEnabled sets the global rotation toggle.
//
// Request body: {"enabled": true|false}
func (h *Handler) HandleSetEnabled(w http.ResponseWriter, r *http.Request) {
	var toggle api.RotationToggle
	if err := json.NewDecoder(r.Body).Decode(&toggle); err != nil {
		http.Error(w, fmt.Errorf("invalid request body: %w", err).Error(), http.StatusBadRequest)
		return
	}

	h.scheduler.SetEnabled(toggle.Enabled)
	writeJSON(w, api.RotationToggle{Enabled: h.scheduler.Enabled()})
}

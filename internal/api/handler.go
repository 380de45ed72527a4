// Package api provides the bot's operational HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Jasguerrero/wa-bot/internal/audit"
	"github.com/Jasguerrero/wa-bot/internal/lifecycle"
	"github.com/go-chi/chi/v5"
)

// Handler serves bot status and recent audit records.
type Handler struct {
	manager *lifecycle.Manager
	store   audit.Store
	started time.Time
}

// NewHandler creates a Handler.
func NewHandler(manager *lifecycle.Manager, store audit.Store) *Handler {
	return &Handler{
		manager: manager,
		store:   store,
		started: time.Now(),
	}
}

// RegisterRoutes mounts the ops endpoints on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/status", h.status)
	r.Get("/notifications", h.notifications)
}

type statusResponse struct {
	lifecycle.Snapshot
	Uptime string `json:"uptime"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, statusResponse{
		Snapshot: h.manager.Snapshot(),
		Uptime:   time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *Handler) notifications(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	records, err := h.store.Recent(ctx, 50)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to read audit records")
		return
	}
	JSON(w, http.StatusOK, records)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

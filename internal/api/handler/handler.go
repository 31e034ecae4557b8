// Package handler provides HTTP handlers for all API endpoints. Handlers
// talk to the store for reads and to the engine for anything that touches
// the armed-alert lifecycle.
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/oriru-app/oriru-core/internal/api/respond"
	"github.com/oriru-app/oriru-core/internal/config"
	"github.com/oriru-app/oriru-core/internal/geo"
	"github.com/oriru-app/oriru-core/internal/monitor"
	"github.com/oriru-app/oriru-core/internal/store"
)

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	store    store.Store
	engine   *monitor.Engine
	provider *geo.PushProvider
	cfg      *config.Config
	logger   *slog.Logger
}

// New creates a Handler with shared dependencies.
func New(st store.Store, engine *monitor.Engine, provider *geo.PushProvider, cfg *config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:    st,
		engine:   engine,
		provider: provider,
		cfg:      cfg,
		logger:   logger,
	}
}

// Root serves API info at /.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"name":    "Oriru Alert Engine",
		"version": "1.0.0",
		"status":  "running",
	})
}

// HealthCheck returns basic health status.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies store connectivity.
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"store":     "disconnected",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"store":     "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// EngineStatus reports the engine's sessions and accuracy tier.
func (h *Handler) EngineStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Snapshot(r.Context())
	if err != nil {
		respond.WriteError(w, http.StatusServiceUnavailable, "ENGINE_UNAVAILABLE", "engine did not answer")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, status)
}

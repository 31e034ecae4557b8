package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"

	"github.com/oriru-app/oriru-core/internal/api/handler"
	"github.com/oriru-app/oriru-core/internal/config"
	"github.com/oriru-app/oriru-core/internal/geo"
	"github.com/oriru-app/oriru-core/internal/metrics"
	"github.com/oriru-app/oriru-core/internal/monitor"
	"github.com/oriru-app/oriru-core/internal/store"
)

// NewRouter creates and configures the Chi router with all middleware and routes.
func NewRouter(st store.Store, engine *monitor.Engine, provider *geo.PushProvider, m *metrics.Set, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TimingMiddleware)
	r.Use(middleware.Compress(5)) // gzip

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Process-Time"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	// --- Handler dependencies ---
	h := handler.New(st, engine, provider, cfg, logger)

	// --- Routes ---

	// Root
	r.Get("/", h.Root)

	// Health checks
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/db", h.HealthCheckDB)
	})

	// Prometheus exposition, outside auth
	r.Handle("/metrics", m.Handler())

	// API v1 routes, behind bearer auth when a secret is configured
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		// Stations
		r.Route("/stations", func(r chi.Router) {
			r.Get("/", h.ListStations)
			r.Post("/", h.CreateStation)
			r.Get("/{stationID}", h.GetStation)
			r.Put("/{stationID}", h.UpdateStation)
			r.Put("/{stationID}/favorite", h.SetFavorite)
		})

		// Alerts
		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", h.ListAlerts)
			r.Post("/", h.CreateAlert)
			r.Get("/{alertID}", h.GetAlert)
			r.Put("/{alertID}", h.UpdateAlert)
			r.Delete("/{alertID}", h.DeleteAlert)
			r.Post("/{alertID}/pause", h.PauseAlert)
			r.Post("/{alertID}/resume", h.ResumeAlert)
			r.Post("/{alertID}/dismiss", h.DismissAlert)
			r.Get("/{alertID}/history", h.ListHistory)
		})

		// Location ingest + engine status
		r.Post("/location", h.IngestLocation)
		r.Get("/engine/status", h.EngineStatus)
	})

	return r
}

// Command server is the Oriru alert engine and HTTP API.
//
// Usage:
//
//	oriru-server
//	API_PORT=8080 STORE_DRIVER=postgres oriru-server
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/oriru-app/oriru-core/internal/api"
	"github.com/oriru-app/oriru-core/internal/config"
	"github.com/oriru-app/oriru-core/internal/geo"
	"github.com/oriru-app/oriru-core/internal/maintenance"
	"github.com/oriru-app/oriru-core/internal/message"
	"github.com/oriru-app/oriru-core/internal/metrics"
	"github.com/oriru-app/oriru-core/internal/monitor"
	"github.com/oriru-app/oriru-core/internal/notify"
	"github.com/oriru-app/oriru-core/internal/registry"
	"github.com/oriru-app/oriru-core/internal/stopfeed"
	"github.com/oriru-app/oriru-core/internal/store"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Open the store
	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer st.Close()
	logger.Info("Store opened", "driver", cfg.StoreDriver)

	// Hydrate the armed-alert set. A partial set is worse than not starting.
	reg, err := registry.Load(ctx, st)
	if err != nil {
		logger.Error("Failed to load armed alerts", "error", err)
		os.Exit(1)
	}
	logger.Info("Armed alerts loaded", "sessions", reg.Len())

	// Metrics
	m := metrics.New()

	// Message resolution: cache, then remote generator if configured, then
	// static persona templates.
	var gen message.Generator
	if cfg.GeneratorURL != "" {
		gen = message.NewClient(cfg.GeneratorURL, cfg.GeneratorAPIKey, cfg.GeneratorRPM, cfg.GeneratorTimeout)
		logger.Info("Message generator enabled", "url", cfg.GeneratorURL)
	} else {
		logger.Info("Message generator disabled, using static templates")
	}
	cache := message.NewCache(cfg.MessageCacheTTL)
	resolver := message.NewResolver(cache, gen, cfg.GeneratorTimeout, cfg.GeneratorRetries, logger)
	resolver.OnFallback = m.Fallback
	resolver.OnRetry = m.Retry

	// Notification sink: webhook when configured, structured log otherwise.
	var sink notify.Sink
	if cfg.WebhookURL != "" {
		sink = notify.NewWebhookSink(cfg.WebhookURL, cfg.WebhookToken)
		logger.Info("Webhook notifications enabled", "url", cfg.WebhookURL)
	}
	dispatcher := notify.NewDispatcher(sink, st, logger)

	// Stop feed for stop-count triggers
	var feed stopfeed.Feed = stopfeed.Unavailable{}
	if cfg.StopFeedURL != "" {
		feed = stopfeed.NewGTFSRT(cfg.StopFeedURL, cfg.StopFeedAPIKey, cfg.StopFeedMaxAge, logger)
		logger.Info("GTFS-realtime stop feed enabled", "url", cfg.StopFeedURL)
	}

	// Location samples arrive over the HTTP ingest endpoint.
	provider := geo.NewPushProvider()

	// Engine
	engine := monitor.New(monitor.Options{
		Store:      st,
		Registry:   reg,
		Provider:   provider,
		Feed:       feed,
		Resolver:   resolver,
		Dispatcher: dispatcher,
		Metrics:    m,
		Logger:     logger,
		Cadence: geo.Cadence{
			geo.TierNormal:      {Interval: cfg.TierNormalInterval, AccuracyMeters: 500},
			geo.TierApproaching: {Interval: cfg.TierApproachInterval, AccuracyMeters: 100},
			geo.TierNearTarget:  {Interval: cfg.TierNearInterval, AccuracyMeters: 10},
		},
		Grace:         cfg.GraceWindow,
		SnoozeCeiling: cfg.DefaultSnoozeCeiling,
	})
	go engine.Run(ctx)

	// Maintenance tickers (history prune, cache sweep, heartbeat)
	mcfg := maintenance.DefaultConfig()
	mcfg.PruneInterval = cfg.PruneInterval
	mcfg.HistoryRetention = cfg.HistoryRetention
	go maintenance.Start(ctx, st, cache, mcfg, logger)

	// Create router
	router := api.NewRouter(st, engine, provider, m, cfg, logger)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Oriru alert engine",
			"addr", addr,
			"environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		return store.NewPostgres(ctx, store.PostgresConfig{
			URL:         cfg.DatabaseURL,
			MinConns:    cfg.DBPoolMinConns,
			MaxConns:    cfg.DBPoolMaxConns,
			MaxConnLife: cfg.DBPoolMaxLife,
		})
	case config.DriverSQLite:
		return store.NewSQLite(cfg.SQLitePath)
	case config.DriverMemory:
		return store.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// Package maintenance runs periodic background tasks as Go tickers. The
// engine process is already persistent and long-running, so scheduled work
// lives here instead of an external cron.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/oriru-app/oriru-core/internal/message"
	"github.com/oriru-app/oriru-core/internal/store"
)

// Config controls maintenance task intervals. Zero duration disables a task.
type Config struct {
	PruneInterval    time.Duration // Notification-history retention sweep
	HistoryRetention time.Duration // Rows older than this are pruned
	SweepInterval    time.Duration // Message-cache TTL sweep
	StatusInterval   time.Duration // Periodic liveness log line
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		PruneInterval:    6 * time.Hour,
		HistoryRetention: 90 * 24 * time.Hour,
		SweepInterval:    1 * time.Hour,
		StatusInterval:   15 * time.Minute,
	}
}

// Start launches all configured maintenance tickers. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, st store.Store, cache *message.Cache, cfg Config, logger *slog.Logger) {
	logger.Info("Maintenance tickers started",
		"prune", cfg.PruneInterval,
		"sweep", cfg.SweepInterval,
		"status", cfg.StatusInterval)

	tickers := make([]*time.Ticker, 0, 3)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	// Prune: drop notification history past the retention window.
	if cfg.PruneInterval > 0 && cfg.HistoryRetention > 0 {
		t := time.NewTicker(cfg.PruneInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { pruneHistory(ctx, st, cfg.HistoryRetention, logger) })
	}

	// Sweep: evict expired message-cache entries.
	if cfg.SweepInterval > 0 && cache != nil {
		t := time.NewTicker(cfg.SweepInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { sweepCache(cache, logger) })
	}

	// Status: low-frequency heartbeat with a store liveness check.
	if cfg.StatusInterval > 0 {
		t := time.NewTicker(cfg.StatusInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { logStatus(ctx, st, logger) })
	}

	<-ctx.Done()
	logger.Info("Maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, fn func()) {
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// --------------------------------------------------------------------------
// Task implementations
// --------------------------------------------------------------------------

func pruneHistory(ctx context.Context, st store.Store, retention time.Duration, logger *slog.Logger) {
	cutoff := time.Now().Add(-retention)
	n, err := st.PruneHistory(ctx, cutoff)
	if err != nil {
		logger.Warn("History prune failed", "error", err)
		return
	}
	if n > 0 {
		logger.Info("History pruned", "rows", n, "older_than", cutoff)
	}
}

func sweepCache(cache *message.Cache, logger *slog.Logger) {
	evicted := cache.Sweep()
	if evicted > 0 {
		logger.Info("Message cache swept", "evicted", evicted, "remaining", cache.Len())
	}
}

func logStatus(ctx context.Context, st store.Store, logger *slog.Logger) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := st.Ping(pingCtx); err != nil {
		logger.Warn("Store ping failed", "error", err)
		return
	}
	logger.Debug("Maintenance heartbeat", "store", "ok")
}

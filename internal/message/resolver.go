package message

import (
	"context"
	"log/slog"
	"time"

	"github.com/oriru-app/oriru-core/internal/alert"
)

const (
	defaultAttempts = 3
	defaultTimeout  = 5 * time.Second
	initialBackoff  = 500 * time.Millisecond
)

// Resolver produces notification bodies. A nil Generator (service not
// configured, or offline mode) resolves straight to the fallback template.
type Resolver struct {
	cache    *Cache
	gen      Generator
	timeout  time.Duration // per-attempt bound
	attempts int
	logger   *slog.Logger

	// OnFallback, when set, is called once per resolution that ends on the
	// static template. OnRetry is called once per retried remote attempt.
	// Both are instrumentation hooks.
	OnFallback func()
	OnRetry    func()

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(context.Context, time.Duration) error
}

// NewResolver wires a resolver. gen may be nil.
func NewResolver(cache *Cache, gen Generator, timeout time.Duration, attempts int, logger *slog.Logger) *Resolver {
	if cache == nil {
		cache = NewCache(0)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		cache:    cache,
		gen:      gen,
		timeout:  timeout,
		attempts: attempts,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Cache exposes the underlying cache for maintenance sweeps.
func (r *Resolver) Cache() *Cache { return r.cache }

// Resolve returns the notification body for a station and persona. It never
// returns an empty string and never propagates an error: cache hit, then
// remote generation with retry and backoff, then the static template.
func (r *Resolver) Resolve(ctx context.Context, station *alert.Station, persona alert.Persona) string {
	if text, ok := r.cache.Get(station.ID.String(), string(persona)); ok {
		return text
	}

	if r.gen != nil {
		switch text, err := r.generate(ctx, station.Name, persona); {
		case err != nil:
			r.logger.Warn("message generation failed, using fallback",
				"station", station.Name, "persona", persona, "error", err)
		case text == "":
			// A generator must never hand the user a blank notification.
			r.logger.Warn("message generation returned empty text, using fallback",
				"station", station.Name, "persona", persona)
		default:
			r.cache.Set(station.ID.String(), string(persona), text)
			return text
		}
	}

	if r.OnFallback != nil {
		r.OnFallback()
	}
	return Fallback(station.Name, persona)
}

// generate retries with exponential backoff up to the attempt ceiling. Each
// attempt gets its own timeout; the parent ctx can cancel the whole thing.
func (r *Resolver) generate(ctx context.Context, stationName string, persona alert.Persona) (string, error) {
	backoff := initialBackoff
	var lastErr error

	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			if r.OnRetry != nil {
				r.OnRetry()
			}
			if err := r.sleep(ctx, backoff); err != nil {
				return "", err
			}
			backoff *= 2
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		text, err := r.gen.Generate(attemptCtx, stationName, persona)
		cancel()
		if err == nil {
			return text, nil
		}
		lastErr = err
	}
	return "", lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

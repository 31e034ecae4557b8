// Package config provides centralized configuration loaded from environment
// variables. Shared by cmd/server and cmd/oriructl.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Store drivers
// --------------------------------------------------------------------------

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// --------------------------------------------------------------------------
// Config struct — populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Store
	StoreDriver    string // postgres, sqlite, memory
	DatabaseURL    string // postgres DSN
	SQLitePath     string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// Auth
	JWTSecret string

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Message generation service
	GeneratorURL     string // empty disables remote generation
	GeneratorAPIKey  string
	GeneratorRPM     int
	GeneratorTimeout time.Duration
	GeneratorRetries int
	MessageCacheTTL  time.Duration

	// Engine
	GraceWindow          time.Duration
	DefaultSnoozeCeiling int
	TierNormalInterval   time.Duration
	TierApproachInterval time.Duration
	TierNearInterval     time.Duration

	// Stop feed (GTFS-realtime)
	StopFeedURL    string // empty disables stop-count triggers' data source
	StopFeedAPIKey string
	StopFeedMaxAge time.Duration

	// Notifications
	WebhookURL   string // empty falls back to the log sink
	WebhookToken string

	// Maintenance
	HistoryRetention time.Duration
	PruneInterval    time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	driver := envOr("STORE_DRIVER", DriverSQLite)
	switch driver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be postgres, sqlite, or memory, got %q", driver)
	}

	dbURL := envOr("DATABASE_URL", "")
	if driver == DriverPostgres && dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set when STORE_DRIVER=postgres")
	}

	return &Config{
		StoreDriver:    driver,
		DatabaseURL:    dbURL,
		SQLitePath:     envOr("SQLITE_PATH", "oriru.db"),
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		JWTSecret: envOr("JWT_SECRET", ""),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		GeneratorURL:     envOr("GENERATOR_URL", ""),
		GeneratorAPIKey:  envOr("GENERATOR_API_KEY", ""),
		GeneratorRPM:     envInt("GENERATOR_RPM", 30),
		GeneratorTimeout: time.Duration(envInt("GENERATOR_TIMEOUT_SECONDS", 5)) * time.Second,
		GeneratorRetries: envInt("GENERATOR_RETRIES", 3),
		MessageCacheTTL:  time.Duration(envInt("MESSAGE_CACHE_TTL_HOURS", 72)) * time.Hour,

		GraceWindow:          time.Duration(envInt("GRACE_WINDOW_MINUTES", 5)) * time.Minute,
		DefaultSnoozeCeiling: envInt("SNOOZE_CEILING", 5),
		TierNormalInterval:   time.Duration(envInt("TIER_NORMAL_SECONDS", 60)) * time.Second,
		TierApproachInterval: time.Duration(envInt("TIER_APPROACH_SECONDS", 30)) * time.Second,
		TierNearInterval:     time.Duration(envInt("TIER_NEAR_SECONDS", 15)) * time.Second,

		StopFeedURL:    envOr("STOP_FEED_URL", ""),
		StopFeedAPIKey: envOr("STOP_FEED_API_KEY", ""),
		StopFeedMaxAge: time.Duration(envInt("STOP_FEED_MAX_AGE_SECONDS", 30)) * time.Second,

		WebhookURL:   envOr("NOTIFY_WEBHOOK_URL", ""),
		WebhookToken: envOr("NOTIFY_WEBHOOK_TOKEN", ""),

		HistoryRetention: time.Duration(envInt("HISTORY_RETENTION_DAYS", 90)) * 24 * time.Hour,
		PruneInterval:    time.Duration(envInt("PRUNE_INTERVAL_HOURS", 6)) * time.Hour,
	}, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}

// Package store persists stations, alerts, and delivery history. Three
// implementations share one interface: Postgres (pgx) for the hosted
// deployment, SQLite (modernc) for single-node setups, and an in-memory
// store for tests and simulation.
//
// The engine treats write failures as retryable. Failing to load the active
// alert set at startup is fatal by design: arming stale or partial state is
// worse than visibly failing to start.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oriru-app/oriru-core/internal/alert"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence collaborator consumed by the engine and API.
type Store interface {
	// Alerts
	LoadActiveAlerts(ctx context.Context) ([]alert.Alert, error)
	GetAlert(ctx context.Context, id uuid.UUID) (*alert.Alert, error)
	ListAlerts(ctx context.Context, includeInactive bool) ([]alert.Alert, error)
	SaveAlert(ctx context.Context, a *alert.Alert) error
	DeleteAlert(ctx context.Context, id uuid.UUID) error // cascades to history

	// Stations
	GetStation(ctx context.Context, id uuid.UUID) (*alert.Station, error)
	ListStations(ctx context.Context) ([]alert.Station, error)
	SaveStation(ctx context.Context, s *alert.Station) error
	SetFavorite(ctx context.Context, id uuid.UUID, favorite bool) error
	TouchStation(ctx context.Context, id uuid.UUID, usedAt time.Time) error

	// History
	AppendHistory(ctx context.Context, h *alert.History) error
	ListHistory(ctx context.Context, alertID uuid.UUID, limit int) ([]alert.History, error)
	PruneHistory(ctx context.Context, olderThan time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// joinLines flattens a line-ID set for a single text column.
func joinLines(lines []string) string {
	return strings.Join(lines, ",")
}

// splitLines restores a line-ID set from its column form.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

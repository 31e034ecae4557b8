package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oriru-app/oriru-core/internal/alert"
)

// Memory is an in-process Store used by tests and the simulate command.
type Memory struct {
	mu       sync.RWMutex
	alerts   map[uuid.UUID]alert.Alert
	stations map[uuid.UUID]alert.Station
	history  []alert.History
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		alerts:   make(map[uuid.UUID]alert.Alert),
		stations: make(map[uuid.UUID]alert.Station),
	}
}

func (m *Memory) LoadActiveAlerts(_ context.Context) ([]alert.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []alert.Alert
	for _, a := range m.alerts {
		if a.Active {
			out = append(out, a)
		}
	}
	sortAlerts(out)
	return out, nil
}

func (m *Memory) GetAlert(_ context.Context, id uuid.UUID) (*alert.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *Memory) ListAlerts(_ context.Context, includeInactive bool) ([]alert.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []alert.Alert
	for _, a := range m.alerts {
		if includeInactive || a.Active {
			out = append(out, a)
		}
	}
	sortAlerts(out)
	return out, nil
}

func (m *Memory) SaveAlert(_ context.Context, a *alert.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[a.ID] = *a
	return nil
}

func (m *Memory) DeleteAlert(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[id]; !ok {
		return ErrNotFound
	}
	delete(m.alerts, id)
	kept := m.history[:0]
	for _, h := range m.history {
		if h.AlertID != id {
			kept = append(kept, h)
		}
	}
	m.history = kept
	return nil
}

func (m *Memory) GetStation(_ context.Context, id uuid.UUID) (*alert.Station, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *Memory) ListStations(_ context.Context) ([]alert.Station, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]alert.Station, 0, len(m.stations))
	for _, s := range m.stations {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) SaveStation(_ context.Context, s *alert.Station) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stations[s.ID] = *s
	return nil
}

func (m *Memory) SetFavorite(_ context.Context, id uuid.UUID, favorite bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stations[id]
	if !ok {
		return ErrNotFound
	}
	s.Favorite = favorite
	m.stations[id] = s
	return nil
}

func (m *Memory) TouchStation(_ context.Context, id uuid.UUID, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stations[id]
	if !ok {
		return ErrNotFound
	}
	s.LastUsedAt = usedAt
	m.stations[id] = s
	return nil
}

func (m *Memory) AppendHistory(_ context.Context, h *alert.History) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, *h)
	return nil
}

func (m *Memory) ListHistory(_ context.Context, alertID uuid.UUID, limit int) ([]alert.History, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []alert.History
	for _, h := range m.history {
		if h.AlertID == alertID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeliveredAt.After(out[j].DeliveredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) PruneHistory(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pruned int64
	kept := m.history[:0]
	for _, h := range m.history {
		if h.DeliveredAt.Before(olderThan) {
			pruned++
			continue
		}
		kept = append(kept, h)
	}
	m.history = kept
	return pruned, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func sortAlerts(alerts []alert.Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return alerts[i].ID.String() < alerts[j].ID.String()
		}
		return alerts[i].CreatedAt.Before(alerts[j].CreatedAt)
	})
}

// Package registry holds the in-memory authoritative set of armed alerts and
// each alert's monitoring session state machine. The registry is owned
// exclusively by the monitoring loop's goroutine; nothing here locks, by
// contract rather than accident. External mutation requests reach it only
// through the loop's command queue.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oriru-app/oriru-core/internal/alert"
	"github.com/oriru-app/oriru-core/internal/geo"
	"github.com/oriru-app/oriru-core/internal/store"
)

// Phase is one state of an alert's monitoring session.
//
// Transitions are strictly ordered and never skip a state:
//
//	Armed → Firing → Snoozed → (Firing → Snoozed)* → Dismissed
//	Armed → Dismissed (expiry, no notification)
//
// Session state is not durable. A process restart rebuilds every session
// from Alert.Active, resetting it to Armed.
type Phase int

const (
	Armed Phase = iota
	Firing
	Snoozed
	Dismissed
)

func (p Phase) String() string {
	switch p {
	case Armed:
		return "armed"
	case Firing:
		return "firing"
	case Snoozed:
		return "snoozed"
	case Dismissed:
		return "dismissed"
	}
	return "unknown"
}

// Session is the monitoring state for one armed alert.
type Session struct {
	Alert   alert.Alert
	Station alert.Station

	Phase       Phase
	SnoozeCount int       // re-fires performed so far
	NextFireAt  time.Time // snooze timer deadline, zero unless Snoozed
	RetryAt     time.Time // dispatch retry deadline, zero unless a dispatch failed

	LastSample    *geo.Sample
	LastEvaluated time.Time
}

// allowed encodes the legal phase transitions.
var allowed = map[Phase][]Phase{
	Armed:     {Firing, Dismissed},
	Firing:    {Snoozed, Dismissed},
	Snoozed:   {Firing, Dismissed},
	Dismissed: nil,
}

// Transition moves the session to a new phase, rejecting anything that would
// skip or reverse a state.
func (s *Session) Transition(to Phase) error {
	for _, next := range allowed[s.Phase] {
		if next == to {
			s.Phase = to
			return nil
		}
	}
	return fmt.Errorf("illegal session transition %v -> %v for alert %s", s.Phase, to, s.Alert.ID)
}

// Snoozable reports whether the alert wants snooze re-fires at all.
func (s *Session) Snoozable() bool {
	return s.Alert.SnoozeInterval > 0
}

// SnoozeDue reports whether the snooze timer has elapsed.
func (s *Session) SnoozeDue(now time.Time) bool {
	return s.Phase == Snoozed && !s.NextFireAt.IsZero() && !now.Before(s.NextFireAt)
}

// Registry is the armed-alert set keyed by alert ID.
type Registry struct {
	sessions map[uuid.UUID]*Session
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*Session)}
}

// Load hydrates the registry from the store at startup. Every active alert
// starts a fresh session in Armed. A load failure is returned unwrapped in
// meaning: the caller must treat it as fatal, because arming a partial alert
// set is worse than visibly failing to start.
func Load(ctx context.Context, st store.Store) (*Registry, error) {
	alerts, err := st.LoadActiveAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active alerts: %w", err)
	}
	r := New()
	for _, a := range alerts {
		station, err := st.GetStation(ctx, a.StationID)
		if err != nil {
			return nil, fmt.Errorf("load station %s for alert %s: %w", a.StationID, a.ID, err)
		}
		r.sessions[a.ID] = &Session{Alert: a, Station: *station, Phase: Armed}
	}
	return r, nil
}

// Get returns the session for an alert, or nil.
func (r *Registry) Get(id uuid.UUID) *Session {
	return r.sessions[id]
}

// Upsert arms (or re-arms) an alert with a fresh session.
func (r *Registry) Upsert(a alert.Alert, station alert.Station) *Session {
	s := &Session{Alert: a, Station: station, Phase: Armed}
	r.sessions[a.ID] = s
	return s
}

// Remove drops an alert's session. Returns true if it existed.
func (r *Registry) Remove(id uuid.UUID) bool {
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}

// Snapshot returns the sessions in no particular order. Evaluation order
// within a tick is deliberately unspecified.
func (r *Registry) Snapshot() []*Session {
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// MinDistance returns the smallest distance in meters from the sample to any
// station of a distance- or stops-mode session that is still live (not
// dismissed). Returns -1 when nothing qualifies: time-only alert sets do not
// drive the accuracy tier.
func (r *Registry) MinDistance(sample geo.Sample) float64 {
	min := -1.0
	for _, s := range r.sessions {
		if s.Phase == Dismissed {
			continue
		}
		if s.Alert.Mode != alert.TriggerDistance && s.Alert.Mode != alert.TriggerStops {
			continue
		}
		d := sample.DistanceTo(s.Station.Latitude, s.Station.Longitude)
		if min < 0 || d < min {
			min = d
		}
	}
	return min
}

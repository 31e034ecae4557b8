package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oriru-app/oriru-core/internal/alert"
)

// command is a closure executed on the engine goroutine. Channeling every
// external mutation through the run loop is what lets the registry go
// unlocked.
type command struct {
	fn    func(context.Context) error
	reply chan error
}

func (e *Engine) do(ctx context.Context, fn func(context.Context) error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}
	select {
	case e.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Create validates and persists a new alert and, when active, arms it.
func (e *Engine) Create(ctx context.Context, a alert.Alert) (*alert.Alert, error) {
	var out *alert.Alert
	err := e.do(ctx, func(ctx context.Context) error {
		created, err := e.createLocked(ctx, a)
		out = created
		return err
	})
	return out, err
}

func (e *Engine) createLocked(ctx context.Context, a alert.Alert) (*alert.Alert, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = e.now()
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	st, err := e.store.GetStation(ctx, a.StationID)
	if err != nil {
		return nil, fmt.Errorf("station %s: %w", a.StationID, err)
	}
	if err := e.store.SaveAlert(ctx, &a); err != nil {
		return nil, fmt.Errorf("save alert: %w", err)
	}
	if err := e.store.TouchStation(ctx, st.ID, e.now()); err != nil {
		e.logger.Warn("touch station", "station", st.ID, "error", err)
	}
	if a.Active {
		e.reg.Upsert(a, *st)
		e.metrics.SetArmed(e.reg.Len())
	}
	e.logger.Info("alert created",
		"alert", a.ID, "station", st.Name, "mode", a.Mode)
	return &a, nil
}

// Update validates and persists changed alert settings. An active alert gets
// a fresh Armed session; snooze progress does not survive a settings change.
func (e *Engine) Update(ctx context.Context, a alert.Alert) (*alert.Alert, error) {
	var out *alert.Alert
	err := e.do(ctx, func(ctx context.Context) error {
		if err := a.Validate(); err != nil {
			return err
		}
		existing, err := e.store.GetAlert(ctx, a.ID)
		if err != nil {
			return err
		}
		a.CreatedAt = existing.CreatedAt
		st, err := e.store.GetStation(ctx, a.StationID)
		if err != nil {
			return fmt.Errorf("station %s: %w", a.StationID, err)
		}
		if err := e.store.SaveAlert(ctx, &a); err != nil {
			return fmt.Errorf("save alert: %w", err)
		}
		e.reg.Remove(a.ID)
		if a.Active {
			e.reg.Upsert(a, *st)
		}
		e.metrics.SetArmed(e.reg.Len())
		out = &a
		return nil
	})
	return out, err
}

// Pause deactivates an alert and drops its session. A fire already in
// flight resolves as a no-op: the outcome arrives for a session that no
// longer exists.
func (e *Engine) Pause(ctx context.Context, id uuid.UUID) error {
	return e.do(ctx, func(ctx context.Context) error {
		a, err := e.store.GetAlert(ctx, id)
		if err != nil {
			return err
		}
		if !a.Active {
			return nil
		}
		a.Active = false
		if err := e.store.SaveAlert(ctx, a); err != nil {
			return fmt.Errorf("save alert: %w", err)
		}
		e.dispatcher.Cancel(ctx, id)
		e.reg.Remove(id)
		e.metrics.SetArmed(e.reg.Len())
		e.logger.Info("alert paused", "alert", id)
		return nil
	})
}

// Resume reactivates a paused alert with a fresh Armed session.
func (e *Engine) Resume(ctx context.Context, id uuid.UUID) error {
	return e.do(ctx, func(ctx context.Context) error {
		a, err := e.store.GetAlert(ctx, id)
		if err != nil {
			return err
		}
		if a.Active && e.reg.Get(id) != nil {
			return nil
		}
		st, err := e.store.GetStation(ctx, a.StationID)
		if err != nil {
			return fmt.Errorf("station %s: %w", a.StationID, err)
		}
		a.Active = true
		if err := e.store.SaveAlert(ctx, a); err != nil {
			return fmt.Errorf("save alert: %w", err)
		}
		e.reg.Upsert(*a, *st)
		e.metrics.SetArmed(e.reg.Len())
		e.logger.Info("alert resumed", "alert", id)
		return nil
	})
}

// Dismiss is the rider acknowledging a notification. The session ends; a
// repeating alert re-arms for its next occurrence.
func (e *Engine) Dismiss(ctx context.Context, id uuid.UUID) error {
	return e.do(ctx, func(ctx context.Context) error {
		s := e.reg.Get(id)
		if s == nil {
			return fmt.Errorf("alert %s has no active session", id)
		}
		e.finish(ctx, s, causeUser)
		e.metrics.SetArmed(e.reg.Len())
		return nil
	})
}

// Delete removes the alert, its session, and its history.
func (e *Engine) Delete(ctx context.Context, id uuid.UUID) error {
	return e.do(ctx, func(ctx context.Context) error {
		e.dispatcher.Cancel(ctx, id)
		e.reg.Remove(id)
		e.metrics.SetArmed(e.reg.Len())
		if err := e.store.DeleteAlert(ctx, id); err != nil {
			return err
		}
		e.logger.Info("alert deleted", "alert", id)
		return nil
	})
}

// SessionStatus is a read-only view of one session for the API.
type SessionStatus struct {
	AlertID       uuid.UUID         `json:"alert_id"`
	StationName   string            `json:"station_name"`
	Mode          alert.TriggerMode `json:"mode"`
	Phase         string            `json:"phase"`
	SnoozeCount   int               `json:"snooze_count"`
	NextFireAt    *time.Time        `json:"next_fire_at,omitempty"`
	LastEvaluated *time.Time        `json:"last_evaluated,omitempty"`
	DistanceM     *float64          `json:"distance_meters,omitempty"`
}

// Status reports the engine's current sessions and tier.
type Status struct {
	Tier     string          `json:"tier"`
	Sessions []SessionStatus `json:"sessions"`
}

// Snapshot returns the engine status, serialized through the run loop so it
// is consistent with a pass boundary.
func (e *Engine) Snapshot(ctx context.Context) (*Status, error) {
	var out *Status
	err := e.do(ctx, func(context.Context) error {
		st := &Status{Tier: e.tier.String(), Sessions: []SessionStatus{}}
		for _, s := range e.reg.Snapshot() {
			item := SessionStatus{
				AlertID:     s.Alert.ID,
				StationName: s.Station.Name,
				Mode:        s.Alert.Mode,
				Phase:       s.Phase.String(),
				SnoozeCount: s.SnoozeCount,
			}
			if !s.NextFireAt.IsZero() {
				t := s.NextFireAt
				item.NextFireAt = &t
			}
			if !s.LastEvaluated.IsZero() {
				t := s.LastEvaluated
				item.LastEvaluated = &t
			}
			if s.LastSample != nil {
				d := s.LastSample.DistanceTo(s.Station.Latitude, s.Station.Longitude)
				item.DistanceM = &d
			}
			st.Sessions = append(st.Sessions, item)
		}
		out = st
		return nil
	})
	return out, err
}

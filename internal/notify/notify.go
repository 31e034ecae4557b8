// Package notify turns a fired alert and its resolved message into a
// delivered user notification, and records one history row per delivery.
// Failed deliveries are logged and leave the alert's state machine alone, so
// the next tick re-fires instead of silently dropping the notification.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/oriru-app/oriru-core/internal/alert"
	"github.com/oriru-app/oriru-core/internal/store"
)

// Result is the outcome of one dispatch attempt.
type Result int

const (
	// Delivered: the sink presented the notification immediately.
	Delivered Result = iota
	// Scheduled: the sink accepted the notification for a later time.
	Scheduled
	// Failed: nothing reached the user; no history row is written.
	Failed
)

func (r Result) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case Scheduled:
		return "scheduled"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Sink is the notification-delivery collaborator. Identifiers are stable
// per alert so a re-fire replaces the previous notification instead of
// stacking a new one.
type Sink interface {
	DeliverNow(ctx context.Context, title, body, identifier string) error
	Cancel(ctx context.Context, identifier string) error
}

// Identifier returns the per-alert notification identifier.
func Identifier(alertID uuid.UUID) string {
	return "oriru-alert-" + alertID.String()
}

// Dispatcher delivers notifications through a sink and appends history.
type Dispatcher struct {
	sink   Sink
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewDispatcher wires a dispatcher. A nil sink falls back to the log sink so
// dispatch always has somewhere to go.
func NewDispatcher(sink Sink, st store.Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = NewLogSink(logger)
	}
	return &Dispatcher{sink: sink, store: st, logger: logger, now: time.Now}
}

// Dispatch delivers one notification. History is appended on Delivered and
// Scheduled only; a history write failure is transient and does not demote
// the result — the notification did reach the user.
func (d *Dispatcher) Dispatch(ctx context.Context, a *alert.Alert, st *alert.Station, body string) Result {
	title := fmt.Sprintf("Next stop: %s", st.Name)
	id := Identifier(a.ID)

	if err := d.sink.DeliverNow(ctx, title, body, id); err != nil {
		d.logger.Error("notification delivery failed",
			"alert_id", a.ID, "station", st.Name, "error", err)
		return Failed
	}

	h := alert.History{
		ID:          uuid.New(),
		AlertID:     a.ID,
		Message:     body,
		DeliveredAt: d.now(),
	}
	if err := d.store.AppendHistory(ctx, &h); err != nil {
		d.logger.Warn("history write failed after delivery",
			"alert_id", a.ID, "error", err)
	}
	return Delivered
}

// Cancel withdraws the alert's pending notification, if the sink supports it.
func (d *Dispatcher) Cancel(ctx context.Context, alertID uuid.UUID) {
	if err := d.sink.Cancel(ctx, Identifier(alertID)); err != nil {
		d.logger.Warn("notification cancel failed", "alert_id", alertID, "error", err)
	}
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/oriru-app/oriru-core/internal/alert"
	"github.com/oriru-app/oriru-core/internal/api/respond"
	"github.com/oriru-app/oriru-core/internal/store"
)

// alertDTO is the wire form of an alert. Durations travel as integer
// seconds; weekdays as lowercase day names.
type alertDTO struct {
	ID              uuid.UUID  `json:"id"`
	StationID       uuid.UUID  `json:"station_id"`
	Mode            string     `json:"mode"`
	LeadMinutes     int        `json:"lead_minutes,omitempty"`
	TargetArrival   *time.Time `json:"target_arrival,omitempty"`
	ThresholdMeters float64    `json:"threshold_meters,omitempty"`
	StopCount       int        `json:"stop_count,omitempty"`
	SnoozeSeconds   int        `json:"snooze_seconds,omitempty"`
	SnoozeCeiling   int        `json:"snooze_ceiling,omitempty"`
	Persona         string     `json:"persona"`
	Active          bool       `json:"active"`
	CreatedAt       time.Time  `json:"created_at"`
	Repeating       bool       `json:"repeating"`
	Pattern         string     `json:"pattern,omitempty"`
	Weekdays        []string   `json:"weekdays,omitempty"`
}

var dayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func alertToDTO(a alert.Alert) alertDTO {
	dto := alertDTO{
		ID:              a.ID,
		StationID:       a.StationID,
		Mode:            string(a.Mode),
		LeadMinutes:     a.LeadMinutes,
		ThresholdMeters: a.ThresholdMeters,
		StopCount:       a.StopCount,
		SnoozeSeconds:   int(a.SnoozeInterval / time.Second),
		SnoozeCeiling:   a.SnoozeCeiling,
		Persona:         string(a.Persona),
		Active:          a.Active,
		CreatedAt:       a.CreatedAt,
		Repeating:       a.Repeating,
		Pattern:         string(a.Pattern),
	}
	if !a.TargetArrival.IsZero() {
		t := a.TargetArrival
		dto.TargetArrival = &t
	}
	for _, d := range a.Weekdays.Days() {
		dto.Weekdays = append(dto.Weekdays, strings.ToLower(d.String()))
	}
	return dto
}

func (in alertDTO) toAlert() (alert.Alert, error) {
	a := alert.Alert{
		ID:              in.ID,
		StationID:       in.StationID,
		Mode:            alert.TriggerMode(in.Mode),
		LeadMinutes:     in.LeadMinutes,
		ThresholdMeters: in.ThresholdMeters,
		StopCount:       in.StopCount,
		SnoozeInterval:  time.Duration(in.SnoozeSeconds) * time.Second,
		SnoozeCeiling:   in.SnoozeCeiling,
		Persona:         alert.Persona(in.Persona),
		Active:          in.Active,
		Repeating:       in.Repeating,
		Pattern:         alert.RepeatPattern(in.Pattern),
	}
	if in.TargetArrival != nil {
		a.TargetArrival = *in.TargetArrival
	}
	if len(in.Weekdays) > 0 {
		days := make([]time.Weekday, 0, len(in.Weekdays))
		for _, name := range in.Weekdays {
			d, ok := dayNames[strings.ToLower(name)]
			if !ok {
				return alert.Alert{}, errors.New("unknown weekday " + name)
			}
			days = append(days, d)
		}
		a.Weekdays = alert.NewWeekdaySet(days...)
	}
	return a, nil
}

// historyDTO is the wire form of one delivered notification.
type historyDTO struct {
	ID          uuid.UUID `json:"id"`
	AlertID     uuid.UUID `json:"alert_id"`
	Message     string    `json:"message"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// --------------------------------------------------------------------------
// Alert CRUD
// --------------------------------------------------------------------------

// ListAlerts returns alerts, active only by default; ?all=true includes
// retired ones.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	all := r.URL.Query().Get("all") == "true"
	alerts, err := h.store.ListAlerts(r.Context(), all)
	if err != nil {
		h.logger.Error("list alerts", "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "could not list alerts")
		return
	}
	out := make([]alertDTO, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, alertToDTO(a))
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"alerts": out,
		"count":  len(out),
	})
}

// GetAlert returns one alert.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := h.alertID(w, r)
	if !ok {
		return
	}
	a, err := h.store.GetAlert(r.Context(), id)
	if err != nil {
		h.alertStoreError(w, id, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, alertToDTO(*a))
}

// CreateAlert validates and arms a new alert through the engine.
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var in alertDTO
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_BODY", "malformed JSON")
		return
	}
	in.ID = uuid.Nil // server-assigned
	in.Active = true
	a, err := in.toAlert()
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_ALERT", err.Error())
		return
	}
	created, err := h.engine.Create(r.Context(), a)
	if err != nil {
		if errors.Is(err, alert.ErrInvalid) {
			respond.WriteError(w, http.StatusBadRequest, "INVALID_ALERT", err.Error())
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "station not found")
			return
		}
		h.logger.Error("create alert", "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "ENGINE_ERROR", "could not create alert")
		return
	}
	respond.WriteJSONObject(w, http.StatusCreated, alertToDTO(*created))
}

// UpdateAlert replaces an alert's settings through the engine.
func (h *Handler) UpdateAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := h.alertID(w, r)
	if !ok {
		return
	}
	var in alertDTO
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_BODY", "malformed JSON")
		return
	}
	in.ID = id
	a, err := in.toAlert()
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_ALERT", err.Error())
		return
	}
	updated, err := h.engine.Update(r.Context(), a)
	if err != nil {
		if errors.Is(err, alert.ErrInvalid) {
			respond.WriteError(w, http.StatusBadRequest, "INVALID_ALERT", err.Error())
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "alert not found")
			return
		}
		h.logger.Error("update alert", "alert", id, "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "ENGINE_ERROR", "could not update alert")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, alertToDTO(*updated))
}

// DeleteAlert removes an alert and its history.
func (h *Handler) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := h.alertID(w, r)
	if !ok {
		return
	}
	if err := h.engine.Delete(r.Context(), id); err != nil {
		h.alertStoreError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --------------------------------------------------------------------------
// Lifecycle actions
// --------------------------------------------------------------------------

// PauseAlert deactivates an alert without losing its settings.
func (h *Handler) PauseAlert(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.engine.Pause, "paused")
}

// ResumeAlert re-arms a paused alert.
func (h *Handler) ResumeAlert(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.engine.Resume, "resumed")
}

// DismissAlert acknowledges a firing or snoozed alert.
func (h *Handler) DismissAlert(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.engine.Dismiss, "dismissed")
}

func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) error, state string) {
	id, ok := h.alertID(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "alert not found")
			return
		}
		respond.WriteError(w, http.StatusConflict, "LIFECYCLE_ERROR", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"id":    id,
		"state": state,
	})
}

// --------------------------------------------------------------------------
// History
// --------------------------------------------------------------------------

// ListHistory returns delivered notifications for one alert, newest first.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.alertID(w, r)
	if !ok {
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			respond.WriteError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be 1-500")
			return
		}
		limit = n
	}
	rows, err := h.store.ListHistory(r.Context(), id, limit)
	if err != nil {
		h.logger.Error("list history", "alert", id, "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "could not list history")
		return
	}
	out := make([]historyDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, historyDTO(row))
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"history": out,
		"count":   len(out),
	})
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func (h *Handler) alertID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "alertID"))
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_ID", "alertID must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) alertStoreError(w http.ResponseWriter, id uuid.UUID, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "alert not found")
		return
	}
	h.logger.Error("alert store operation failed", "alert", id, "error", err)
	respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "operation failed")
}

package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/oriru-app/oriru-core/internal/alert"
	"github.com/oriru-app/oriru-core/internal/api/respond"
	"github.com/oriru-app/oriru-core/internal/store"
)

// stationDTO is the wire form of a target station.
type stationDTO struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Lines      []string  `json:"lines,omitempty"`
	Favorite   bool      `json:"favorite"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

func stationToDTO(s alert.Station) stationDTO {
	return stationDTO{
		ID:         s.ID,
		Name:       s.Name,
		Latitude:   s.Latitude,
		Longitude:  s.Longitude,
		Lines:      s.Lines,
		Favorite:   s.Favorite,
		LastUsedAt: s.LastUsedAt,
	}
}

// ListStations returns every saved station, favorites first in the client's
// picker; ordering here is by recency of use, done in the store.
func (h *Handler) ListStations(w http.ResponseWriter, r *http.Request) {
	stations, err := h.store.ListStations(r.Context())
	if err != nil {
		h.logger.Error("list stations", "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "could not list stations")
		return
	}
	out := make([]stationDTO, 0, len(stations))
	for _, s := range stations {
		out = append(out, stationToDTO(s))
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"stations": out,
		"count":    len(out),
	})
}

// GetStation returns one station.
func (h *Handler) GetStation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "stationID"))
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_ID", "stationID must be a UUID")
		return
	}
	s, err := h.store.GetStation(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "station not found")
			return
		}
		h.logger.Error("get station", "station", id, "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "could not load station")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, stationToDTO(*s))
}

// CreateStation saves a new target station.
func (h *Handler) CreateStation(w http.ResponseWriter, r *http.Request) {
	var in stationDTO
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_BODY", "malformed JSON")
		return
	}
	s := alert.Station{
		ID:        uuid.New(),
		Name:      in.Name,
		Latitude:  in.Latitude,
		Longitude: in.Longitude,
		Lines:     in.Lines,
		Favorite:  in.Favorite,
	}
	if err := s.Validate(); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_STATION", err.Error())
		return
	}
	if err := h.store.SaveStation(r.Context(), &s); err != nil {
		h.logger.Error("save station", "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "could not save station")
		return
	}
	respond.WriteJSONObject(w, http.StatusCreated, stationToDTO(s))
}

// UpdateStation replaces a station's fields.
func (h *Handler) UpdateStation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "stationID"))
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_ID", "stationID must be a UUID")
		return
	}
	existing, err := h.store.GetStation(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "station not found")
			return
		}
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "could not load station")
		return
	}
	var in stationDTO
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_BODY", "malformed JSON")
		return
	}
	s := alert.Station{
		ID:         id,
		Name:       in.Name,
		Latitude:   in.Latitude,
		Longitude:  in.Longitude,
		Lines:      in.Lines,
		Favorite:   in.Favorite,
		LastUsedAt: existing.LastUsedAt,
	}
	if err := s.Validate(); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_STATION", err.Error())
		return
	}
	if err := h.store.SaveStation(r.Context(), &s); err != nil {
		h.logger.Error("save station", "station", id, "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "could not save station")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, stationToDTO(s))
}

// SetFavorite toggles the favorite flag.
func (h *Handler) SetFavorite(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "stationID"))
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_ID", "stationID must be a UUID")
		return
	}
	var in struct {
		Favorite bool `json:"favorite"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_BODY", "malformed JSON")
		return
	}
	if err := h.store.SetFavorite(r.Context(), id, in.Favorite); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "station not found")
			return
		}
		h.logger.Error("set favorite", "station", id, "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "could not update station")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"id":       id,
		"favorite": in.Favorite,
	})
}

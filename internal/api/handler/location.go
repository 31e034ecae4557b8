package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/oriru-app/oriru-core/internal/api/respond"
	"github.com/oriru-app/oriru-core/internal/geo"
)

// locationDTO is one device position report.
type locationDTO struct {
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	Accuracy  float64    `json:"accuracy_meters,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// IngestLocation accepts the device's current position and feeds it to the
// engine. A missing timestamp means "now". Responds with the sampling tier
// so the client can adjust its reporting cadence.
func (h *Handler) IngestLocation(w http.ResponseWriter, r *http.Request) {
	var in locationDTO
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_BODY", "malformed JSON")
		return
	}
	if in.Latitude < -90 || in.Latitude > 90 || in.Longitude < -180 || in.Longitude > 180 {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_COORDS", "coordinates out of range")
		return
	}
	ts := time.Now()
	if in.Timestamp != nil {
		ts = *in.Timestamp
	}
	h.provider.Push(geo.Sample{
		Latitude:       in.Latitude,
		Longitude:      in.Longitude,
		AccuracyMeters: in.Accuracy,
		Timestamp:      ts,
	})
	respond.WriteJSONObject(w, http.StatusAccepted, map[string]interface{}{
		"accepted": true,
		"tier":     h.provider.Tier().String(),
	})
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/oriru-app/oriru-core/internal/alert"
)

// conformanceStores returns every driver that runs without an external
// service, so write semantics stay aligned across implementations.
func conformanceStores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := NewSQLite(filepath.Join(t.TempDir(), "oriru.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { sq.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func TestSaveStationReplacesAllFields(t *testing.T) {
	for name, st := range conformanceStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			used := time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)
			station := alert.Station{
				ID:         uuid.New(),
				Name:       "Nakameguro",
				Latitude:   35.6441,
				Longitude:  139.6982,
				Lines:      []string{"hibiya"},
				Favorite:   true,
				LastUsedAt: used,
			}
			if err := st.SaveStation(ctx, &station); err != nil {
				t.Fatal(err)
			}

			station.Name = "Naka-Meguro"
			station.Latitude = 35.6442
			station.Longitude = 139.6983
			station.Lines = []string{"hibiya", "tokyu-toyoko"}
			if err := st.SaveStation(ctx, &station); err != nil {
				t.Fatal(err)
			}

			got, err := st.GetStation(ctx, station.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.Name != "Naka-Meguro" || got.Latitude != 35.6442 || got.Longitude != 139.6983 {
				t.Errorf("re-save kept stale fields: %q (%.4f, %.4f)",
					got.Name, got.Latitude, got.Longitude)
			}
			if len(got.Lines) != 2 || got.Lines[1] != "tokyu-toyoko" {
				t.Errorf("lines = %v, want both lines", got.Lines)
			}
			if !got.Favorite {
				t.Error("favorite flag lost on re-save")
			}
			if !got.LastUsedAt.Equal(used) {
				t.Errorf("last_used_at = %v, want %v", got.LastUsedAt, used)
			}
		})
	}
}

func TestSaveAlertReplacesAllFields(t *testing.T) {
	for name, st := range conformanceStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			station := alert.Station{ID: uuid.New(), Name: "Daikanyama", Latitude: 35.6485, Longitude: 139.7031}
			if err := st.SaveStation(ctx, &station); err != nil {
				t.Fatal(err)
			}
			a := alert.Alert{
				ID:              uuid.New(),
				StationID:       station.ID,
				Mode:            alert.TriggerDistance,
				ThresholdMeters: 500,
				Persona:         alert.PersonaPlain,
				Active:          true,
				CreatedAt:       time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
			}
			if err := st.SaveAlert(ctx, &a); err != nil {
				t.Fatal(err)
			}

			a.ThresholdMeters = 250
			a.SnoozeInterval = time.Minute
			a.SnoozeCeiling = 3
			a.Active = false
			if err := st.SaveAlert(ctx, &a); err != nil {
				t.Fatal(err)
			}

			got, err := st.GetAlert(ctx, a.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.ThresholdMeters != 250 || got.SnoozeInterval != time.Minute ||
				got.SnoozeCeiling != 3 || got.Active {
				t.Errorf("re-save kept stale fields: threshold=%v snooze=%v ceiling=%d active=%v",
					got.ThresholdMeters, got.SnoozeInterval, got.SnoozeCeiling, got.Active)
			}
		})
	}
}

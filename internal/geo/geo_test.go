package geo

import (
	"math"
	"testing"
	"time"
)

// Tokyo station and a point roughly 480 m north of it.
const (
	tokyoLat = 35.6812
	tokyoLon = 139.7671
)

func TestDistanceKnownPairs(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64 // meters
		tol                    float64
	}{
		{"zero distance", tokyoLat, tokyoLon, tokyoLat, tokyoLon, 0, 0.01},
		// One degree of latitude is ~111.2 km everywhere.
		{"one degree latitude", 35, 139, 36, 139, 111195, 200},
		// Tokyo to Shinagawa station, ~6.4 km.
		{"tokyo-shinagawa", tokyoLat, tokyoLon, 35.6284, 139.7387, 6407, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tol {
				t.Errorf("Distance() = %.1f m, want %.1f ± %.1f", got, tt.want, tt.tol)
			}
		})
	}
}

func TestDistanceSymmetric(t *testing.T) {
	d1 := Distance(35.0, 139.0, 35.5, 139.5)
	d2 := Distance(35.5, 139.5, 35.0, 139.0)
	if math.Abs(d1-d2) > 1e-9 {
		t.Errorf("distance not symmetric: %v vs %v", d1, d2)
	}
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		dist float64
		want Tier
	}{
		{-1, TierNormal}, // unknown distance
		{0, TierNearTarget},
		{499.9, TierNearTarget},
		{500, TierApproaching},
		{1999.9, TierApproaching},
		{2000, TierNormal},
		{50000, TierNormal},
	}
	for _, tt := range tests {
		if got := TierFor(tt.dist); got != tt.want {
			t.Errorf("TierFor(%v) = %v, want %v", tt.dist, got, tt.want)
		}
	}
}

func TestCadenceInterval(t *testing.T) {
	c := DefaultCadence()
	if c.Interval(TierNearTarget) >= c.Interval(TierNormal) {
		t.Error("near-target interval should be shorter than normal")
	}
	// Missing tier falls back to a safe interval.
	var empty Cadence
	if empty.Interval(TierNormal) <= 0 {
		t.Error("empty cadence should still return a positive interval")
	}
}

func TestPushProviderKeepsNewest(t *testing.T) {
	p := NewPushProvider()
	old := Sample{Latitude: 1, Timestamp: time.Now()}
	newer := Sample{Latitude: 2, Timestamp: time.Now()}

	p.Push(old)
	p.Push(newer) // replaces the undrained sample

	select {
	case got := <-p.Samples():
		if got.Latitude != 2 {
			t.Errorf("got sample lat %v, want the newest (2)", got.Latitude)
		}
	default:
		t.Fatal("expected a pending sample")
	}

	select {
	case <-p.Samples():
		t.Fatal("only one sample should be pending")
	default:
	}
}

func TestPushProviderTier(t *testing.T) {
	p := NewPushProvider()
	p.SetTier(TierNearTarget)
	if p.Tier() != TierNearTarget {
		t.Errorf("tier = %v, want near_target", p.Tier())
	}
}

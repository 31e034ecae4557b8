// Package geo provides position samples, great-circle distance, and the
// accuracy-tier state machine that bounds battery cost: coarse sampling far
// from any armed station, fine sampling near the trigger boundary.
package geo

import (
	"fmt"
	"math"
	"time"
)

// earthRadiusMeters is the mean Earth radius used by the haversine formula.
const earthRadiusMeters = 6371008.8

// Sample is one position fix from the location provider.
type Sample struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Timestamp      time.Time `json:"timestamp"`
	AccuracyMeters float64   `json:"horizontal_accuracy_meters"`
}

// Distance returns the great-circle distance in meters between two points.
// Haversine rather than a planar approximation: trigger thresholds are
// sub-kilometer and planar error is not negligible at that scale.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	const rad = math.Pi / 180
	phi1 := lat1 * rad
	phi2 := lat2 * rad
	dPhi := (lat2 - lat1) * rad
	dLambda := (lon2 - lon1) * rad

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}

// DistanceTo returns the distance in meters from the sample to a point.
func (s Sample) DistanceTo(lat, lon float64) float64 {
	return Distance(s.Latitude, s.Longitude, lat, lon)
}

// --------------------------------------------------------------------------
// Accuracy tiers
// --------------------------------------------------------------------------

// Tier is a named bundle of sampling frequency and precision settings.
type Tier int

const (
	// TierNormal: coarse accuracy, long interval. No armed station nearby.
	TierNormal Tier = iota
	// TierApproaching: medium accuracy, shorter interval. Within 2 km.
	TierApproaching
	// TierNearTarget: finest accuracy, shortest interval. Within 500 m.
	TierNearTarget
)

// Tier transition thresholds, meters to the nearest armed station.
const (
	NearTargetWithin  = 500
	ApproachingWithin = 2000
)

func (t Tier) String() string {
	switch t {
	case TierNormal:
		return "normal"
	case TierApproaching:
		return "approaching"
	case TierNearTarget:
		return "near_target"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// TierFor maps the minimum distance to any armed station to a tier. It is a
// pure function of that distance; callers evaluate it once per pass, never
// mid-pass. A negative distance means "unknown" and maps to TierNormal.
func TierFor(minDistanceMeters float64) Tier {
	switch {
	case minDistanceMeters < 0:
		return TierNormal
	case minDistanceMeters < NearTargetWithin:
		return TierNearTarget
	case minDistanceMeters < ApproachingWithin:
		return TierApproaching
	default:
		return TierNormal
	}
}

// Settings carries the desired cadence and precision for one tier. The host
// environment's scheduler grants what it can; longer effective intervals
// degrade gracefully rather than failing.
type Settings struct {
	Interval       time.Duration
	AccuracyMeters float64
}

// Cadence maps every tier to its settings.
type Cadence map[Tier]Settings

// DefaultCadence returns the stock sampling plan.
func DefaultCadence() Cadence {
	return Cadence{
		TierNormal:      {Interval: 60 * time.Second, AccuracyMeters: 500},
		TierApproaching: {Interval: 30 * time.Second, AccuracyMeters: 100},
		TierNearTarget:  {Interval: 15 * time.Second, AccuracyMeters: 10},
	}
}

// Interval returns the tick interval for a tier, with a safe floor.
func (c Cadence) Interval(t Tier) time.Duration {
	s, ok := c[t]
	if !ok || s.Interval <= 0 {
		return 60 * time.Second
	}
	return s.Interval
}

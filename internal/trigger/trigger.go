// Package trigger holds the pure trigger evaluator: given an armed alert and
// the latest known position, clock, and remaining-stop data, decide whether
// to fire, hold, or expire. No side effects, no clock reads.
package trigger

import (
	"time"

	"github.com/oriru-app/oriru-core/internal/alert"
	"github.com/oriru-app/oriru-core/internal/geo"
)

// Decision is the outcome of one evaluation.
type Decision int

const (
	// Hold: condition not met yet, keep the alert armed.
	Hold Decision = iota
	// Fire: condition satisfied, notify now.
	Fire
	// Expire: the window has passed, dismiss without notifying.
	Expire
)

func (d Decision) String() string {
	switch d {
	case Hold:
		return "hold"
	case Fire:
		return "fire"
	case Expire:
		return "expire"
	}
	return "unknown"
}

// DefaultGrace is the window after the target arrival during which a
// time-mode alert holds before expiring.
const DefaultGrace = 5 * time.Minute

// Input is everything an evaluation may consult. Sample is nil when no fix
// has arrived yet; StopsKnown is false when the route feed has no data.
type Input struct {
	Now            time.Time
	Sample         *geo.Sample
	StopsRemaining int
	StopsKnown     bool
	Grace          time.Duration // zero means DefaultGrace
}

// Evaluate decides Fire, Hold, or Expire for one armed alert.
//
// Mode dispatch is defensive: the validator guarantees exactly one mode, but
// if the mode field is ever inconsistent with the populated parameters the
// precedence is fixed and documented — time first, then distance, then
// stops.
func Evaluate(a *alert.Alert, st *alert.Station, in Input) Decision {
	switch a.Mode {
	case alert.TriggerTime:
		return evaluateTime(a, in)
	case alert.TriggerDistance:
		return evaluateDistance(a, st, in)
	case alert.TriggerStops:
		return evaluateStops(a, in)
	}

	// Unknown mode: infer from populated parameters in precedence order.
	if !a.TargetArrival.IsZero() && a.LeadMinutes > 0 {
		return evaluateTime(a, in)
	}
	if a.ThresholdMeters > 0 {
		return evaluateDistance(a, st, in)
	}
	if a.StopCount > 0 {
		return evaluateStops(a, in)
	}
	return Hold
}

// evaluateTime fires exactly on [target-lead, target) and expires once
// now >= target+grace. Between target and target+grace it holds: arrival is
// imminent or just happened, a late notification would be noise but the
// alert is not yet stale.
func evaluateTime(a *alert.Alert, in Input) Decision {
	grace := in.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	target := a.TargetArrival
	fireFrom := target.Add(-time.Duration(a.LeadMinutes) * time.Minute)

	switch {
	case !in.Now.Before(target.Add(grace)):
		return Expire
	case !in.Now.Before(fireFrom) && in.Now.Before(target):
		return Fire
	default:
		return Hold
	}
}

// evaluateDistance fires when the haversine distance from the latest fix to
// the station is within the threshold. No fix yet means hold.
func evaluateDistance(a *alert.Alert, st *alert.Station, in Input) Decision {
	if in.Sample == nil || st == nil {
		return Hold
	}
	d := in.Sample.DistanceTo(st.Latitude, st.Longitude)
	if d <= a.ThresholdMeters {
		return Fire
	}
	return Hold
}

// evaluateStops fires when the remaining scheduled stops drop to the
// configured count. Absent stop data must never cause a false fire: unknown
// always holds.
func evaluateStops(a *alert.Alert, in Input) Decision {
	if !in.StopsKnown {
		return Hold
	}
	if in.StopsRemaining <= a.StopCount {
		return Fire
	}
	return Hold
}

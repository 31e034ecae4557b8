// Package stopfeed supplies the "remaining scheduled stops" data consumed by
// stop-count alerts. The data may simply not exist for a line; callers must
// treat unavailable as hold-in-place, never as a reason to fire.
package stopfeed

import (
	"context"

	"github.com/oriru-app/oriru-core/internal/geo"
)

// Feed answers how many scheduled stops remain before the rider reaches the
// target station on a line. ok is false whenever the answer is not known
// with confidence: no feed configured, feed unreachable, no matching trip.
type Feed interface {
	RemainingStops(ctx context.Context, lineID, stopID string, sample geo.Sample) (remaining int, ok bool)
}

// Unavailable is the default feed: it never knows. Used until a real
// timetable/route-position source is wired for a line.
type Unavailable struct{}

// RemainingStops always reports no data.
func (Unavailable) RemainingStops(context.Context, string, string, geo.Sample) (int, bool) {
	return 0, false
}

// Static serves fixed answers, keyed by stop ID. Test and simulation helper.
type Static struct {
	// Remaining maps GTFS stop ID to the remaining stop count.
	Remaining map[string]int
}

// RemainingStops reports the configured count for the stop, if present.
func (s Static) RemainingStops(_ context.Context, _ string, stopID string, _ geo.Sample) (int, bool) {
	n, ok := s.Remaining[stopID]
	return n, ok
}

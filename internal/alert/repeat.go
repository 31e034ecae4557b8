package alert

import "time"

// RepeatPattern names the days an alert re-arms on after dismissal.
type RepeatPattern string

const (
	PatternNone     RepeatPattern = "none"
	PatternDaily    RepeatPattern = "daily"
	PatternWeekdays RepeatPattern = "weekdays"
	PatternWeekends RepeatPattern = "weekends"
	PatternCustom   RepeatPattern = "custom"
)

// Valid reports whether p is a known repeat pattern.
func (p RepeatPattern) Valid() bool {
	switch p {
	case PatternNone, PatternDaily, PatternWeekdays, PatternWeekends, PatternCustom:
		return true
	}
	return false
}

// WeekdaySet is a bitmask of time.Weekday values (bit 0 = Sunday). Stored as
// a single integer column.
type WeekdaySet uint8

// NewWeekdaySet builds a set from individual weekdays.
func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

// Contains reports whether d is in the set.
func (s WeekdaySet) Contains(d time.Weekday) bool {
	return s&(1<<uint(d)) != 0
}

// Days returns the members in Sunday-first order.
func (s WeekdaySet) Days() []time.Weekday {
	var days []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Contains(d) {
			days = append(days, d)
		}
	}
	return days
}

// MatchesDay reports whether the alert's repeat schedule includes the day of t.
func (a *Alert) MatchesDay(t time.Time) bool {
	if !a.Repeating {
		return false
	}
	wd := t.Weekday()
	switch a.Pattern {
	case PatternDaily:
		return true
	case PatternWeekdays:
		return wd >= time.Monday && wd <= time.Friday
	case PatternWeekends:
		return wd == time.Saturday || wd == time.Sunday
	case PatternCustom:
		return a.Weekdays.Contains(wd)
	}
	return false
}

// NextOccurrence returns the next qualifying target arrival strictly after
// `after`, preserving the wall-clock time of TargetArrival. ok is false for
// non-repeating alerts or when no day within a week matches.
//
// For distance and stops mode alerts TargetArrival is zero; the occurrence
// is then the start of the next qualifying day, which is enough to know when
// to re-arm.
func (a *Alert) NextOccurrence(after time.Time) (time.Time, bool) {
	if !a.Repeating {
		return time.Time{}, false
	}
	base := a.TargetArrival
	if base.IsZero() {
		base = time.Date(after.Year(), after.Month(), after.Day(), 0, 0, 0, 0, after.Location())
	}
	for i := 1; i <= 7; i++ {
		day := after.AddDate(0, 0, i)
		candidate := time.Date(day.Year(), day.Month(), day.Day(),
			base.Hour(), base.Minute(), base.Second(), 0, base.Location())
		if a.MatchesDay(candidate) {
			return candidate, true
		}
	}
	return time.Time{}, false
}

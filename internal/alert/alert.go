// Package alert defines the domain model shared by the monitoring engine,
// the store, and the API layer: stations, alerts, delivery history, and the
// validation bounds for trigger parameters.
package alert

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalid marks configuration errors: an alert whose trigger parameter is
// out of bounds is rejected at create/edit time and never reaches the
// registry. Check with errors.Is.
var ErrInvalid = errors.New("invalid alert configuration")

// --------------------------------------------------------------------------
// Trigger modes
// --------------------------------------------------------------------------

// TriggerMode selects the single condition type that arms an alert.
type TriggerMode string

const (
	// TriggerTime fires a fixed lead ahead of a target arrival time.
	TriggerTime TriggerMode = "time"
	// TriggerDistance fires inside a radius around the target station.
	TriggerDistance TriggerMode = "distance"
	// TriggerStops fires when the remaining scheduled stops drop to a count.
	TriggerStops TriggerMode = "stops"
)

// Valid reports whether m is a known trigger mode.
func (m TriggerMode) Valid() bool {
	switch m {
	case TriggerTime, TriggerDistance, TriggerStops:
		return true
	}
	return false
}

// Parameter bounds per trigger mode.
const (
	MinLeadMinutes     = 1
	MaxLeadMinutes     = 60
	MinThresholdMeters = 50
	MaxThresholdMeters = 10000
	MinStopCount       = 1
	MaxStopCount       = 10
)

// DefaultSnoozeCeiling is the number of snooze re-fires allowed before an
// alert is force-dismissed.
const DefaultSnoozeCeiling = 5

// --------------------------------------------------------------------------
// Personas
// --------------------------------------------------------------------------

// Persona is the tone used to phrase a notification body.
type Persona string

const (
	PersonaPlain    Persona = "plain"
	PersonaHealing  Persona = "healing"
	PersonaStrict   Persona = "strict"
	PersonaCheerful Persona = "cheerful"
)

// Valid reports whether p is a known persona.
func (p Persona) Valid() bool {
	switch p {
	case PersonaPlain, PersonaHealing, PersonaStrict, PersonaCheerful:
		return true
	}
	return false
}

// --------------------------------------------------------------------------
// Station
// --------------------------------------------------------------------------

// Station is a saved destination. Immutable once created except for the
// favorite flag and last-used timestamp.
type Station struct {
	ID         uuid.UUID
	Name       string
	Latitude   float64
	Longitude  float64
	Lines      []string
	Favorite   bool
	LastUsedAt time.Time
}

// Validate checks station fields at creation time.
func (s *Station) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: station name is empty", ErrInvalid)
	}
	if s.Latitude < -90 || s.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalid, s.Latitude)
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalid, s.Longitude)
	}
	return nil
}

// --------------------------------------------------------------------------
// Alert
// --------------------------------------------------------------------------

// Alert is an armed or retired get-off reminder for one station. Exactly one
// trigger parameter is meaningful per mode.
type Alert struct {
	ID        uuid.UUID
	StationID uuid.UUID
	Mode      TriggerMode

	// Trigger parameters. Only the one matching Mode is consulted.
	LeadMinutes     int       // time mode: minutes before TargetArrival
	TargetArrival   time.Time // time mode: scheduled arrival at the station
	ThresholdMeters float64   // distance mode
	StopCount       int       // stops mode

	SnoozeInterval time.Duration // 0 disables snooze (single fire)
	SnoozeCeiling  int           // re-fires allowed; 0 falls back to the host default

	Persona   Persona
	Active    bool
	CreatedAt time.Time

	// Repeat schedule, first-class fields rather than side-channel flags.
	Repeating bool
	Pattern   RepeatPattern
	Weekdays  WeekdaySet // consulted only for PatternCustom
}

// EffectiveSnoozeCeiling returns the alert's own ceiling, falling back to
// the host default def, then to DefaultSnoozeCeiling.
func (a *Alert) EffectiveSnoozeCeiling(def int) int {
	if a.SnoozeCeiling > 0 {
		return a.SnoozeCeiling
	}
	if def > 0 {
		return def
	}
	return DefaultSnoozeCeiling
}

// Validate rejects out-of-bounds trigger parameters and malformed repeat
// settings. All returned errors wrap ErrInvalid.
func (a *Alert) Validate() error {
	if a.StationID == uuid.Nil {
		return fmt.Errorf("%w: missing station reference", ErrInvalid)
	}
	if !a.Mode.Valid() {
		return fmt.Errorf("%w: unknown trigger mode %q", ErrInvalid, a.Mode)
	}
	switch a.Mode {
	case TriggerTime:
		if a.LeadMinutes < MinLeadMinutes || a.LeadMinutes > MaxLeadMinutes {
			return fmt.Errorf("%w: lead %d min outside [%d, %d]",
				ErrInvalid, a.LeadMinutes, MinLeadMinutes, MaxLeadMinutes)
		}
		if a.TargetArrival.IsZero() {
			return fmt.Errorf("%w: time mode requires a target arrival", ErrInvalid)
		}
	case TriggerDistance:
		if a.ThresholdMeters < MinThresholdMeters || a.ThresholdMeters > MaxThresholdMeters {
			return fmt.Errorf("%w: threshold %.0f m outside [%d, %d]",
				ErrInvalid, a.ThresholdMeters, MinThresholdMeters, MaxThresholdMeters)
		}
	case TriggerStops:
		if a.StopCount < MinStopCount || a.StopCount > MaxStopCount {
			return fmt.Errorf("%w: stop count %d outside [%d, %d]",
				ErrInvalid, a.StopCount, MinStopCount, MaxStopCount)
		}
	}
	if a.SnoozeInterval < 0 {
		return fmt.Errorf("%w: negative snooze interval", ErrInvalid)
	}
	if a.SnoozeCeiling < 0 {
		return fmt.Errorf("%w: negative snooze ceiling", ErrInvalid)
	}
	if !a.Persona.Valid() {
		return fmt.Errorf("%w: unknown persona %q", ErrInvalid, a.Persona)
	}
	if a.Repeating {
		if !a.Pattern.Valid() || a.Pattern == PatternNone {
			return fmt.Errorf("%w: repeating alert needs a repeat pattern", ErrInvalid)
		}
		if a.Pattern == PatternCustom && a.Weekdays == 0 {
			return fmt.Errorf("%w: custom repeat pattern needs at least one weekday", ErrInvalid)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// History
// --------------------------------------------------------------------------

// History records one delivered notification. Append-only, never mutated.
type History struct {
	ID          uuid.UUID
	AlertID     uuid.UUID
	Message     string
	DeliveredAt time.Time
}

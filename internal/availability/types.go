package availability

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimeRange is a half-open interval [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether both ends are set and Start is before End.
func (r TimeRange) Valid() bool {
	return !r.Start.IsZero() && !r.End.IsZero() && r.Start.Before(r.End)
}

// Duration returns End - Start.
func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// ParseTimeRange parses two RFC 3339 timestamps into a TimeRange.
// Unparseable values and empty or inverted ranges return ErrInvalidRange.
func ParseTimeRange(start, end string) (TimeRange, error) {
	s, err := time.Parse(time.RFC3339, strings.TrimSpace(start))
	if err != nil {
		return TimeRange{}, fmt.Errorf("%w: start: %v", ErrInvalidRange, err)
	}
	e, err := time.Parse(time.RFC3339, strings.TrimSpace(end))
	if err != nil {
		return TimeRange{}, fmt.Errorf("%w: end: %v", ErrInvalidRange, err)
	}
	r := TimeRange{Start: s, End: e}
	if !r.Valid() {
		return TimeRange{}, fmt.Errorf("%w: start must be before end", ErrInvalidRange)
	}
	return r, nil
}

// BusyWindow is an interval during which a calendar is occupied, exactly as
// reported by a provider. Windows may overlap and arrive in any order.
type BusyWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Schedule holds the busy windows reported for one participant email.
type Schedule struct {
	Email string
	Busy  []BusyWindow
}

// Slot is a fixed-length interval free of every known busy window.
// TimeZone is a descriptive label; Start and End are absolute instants.
type Slot struct {
	Start    time.Time
	End      time.Time
	TimeZone string
}

type slotJSON struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	TimeZone string `json:"timeZone"`
}

// MarshalJSON encodes the slot instants in UTC so the output does not depend
// on the location attached to the time values.
func (s Slot) MarshalJSON() ([]byte, error) {
	return json.Marshal(slotJSON{
		Start:    s.Start.UTC().Format(time.RFC3339),
		End:      s.End.UTC().Format(time.RFC3339),
		TimeZone: s.TimeZone,
	})
}

// UnmarshalJSON decodes a slot produced by MarshalJSON.
func (s *Slot) UnmarshalJSON(data []byte) error {
	var raw slotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	start, err := time.Parse(time.RFC3339, raw.Start)
	if err != nil {
		return fmt.Errorf("slot start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, raw.End)
	if err != nil {
		return fmt.Errorf("slot end: %w", err)
	}
	s.Start, s.End, s.TimeZone = start, end, raw.TimeZone
	return nil
}

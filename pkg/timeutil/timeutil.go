// Package timeutil holds the wall-clock helpers the medal rules depend on.
// Check-ins carry the participant's own timezone, so "earliest" and "same day"
// are always judged in that zone, never in the server's.
package timeutil

import (
	"fmt"
	"time"
)

// LocalDate is a calendar date with no zone attached.
type LocalDate struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) LocalDate {
	y, m, d := t.Date()
	return LocalDate{Year: y, Month: m, Day: d}
}

// Before reports whether d is earlier than other.
func (d LocalDate) Before(other LocalDate) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// String formats the date as YYYY-MM-DD.
func (d LocalDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// In converts a date back to midnight in loc.
func (d LocalDate) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// TimeOfDay returns the whole seconds elapsed since local midnight of t,
// read off the wall clock in t's own location. Sub-second precision is
// dropped so check-ins within the same second compare equal.
func TimeOfDay(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
}

// InZone re-expresses t in the named IANA zone. An empty or unknown zone
// leaves t untouched.
func InZone(t time.Time, zone string) time.Time {
	if zone == "" {
		return t
	}
	loc, err := LoadLocation(zone)
	if err != nil {
		return t
	}
	return t.In(loc)
}

// LoadLocation wraps time.LoadLocation with "UTC" as the empty-name default.
func LoadLocation(zone string) (*time.Location, error) {
	if zone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("timeutil: unknown zone %q: %w", zone, err)
	}
	return loc, nil
}

// SameDay reports whether a and b fall on the same calendar date in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	return DateOf(a.In(loc)) == DateOf(b.In(loc))
}

// Yesterday returns the calendar date before now in loc.
func Yesterday(now time.Time, loc *time.Location) LocalDate {
	return DateOf(now.In(loc).AddDate(0, 0, -1))
}

// Package timeutil handles learner-local calendar days.
// Learners live in different time zones; every "day" in the scheduler is a
// calendar day in the learner's zone, so conversions go through here.
package timeutil

import (
	"fmt"
	"sync"
	"time"
)

// Common layouts.
const (
	FormatDate     = "2006-01-02"
	FormatDateTime = "2006-01-02 15:04"
)

var locations sync.Map // name -> *time.Location

// LoadLocation is time.LoadLocation with a process-wide cache. An empty name
// is UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	if v, ok := locations.Load(name); ok {
		return v.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load location %q: %w", name, err)
	}
	locations.Store(name, loc)
	return loc, nil
}

// MustLocation returns the named location or UTC when it cannot be loaded.
func MustLocation(name string) *time.Location {
	loc, err := LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// In converts t to the named zone.
func In(t time.Time, zone string) time.Time {
	return t.In(MustLocation(zone))
}

// StartOfDay returns midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// StartOfNextDay returns midnight of the day after t. Across a DST change the
// result is still a midnight, not t plus 24h.
func StartOfNextDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1)
}

// EndOfDay returns the last instant of t's calendar day.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// Tomorrow returns t moved to the same wall-clock time on the next day.
func Tomorrow(t time.Time) time.Time {
	return t.AddDate(0, 0, 1)
}

// FormatDateStr formats t as YYYY-MM-DD in its own location.
func FormatDateStr(t time.Time) string {
	return t.Format(FormatDate)
}

// ParseDate parses YYYY-MM-DD as midnight in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(FormatDate, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", value, err)
	}
	return t, nil
}

// LocalHour returns the hour of day of t in zone.
func LocalHour(t time.Time, zone string) int {
	return In(t, zone).Hour()
}

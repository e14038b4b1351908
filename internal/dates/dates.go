// Package dates provides a calendar-day value type and date-keyed lookups.
// All price and rate series in the application are keyed by calendar day,
// never by timestamps, so comparisons of "today" are consistent across
// components regardless of the hour a request arrives.
package dates

import (
	"fmt"
	"time"
)

// Layout is the canonical day format used throughout the application.
const Layout = "2006-01-02"

// Day is a calendar day with no time component, stored as YYYY-MM-DD.
// The ISO format makes lexicographic order equal to chronological order,
// so Day values compare correctly with < and >.
type Day string

// Parse validates and converts a YYYY-MM-DD string to a Day.
func Parse(s string) (Day, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return "", fmt.Errorf("invalid day %q: %w", s, err)
	}
	return FromTime(t), nil
}

// FromTime truncates a timestamp to its calendar day in the timestamp's location.
func FromTime(t time.Time) Day {
	return Day(t.Format(Layout))
}

// Today returns the current calendar day in the process's local timezone.
func Today() Day {
	return FromTime(time.Now())
}

// Time returns the day as a time.Time at midnight UTC.
// Zero time is returned for malformed values.
func (d Day) Time() time.Time {
	t, _ := time.Parse(Layout, string(d))
	return t
}

// AddDays returns the day shifted by n calendar days (n may be negative).
func (d Day) AddDays(n int) Day {
	return FromTime(d.Time().AddDate(0, 0, n))
}

// Before reports whether d is strictly earlier than other.
func (d Day) Before(other Day) bool {
	return d < other
}

// After reports whether d is strictly later than other.
func (d Day) After(other Day) bool {
	return d > other
}

// IsZero reports whether the day is unset.
func (d Day) IsZero() bool {
	return d == ""
}

// SameDay reports whether a timestamp falls on this calendar day
// in the timestamp's location.
func (d Day) SameDay(t time.Time) bool {
	return FromTime(t) == d
}

// Range enumerates every calendar day from from through to, inclusive,
// in ascending order. Returns nil if from is after to.
func Range(from, to Day) []Day {
	if from.IsZero() || to.IsZero() || from.After(to) {
		return nil
	}

	var days []Day
	for d := from; !d.After(to); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}

// NearestPrior resolves a value for a given day from a date-keyed map,
// walking backward up to lookbackDays calendar days when the exact day is
// missing (forward-fill by nearest available value in the past).
// Returns false when nothing resolves within the window.
//
// Both FX rate resolution and price resolution use this with the same
// lookback, so a gap longer than the window falls back to the documented
// approximation rather than picking up an arbitrarily old value.
func NearestPrior(values map[Day]float64, on Day, lookbackDays int) (float64, bool) {
	d := on
	for i := 0; i <= lookbackDays; i++ {
		if v, ok := values[d]; ok {
			return v, true
		}
		d = d.AddDays(-1)
	}
	return 0, false
}

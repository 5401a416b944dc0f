package domain

import (
	"strings"
	"time"
)

var tripDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02-01-2006",
	"02/01/2006",
	"2006/01/02",
}

// ParseTripDate parses a literal trip date and truncates it to the day.
func ParseTripDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range tripDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Day(t), true
		}
	}
	return time.Time{}, false
}

// Day returns midnight UTC of t's calendar day in t's own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsUpcoming reports whether date is today or later. Time of day is ignored and
// an unparseable date is never upcoming.
func IsUpcoming(date string, today time.Time) bool {
	day, ok := ParseTripDate(date)
	if !ok {
		return false
	}
	return !day.Before(Day(today))
}

// Package grouping partitions registrations into trips and, within a trip,
// into drivers and passengers. Every function is pure over its input.
package grouping

import (
	"sort"
	"time"

	"github.com/example/tripcoord/internal/roster/domain"
)

// TripGroup holds the registrations of one trip in input order.
type TripGroup struct {
	Key        domain.TripKey        `json:"key"`
	Drivers    []domain.Registration `json:"drivers"`
	Passengers []domain.Registration `json:"passengers"`
}

// Size returns the number of registrations in the group.
func (g TripGroup) Size() int { return len(g.Drivers) + len(g.Passengers) }

// Clone returns a deep copy so callers can modify it without touching g.
func (g TripGroup) Clone() TripGroup {
	return TripGroup{
		Key:        g.Key,
		Drivers:    append([]domain.Registration(nil), g.Drivers...),
		Passengers: append([]domain.Registration(nil), g.Passengers...),
	}
}

// Find returns the registration with the given id from either partition.
func (g TripGroup) Find(id string) (domain.Registration, bool) {
	for _, d := range g.Drivers {
		if d.ID == id {
			return d, true
		}
	}
	for _, p := range g.Passengers {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Registration{}, false
}

// GroupByTrip places every record in exactly one group selected by its trip key.
func GroupByTrip(records []domain.Registration) map[domain.TripKey]TripGroup {
	groups := make(map[domain.TripKey]TripGroup)
	for _, rec := range records {
		g := groups[rec.Trip]
		g.Key = rec.Trip
		if rec.IsDriver() {
			g.Drivers = append(g.Drivers, rec)
		} else {
			g.Passengers = append(g.Passengers, rec)
		}
		groups[rec.Trip] = g
	}
	return groups
}

// ListTripDates returns the distinct dates ascending by calendar value.
// Unparseable dates sort last, in order of first appearance.
func ListTripDates(records []domain.Registration) []string {
	seen := make(map[string]struct{})
	var dates []string
	for _, rec := range records {
		if rec.Trip.Date == "" {
			continue
		}
		if _, ok := seen[rec.Trip.Date]; ok {
			continue
		}
		seen[rec.Trip.Date] = struct{}{}
		dates = append(dates, rec.Trip.Date)
	}
	SortDates(dates)
	return dates
}

// SortDates orders literal dates in place by calendar value, malformed last.
func SortDates(dates []string) {
	sort.SliceStable(dates, func(i, j int) bool {
		a, aok := domain.ParseTripDate(dates[i])
		b, bok := domain.ParseTripDate(dates[j])
		switch {
		case aok && bok:
			return a.Before(b)
		case aok:
			return true
		default:
			return false
		}
	})
}

// DefaultTripDate picks the earliest date on or after today, or the latest
// date when every date is in the past. dates need not be sorted. When no date
// parses, the last one given is returned. It reports false when dates is empty.
func DefaultTripDate(dates []string, today time.Time) (string, bool) {
	if len(dates) == 0 {
		return "", false
	}
	day := domain.Day(today)
	var (
		next, latest         string
		nextDay, latestDay   time.Time
		haveNext, haveLatest bool
	)
	for _, d := range dates {
		t, ok := domain.ParseTripDate(d)
		if !ok {
			continue
		}
		if !t.Before(day) && (!haveNext || t.Before(nextDay)) {
			next, nextDay, haveNext = d, t, true
		}
		if !haveLatest || t.After(latestDay) {
			latest, latestDay, haveLatest = d, t, true
		}
	}
	switch {
	case haveNext:
		return next, true
	case haveLatest:
		return latest, true
	default:
		return dates[len(dates)-1], true
	}
}

// ListLocationsForTrip returns the distinct non-blank locations seen on date,
// in order of first appearance.
func ListLocationsForTrip(records []domain.Registration, date string) []string {
	seen := make(map[string]struct{})
	var locations []string
	for _, rec := range records {
		if rec.Trip.Date != date || rec.Trip.Location == "" {
			continue
		}
		if _, ok := seen[rec.Trip.Location]; ok {
			continue
		}
		seen[rec.Trip.Location] = struct{}{}
		locations = append(locations, rec.Trip.Location)
	}
	return locations
}

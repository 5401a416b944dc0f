// Package review holds the coordinator-only attendance and turnout annotations.
// Annotations are local, never touch assignment state, and apply only to
// registrations of upcoming trips.
package review

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/example/tripcoord/internal/roster/domain"
)

type Attendance string

const (
	AttendancePending Attendance = "pending"
	AttendanceYes     Attendance = "yes"
	AttendanceNo      Attendance = "no"
)

type Perception string

const (
	PerceptionAbove    Perception = "above"
	PerceptionExpected Perception = "expected"
	PerceptionBelow    Perception = "below"
)

var attendanceValues = map[string]Attendance{
	"":          AttendancePending,
	"pending":   AttendancePending,
	"pendiente": AttendancePending,
	"yes":       AttendanceYes,
	"si":        AttendanceYes,
	"sí":        AttendanceYes,
	"no":        AttendanceNo,
}

var perceptionValues = map[string]Perception{
	"":         PerceptionExpected,
	"expected": PerceptionExpected,
	"esperado": PerceptionExpected,
	"above":    PerceptionAbove,
	"sobre":    PerceptionAbove,
	"below":    PerceptionBelow,
	"bajo":     PerceptionBelow,
}

// ParseAttendance accepts English and Spanish spellings; blank means pending.
func ParseAttendance(s string) (Attendance, error) {
	if a, ok := attendanceValues[strings.ToLower(strings.TrimSpace(s))]; ok {
		return a, nil
	}
	return "", fmt.Errorf("unknown attendance %q", s)
}

// ParsePerception accepts English and Spanish spellings; blank means expected.
func ParsePerception(s string) (Perception, error) {
	if p, ok := perceptionValues[strings.ToLower(strings.TrimSpace(s))]; ok {
		return p, nil
	}
	return "", fmt.Errorf("unknown perception %q", s)
}

// External returns the vocabulary the attendance webhook expects.
func (a Attendance) External() string {
	switch a {
	case AttendanceYes:
		return "si"
	case AttendanceNo:
		return "no"
	default:
		return "pendiente"
	}
}

func (p Perception) External() string {
	switch p {
	case PerceptionAbove:
		return "sobre"
	case PerceptionBelow:
		return "bajo"
	default:
		return "esperado"
	}
}

type Annotation struct {
	Attendance Attendance `json:"attendance"`
	Perception Perception `json:"perception"`
}

// DefaultAnnotation is what an untouched registration reports.
func DefaultAnnotation() Annotation {
	return Annotation{Attendance: AttendancePending, Perception: PerceptionExpected}
}

// Store keeps annotations by registration id. Ids are carried in the fetched
// payload, so annotations survive refetches.
type Store struct {
	mu    sync.RWMutex
	notes map[string]Annotation
}

func NewStore() *Store {
	return &Store{notes: make(map[string]Annotation)}
}

// Get returns the annotation for id, or the default.
func (s *Store) Get(id string) Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.notes[id]; ok {
		return a
	}
	return DefaultAnnotation()
}

// Set annotates rec. Registrations of past trips are refused.
func (s *Store) Set(rec domain.Registration, a Annotation, today time.Time) error {
	if !domain.IsUpcoming(rec.Trip.Date, today) {
		return domain.ErrNotUpcoming
	}
	if a.Attendance == "" {
		a.Attendance = AttendancePending
	}
	if a.Perception == "" {
		a.Perception = PerceptionExpected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[rec.ID] = a
	return nil
}

// Entry is a registration merged with its annotation.
type Entry struct {
	Registration domain.Registration `json:"registration"`
	Annotation   Annotation          `json:"annotation"`
}

// Upcoming filters records to today-or-future trips, optionally narrowed to
// one trip (a zero key keeps every upcoming trip, a key with only a date keeps
// every location of that date), and merges annotations.
func (s *Store) Upcoming(records []domain.Registration, trip domain.TripKey, today time.Time) []Entry {
	entries := []Entry{}
	for _, rec := range records {
		if !domain.IsUpcoming(rec.Trip.Date, today) {
			continue
		}
		if trip.Date != "" && rec.Trip.Date != trip.Date {
			continue
		}
		if trip.Location != "" && rec.Trip.Location != trip.Location {
			continue
		}
		entries = append(entries, Entry{Registration: rec, Annotation: s.Get(rec.ID)})
	}
	return entries
}

// Submission builds the attendance payload for trip from the merged entries.
func Submission(trip domain.TripKey, entries []Entry) domain.AttendanceSubmission {
	sub := domain.AttendanceSubmission{Trip: trip, Entries: make([]domain.AttendanceEntry, 0, len(entries))}
	for _, e := range entries {
		sub.Entries = append(sub.Entries, domain.AttendanceEntry{
			RegistrationID: e.Registration.ID,
			ExternalID:     e.Registration.ExternalID,
			FullName:       e.Registration.FullName,
			Attendance:     e.Annotation.Attendance.External(),
			Perception:     e.Annotation.Perception.External(),
		})
	}
	return sub
}

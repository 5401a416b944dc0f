package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/example/tripcoord/internal/roster/assignment"
	"github.com/example/tripcoord/internal/roster/domain"
	"github.com/example/tripcoord/internal/roster/grouping"
	"github.com/example/tripcoord/internal/roster/review"
)

const tracerName = "github.com/example/tripcoord/internal/roster/service"

// Deps are the collaborators shared by every coordinator session.
type Deps struct {
	Gateway     domain.Gateway
	Guard       assignment.Guard
	Events      domain.EventPublisher
	Clock       domain.Clock
	Notes       *review.Store
	Idempotency domain.IdempotencyRepository
	Logger      *zap.Logger
	InflightTTL time.Duration
	Location    *time.Location
}

func (d Deps) withDefaults() Deps {
	if d.Guard == nil {
		d.Guard = assignment.NewMemoryGuard()
	}
	if d.Events == nil {
		d.Events = nopPublisher{}
	}
	if d.Clock == nil {
		d.Clock = domain.SystemClock{}
	}
	if d.Notes == nil {
		d.Notes = review.NewStore()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.InflightTTL <= 0 {
		d.InflightTTL = 45 * time.Second
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	return d
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.RosterEvent) error { return nil }

// Service is one coordinator's view of the roster. It owns the selected trip
// and the authoritative registration snapshot; grouping and capacity are
// recomputed from that snapshot on every read.
type Service struct {
	deps   Deps
	actor  string
	logger *zap.Logger

	mu sync.Mutex
	// selection bumps on every trip change so late fetches can be discarded.
	selection uint64
	selected  domain.TripKey
	confirmed []domain.Registration
	current   []domain.Registration
	skipped   int
	loaded    bool
	stale     bool
	lastErr   error
	fetchedAt time.Time
	catalog   []domain.TripOption
}

// New constructs a Service acting on behalf of actor.
func New(deps Deps, actor string) *Service {
	deps = deps.withDefaults()
	return &Service{
		deps:   deps,
		actor:  actor,
		logger: deps.Logger.Named("roster").With(zap.String("coordinator", actor)),
	}
}

// View is the roster as the console renders it.
type View struct {
	Trip      domain.TripKey     `json:"trip"`
	Dates     []string           `json:"dates"`
	Locations []string           `json:"locations"`
	TripInfo  *domain.TripOption `json:"trip_info,omitempty"`
	Board     *assignment.Board  `json:"board,omitempty"`
	Skipped   int                `json:"skipped_records"`
	Stale     bool               `json:"stale"`
	LastError string             `json:"last_error,omitempty"`
	FetchedAt time.Time          `json:"fetched_at"`
}

// Today is the current calendar day in the configured time zone.
func (s *Service) Today() time.Time {
	return domain.Day(s.deps.Clock.Now().In(s.deps.Location))
}

// Refresh replaces the snapshot with a fresh fetch. A fetch that lands after the
// selected trip changed is discarded with ErrSuperseded. On failure the previous
// snapshot stays visible and is marked stale.
func (s *Service) Refresh(ctx context.Context) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "roster.refresh")
	defer span.End()

	s.mu.Lock()
	selection := s.selection
	s.mu.Unlock()

	start := time.Now()
	raws, err := s.deps.Gateway.FetchRegistrations(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	defer s.mu.Unlock()

	if selection != s.selection {
		observeFetch("superseded", elapsed)
		s.logger.Info("discarding superseded fetch", zap.String("trip", s.selected.String()))
		return domain.ErrSuperseded
	}
	if err != nil {
		observeFetch("error", elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.stale = true
		s.lastErr = err
		s.logger.Error("fetch registrations", zap.Error(err))
		return asTransport("fetch_registrations", err)
	}
	observeFetch("ok", elapsed)

	records, failures := domain.ParseAll(raws)
	for _, f := range failures {
		s.logger.Warn("skipping malformed registration", zap.Int("index", f.Index), zap.String("field", f.Field), zap.String("reason", f.Reason))
	}
	skippedRecords.Add(float64(len(failures)))
	span.SetAttributes(attribute.Int("roster.records", len(records)), attribute.Int("roster.skipped", len(failures)))

	s.confirmed = records
	s.current = cloneRecords(records)
	s.skipped = len(failures)
	s.loaded = true
	s.stale = false
	s.lastErr = nil
	s.fetchedAt = s.deps.Clock.Now()

	if s.selected.IsZero() {
		s.selected = s.defaultTripLocked()
	} else if s.selected.Location == "" {
		s.selected = s.resolveLocationLocked(s.selected.Date)
	}
	return nil
}

// SelectTrip switches the active trip and refetches. A key with only a date
// selects the first location seen on that date.
func (s *Service) SelectTrip(ctx context.Context, key domain.TripKey) (View, error) {
	s.mu.Lock()
	s.selection++
	s.selected = key
	if key.Location == "" && s.loaded {
		s.selected = s.resolveLocationLocked(key.Date)
	}
	s.mu.Unlock()

	err := s.Refresh(ctx)
	if errors.Is(err, domain.ErrSuperseded) {
		err = nil
	}
	return s.View(), err
}

// SelectDate is SelectTrip for a date with no location chosen.
func (s *Service) SelectDate(ctx context.Context, date string) (View, error) {
	return s.SelectTrip(ctx, domain.TripKey{Date: date})
}

func (s *Service) defaultTripLocked() domain.TripKey {
	date, ok := grouping.DefaultTripDate(grouping.ListTripDates(s.current), s.Today())
	if !ok {
		return domain.TripKey{}
	}
	return s.resolveLocationLocked(date)
}

func (s *Service) resolveLocationLocked(date string) domain.TripKey {
	locations := grouping.ListLocationsForTrip(s.current, date)
	if len(locations) == 0 {
		return domain.TripKey{Date: date}
	}
	return domain.TripKey{Date: date, Location: locations[0]}
}

// Selected returns the active trip key.
func (s *Service) Selected() domain.TripKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Loaded reports whether at least one fetch has succeeded.
func (s *Service) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// View renders the current, possibly optimistic, state.
func (s *Service) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Service) viewLocked() View {
	v := View{
		Trip:      s.selected,
		Dates:     grouping.ListTripDates(s.current),
		Locations: []string{},
		Skipped:   s.skipped,
		Stale:     s.stale,
		FetchedAt: s.fetchedAt,
	}
	if s.lastErr != nil {
		v.LastError = s.lastErr.Error()
	}
	if s.selected.Date != "" {
		if locs := grouping.ListLocationsForTrip(s.current, s.selected.Date); locs != nil {
			v.Locations = locs
		}
	}
	if s.selected.Location != "" {
		group := grouping.GroupByTrip(s.current)[s.selected]
		group.Key = s.selected
		board := assignment.BuildBoard(group)
		assignment.ObserveBoard(board)
		v.Board = &board
	}
	for i := range s.catalog {
		if s.catalog[i].Trip == s.selected {
			opt := s.catalog[i]
			v.TripInfo = &opt
			break
		}
	}
	return v
}

// Snapshot returns a copy of the current registrations.
func (s *Service) Snapshot() []domain.Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRecords(s.current)
}

// Assign assigns a passenger to a driver. Validation failures return before any
// request is issued; a failed request rolls the optimistic change back.
func (s *Service) Assign(ctx context.Context, passengerID, driverID string) (View, error) {
	return s.mutate(ctx, "assign", passengerID, func(group grouping.TripGroup, passenger domain.Registration) (assignment.Outcome, error) {
		driver, ok := s.findLocked(driverID)
		if !ok {
			return assignment.Outcome{}, domain.ErrRegistrationNotFound
		}
		return assignment.AssignPassenger(group, passenger, driver)
	})
}

// Unassign clears a passenger's driver.
func (s *Service) Unassign(ctx context.Context, passengerID string) (View, error) {
	return s.mutate(ctx, "unassign", passengerID, assignment.UnassignPassenger)
}

type resolveFunc func(group grouping.TripGroup, passenger domain.Registration) (assignment.Outcome, error)

func (s *Service) mutate(ctx context.Context, op, passengerID string, resolve resolveFunc) (View, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "roster."+op)
	defer span.End()
	span.SetAttributes(attribute.String("roster.passenger_id", passengerID))

	if s.Selected().IsZero() {
		return View{}, domain.ErrNoTripSelected
	}

	token, acquired, err := s.deps.Guard.TryAcquire(ctx, passengerID, s.deps.InflightTTL)
	if err != nil {
		return View{}, fmt.Errorf("acquire in-flight guard: %w", err)
	}
	if !acquired {
		assignment.Record(op, "in_flight")
		return View{}, domain.ErrOperationInFlight
	}
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		if err := s.deps.Guard.Release(context.WithoutCancel(ctx), passengerID, token); err != nil {
			s.logger.Warn("release in-flight guard", zap.String("passenger_id", passengerID), zap.Error(err))
		}
	}
	defer release()

	s.mu.Lock()
	passenger, ok := s.findLocked(passengerID)
	if !ok {
		s.mu.Unlock()
		assignment.Record(op, "not_found")
		return View{}, domain.ErrRegistrationNotFound
	}
	group := grouping.GroupByTrip(s.current)[passenger.Trip]
	outcome, err := resolve(group, passenger)
	if err != nil {
		s.mu.Unlock()
		assignment.Record(op, errorClass(err))
		return View{}, err
	}
	if !outcome.Changed() {
		v := s.viewLocked()
		s.mu.Unlock()
		assignment.Record(op, "noop")
		return v, nil
	}
	s.replaceLocked(outcome.Passenger)
	s.mu.Unlock()

	req := *outcome.Request
	err = s.deps.Gateway.SetAssignment(ctx, req)
	release()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.mu.Lock()
		s.current = cloneRecords(s.confirmed)
		s.lastErr = err
		s.mu.Unlock()
		assignment.Record(op, "transport")
		s.logger.Error("persist assignment", zap.String("op", op), zap.String("passenger_id", passengerID), zap.String("driver_ref", req.DriverExternalID), zap.Error(err))
		return s.View(), asTransport("set_assignment", err)
	}
	assignment.Record(op, "applied")
	s.logger.Info("assignment persisted", zap.String("op", op), zap.String("passenger_id", passengerID), zap.String("driver_ref", req.DriverExternalID), zap.String("trip_date", req.Trip.Date))

	s.publish(ctx, domain.EventAssignmentChanged, req.Trip, map[string]any{
		"passenger_external_id": req.PassengerExternalID,
		"driver_external_id":    req.DriverExternalID,
	})

	if err := s.Refresh(ctx); err != nil && !errors.Is(err, domain.ErrSuperseded) {
		s.logger.Warn("refetch after assignment", zap.Error(err))
	}
	return s.View(), nil
}

func (s *Service) findLocked(id string) (domain.Registration, bool) {
	for _, r := range s.current {
		if r.ID == id {
			return r, true
		}
	}
	return domain.Registration{}, false
}

func (s *Service) replaceLocked(rec domain.Registration) {
	for i := range s.current {
		if s.current[i].ID == rec.ID {
			s.current[i] = rec
			return
		}
	}
}

// Review lists upcoming registrations with their annotations. A zero trip lists
// every upcoming trip.
func (s *Service) Review(trip domain.TripKey) []review.Entry {
	return s.deps.Notes.Upcoming(s.Snapshot(), trip, s.Today())
}

// Annotate stores attendance and perception for one registration.
func (s *Service) Annotate(registrationID string, a review.Annotation) (review.Entry, error) {
	s.mu.Lock()
	rec, ok := s.findLocked(registrationID)
	s.mu.Unlock()
	if !ok {
		return review.Entry{}, domain.ErrRegistrationNotFound
	}
	if err := s.deps.Notes.Set(rec, a, s.Today()); err != nil {
		return review.Entry{}, err
	}
	return review.Entry{Registration: rec, Annotation: s.deps.Notes.Get(rec.ID)}, nil
}

// SubmitAttendance sends the annotations of trip to the external system.
func (s *Service) SubmitAttendance(ctx context.Context, trip domain.TripKey) (domain.AttendanceSubmission, error) {
	if trip.Date == "" {
		return domain.AttendanceSubmission{}, domain.ErrNoTripSelected
	}
	sub := review.Submission(trip, s.Review(trip))
	if err := s.deps.Gateway.SubmitAttendance(ctx, sub); err != nil {
		s.logger.Error("submit attendance", zap.String("trip_date", trip.Date), zap.Error(err))
		return domain.AttendanceSubmission{}, asTransport("submit_attendance", err)
	}
	s.publish(ctx, domain.EventAttendanceSubmitted, trip, map[string]any{"entries": len(sub.Entries)})
	return sub, nil
}

// Export renders the review of trip as an xlsx workbook and its file name.
func (s *Service) Export(trip domain.TripKey) ([]byte, string, error) {
	records := s.Snapshot()
	data, err := review.Export(s.deps.Notes.Upcoming(records, trip, s.Today()), records)
	if err != nil {
		return nil, "", fmt.Errorf("export: %w", err)
	}
	return data, review.FileName(trip, s.Today()), nil
}

func (s *Service) setCatalog(options []domain.TripOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = options
}

func (s *Service) publish(ctx context.Context, typ domain.RosterEventType, trip domain.TripKey, payload map[string]any) {
	err := s.deps.Events.Publish(ctx, domain.RosterEvent{
		ID:        uuid.NewString(),
		Type:      typ,
		Trip:      trip,
		Actor:     s.actor,
		Payload:   payload,
		CreatedAt: s.deps.Clock.Now(),
	})
	if err != nil {
		s.logger.Warn("publish roster event", zap.String("type", string(typ)), zap.Error(err))
	}
}

func cloneRecords(records []domain.Registration) []domain.Registration {
	return append([]domain.Registration(nil), records...)
}

func asTransport(op string, err error) error {
	var terr *domain.TransportError
	if errors.As(err, &terr) {
		return err
	}
	return &domain.TransportError{Op: op, Err: err}
}

func errorClass(err error) string {
	var (
		crossErr *domain.CrossTripError
		capErr   *domain.CapacityExceededError
	)
	switch {
	case errors.As(err, &crossErr):
		return "cross_trip"
	case errors.As(err, &capErr):
		return "capacity"
	case errors.Is(err, domain.ErrRoleMismatch):
		return "role_mismatch"
	case errors.Is(err, domain.ErrRegistrationNotFound):
		return "not_found"
	default:
		return "error"
	}
}

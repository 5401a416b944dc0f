package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/example/tripcoord/internal/auth"
	ratelimit "github.com/example/tripcoord/internal/http/middleware"
	"github.com/example/tripcoord/internal/roster/domain"
	"github.com/example/tripcoord/internal/roster/review"
	"github.com/example/tripcoord/internal/roster/service"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// HTTP exposes the coordinator console API.
type HTTP struct {
	sessions *service.Sessions
	issuer   *auth.Issuer
	secret   string
	limiter  *ratelimit.RateLimiter
	logger   *zap.Logger
}

// NewHTTP constructs a handler. limiter may be nil.
func NewHTTP(sessions *service.Sessions, issuer *auth.Issuer, secret string, limiter *ratelimit.RateLimiter, logger *zap.Logger) *HTTP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{sessions: sessions, issuer: issuer, secret: secret, limiter: limiter, logger: logger}
}

// Router builds the chi router with all endpoints and middlewares.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/v1/catalog", h.catalog)
	r.Post("/v1/sessions", h.login)
	r.With(h.limiter.Middleware).Post("/v1/registrations", h.register)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(h.secret, auth.RoleCoordinator))
		r.Use(h.limiter.Middleware)

		r.Get("/v1/trips", h.trips)
		r.Put("/v1/trips/selection", h.selectTrip)
		r.Post("/v1/trips/refresh", h.refresh)
		r.Get("/v1/roster", h.roster)
		r.Post("/v1/assignments", h.assign)
		r.Delete("/v1/assignments/{passengerID}", h.unassign)
		r.Get("/v1/review", h.review)
		r.Put("/v1/review/{registrationID}", h.annotate)
		r.Post("/v1/review/submit", h.submitReview)
		r.Get("/v1/export", h.export)
	})
	return r
}

func (h *HTTP) catalog(w http.ResponseWriter, r *http.Request) {
	options, err := h.sessions.Catalog(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, options)
}

func (h *HTTP) register(w http.ResponseWriter, r *http.Request) {
	var draft domain.RegistrationDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	receipt, err := h.sessions.SubmitRegistration(r.Context(), r.Header.Get("Idempotency-Key"), draft)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token       string             `json:"token"`
	ExpiresAt   time.Time          `json:"expires_at"`
	Coordinator domain.Coordinator `json:"coordinator"`
}

func (h *HTTP) login(w http.ResponseWriter, r *http.Request) {
	var payload loginRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if payload.Username == "" || payload.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}
	coord, err := h.sessions.Authenticate(r.Context(), payload.Username, payload.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	token, expires, err := h.issuer.Issue(coord.Username, coord.DisplayName)
	if err != nil {
		h.writeError(w, fmt.Errorf("issue token: %w", err))
		return
	}
	if _, err := h.sessions.Open(r.Context(), coord.Username); err != nil {
		h.logger.Warn("initial roster fetch", zap.String("coordinator", coord.Username), zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, loginResponse{Token: token, ExpiresAt: expires, Coordinator: coord})
}

func (h *HTTP) session(w http.ResponseWriter, r *http.Request) (*service.Service, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "missing claims", http.StatusUnauthorized)
		return nil, false
	}
	svc, err := h.sessions.Open(r.Context(), claims.Subject)
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return svc, true
}

type tripsResponse struct {
	Selected  domain.TripKey `json:"selected"`
	Dates     []string       `json:"dates"`
	Locations []string       `json:"locations"`
}

func (h *HTTP) trips(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.session(w, r)
	if !ok {
		return
	}
	v := svc.View()
	writeJSON(w, http.StatusOK, tripsResponse{Selected: v.Trip, Dates: v.Dates, Locations: v.Locations})
}

func (h *HTTP) selectTrip(w http.ResponseWriter, r *http.Request) {
	var key domain.TripKey
	if err := json.NewDecoder(r.Body).Decode(&key); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if key.Date == "" {
		http.Error(w, "date is required", http.StatusBadRequest)
		return
	}
	svc, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := svc.SelectTrip(r.Context(), key)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *HTTP) refresh(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := svc.Refresh(r.Context()); err != nil && !errors.Is(err, domain.ErrSuperseded) {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, svc.View())
}

func (h *HTTP) roster(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, svc.View())
}

type assignRequest struct {
	PassengerID string `json:"passenger_id"`
	DriverID    string `json:"driver_id"`
}

func (h *HTTP) assign(w http.ResponseWriter, r *http.Request) {
	var payload assignRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if payload.PassengerID == "" {
		http.Error(w, "passenger_id is required", http.StatusBadRequest)
		return
	}
	svc, ok := h.session(w, r)
	if !ok {
		return
	}
	var (
		view service.View
		err  error
	)
	if payload.DriverID == "" {
		view, err = svc.Unassign(r.Context(), payload.PassengerID)
	} else {
		view, err = svc.Assign(r.Context(), payload.PassengerID, payload.DriverID)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *HTTP) unassign(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := svc.Unassign(r.Context(), chi.URLParam(r, "passengerID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// reviewScope reads ?date=&location=, ?scope=all, or falls back to the
// session's selected trip.
func reviewScope(r *http.Request, svc *service.Service) domain.TripKey {
	q := r.URL.Query()
	if q.Get("scope") == "all" {
		return domain.TripKey{}
	}
	if date := q.Get("date"); date != "" {
		return domain.TripKey{Date: date, Location: q.Get("location")}
	}
	return svc.Selected()
}

func (h *HTTP) review(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, svc.Review(reviewScope(r, svc)))
}

type annotateRequest struct {
	Attendance string `json:"attendance"`
	Perception string `json:"perception"`
}

func (h *HTTP) annotate(w http.ResponseWriter, r *http.Request) {
	var payload annotateRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	attendance, err := review.ParseAttendance(payload.Attendance)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	perception, err := review.ParsePerception(payload.Perception)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	svc, ok := h.session(w, r)
	if !ok {
		return
	}
	entry, err := svc.Annotate(chi.URLParam(r, "registrationID"), review.Annotation{Attendance: attendance, Perception: perception})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *HTTP) submitReview(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.session(w, r)
	if !ok {
		return
	}
	sub, err := svc.SubmitAttendance(r.Context(), reviewScope(r, svc))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *HTTP) export(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.session(w, r)
	if !ok {
		return
	}
	data, name, err := svc.Export(reviewScope(r, svc))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (h *HTTP) writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("code", code), zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func classify(err error) (int, string) {
	var (
		parseErr *domain.ParseError
		crossErr *domain.CrossTripError
		capErr   *domain.CapacityExceededError
		authErr  *domain.AuthorizationError
		transErr *domain.TransportError
	)
	switch {
	case errors.As(err, &parseErr):
		return http.StatusUnprocessableEntity, "invalid_registration"
	case errors.As(err, &crossErr):
		return http.StatusUnprocessableEntity, "cross_trip"
	case errors.Is(err, domain.ErrRoleMismatch):
		return http.StatusUnprocessableEntity, "role_mismatch"
	case errors.Is(err, domain.ErrNotUpcoming):
		return http.StatusUnprocessableEntity, "not_upcoming"
	case errors.As(err, &capErr):
		return http.StatusConflict, "capacity_exceeded"
	case errors.Is(err, domain.ErrOperationInFlight):
		return http.StatusConflict, "in_flight"
	case errors.Is(err, domain.ErrNoTripSelected):
		return http.StatusConflict, "no_trip_selected"
	case errors.Is(err, domain.ErrRegistrationNotFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &authErr):
		return http.StatusUnauthorized, "unauthorized"
	case errors.As(err, &transErr):
		return http.StatusBadGateway, "upstream"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

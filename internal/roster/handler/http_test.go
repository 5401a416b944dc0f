package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/tripcoord/internal/auth"
	"github.com/example/tripcoord/internal/roster/domain"
	"github.com/example/tripcoord/internal/roster/handler"
	"github.com/example/tripcoord/internal/roster/repository"
	"github.com/example/tripcoord/internal/roster/service"
)

const secret = "test-secret"

type stubClock struct{ t time.Time }

func (s stubClock) Now() time.Time { return s.t }

type stubGateway struct {
	mu        sync.Mutex
	records   []domain.RawRecord
	assignErr error
}

func (g *stubGateway) FetchTripCatalog(context.Context) ([]domain.TripOption, error) {
	return []domain.TripOption{{Trip: domain.TripKey{Date: "2024-05-01", Location: "Hill"}, Difficulty: "Alta"}}, nil
}

func (g *stubGateway) FetchRegistrations(context.Context) ([]domain.RawRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.RawRecord, len(g.records))
	for i, r := range g.records {
		cp := domain.RawRecord{}
		for k, v := range r {
			cp[k] = v
		}
		out[i] = cp
	}
	return out, nil
}

func (g *stubGateway) SubmitRegistration(context.Context, domain.RegistrationDraft) error { return nil }

func (g *stubGateway) SetAssignment(_ context.Context, req domain.AssignmentRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.assignErr != nil {
		return &domain.TransportError{Op: "set_assignment", Err: g.assignErr}
	}
	for _, r := range g.records {
		if r["RUT"] == req.PassengerExternalID && r["Fecha Cerro"] == req.Trip.Date {
			r["Conductor Asignado RUT"] = req.DriverExternalID
		}
	}
	return nil
}

func (g *stubGateway) AuthenticateCoordinator(_ context.Context, username, password string) (domain.Coordinator, error) {
	if password != "pw" {
		return domain.Coordinator{}, &domain.AuthorizationError{Username: username}
	}
	return domain.Coordinator{Username: username, DisplayName: "Ana"}, nil
}

func (g *stubGateway) SubmitAttendance(context.Context, domain.AttendanceSubmission) error { return nil }

func newRouter(t *testing.T) (http.Handler, *stubGateway) {
	t.Helper()
	gw := &stubGateway{records: []domain.RawRecord{
		{"id": "d", "RUT": "1-9", "Fecha Cerro": "2024-05-01", "Cerro": "Hill", "role": "driver", "capacity": 1},
		{"id": "a", "RUT": "2-7", "Fecha Cerro": "2024-05-01", "Cerro": "Hill"},
		{"id": "b", "RUT": "3-5", "Fecha Cerro": "2024-05-01", "Cerro": "Hill"},
		{"id": "l", "RUT": "4-3", "Fecha Cerro": "2024-05-01", "Cerro": "Lake"},
	}}
	sessions := service.NewSessions(service.Deps{
		Gateway:     gw,
		Clock:       stubClock{t: time.Date(2024, 4, 15, 12, 0, 0, 0, time.UTC)},
		Idempotency: repository.NewMemoryIdempotencyRepo(),
	})
	h := handler.NewHTTP(sessions, auth.NewIssuer(secret, time.Hour), secret, nil, nil)
	return h.Router(), gw
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/v1/sessions", "", map[string]string{"username": "ana", "password": "pw"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Code
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	h, _ := newRouter(t)
	rec := do(t, h, http.MethodPost, "/v1/sessions", "", map[string]string{"username": "ana", "password": "nope"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "unauthorized", errorCode(t, rec))
}

func TestConsoleRequiresToken(t *testing.T) {
	h, _ := newRouter(t)
	require.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/v1/roster", "", nil).Code)
}

func TestRosterAndAssignmentErrors(t *testing.T) {
	h, gw := newRouter(t)
	token := login(t, h)

	rec := do(t, h, http.MethodGet, "/v1/roster", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view service.View
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	require.Equal(t, domain.TripKey{Date: "2024-05-01", Location: "Hill"}, view.Trip)
	require.Len(t, view.Board.Unassigned, 2)

	rec = do(t, h, http.MethodPost, "/v1/assignments", token, map[string]string{"passenger_id": "a", "driver_id": "d"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/assignments", token, map[string]string{"passenger_id": "b", "driver_id": "d"})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "capacity_exceeded", errorCode(t, rec))

	rec = do(t, h, http.MethodPost, "/v1/assignments", token, map[string]string{"passenger_id": "l", "driver_id": "d"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "cross_trip", errorCode(t, rec))

	rec = do(t, h, http.MethodPost, "/v1/assignments", token, map[string]string{"passenger_id": "zz", "driver_id": "d"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodDelete, "/v1/assignments/a", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	gw.mu.Lock()
	gw.assignErr = errors.New("down")
	gw.mu.Unlock()
	rec = do(t, h, http.MethodPost, "/v1/assignments", token, map[string]string{"passenger_id": "b", "driver_id": "d"})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "upstream", errorCode(t, rec))
}

func TestSelectTripAndTrips(t *testing.T) {
	h, _ := newRouter(t)
	token := login(t, h)

	rec := do(t, h, http.MethodPut, "/v1/trips/selection", token, domain.TripKey{Date: "2024-05-01", Location: "Lake"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/trips", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var trips struct {
		Selected  domain.TripKey `json:"selected"`
		Locations []string       `json:"locations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&trips))
	require.Equal(t, "Lake", trips.Selected.Location)
	require.Equal(t, []string{"Hill", "Lake"}, trips.Locations)

	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/v1/trips/selection", token, domain.TripKey{}).Code)
}

func TestReviewAnnotateExport(t *testing.T) {
	h, _ := newRouter(t)
	token := login(t, h)

	rec := do(t, h, http.MethodPut, "/v1/review/a", token, map[string]string{"attendance": "si", "perception": "sobre"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPut, "/v1/review/a", token, map[string]string{"attendance": "maybe"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/review?scope=all", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entries))
	require.Len(t, entries, 4)

	rec = do(t, h, http.MethodPost, "/v1/review/submit", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/export", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Disposition"), "coordinadores_2024-05-01_Hill.xlsx")
	require.NotZero(t, rec.Body.Len())
}

func TestPublicCatalogAndRegistration(t *testing.T) {
	h, _ := newRouter(t)

	rec := do(t, h, http.MethodGet, "/v1/catalog", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	draft := domain.RegistrationDraft{FullName: "Eva", ExternalID: "9-9", Trip: domain.TripKey{Date: "2024-05-01", Location: "Hill"}, Role: domain.RolePassenger}
	rec = do(t, h, http.MethodPost, "/v1/registrations", "", draft)
	require.Equal(t, http.StatusCreated, rec.Code)

	draft.Trip = domain.TripKey{}
	rec = do(t, h, http.MethodPost, "/v1/registrations", "", draft)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "invalid_registration", errorCode(t, rec))
}

// Package webhook is the HTTP gateway to the external registration store. All
// roster actions go through a single proxy function keyed by an action name;
// the trip catalog and public intake have functions of their own.
package webhook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/example/tripcoord/internal/roster/domain"
)

const (
	proxyPath    = "/webhook-proxy"
	catalogPath  = "/get-locations"
	intakePath   = "/register-passenger"
	tracerName   = "github.com/example/tripcoord/internal/webhook"
	requestIDKey = "X-Request-ID"
)

// Proxy action names understood by the automation backend.
const (
	ActionLoadRoster       = "coordinacion-cargar"
	ActionAssign           = "registro-asignar"
	ActionAuthenticate     = "coordinadores-usuarios"
	ActionSubmitAttendance = "registro-coordinadores"
)

type Config struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	RetryCount   int
	RetryMaxWait time.Duration
}

// Client implements domain.Gateway over resty.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

var _ domain.Gateway = (*Client)(nil)

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryMaxWait <= 0 {
		cfg.RetryMaxWait = 2 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("apikey", cfg.APIKey).SetAuthToken(cfg.APIKey)
	}
	return &Client{http: client, logger: logger}
}

type proxyRequest struct {
	Action string `json:"action"`
	Data   any    `json:"data"`
}

func (c *Client) FetchRegistrations(ctx context.Context) ([]domain.RawRecord, error) {
	body, err := c.post(ctx, "fetch_registrations", proxyPath, proxyRequest{
		Action: ActionLoadRoster,
		Data:   map[string]string{"action": "load"},
	})
	if err != nil {
		return nil, err
	}
	records, err := decodeRecords(body)
	if err != nil {
		return nil, &domain.TransportError{Op: "fetch_registrations", Err: err}
	}
	return records, nil
}

func (c *Client) FetchTripCatalog(ctx context.Context) ([]domain.TripOption, error) {
	body, err := c.post(ctx, "fetch_catalog", catalogPath, struct{}{})
	if err != nil {
		return nil, err
	}
	options, err := decodeCatalog(body)
	if err != nil {
		return nil, &domain.TransportError{Op: "fetch_catalog", Err: err}
	}
	return options, nil
}

type intakeRequest struct {
	Nombre           string `json:"nombre"`
	RUT              string `json:"rut"`
	Email            string `json:"email"`
	Telefono         string `json:"telefono"`
	Lugar            string `json:"lugar"`
	FechaSalida      string `json:"fechaSalida"`
	TipoTransporte   string `json:"tipoTransporte"`
	CuposDisponibles string `json:"cuposDisponibles"`
	AceptaCompartir  bool   `json:"aceptaCompartir"`
}

func (c *Client) SubmitRegistration(ctx context.Context, draft domain.RegistrationDraft) error {
	transport := "pasajero"
	if draft.Role == domain.RoleDriver {
		transport = "auto"
	}
	_, err := c.post(ctx, "submit_registration", intakePath, intakeRequest{
		Nombre:           draft.FullName,
		RUT:              draft.ExternalID,
		Email:            draft.ContactEmail,
		Telefono:         draft.ContactPhone,
		Lugar:            draft.Trip.Location,
		FechaSalida:      draft.Trip.Date,
		TipoTransporte:   transport,
		CuposDisponibles: fmt.Sprint(draft.Capacity),
		AceptaCompartir:  draft.ShareConsent,
	})
	return err
}

// SetAssignment persists an assignment; an empty driver id unassigns.
func (c *Client) SetAssignment(ctx context.Context, req domain.AssignmentRequest) error {
	_, err := c.post(ctx, "set_assignment", proxyPath, proxyRequest{
		Action: ActionAssign,
		Data: map[string]string{
			"passengerRut": req.PassengerExternalID,
			"driverRut":    req.DriverExternalID,
			"fechaSalida":  req.Trip.Date,
			"lugar":        req.Trip.Location,
		},
	})
	return err
}

func (c *Client) AuthenticateCoordinator(ctx context.Context, username, password string) (domain.Coordinator, error) {
	username = strings.TrimSpace(username)
	body, err := c.post(ctx, "authenticate", proxyPath, proxyRequest{
		Action: ActionAuthenticate,
		Data:   map[string]string{"username": username, "password": password},
	})
	if err != nil {
		return domain.Coordinator{}, err
	}
	display, ok := decodeVerdict(body)
	if !ok {
		return domain.Coordinator{}, &domain.AuthorizationError{Username: username}
	}
	if display == "" {
		display = username
	}
	return domain.Coordinator{Username: username, DisplayName: display}, nil
}

type attendanceRow struct {
	ID         string `json:"id"`
	RUT        string `json:"rut"`
	Nombre     string `json:"nombre"`
	Asiste     string `json:"asiste"`
	Percepcion string `json:"percepcion"`
}

func (c *Client) SubmitAttendance(ctx context.Context, sub domain.AttendanceSubmission) error {
	rows := make([]attendanceRow, 0, len(sub.Entries))
	for _, e := range sub.Entries {
		rows = append(rows, attendanceRow{
			ID:         e.RegistrationID,
			RUT:        e.ExternalID,
			Nombre:     e.FullName,
			Asiste:     e.Attendance,
			Percepcion: e.Perception,
		})
	}
	data := map[string]any{
		"registrations": rows,
		"fechaSalida":   sub.Trip.Date,
	}
	if sub.Trip.Location != "" {
		data["lugar"] = sub.Trip.Location
	}
	_, err := c.post(ctx, "submit_attendance", proxyPath, proxyRequest{Action: ActionSubmitAttendance, Data: data})
	return err
}

func (c *Client) post(ctx context.Context, op, path string, body any) ([]byte, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "webhook."+op)
	defer span.End()

	requestID := uuid.NewString()
	span.SetAttributes(attribute.String("webhook.op", op), attribute.String("webhook.request_id", requestID))

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(requestIDKey, requestID).
		SetBody(body).
		Post(path)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("webhook call failed", zap.String("op", op), zap.String("request_id", requestID), zap.Duration("elapsed", elapsed), zap.Error(err))
		return nil, &domain.TransportError{Op: op, Err: err}
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode()))
	if resp.IsError() {
		err := fmt.Errorf("status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("webhook returned error", zap.String("op", op), zap.String("request_id", requestID), zap.Int("status", resp.StatusCode()))
		return nil, &domain.TransportError{Op: op, Err: err}
	}
	c.logger.Debug("webhook call", zap.String("op", op), zap.String("request_id", requestID), zap.Duration("elapsed", elapsed))
	return resp.Body(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

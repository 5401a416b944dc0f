package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/tripcoord/internal/roster/domain"
)

// Sessions hands each coordinator their own Service over shared collaborators
// and serves the operations that need no session.
type Sessions struct {
	deps   Deps
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Service
	catalog  []domain.TripOption
}

func NewSessions(deps Deps) *Sessions {
	deps = deps.withDefaults()
	return &Sessions{
		deps:     deps,
		logger:   deps.Logger.Named("sessions"),
		sessions: make(map[string]*Service),
	}
}

// For returns the coordinator's session, creating it on first use.
func (s *Sessions) For(username string) *Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.sessions[username]
	if !ok {
		svc = New(s.deps, username)
		svc.setCatalog(s.catalog)
		s.sessions[username] = svc
		openSessions.Set(float64(len(s.sessions)))
	}
	return svc
}

// Open returns the session of username after making sure it has data.
func (s *Sessions) Open(ctx context.Context, username string) (*Service, error) {
	svc := s.For(username)
	if svc.Loaded() {
		return svc, nil
	}
	if err := svc.Refresh(ctx); err != nil && !errors.Is(err, domain.ErrSuperseded) {
		return svc, err
	}
	return svc, nil
}

func (s *Sessions) all() []*Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Service, 0, len(s.sessions))
	for _, svc := range s.sessions {
		out = append(out, svc)
	}
	return out
}

// RefreshAll refetches every open session. Failures are logged and leave the
// affected session stale.
func (s *Sessions) RefreshAll(ctx context.Context) {
	for _, svc := range s.all() {
		if err := svc.Refresh(ctx); err != nil && !errors.Is(err, domain.ErrSuperseded) {
			s.logger.Warn("refresh session", zap.String("coordinator", svc.actor), zap.Error(err))
		}
	}
}

// HandleEvent reconciles open sessions with a change made elsewhere.
func (s *Sessions) HandleEvent(ctx context.Context, event domain.RosterEvent) {
	s.logger.Debug("roster event", zap.String("type", string(event.Type)), zap.String("actor", event.Actor), zap.String("trip", event.Trip.String()))
	s.RefreshAll(ctx)
}

// Authenticate checks credentials against the external system.
func (s *Sessions) Authenticate(ctx context.Context, username, password string) (domain.Coordinator, error) {
	coord, err := s.deps.Gateway.AuthenticateCoordinator(ctx, username, password)
	if err != nil {
		var authErr *domain.AuthorizationError
		if errors.As(err, &authErr) {
			s.logger.Info("credentials rejected", zap.String("username", username))
			return domain.Coordinator{}, err
		}
		return domain.Coordinator{}, asTransport("authenticate", err)
	}
	return coord, nil
}

// Catalog fetches the trip catalog and shares it with open sessions.
func (s *Sessions) Catalog(ctx context.Context) ([]domain.TripOption, error) {
	options, err := s.deps.Gateway.FetchTripCatalog(ctx)
	if err != nil {
		s.logger.Error("fetch trip catalog", zap.Error(err))
		return nil, asTransport("fetch_catalog", err)
	}
	s.mu.Lock()
	s.catalog = options
	s.mu.Unlock()
	for _, svc := range s.all() {
		svc.setCatalog(options)
	}
	return options, nil
}

// RegistrationReceipt acknowledges an intake submission.
type RegistrationReceipt struct {
	ID         string         `json:"id"`
	Trip       domain.TripKey `json:"trip"`
	Role       domain.Role    `json:"role"`
	ReceivedAt time.Time      `json:"received_at"`
}

// SubmitRegistration validates a draft and forwards it. A repeated key returns
// the first receipt without resubmitting.
func (s *Sessions) SubmitRegistration(ctx context.Context, key string, draft domain.RegistrationDraft) (RegistrationReceipt, error) {
	if key != "" && s.deps.Idempotency != nil {
		cached, ok, err := s.deps.Idempotency.GetResponse(ctx, key)
		switch {
		case err != nil:
			s.logger.Warn("read idempotency receipt", zap.String("idempotency_key", key), zap.Error(err))
		case ok:
			var receipt RegistrationReceipt
			decodeErr := json.Unmarshal(cached, &receipt)
			if decodeErr == nil {
				return receipt, nil
			}
			s.logger.Warn("decode idempotency receipt", zap.String("idempotency_key", key), zap.Error(decodeErr))
		}
	}

	if draft.Role == "" {
		draft.Role = domain.RolePassenger
	}
	if err := domain.ValidateDraft(draft); err != nil {
		return RegistrationReceipt{}, err
	}
	if err := s.deps.Gateway.SubmitRegistration(ctx, draft); err != nil {
		s.logger.Error("submit registration", zap.String("trip_date", draft.Trip.Date), zap.Error(err))
		return RegistrationReceipt{}, asTransport("submit_registration", err)
	}

	receipt := RegistrationReceipt{
		ID:         uuid.NewString(),
		Trip:       draft.Trip,
		Role:       draft.Role,
		ReceivedAt: s.deps.Clock.Now(),
	}
	err := s.deps.Events.Publish(ctx, domain.RosterEvent{
		ID:        receipt.ID,
		Type:      domain.EventRegistrationSubmitted,
		Trip:      draft.Trip,
		Payload:   map[string]any{"role": string(draft.Role)},
		CreatedAt: receipt.ReceivedAt,
	})
	if err != nil {
		s.logger.Warn("publish registration event", zap.Error(err))
	}

	if key != "" && s.deps.Idempotency != nil {
		payload, err := json.Marshal(receipt)
		if err != nil {
			return receipt, fmt.Errorf("encode receipt: %w", err)
		}
		if err := s.deps.Idempotency.PutResponse(ctx, key, payload); err != nil {
			s.logger.Warn("store idempotency receipt", zap.String("idempotency_key", key), zap.Error(err))
		}
	}
	return receipt, nil
}

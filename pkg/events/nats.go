// Package events carries roster events between console instances over NATS so
// every open session refetches after a change made anywhere.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/tripcoord/internal/roster/domain"
)

const (
	headerTraceID   = "x-trace-id"
	headerEventType = "x-event-type"
)

// Publisher writes roster events to a NATS subject.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

// NewPublisher builds a Publisher using the provided NATS connection. A nil
// connection yields a publisher that drops events.
func NewPublisher(conn *nats.Conn, subject string) *Publisher {
	return &Publisher{conn: conn, subject: subject}
}

// Publish satisfies domain.EventPublisher.
func (p *Publisher) Publish(ctx context.Context, event domain.RosterEvent) error {
	if p == nil || p.conn == nil {
		return nil
	}
	msg, err := encode(ctx, p.subject, event)
	if err != nil {
		return err
	}
	return p.conn.PublishMsg(msg)
}

func encode(ctx context.Context, subject string, event domain.RosterEvent) (*nats.Msg, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set(headerEventType, string(event.Type))
	if id := traceIDFromContext(ctx); id != "" {
		msg.Header.Set(headerTraceID, id)
	}
	return msg, nil
}

func decode(msg *nats.Msg) (domain.RosterEvent, error) {
	var event domain.RosterEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return domain.RosterEvent{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return event, nil
}

func traceIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// Handler reacts to one decoded roster event.
type Handler func(ctx context.Context, event domain.RosterEvent)

// Subscribe delivers every event on subject to handle. Undecodable messages are
// logged and dropped.
func Subscribe(ctx context.Context, conn *nats.Conn, subject string, logger *zap.Logger, handle Handler) (*nats.Subscription, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		event, err := decode(msg)
		if err != nil {
			logger.Warn("dropping roster event", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		handle(ctx, event)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

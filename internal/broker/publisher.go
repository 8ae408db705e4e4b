package broker

import (
	"context"
	"strings"

	"chatline/internal/domain"

	"go.uber.org/zap"
)

// Publisher relays persisted domain events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event *domain.OutboxEvent) error
	Close() error
}

// RoutingKey maps an event type to its topic, e.g. MESSAGE_CREATED becomes
// chat.message_created.
func RoutingKey(eventType string) string {
	return "chat." + strings.ToLower(eventType)
}

// LogPublisher only logs events. It stands in when no broker is configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, event *domain.OutboxEvent) error {
	p.log.Debug("event",
		zap.Stringer("id", event.ID),
		zap.String("routing_key", RoutingKey(event.EventType)),
		zap.ByteString("payload", event.Payload))
	return nil
}

func (p *LogPublisher) Close() error { return nil }

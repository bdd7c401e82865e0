package kafka

import (
	"context"

	domain "github.com/turtacn/molingest/internal/domain/upload"
)

// EventPublisher writes lifecycle events to one topic, keyed by upload id.
type EventPublisher struct {
	producer publisher
	topic    string
}

var _ domain.EventPublisher = (*EventPublisher)(nil)

// NewEventPublisher publishes to topic.
func NewEventPublisher(p publisher, topic string) *EventPublisher {
	return &EventPublisher{producer: p, topic: topic}
}

// Publish wraps e in an envelope. The envelope id is the event id so
// consumers can deduplicate.
func (p *EventPublisher) Publish(ctx context.Context, e domain.Event) error {
	env, err := NewEventEnvelope(string(e.Type), e, e.OccurredAt)
	if err != nil {
		return err
	}
	env.EventID = e.ID
	env.Metadata = map[string]string{"tenant_id": e.TenantID, "upload_id": e.UploadID}
	msg, err := env.ToMessage(p.topic, e.UploadID)
	if err != nil {
		return err
	}
	return p.producer.Publish(ctx, msg)
}

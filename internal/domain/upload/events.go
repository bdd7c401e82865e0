package upload

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventCreated           EventType = "upload.created"
	EventValidationStarted EventType = "upload.validation_started"
	EventValidated         EventType = "upload.validated"
	EventValidationFailed  EventType = "upload.validation_failed"
	EventConfirmed         EventType = "upload.confirmed"
	EventCancelled         EventType = "upload.cancelled"
	EventCompleted         EventType = "upload.completed"
	EventFailed            EventType = "upload.failed"
)

// Event is a lifecycle notification. Payload carries event-specific counters.
type Event struct {
	ID         string                 `json:"event_id"`
	Type       EventType              `json:"type"`
	UploadID   string                 `json:"upload_id"`
	TenantID   string                 `json:"tenant_id"`
	Status     Status                 `json:"status"`
	OccurredAt time.Time              `json:"occurred_at"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// NewEvent builds an event for the upload's current status.
func NewEvent(t EventType, u *Upload, now time.Time, payload map[string]interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		UploadID:   u.ID,
		TenantID:   u.TenantID,
		Status:     u.Status,
		OccurredAt: now.UTC(),
		Payload:    payload,
	}
}

// EventFor maps a target status to its lifecycle event type.
func EventFor(s Status) (EventType, bool) {
	switch s {
	case StatusValidating:
		return EventValidationStarted, true
	case StatusAwaitingConfirm:
		return EventValidated, true
	case StatusValidationFailed:
		return EventValidationFailed, true
	case StatusProcessing:
		return EventConfirmed, true
	case StatusCancelled:
		return EventCancelled, true
	case StatusCompleted:
		return EventCompleted, true
	case StatusFailed:
		return EventFailed, true
	}
	return "", false
}

// EventPublisher delivers lifecycle events. Delivery is best effort; the
// upload state in the repository is authoritative.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

package events

import (
	"context"
	"time"
)

// Event defines the contract for all lifecycle events leaving the sync core.
type Event interface {
	// EventType returns the unique code for this event (e.g., "JOB_COMPLETED").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Publisher accepts lifecycle events. Components take it as an optional
// dependency; a nil Publisher means nobody is listening.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

const (
	TypeStreamCompleted   = "STREAM_COMPLETED"
	TypeStreamFailed      = "STREAM_FAILED"
	TypeStreamCancelled   = "STREAM_CANCELLED"
	TypeJobStatus         = "JOB_STATUS"
	TypeJobCompleted      = "JOB_COMPLETED"
	TypeJobFailed         = "JOB_FAILED"
	TypeSessionTerminated = "SESSION_TERMINATED"
)

type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

func New(eventType string, data map[string]interface{}) BaseEvent {
	if data == nil {
		data = map[string]interface{}{}
	}
	return BaseEvent{Type: eventType, Data: data, OccurredAt: time.Now()}
}

// Emit publishes when p is set and swallows the error; lifecycle export must
// never break the flow that produced the event.
func Emit(ctx context.Context, p Publisher, event Event) {
	if p == nil {
		return
	}
	_ = p.Publish(ctx, event)
}

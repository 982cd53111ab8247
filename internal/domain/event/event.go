// Package event defines the state-change events the notification coordinator
// emits to any number of subscribers.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is a single state change.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Type is the event type, e.g. "notification.received".
	Type string `json:"type"`

	// OccurredAt is when the change was applied locally.
	OccurredAt time.Time `json:"occurred_at"`

	// Data is the JSON-encoded payload.
	Data json.RawMessage `json:"data,omitempty"`
}

// New creates an event with a fresh ID and the JSON encoding of data.
func New(eventType string, data any) (Event, error) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return Event{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
		}
		raw = encoded
	}

	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no payload", e.Type)
	}
	return json.Unmarshal(e.Data, v)
}

// Handler handles a single event.
type Handler func(ctx context.Context, evt Event) error

// Bus is an interface for publishing events
type Bus interface {
	// Publish publishes an event
	Publish(ctx context.Context, evt Event) error
}

// Subscriber registers handlers for event types.
type Subscriber interface {
	// Subscribe registers handler for eventType.
	Subscribe(eventType string, handler Handler) error
}

package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/lllypuk/libranotify/internal/domain/event"
)

// OutboundMessage is a coordinator event as sent to viewers.
type OutboundMessage struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Broadcaster forwards coordinator events from the event bus to the hub.
type Broadcaster struct {
	hub    *Hub
	bus    event.Subscriber
	logger *slog.Logger

	// eventTypes lists which event types to subscribe to.
	eventTypes []string

	// running indicates if the broadcaster is active.
	running bool

	// runningMu protects the running flag.
	runningMu sync.RWMutex
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithBroadcasterLogger sets the logger for the broadcaster.
func WithBroadcasterLogger(logger *slog.Logger) BroadcasterOption {
	return func(b *Broadcaster) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithEventTypes sets which event types to subscribe to.
func WithEventTypes(eventTypes []string) BroadcasterOption {
	return func(b *Broadcaster) {
		b.eventTypes = eventTypes
	}
}

// NewBroadcaster creates a new Broadcaster for every coordinator event type.
func NewBroadcaster(hub *Hub, bus event.Subscriber, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		hub:        hub,
		bus:        bus,
		logger:     slog.Default(),
		eventTypes: event.AllTypes(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Start subscribes to the event bus. It does not block.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.runningMu.Lock()
	if b.running {
		b.runningMu.Unlock()
		return nil
	}
	b.running = true
	b.runningMu.Unlock()

	for _, eventType := range b.eventTypes {
		if err := b.bus.Subscribe(eventType, b.handleEvent); err != nil {
			b.logger.ErrorContext(ctx, "failed to subscribe to event",
				slog.String("event_type", eventType),
				slog.String("error", err.Error()),
			)
			return err
		}
	}

	b.logger.InfoContext(ctx, "event stream broadcaster started",
		slog.Int("event_types", len(b.eventTypes)),
	)

	return nil
}

// IsRunning returns whether the broadcaster is running.
func (b *Broadcaster) IsRunning() bool {
	b.runningMu.RLock()
	defer b.runningMu.RUnlock()
	return b.running
}

func (b *Broadcaster) handleEvent(ctx context.Context, evt event.Event) error {
	data, err := json.Marshal(OutboundMessage{
		ID:         evt.ID,
		Type:       evt.Type,
		OccurredAt: evt.OccurredAt,
		Data:       evt.Data,
	})
	if err != nil {
		b.logger.ErrorContext(ctx, "failed to marshal stream message",
			slog.String("event_type", evt.Type),
			slog.String("error", err.Error()),
		)
		return err
	}

	b.hub.Broadcast(evt.Type, data)
	return nil
}

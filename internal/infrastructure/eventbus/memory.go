package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lllypuk/libranotify/internal/domain/event"
)

// InMemoryBus delivers events synchronously to in-process subscribers, in
// registration order. A failing handler does not stop delivery to the rest.
type InMemoryBus struct {
	// mu protects handlers.
	mu       sync.RWMutex
	handlers map[string][]event.Handler

	logger *slog.Logger
}

// InMemoryOption configures an InMemoryBus.
type InMemoryOption func(*InMemoryBus)

// WithInMemoryLogger sets the logger for the bus.
func WithInMemoryLogger(logger *slog.Logger) InMemoryOption {
	return func(b *InMemoryBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewInMemoryBus creates an empty bus.
func NewInMemoryBus(opts ...InMemoryOption) *InMemoryBus {
	b := &InMemoryBus{
		handlers: make(map[string][]event.Handler),
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Subscribe registers handler for eventType.
func (b *InMemoryBus) Subscribe(eventType string, handler event.Handler) error {
	if eventType == "" {
		return errors.New("event type cannot be empty")
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	return nil
}

// Publish calls every handler for evt.Type and joins their errors.
func (b *InMemoryBus) Publish(ctx context.Context, evt event.Event) error {
	b.mu.RLock()
	handlers := append([]event.Handler(nil), b.handlers[evt.Type]...)
	b.mu.RUnlock()

	var errs []error
	for i, handler := range handlers {
		if err := handler(ctx, evt); err != nil {
			b.logger.WarnContext(ctx, "event handler failed",
				slog.String("event_type", evt.Type),
				slog.Int("handler_index", i),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("handler %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// HandlerCount returns the number of handlers registered for an event type.
func (b *InMemoryBus) HandlerCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

var (
	_ event.Bus        = (*InMemoryBus)(nil)
	_ event.Subscriber = (*InMemoryBus)(nil)
)

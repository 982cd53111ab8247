package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/lllypuk/libranotify/internal/domain/event"
)

// Dead letter queue and logging configuration.
const (
	deadLetterQueueKey    = "libranotify:events:dead_letter"
	defaultMaxDeadLetters = 1000
	defaultDeadLetterPage = 10
	maxPayloadLogLength   = 500
)

// Fanout publishes each event to several buses, e.g. the in-process bus
// that feeds local viewers and the Redis bus that feeds remote ones.
type Fanout []event.Bus

// Publish publishes evt to every bus and joins their errors.
func (f Fanout) Publish(ctx context.Context, evt event.Event) error {
	var errs []error
	for _, bus := range f {
		if err := bus.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoggingHandler writes every coordinator event to the audit log.
type LoggingHandler struct {
	logger *slog.Logger
}

// NewLoggingHandler creates a new LoggingHandler.
func NewLoggingHandler(logger *slog.Logger) *LoggingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingHandler{
		logger: logger,
	}
}

// Handle logs the event.
func (h *LoggingHandler) Handle(ctx context.Context, evt event.Event) error {
	payload := string(evt.Data)
	if len(payload) > maxPayloadLogLength {
		payload = payload[:maxPayloadLogLength] + "..."
	}

	h.logger.InfoContext(ctx, "coordinator event",
		slog.String("event_id", evt.ID),
		slog.String("event_type", evt.Type),
		slog.Time("occurred_at", evt.OccurredAt),
		slog.String("payload", payload),
	)

	return nil
}

// DeadLetterHandler stores events whose handlers kept failing in a capped
// Redis list.
type DeadLetterHandler struct {
	client        *redis.Client
	logger        *slog.Logger
	queueKey      string
	maxDeadLetter int64
}

// DeadLetterEntry is a failed event stored in the dead letter queue.
type DeadLetterEntry struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Error     string          `json:"error"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// DeadLetterHandlerOption configures DeadLetterHandler.
type DeadLetterHandlerOption func(*DeadLetterHandler)

// WithDeadLetterQueueKey sets a custom key for the dead letter queue.
func WithDeadLetterQueueKey(key string) DeadLetterHandlerOption {
	return func(h *DeadLetterHandler) {
		h.queueKey = key
	}
}

// WithDeadLetterLogger sets the logger for DeadLetterHandler.
func WithDeadLetterLogger(logger *slog.Logger) DeadLetterHandlerOption {
	return func(h *DeadLetterHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMaxDeadLetters sets the maximum number of entries to keep.
func WithMaxDeadLetters(maxEntries int64) DeadLetterHandlerOption {
	return func(h *DeadLetterHandler) {
		h.maxDeadLetter = maxEntries
	}
}

// NewDeadLetterHandler creates a new DeadLetterHandler.
func NewDeadLetterHandler(client *redis.Client, opts ...DeadLetterHandlerOption) *DeadLetterHandler {
	h := &DeadLetterHandler{
		client:        client,
		logger:        slog.Default(),
		queueKey:      deadLetterQueueKey,
		maxDeadLetter: defaultMaxDeadLetters,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Handle stores a failed event in the dead letter queue.
func (h *DeadLetterHandler) Handle(ctx context.Context, evt event.Event, err error) {
	entry := DeadLetterEntry{
		EventID:   evt.ID,
		EventType: evt.Type,
		Error:     err.Error(),
		Payload:   evt.Data,
		Timestamp: evt.OccurredAt.Unix(),
	}

	data, marshalErr := json.Marshal(entry)
	if marshalErr != nil {
		h.logger.ErrorContext(ctx, "failed to marshal dead letter entry",
			slog.String("event_type", evt.Type),
			slog.String("error", marshalErr.Error()),
		)
		return
	}

	if pushErr := h.client.LPush(ctx, h.queueKey, string(data)).Err(); pushErr != nil {
		h.logger.ErrorContext(ctx, "failed to push to dead letter queue",
			slog.String("event_type", evt.Type),
			slog.String("error", pushErr.Error()),
		)
		return
	}

	if trimErr := h.client.LTrim(ctx, h.queueKey, 0, h.maxDeadLetter-1).Err(); trimErr != nil {
		h.logger.WarnContext(ctx, "failed to trim dead letter queue",
			slog.String("error", trimErr.Error()),
		)
	}

	h.logger.ErrorContext(ctx, "event moved to dead letter queue",
		slog.String("event_type", evt.Type),
		slog.String("event_id", evt.ID),
		slog.String("original_error", err.Error()),
	)
}

// GetDeadLetters returns up to count of the newest entries.
func (h *DeadLetterHandler) GetDeadLetters(ctx context.Context, count int64) ([]DeadLetterEntry, error) {
	if count <= 0 {
		count = defaultDeadLetterPage
	}

	data, err := h.client.LRange(ctx, h.queueKey, 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letters: %w", err)
	}

	entries := make([]DeadLetterEntry, 0, len(data))
	for _, d := range data {
		var entry DeadLetterEntry
		if unmarshalErr := json.Unmarshal([]byte(d), &entry); unmarshalErr != nil {
			h.logger.WarnContext(ctx, "failed to unmarshal dead letter entry",
				slog.String("error", unmarshalErr.Error()),
			)
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// ClearDeadLetters removes all entries from the dead letter queue.
func (h *DeadLetterHandler) ClearDeadLetters(ctx context.Context) error {
	return h.client.Del(ctx, h.queueKey).Err()
}

// QueueLength returns the number of entries in the dead letter queue.
func (h *DeadLetterHandler) QueueLength(ctx context.Context) (int64, error) {
	return h.client.LLen(ctx, h.queueKey).Result()
}

// RegisterLoggingHandler subscribes handler to every coordinator event type.
func RegisterLoggingHandler(bus event.Subscriber, handler *LoggingHandler) error {
	for _, eventType := range event.AllTypes() {
		if err := bus.Subscribe(eventType, handler.Handle); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
		}
	}
	return nil
}

package websocket

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Default viewer configuration constants.
const (
	defaultReadBufferSize  = 1024
	defaultWriteBufferSize = 1024
	defaultPingInterval    = 30 * time.Second
	defaultPongWait        = 60 * time.Second
	defaultWriteWait       = 10 * time.Second
	defaultMaxMessageSize  = 4096
	defaultSendBufferSize  = 256
)

// ViewerConfig holds configuration for display stream connections.
type ViewerConfig struct {
	// ReadBufferSize is the size of the read buffer.
	ReadBufferSize int

	// WriteBufferSize is the size of the write buffer.
	WriteBufferSize int

	// PingInterval is the interval for sending ping messages.
	PingInterval time.Duration

	// PongWait is the maximum time to wait for a pong response.
	PongWait time.Duration

	// WriteWait is the maximum time to wait for a write operation.
	WriteWait time.Duration

	// MaxMessageSize is the maximum allowed inbound message size.
	MaxMessageSize int64
}

// DefaultViewerConfig returns sensible default configuration.
func DefaultViewerConfig() ViewerConfig {
	return ViewerConfig{
		ReadBufferSize:  defaultReadBufferSize,
		WriteBufferSize: defaultWriteBufferSize,
		PingInterval:    defaultPingInterval,
		PongWait:        defaultPongWait,
		WriteWait:       defaultWriteWait,
		MaxMessageSize:  defaultMaxMessageSize,
	}
}

// ViewerMessage is a control message sent by a viewer.
type ViewerMessage struct {
	Type   string   `json:"type"`
	Events []string `json:"events,omitempty"`
}

// Viewer is a display-side WebSocket connection receiving coordinator
// events. A viewer with no event filter receives every event.
type Viewer struct {
	// id identifies the connection in logs.
	id string

	// hub is the hub this viewer belongs to.
	hub *Hub

	// conn is the underlying WebSocket connection.
	conn *websocket.Conn

	// send is the channel for outgoing messages.
	send chan []byte

	// events is the event type filter.
	events map[string]bool

	// mu protects events.
	mu sync.RWMutex

	config ViewerConfig
	logger *slog.Logger

	// closed indicates if the connection has been closed.
	closed bool

	// closedMu protects the closed flag.
	closedMu sync.RWMutex
}

// ViewerOption configures a Viewer.
type ViewerOption func(*Viewer)

// WithViewerConfig sets the viewer configuration.
func WithViewerConfig(config ViewerConfig) ViewerOption {
	return func(v *Viewer) {
		v.config = config
	}
}

// WithViewerLogger sets the logger for the viewer.
func WithViewerLogger(logger *slog.Logger) ViewerOption {
	return func(v *Viewer) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewViewer creates a viewer for conn.
func NewViewer(hub *Hub, conn *websocket.Conn, opts ...ViewerOption) *Viewer {
	v := &Viewer{
		id:     uuid.New().String(),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, defaultSendBufferSize),
		events: make(map[string]bool),
		config: DefaultViewerConfig(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// ID returns the connection id.
func (v *Viewer) ID() string {
	return v.id
}

// Events returns the sorted event filter.
func (v *Viewer) Events() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	types := make([]string, 0, len(v.events))
	for t := range v.events {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Subscribe adds event types to the filter.
func (v *Viewer) Subscribe(eventTypes ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, t := range eventTypes {
		v.events[t] = true
	}
}

// Unsubscribe removes event types from the filter.
func (v *Viewer) Unsubscribe(eventTypes ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, t := range eventTypes {
		delete(v.events, t)
	}
}

// Wants reports whether the viewer should receive eventType.
func (v *Viewer) Wants(eventType string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.events) == 0 || v.events[eventType]
}

// IsClosed returns whether the connection has been closed.
func (v *Viewer) IsClosed() bool {
	v.closedMu.RLock()
	defer v.closedMu.RUnlock()
	return v.closed
}

// ReadPump reads control messages from the connection.
// It should be run as a goroutine.
func (v *Viewer) ReadPump() {
	defer func() {
		v.hub.Unregister(v)
	}()

	v.conn.SetReadLimit(v.config.MaxMessageSize)

	if err := v.conn.SetReadDeadline(time.Now().Add(v.config.PongWait)); err != nil {
		v.logger.Error("failed to set read deadline", slog.String("error", err.Error()))
		return
	}

	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(v.config.PongWait))
	})

	for {
		_, message, err := v.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				v.logger.Warn("websocket read error",
					slog.String("viewer_id", v.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		v.handleViewerMessage(message)
	}
}

// WritePump writes queued messages and pings to the connection.
// It should be run as a goroutine.
func (v *Viewer) WritePump() {
	ticker := time.NewTicker(v.config.PingInterval)
	defer func() {
		ticker.Stop()
		v.Close()
	}()

	for {
		select {
		case message, ok := <-v.send:
			if err := v.conn.SetWriteDeadline(time.Now().Add(v.config.WriteWait)); err != nil {
				v.logger.Error("failed to set write deadline", slog.String("error", err.Error()))
				return
			}

			if !ok {
				_ = v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := v.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				v.logger.Warn("websocket write error",
					slog.String("viewer_id", v.id),
					slog.String("error", err.Error()),
				)
				return
			}

		case <-ticker.C:
			if err := v.conn.SetWriteDeadline(time.Now().Add(v.config.WriteWait)); err != nil {
				v.logger.Error("failed to set write deadline", slog.String("error", err.Error()))
				return
			}

			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleViewerMessage processes a control message.
func (v *Viewer) handleViewerMessage(message []byte) {
	var msg ViewerMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		v.logger.Warn("invalid viewer message",
			slog.String("viewer_id", v.id),
			slog.String("error", err.Error()),
		)
		v.sendError("invalid message format")
		return
	}

	switch msg.Type {
	case "subscribe":
		if len(msg.Events) == 0 {
			v.sendError("events are required for subscribe")
			return
		}
		v.Subscribe(msg.Events...)
		v.sendAck("subscribed")

	case "unsubscribe":
		if len(msg.Events) == 0 {
			v.sendError("events are required for unsubscribe")
			return
		}
		v.Unsubscribe(msg.Events...)
		v.sendAck("unsubscribed")

	case "ping":
		v.sendPong()

	default:
		v.logger.Debug("unknown message type",
			slog.String("viewer_id", v.id),
			slog.String("type", msg.Type),
		)
		v.sendError("unknown message type: " + msg.Type)
	}
}

func (v *Viewer) sendError(message string) {
	data, _ := json.Marshal(map[string]any{
		"type":    "error",
		"message": message,
	})
	v.Send(data)
}

func (v *Viewer) sendAck(action string) {
	data, _ := json.Marshal(map[string]any{
		"type":   "ack",
		"action": action,
		"events": v.Events(),
	})
	v.Send(data)
}

func (v *Viewer) sendPong() {
	data, _ := json.Marshal(map[string]string{"type": "pong"})
	v.Send(data)
}

// Send queues a message. It drops the message when the buffer is full.
func (v *Viewer) Send(message []byte) {
	v.closedMu.RLock()
	defer v.closedMu.RUnlock()

	if v.closed {
		return
	}

	select {
	case v.send <- message:
	default:
		v.logger.Warn("viewer send buffer full", slog.String("viewer_id", v.id))
	}
}

// Close closes the connection.
func (v *Viewer) Close() {
	v.closedMu.Lock()
	defer v.closedMu.Unlock()

	if v.closed {
		return
	}
	v.closed = true

	close(v.send)
	_ = v.conn.Close()

	v.logger.Debug("viewer connection closed", slog.String("viewer_id", v.id))
}

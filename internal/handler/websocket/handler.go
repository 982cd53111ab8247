// Package websocket provides the HTTP handler for the display event stream.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	notifapp "github.com/lllypuk/libranotify/internal/application/notification"
	"github.com/lllypuk/libranotify/internal/infrastructure/httpserver"
	ws "github.com/lllypuk/libranotify/internal/infrastructure/websocket"
)

// SnapshotMessageType is the type of the first message on every stream.
const SnapshotMessageType = "snapshot"

// SnapshotSource provides the state sent when a viewer connects.
// Declared on the consumer side per project guidelines.
type SnapshotSource interface {
	Snapshot() notifapp.Snapshot
}

// HandlerConfig holds configuration for the stream handler.
type HandlerConfig struct {
	// CheckOrigin returns true if the request origin is acceptable.
	// If nil, only same-host origins are accepted.
	CheckOrigin func(r *http.Request) bool

	// ViewerConfig is the configuration for stream connections.
	ViewerConfig ws.ViewerConfig
}

// Handler upgrades display clients to the event stream.
type Handler struct {
	hub      *ws.Hub
	source   SnapshotSource
	upgrader websocket.Upgrader
	viewer   ws.ViewerConfig
	logger   *slog.Logger
	now      func() time.Time
}

// HandlerOption configures the Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the logger for the handler.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithHandlerConfig sets the handler configuration.
func WithHandlerConfig(config HandlerConfig) HandlerOption {
	return func(h *Handler) {
		if config.CheckOrigin != nil {
			h.upgrader.CheckOrigin = config.CheckOrigin
		}
		h.upgrader.ReadBufferSize = config.ViewerConfig.ReadBufferSize
		h.upgrader.WriteBufferSize = config.ViewerConfig.WriteBufferSize
		h.viewer = config.ViewerConfig
	}
}

// NewHandler creates a stream handler that registers viewers with hub.
func NewHandler(hub *ws.Hub, source SnapshotSource, opts ...HandlerOption) *Handler {
	viewer := ws.DefaultViewerConfig()
	h := &Handler{
		hub:    hub,
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  viewer.ReadBufferSize,
			WriteBufferSize: viewer.WriteBufferSize,
		},
		viewer: viewer,
		logger: slog.Default(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// RegisterRoutes registers the stream route.
func (h *Handler) RegisterRoutes(r *httpserver.Router) {
	r.Stream().GET("/notifications/stream", h.HandleStream)
}

// HandleStream handles GET /api/v1/notifications/stream.
// The first message is a snapshot of the coordinator state. After that the
// viewer receives coordinator events, optionally restricted by a
// comma-separated ?events= filter.
func (h *Handler) HandleStream(c echo.Context) error {
	if !h.hub.IsRunning() {
		return httpserver.RespondErrorWithCode(c, http.StatusServiceUnavailable, "STREAM_UNAVAILABLE", "event stream is not running")
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("stream upgrade failed",
			slog.String("remote_ip", c.RealIP()),
			slog.String("error", err.Error()),
		)
		return nil // Upgrade already sent an error response
	}

	viewer := ws.NewViewer(h.hub, conn,
		ws.WithViewerConfig(h.viewer),
		ws.WithViewerLogger(h.logger),
	)
	if filter := parseEvents(c.QueryParam("events")); len(filter) > 0 {
		viewer.Subscribe(filter...)
	}

	// The snapshot is taken once the hub has registered the viewer, so no
	// event falls between the snapshot and the first broadcast it receives.
	h.hub.RegisterWith(viewer, func(v *ws.Viewer) error {
		snapshot, err := h.snapshotMessage()
		if err != nil {
			return fmt.Errorf("failed to encode snapshot: %w", err)
		}
		v.Send(snapshot)
		return nil
	})

	h.logger.Info("stream connection established",
		slog.String("viewer_id", viewer.ID()),
		slog.String("remote_ip", c.RealIP()),
		slog.Any("events", viewer.Events()),
	)

	go viewer.WritePump()
	go viewer.ReadPump()

	return nil
}

func (h *Handler) snapshotMessage() ([]byte, error) {
	data, err := json.Marshal(h.source.Snapshot())
	if err != nil {
		return nil, err
	}
	return json.Marshal(ws.OutboundMessage{
		Type:       SnapshotMessageType,
		OccurredAt: h.now().UTC(),
		Data:       data,
	})
}

func parseEvents(raw string) []string {
	var events []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			events = append(events, part)
		}
	}
	return events
}

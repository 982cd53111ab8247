package websocket

import (
	"context"
	"log/slog"
	"sync"
)

const defaultBroadcastBufferSize = 256

// Hub fans coordinator events out to display viewers.
type Hub struct {
	// viewers holds all connected viewers.
	viewers map[*Viewer]bool

	// register channel for new viewers.
	register chan registration

	// unregister channel for departing viewers.
	unregister chan *Viewer

	// broadcast channel for messages to fan out.
	broadcast chan *broadcastMessage

	// mu protects viewers.
	mu sync.RWMutex

	logger *slog.Logger

	// done signals when the hub should stop.
	done chan struct{}

	// running indicates if the hub is currently running.
	running bool

	// runningMu protects the running flag.
	runningMu sync.RWMutex
}

type registration struct {
	viewer *Viewer
	onRegistered func(*Viewer) error
}

type broadcastMessage struct {
	eventType string
	message   []byte
}

// HubOption configures the Hub.
type HubOption func(*Hub)

// WithHubLogger sets the logger for the hub.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHub creates a new Hub with the given options.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		viewers:    make(map[*Viewer]bool),
		register:   make(chan registration),
		unregister: make(chan *Viewer),
		broadcast:  make(chan *broadcastMessage, defaultBroadcastBufferSize),
		logger:     slog.Default(),
		done:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Run starts the hub's main event loop.
// It should be run as a goroutine.
func (h *Hub) Run(ctx context.Context) {
	h.runningMu.Lock()
	if h.running {
		h.runningMu.Unlock()
		return
	}
	h.running = true
	h.runningMu.Unlock()

	h.logger.InfoContext(ctx, "event stream hub started")

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case <-h.done:
			h.shutdown()
			return

		case reg := <-h.register:
			h.registerViewer(reg)

		case viewer := <-h.unregister:
			h.unregisterViewer(viewer)

		case msg := <-h.broadcast:
			h.handleBroadcast(msg)
		}
	}
}

// Stop signals the hub to stop.
func (h *Hub) Stop() {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()

	if !h.running {
		return
	}

	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

func (h *Hub) shutdown() {
	// done is closed here too so Register and Broadcast never block on a
	// hub stopped through its context.
	h.runningMu.Lock()
	h.running = false
	select {
	case <-h.done:
	default:
		close(h.done)
	}
	h.runningMu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	for viewer := range h.viewers {
		viewer.Close()
	}
	h.viewers = make(map[*Viewer]bool)

	h.logger.Info("event stream hub stopped")
}

// Register adds a viewer to the hub.
func (h *Hub) Register(viewer *Viewer) {
	h.RegisterWith(viewer, nil)
}

// RegisterWith adds a viewer and runs onRegistered on the hub goroutine
// right after, before any later broadcast is handled. Messages queued by
// onRegistered therefore precede every event broadcast after it ran. If
// onRegistered fails the viewer is removed and closed.
func (h *Hub) RegisterWith(viewer *Viewer, onRegistered func(*Viewer) error) {
	select {
	case h.register <- registration{viewer: viewer, onRegistered: onRegistered}:
	case <-h.done:
		viewer.Close()
	}
}

// Unregister removes a viewer from the hub.
func (h *Hub) Unregister(viewer *Viewer) {
	select {
	case h.unregister <- viewer:
	case <-h.done:
	}
}

func (h *Hub) registerViewer(reg registration) {
	viewer := reg.viewer

	h.mu.Lock()
	h.viewers[viewer] = true
	total := len(h.viewers)
	h.mu.Unlock()

	h.logger.Debug("viewer registered",
		slog.String("viewer_id", viewer.ID()),
		slog.Int("total_viewers", total),
	)

	if reg.onRegistered == nil {
		return
	}
	if err := reg.onRegistered(viewer); err != nil {
		h.logger.Error("viewer registration hook failed",
			slog.String("viewer_id", viewer.ID()),
			slog.String("error", err.Error()),
		)
		h.unregisterViewer(viewer)
	}
}

func (h *Hub) unregisterViewer(viewer *Viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.viewers[viewer]; !ok {
		return
	}

	delete(h.viewers, viewer)
	viewer.Close()

	h.logger.Debug("viewer unregistered",
		slog.String("viewer_id", viewer.ID()),
		slog.Int("total_viewers", len(h.viewers)),
	)
}

// Broadcast queues message for every viewer that wants eventType.
func (h *Hub) Broadcast(eventType string, message []byte) {
	select {
	case h.broadcast <- &broadcastMessage{eventType: eventType, message: message}:
	case <-h.done:
	}
}

func (h *Hub) handleBroadcast(msg *broadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for viewer := range h.viewers {
		if !viewer.Wants(msg.eventType) {
			continue
		}
		viewer.Send(msg.message)
	}
}

// ViewerCount returns the number of connected viewers.
func (h *Hub) ViewerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// IsRunning returns whether the hub is currently running.
func (h *Hub) IsRunning() bool {
	h.runningMu.RLock()
	defer h.runningMu.RUnlock()
	return h.running
}

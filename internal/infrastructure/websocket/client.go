// Package websocket implements the push channel client: a STOMP session over
// a WebSocket, subscribed to the per-user notification topics, with bounded
// automatic reconnection.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lllypuk/libranotify/internal/domain/errs"
	"github.com/lllypuk/libranotify/internal/domain/notification"
	"github.com/lllypuk/libranotify/internal/infrastructure/auth"
)

// Default topic destinations.
const (
	DefaultNotificationTopic = "/user/queue/notifications"
	DefaultUnreadCountTopic  = "/user/queue/notifications/unread-count"
)

// Message outcomes reported to Metrics.
const (
	OutcomeDelivered = "delivered"
	OutcomeMalformed = "malformed"
)

// ErrSessionClosed is reported when a session ends without a transport error.
var ErrSessionClosed = errors.New("push session closed")

// Session is an established broker session.
type Session interface {
	// Subscribe delivers every message body on destination to handler.
	Subscribe(destination string, handler func(body []byte)) error

	// Send publishes body to destination.
	Send(destination string, body []byte) error

	// Done is closed when the session ends for any reason.
	Done() <-chan struct{}

	// Err returns the reason the session ended.
	Err() error

	// Close ends the session.
	Close() error
}

// Dialer establishes broker sessions.
type Dialer interface {
	// Dial performs the transport and broker handshake using token.
	Dial(ctx context.Context, token string) (Session, error)
}

// Metrics receives push channel measurements.
// Declared on the consumer side per project guidelines.
type Metrics interface {
	PushStateChanged(state string)
	PushRetryScheduled()
	PushMessageReceived(topic, outcome string)
}

// Topics holds the two subscribed destinations.
type Topics struct {
	Notifications string
	UnreadCount   string
}

// DefaultTopics returns the destinations the library broker uses.
func DefaultTopics() Topics {
	return Topics{
		Notifications: DefaultNotificationTopic,
		UnreadCount:   DefaultUnreadCountTopic,
	}
}

// Client maintains the push subscription for the signed-in user.
//
// Each On* hook holds a single callback and the last registration wins.
// Register every hook once, before Connect; fan-out to several consumers
// belongs to the caller.
type Client struct {
	// id identifies this client instance in logs.
	id string

	dialer  Dialer
	tokens  auth.TokenSource
	topics  Topics
	policy  RetryPolicy
	logger  *slog.Logger
	metrics Metrics

	// mu protects the connection state below.
	mu         sync.Mutex
	state      State
	attempts   int
	session    Session
	retryTimer *time.Timer

	// generation invalidates in-flight dials, retries and session
	// watchers after Connect or Disconnect.
	generation uint64

	// handlersMu protects the callback slots.
	handlersMu     sync.RWMutex
	onNotification func(notification.Notification)
	onUnreadCount  func(int)
	onConnect      func()
	onDisconnect   func()
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTopics overrides the subscribed destinations.
func WithTopics(topics Topics) ClientOption {
	return func(c *Client) {
		c.topics = topics
	}
}

// WithRetryPolicy overrides the reconnection policy.
func WithRetryPolicy(policy RetryPolicy) ClientOption {
	return func(c *Client) {
		c.policy = policy
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// NewClient creates a disconnected push channel client.
func NewClient(dialer Dialer, tokens auth.TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		id:     uuid.New().String(),
		dialer: dialer,
		tokens: tokens,
		topics: DefaultTopics(),
		policy: DefaultRetryPolicy(),
		logger: slog.Default(),
		state:  StateDisconnected,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With(slog.String("push_client_id", c.id))

	return c
}

// OnNotification sets the callback for inbound notifications.
func (c *Client) OnNotification(callback func(notification.Notification)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onNotification = callback
}

// OnUnreadCountUpdate sets the callback for inbound unread-count updates.
func (c *Client) OnUnreadCountUpdate(callback func(int)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onUnreadCount = callback
}

// OnConnect sets the callback invoked after a successful handshake.
func (c *Client) OnConnect(callback func()) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onConnect = callback
}

// OnDisconnect sets the callback invoked on handshake failure, session loss
// and explicit disconnect.
func (c *Client) OnDisconnect(callback func()) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onDisconnect = callback
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether a session is established.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Attempts returns the number of automatic retries since the last
// successful handshake or manual Connect.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect establishes the session with the current token. It blocks for the
// duration of the handshake and never returns an error: a missing token is
// logged and ignored, a failed handshake is logged, reported through the
// disconnect callback and retried according to the policy.
// Connect resets the retry counter. Cancelling ctx aborts the handshake in
// progress but not the retries scheduled after it; use Disconnect for that.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		state := c.state
		c.mu.Unlock()
		c.logger.DebugContext(ctx, "push channel already active", slog.String("state", state.String()))
		return
	}
	c.stopRetryLocked()
	c.attempts = 0
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	c.dial(ctx, gen)
}

// Disconnect closes the session and cancels any pending retry. The
// disconnect callback fires only if a session was established. Calling
// Disconnect on a disconnected client is a no-op.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.stopRetryLocked()
	c.generation++
	session := c.session
	c.session = nil
	wasConnected := c.state == StateConnected
	if c.state != StateDisconnected {
		c.setStateLocked(StateDisconnected)
	}
	c.mu.Unlock()

	if session != nil {
		if err := session.Close(); err != nil {
			c.logger.Warn("failed to close push session", slog.String("error", err.Error()))
		}
	}

	if wasConnected {
		c.logger.Info("push channel disconnected")
		c.fireDisconnect()
	}
}

// Send publishes payload as JSON to destination. When the channel is not
// connected the message is logged and dropped.
func (c *Client) Send(destination string, payload any) {
	c.mu.Lock()
	session := c.session
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || session == nil {
		c.logger.Warn("push channel not connected, dropping message",
			slog.String("destination", destination),
		)
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("failed to encode outbound message",
			slog.String("destination", destination),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := session.Send(destination, body); err != nil {
		c.logger.Warn("failed to send message",
			slog.String("destination", destination),
			slog.String("error", err.Error()),
		)
	}
}

// dial runs one connection attempt for generation gen.
func (c *Client) dial(ctx context.Context, gen uint64) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, errs.ErrNoToken) {
			c.logger.WarnContext(ctx, "no authentication token found, skipping push connection")
			return
		}
		c.handleFailure(ctx, gen, fmt.Errorf("failed to get token: %w", err))
		return
	}
	c.inspectToken(ctx, token)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	session, err := c.dialer.Dial(ctx, token)
	if err != nil {
		c.handleFailure(ctx, gen, err)
		return
	}

	if err := c.subscribe(session); err != nil {
		_ = session.Close()
		c.handleFailure(ctx, gen, err)
		return
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		_ = session.Close()
		return
	}
	c.session = session
	c.attempts = 0
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "push channel connected",
		slog.String("notification_topic", c.topics.Notifications),
		slog.String("unread_count_topic", c.topics.UnreadCount),
	)

	go c.watch(ctx, session, gen)

	if callback := c.connectHandler(); callback != nil {
		callback()
	}
}

// subscribe registers both topic handlers on session.
func (c *Client) subscribe(session Session) error {
	if err := session.Subscribe(c.topics.Notifications, c.handleNotification); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.topics.Notifications, err)
	}
	if err := session.Subscribe(c.topics.UnreadCount, c.handleUnreadCount); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.topics.UnreadCount, err)
	}
	return nil
}

// watch waits for the session to end and treats an unexpected end as a
// failure. Sessions closed by Disconnect belong to an older generation.
func (c *Client) watch(ctx context.Context, session Session, gen uint64) {
	<-session.Done()

	err := session.Err()
	if err == nil {
		err = ErrSessionClosed
	}
	c.handleFailure(ctx, gen, fmt.Errorf("push session lost: %w", err))
}

// handleFailure moves to Disconnected with a retry scheduled, or to
// Exhausted, and fires the disconnect callback.
func (c *Client) handleFailure(ctx context.Context, gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.session = nil

	delay, retry := c.policy.Next(c.attempts)
	if retry {
		c.attempts++
		c.setStateLocked(StateDisconnected)
		retryCtx := context.WithoutCancel(ctx)
		c.retryTimer = time.AfterFunc(delay, func() {
			c.retry(retryCtx, gen)
		})
	} else {
		c.setStateLocked(StateExhausted)
	}
	attempt := c.attempts
	c.mu.Unlock()

	c.logger.ErrorContext(ctx, "push connection error", slog.String("error", cause.Error()))

	if retry {
		c.logger.InfoContext(ctx, "attempting to reconnect",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.policy.MaxAttempts),
			slog.Duration("delay", delay),
		)
		if c.metrics != nil {
			c.metrics.PushRetryScheduled()
		}
	} else {
		c.logger.ErrorContext(ctx, "max reconnection attempts reached",
			slog.Int("max_attempts", c.policy.MaxAttempts),
		)
	}

	c.fireDisconnect()
}

// retry runs a scheduled reconnection if nothing superseded it.
func (c *Client) retry(ctx context.Context, gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.retryTimer = nil
	c.mu.Unlock()

	c.dial(ctx, gen)
}

// handleNotification parses a notification-topic payload.
// Malformed payloads are dropped; the subscription stays alive.
func (c *Client) handleNotification(body []byte) {
	n, err := notification.Decode(body)
	if err != nil {
		c.logger.Warn("dropping malformed notification payload",
			slog.String("topic", c.topics.Notifications),
			slog.String("error", err.Error()),
		)
		c.recordMessage(c.topics.Notifications, OutcomeMalformed)
		return
	}
	c.recordMessage(c.topics.Notifications, OutcomeDelivered)

	c.logger.Debug("received notification", slog.Int64("notification_id", n.ID))

	c.handlersMu.RLock()
	callback := c.onNotification
	c.handlersMu.RUnlock()
	if callback != nil {
		callback(n)
	}
}

// handleUnreadCount parses an unread-count payload.
func (c *Client) handleUnreadCount(body []byte) {
	count, err := notification.DecodeUnreadCount(body)
	if err != nil {
		c.logger.Warn("dropping malformed unread count payload",
			slog.String("topic", c.topics.UnreadCount),
			slog.String("error", err.Error()),
		)
		c.recordMessage(c.topics.UnreadCount, OutcomeMalformed)
		return
	}
	c.recordMessage(c.topics.UnreadCount, OutcomeDelivered)

	c.logger.Debug("received unread count update", slog.Int("unread_count", count))

	c.handlersMu.RLock()
	callback := c.onUnreadCount
	c.handlersMu.RUnlock()
	if callback != nil {
		callback(count)
	}
}

// inspectToken warns about tokens that are already expired.
func (c *Client) inspectToken(ctx context.Context, token string) {
	info, err := auth.Inspect(token)
	if err != nil {
		return
	}
	if info.Expired(time.Now()) {
		c.logger.WarnContext(ctx, "bearer token is expired, broker may reject the handshake",
			slog.Time("expires_at", info.ExpiresAt),
		)
	}
}

func (c *Client) connectHandler() func() {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	return c.onConnect
}

func (c *Client) fireDisconnect() {
	c.handlersMu.RLock()
	callback := c.onDisconnect
	c.handlersMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) recordMessage(topic, outcome string) {
	if c.metrics != nil {
		c.metrics.PushMessageReceived(topic, outcome)
	}
}

// setStateLocked updates the state. Caller must hold mu.
func (c *Client) setStateLocked(state State) {
	c.state = state
	if c.metrics != nil {
		c.metrics.PushStateChanged(state.String())
	}
}

// stopRetryLocked cancels a pending retry. Caller must hold mu.
func (c *Client) stopRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// Package notification holds the notification state coordinator: the single
// in-memory view of the user's notifications, kept current by an initial
// load, a periodic poll and the push channel.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lllypuk/libranotify/internal/domain/event"
	"github.com/lllypuk/libranotify/internal/domain/notification"
)

// DefaultPollInterval is the period of the poll loop.
const DefaultPollInterval = 120 * time.Second

// Command names reported to Metrics.
const (
	CommandMarkRead    = "mark_read"
	CommandMarkAllRead = "mark_all_read"
)

// Snapshot is a consistent copy of the coordinator state.
type Snapshot struct {
	Notifications       []notification.Notification `json:"notifications"`
	UnreadCount         int                         `json:"unreadCount"`
	Loading             bool                        `json:"loading"`
	AutoRefreshEnabled  bool                        `json:"autoRefreshEnabled"`
	ConsecutiveFailures int                         `json:"consecutiveFailures"`
	PushConnected       bool                        `json:"pushConnected"`
	LastRefreshAt       *time.Time                  `json:"lastRefreshAt,omitempty"`
}

// Coordinator reconciles the REST API and the push channel into one view.
//
// All state sits behind mu; network calls run outside it. A poll result and
// a push event that race are applied in arrival order, last writer wins.
type Coordinator struct {
	api          API
	push         PushChannel
	bus          event.Bus
	metrics      Metrics
	logger       *slog.Logger
	pollInterval time.Duration
	now          func() time.Time

	// mu protects the state below.
	mu            sync.Mutex
	notifications []notification.Notification
	unreadCount   int
	loading       bool
	autoRefresh   bool
	failures      int
	lastRefreshAt time.Time

	// autoRefreshChanged wakes the poll loop on flag transitions.
	autoRefreshChanged chan struct{}

	// lifecycleMu protects started, cancel and loopDone.
	lifecycleMu sync.Mutex
	started     bool
	cancel      context.CancelFunc
	loopDone    chan struct{}

	// connects tracks push Connect calls in flight.
	connects sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger for the coordinator.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEventBus sets where state-change events are published.
func WithEventBus(bus event.Bus) Option {
	return func(c *Coordinator) {
		c.bus = bus
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = metrics
	}
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Coordinator) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithClock overrides the time source used for read timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator creates a coordinator with an empty list, a zero unread
// count and auto-refresh enabled. push may be nil.
func NewCoordinator(api API, push PushChannel, opts ...Option) *Coordinator {
	c := &Coordinator{
		api:                api,
		push:               push,
		logger:             slog.Default(),
		pollInterval:       DefaultPollInterval,
		now:                time.Now,
		notifications:      []notification.Notification{},
		autoRefresh:        true,
		autoRefreshChanged: make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Start wires the push callbacks, connects the push channel in the
// background, performs exactly one initial Refresh and starts the poll loop.
func (c *Coordinator) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	if c.started {
		c.lifecycleMu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.started = true
	c.cancel = cancel
	c.loopDone = make(chan struct{})
	loopDone := c.loopDone
	c.lifecycleMu.Unlock()

	if c.push != nil {
		c.push.OnNotification(c.handlePushNotification)
		c.push.OnUnreadCountUpdate(c.handlePushUnreadCount)
		c.push.OnConnect(c.handlePushConnect)
		c.push.OnDisconnect(c.handlePushDisconnect)
		c.connectPush(runCtx)
	}

	c.Refresh(runCtx)

	go c.pollLoop(runCtx, loopDone)

	c.logger.InfoContext(ctx, "notification coordinator started",
		slog.Duration("poll_interval", c.pollInterval),
	)

	return nil
}

// Stop ends the poll loop and disconnects the push channel. It is safe to
// call more than once.
func (c *Coordinator) Stop() {
	c.lifecycleMu.Lock()
	if !c.started {
		c.lifecycleMu.Unlock()
		return
	}
	c.started = false
	cancel := c.cancel
	loopDone := c.loopDone
	c.lifecycleMu.Unlock()

	cancel()
	<-loopDone
	c.connects.Wait()

	if c.push != nil {
		c.push.Disconnect()
	}

	c.logger.Info("notification coordinator stopped")
}

// Refresh fetches the list and the unread count concurrently and replaces
// local state with both. A call made while another is in flight is dropped.
// Failures are logged and disable auto-refresh; they are never returned.
func (c *Coordinator) Refresh(ctx context.Context) {
	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		c.logger.DebugContext(ctx, "refresh already in flight, skipping")
		return
	}
	c.loading = true
	c.mu.Unlock()

	started := time.Now()

	var (
		list  []notification.Notification
		count int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fetched, err := c.api.ListNotifications(gctx)
		if err != nil {
			return fmt.Errorf("failed to list notifications: %w", err)
		}
		list = fetched
		return nil
	})
	g.Go(func() error {
		fetched, err := c.api.UnreadCount(gctx)
		if err != nil {
			return fmt.Errorf("failed to get unread count: %w", err)
		}
		count = fetched
		return nil
	})
	err := g.Wait()

	// Cancellation by the caller (e.g. Stop during a poll) is an abort.
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
		c.logger.DebugContext(ctx, "refresh aborted", slog.String("error", err.Error()))
		return
	}

	if c.metrics != nil {
		c.metrics.RefreshCompleted(err == nil, time.Since(started))
	}

	if err != nil {
		c.mu.Lock()
		c.loading = false
		c.failures++
		failures := c.failures
		autoChanged := c.setAutoRefreshLocked(false)
		c.mu.Unlock()

		c.logger.ErrorContext(ctx, "failed to refresh notifications",
			slog.String("error", err.Error()),
			slog.Int("consecutive_failures", failures),
		)

		c.publish(ctx, event.TypeRefreshFailed, event.RefreshFailedPayload{
			Error:               err.Error(),
			ConsecutiveFailures: failures,
		})
		if autoChanged {
			c.publish(ctx, event.TypeAutoRefreshChanged, event.AutoRefreshPayload{Enabled: false})
		}
		return
	}

	if list == nil {
		list = []notification.Notification{}
	}

	c.mu.Lock()
	c.loading = false
	c.notifications = list
	countChanged := c.setUnreadLocked(count)
	unread := c.unreadCount
	c.failures = 0
	c.lastRefreshAt = c.now()
	autoChanged := c.setAutoRefreshLocked(true)
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "notifications refreshed",
		slog.Int("count", len(list)),
		slog.Int("unread_count", unread),
	)

	c.publish(ctx, event.TypeNotificationsRefreshed, event.RefreshedPayload{
		Count:       len(list),
		UnreadCount: unread,
	})
	if countChanged {
		c.publish(ctx, event.TypeUnreadCountChanged, event.UnreadCountPayload{UnreadCount: unread})
	}
	if autoChanged {
		c.publish(ctx, event.TypeAutoRefreshChanged, event.AutoRefreshPayload{Enabled: true})
	}
}

// MarkAsRead marks id as read on the server, then locally. The unread count
// drops by one only if the local entry was unread. On failure nothing
// changes locally and the error is returned.
func (c *Coordinator) MarkAsRead(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidNotificationID, id)
	}

	if err := c.api.MarkAsRead(ctx, id); err != nil {
		c.recordCommand(CommandMarkRead, false)
		c.logger.ErrorContext(ctx, "failed to mark notification as read",
			slog.Int64("notification_id", id),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to mark notification %d as read: %w", id, err)
	}
	c.recordCommand(CommandMarkRead, true)

	at := c.now()

	c.mu.Lock()
	marked := false
	for i := range c.notifications {
		if c.notifications[i].ID == id {
			marked = c.notifications[i].MarkRead(at)
			break
		}
	}
	countChanged := false
	if marked {
		countChanged = c.setUnreadLocked(c.unreadCount - 1)
	}
	unread := c.unreadCount
	c.mu.Unlock()

	if marked {
		c.publish(ctx, event.TypeNotificationRead, event.ReadPayload{NotificationID: id})
	}
	if countChanged {
		c.publish(ctx, event.TypeUnreadCountChanged, event.UnreadCountPayload{UnreadCount: unread})
	}

	return nil
}

// MarkAllAsRead marks everything read on the server, then stamps every
// unread local entry and zeroes the count. On failure nothing changes
// locally and the error is returned.
func (c *Coordinator) MarkAllAsRead(ctx context.Context) error {
	if err := c.api.MarkAllAsRead(ctx); err != nil {
		c.recordCommand(CommandMarkAllRead, false)
		c.logger.ErrorContext(ctx, "failed to mark all notifications as read",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to mark all notifications as read: %w", err)
	}
	c.recordCommand(CommandMarkAllRead, true)

	at := c.now()

	c.mu.Lock()
	for i := range c.notifications {
		c.notifications[i].MarkRead(at)
	}
	countChanged := c.setUnreadLocked(0)
	c.mu.Unlock()

	c.publish(ctx, event.TypeAllNotificationsRead, nil)
	if countChanged {
		c.publish(ctx, event.TypeUnreadCountChanged, event.UnreadCountPayload{UnreadCount: 0})
	}

	return nil
}

// RetryConnection clears the failure state, re-enables auto-refresh and
// performs one Refresh. If the push channel is down it is reconnected with a
// fresh retry budget.
func (c *Coordinator) RetryConnection(ctx context.Context) {
	c.mu.Lock()
	c.failures = 0
	autoChanged := c.setAutoRefreshLocked(true)
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "retrying connection")

	if autoChanged {
		c.publish(ctx, event.TypeAutoRefreshChanged, event.AutoRefreshPayload{Enabled: true})
	}

	if c.push != nil && !c.push.IsConnected() {
		if !c.connectPush(context.WithoutCancel(ctx)) {
			c.logger.DebugContext(ctx, "coordinator stopped, push channel left disconnected")
		}
	}

	c.Refresh(ctx)
}

// Snapshot returns a copy of the current state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	snapshot := Snapshot{
		Notifications:       notification.CloneAll(c.notifications),
		UnreadCount:         c.unreadCount,
		Loading:             c.loading,
		AutoRefreshEnabled:  c.autoRefresh,
		ConsecutiveFailures: c.failures,
	}
	if !c.lastRefreshAt.IsZero() {
		at := c.lastRefreshAt
		snapshot.LastRefreshAt = &at
	}
	c.mu.Unlock()

	if c.push != nil {
		snapshot.PushConnected = c.push.IsConnected()
	}
	return snapshot
}

// Notifications returns a copy of the list, newest first.
func (c *Coordinator) Notifications() []notification.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return notification.CloneAll(c.notifications)
}

// UnreadCount returns the unread counter.
func (c *Coordinator) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unreadCount
}

// Loading reports whether a refresh is in flight.
func (c *Coordinator) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// AutoRefreshEnabled reports whether the poll loop is active.
func (c *Coordinator) AutoRefreshEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoRefresh
}

// ConsecutiveFailures returns the number of refresh failures since the last
// success or retry.
func (c *Coordinator) ConsecutiveFailures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// handlePushNotification prepends a pushed notification. A notification
// already in the list is ignored.
func (c *Coordinator) handlePushNotification(n notification.Notification) {
	c.mu.Lock()
	for i := range c.notifications {
		if c.notifications[i].ID == n.ID {
			c.mu.Unlock()
			c.logger.Debug("ignoring duplicate pushed notification", slog.Int64("notification_id", n.ID))
			return
		}
	}

	list := make([]notification.Notification, 0, len(c.notifications)+1)
	list = append(list, n.Clone())
	c.notifications = append(list, c.notifications...)

	countChanged := false
	if !n.IsRead() {
		countChanged = c.setUnreadLocked(c.unreadCount + 1)
	}
	unread := c.unreadCount
	c.mu.Unlock()

	ctx := context.Background()
	c.publish(ctx, event.TypeNotificationReceived, event.NotificationPayload{Notification: n})
	if countChanged {
		c.publish(ctx, event.TypeUnreadCountChanged, event.UnreadCountPayload{UnreadCount: unread})
	}
}

// handlePushUnreadCount applies an absolute unread count.
func (c *Coordinator) handlePushUnreadCount(count int) {
	c.mu.Lock()
	changed := c.setUnreadLocked(count)
	unread := c.unreadCount
	c.mu.Unlock()

	if changed {
		c.publish(context.Background(), event.TypeUnreadCountChanged, event.UnreadCountPayload{UnreadCount: unread})
	}
}

func (c *Coordinator) handlePushConnect() {
	c.publish(context.Background(), event.TypePushConnected, nil)
}

func (c *Coordinator) handlePushDisconnect() {
	c.publish(context.Background(), event.TypePushDisconnected, nil)
}

// connectPush runs push.Connect in the background; Stop waits for it.
// Nothing is started once the coordinator is stopped.
func (c *Coordinator) connectPush(ctx context.Context) bool {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if !c.started {
		return false
	}

	c.connects.Add(1)
	go func() {
		defer c.connects.Done()
		c.push.Connect(ctx)
	}()
	return true
}

// pollLoop refreshes every pollInterval while auto-refresh is enabled. The
// timer is rebuilt on every flag transition and after every tick.
func (c *Coordinator) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	reset := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
		if c.AutoRefreshEnabled() {
			timer = time.NewTimer(c.pollInterval)
			timerC = timer.C
		}
	}
	reset()

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case <-c.autoRefreshChanged:
			reset()

		case <-timerC:
			c.Refresh(ctx)
			reset()
		}
	}
}

// setAutoRefreshLocked updates the flag and reports a transition.
// Caller must hold mu.
func (c *Coordinator) setAutoRefreshLocked(enabled bool) bool {
	if c.autoRefresh == enabled {
		return false
	}
	c.autoRefresh = enabled

	select {
	case c.autoRefreshChanged <- struct{}{}:
	default:
	}

	if c.metrics != nil {
		c.metrics.AutoRefreshChanged(enabled)
	}
	return true
}

// setUnreadLocked sets the counter, clamped at zero, and reports a change.
// Caller must hold mu.
func (c *Coordinator) setUnreadLocked(count int) bool {
	count = max(count, 0)
	if c.unreadCount == count {
		return false
	}
	c.unreadCount = count

	if c.metrics != nil {
		c.metrics.UnreadCountChanged(count)
	}
	return true
}

func (c *Coordinator) recordCommand(command string, success bool) {
	if c.metrics != nil {
		c.metrics.CommandCompleted(command, success)
	}
}

// publish emits a state-change event. Failures are logged only.
func (c *Coordinator) publish(ctx context.Context, eventType string, data any) {
	if c.bus == nil {
		return
	}

	evt, err := event.New(eventType, data)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to build event",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := c.bus.Publish(ctx, evt); err != nil {
		c.logger.WarnContext(ctx, "failed to publish event",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
	}
}

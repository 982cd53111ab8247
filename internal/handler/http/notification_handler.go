// Package httphandler holds the echo handlers of the local display API.
package httphandler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	notifapp "github.com/lllypuk/libranotify/internal/application/notification"
	"github.com/lllypuk/libranotify/internal/domain/notification"
	"github.com/lllypuk/libranotify/internal/infrastructure/httpserver"
)

// UnreadCountResponse carries the unread counter.
type UnreadCountResponse struct {
	UnreadCount int `json:"unreadCount"`
}

// NotificationCoordinator is the coordinator surface the display API drives.
// Declared on the consumer side per project guidelines.
type NotificationCoordinator interface {
	Snapshot() notifapp.Snapshot
	UnreadCount() int
	Refresh(ctx context.Context)
	RetryConnection(ctx context.Context)
	MarkAsRead(ctx context.Context, id int64) error
	MarkAllAsRead(ctx context.Context) error
}

// NotificationHandler exposes the coordinator state and commands over HTTP.
type NotificationHandler struct {
	coordinator NotificationCoordinator

	// commandMiddleware wraps the routes that reach the library server.
	commandMiddleware []echo.MiddlewareFunc
}

// HandlerOption configures a NotificationHandler.
type HandlerOption func(*NotificationHandler)

// WithCommandMiddleware adds middleware to the refresh and retry routes,
// the only ones that trigger calls to the library server.
func WithCommandMiddleware(mw ...echo.MiddlewareFunc) HandlerOption {
	return func(h *NotificationHandler) {
		h.commandMiddleware = append(h.commandMiddleware, mw...)
	}
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(coordinator NotificationCoordinator, opts ...HandlerOption) *NotificationHandler {
	h := &NotificationHandler{coordinator: coordinator}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers notification routes with the router.
func (h *NotificationHandler) RegisterRoutes(r *httpserver.Router) {
	r.API().GET("/notifications", h.List)
	r.API().GET("/notifications/unread/count", h.UnreadCount)
	r.API().POST("/notifications/refresh", h.Refresh, h.commandMiddleware...)
	r.API().POST("/notifications/retry", h.Retry, h.commandMiddleware...)
	r.API().POST("/notifications/read-all", h.MarkAllAsRead)
	r.API().POST("/notifications/:id/read", h.MarkAsRead)
}

// List handles GET /api/v1/notifications.
// With ?unread_only=true only unread entries are listed; the counters are
// unaffected.
func (h *NotificationHandler) List(c echo.Context) error {
	snapshot := h.coordinator.Snapshot()

	if c.QueryParam("unread_only") == "true" {
		unread := make([]notification.Notification, 0, len(snapshot.Notifications))
		for i := range snapshot.Notifications {
			if !snapshot.Notifications[i].IsRead() {
				unread = append(unread, snapshot.Notifications[i])
			}
		}
		snapshot.Notifications = unread
	}

	return httpserver.RespondOK(c, snapshot)
}

// UnreadCount handles GET /api/v1/notifications/unread/count.
func (h *NotificationHandler) UnreadCount(c echo.Context) error {
	return httpserver.RespondOK(c, UnreadCountResponse{UnreadCount: h.coordinator.UnreadCount()})
}

// Refresh handles POST /api/v1/notifications/refresh.
// A failed refresh is not an HTTP error: the returned snapshot shows it
// through autoRefreshEnabled and consecutiveFailures.
func (h *NotificationHandler) Refresh(c echo.Context) error {
	// A client hanging up must not count as a refresh failure.
	h.coordinator.Refresh(context.WithoutCancel(c.Request().Context()))
	return httpserver.RespondOK(c, h.coordinator.Snapshot())
}

// Retry handles POST /api/v1/notifications/retry.
func (h *NotificationHandler) Retry(c echo.Context) error {
	h.coordinator.RetryConnection(context.WithoutCancel(c.Request().Context()))
	return httpserver.RespondOK(c, h.coordinator.Snapshot())
}

// MarkAsRead handles POST /api/v1/notifications/:id/read.
func (h *NotificationHandler) MarkAsRead(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return httpserver.RespondErrorWithCode(c, http.StatusBadRequest, "INVALID_ID", "notification id must be a positive integer")
	}

	if markErr := h.coordinator.MarkAsRead(c.Request().Context(), id); markErr != nil {
		return httpserver.RespondError(c, markErr)
	}

	return httpserver.RespondOK(c, UnreadCountResponse{UnreadCount: h.coordinator.UnreadCount()})
}

// MarkAllAsRead handles POST /api/v1/notifications/read-all.
func (h *NotificationHandler) MarkAllAsRead(c echo.Context) error {
	if err := h.coordinator.MarkAllAsRead(c.Request().Context()); err != nil {
		return httpserver.RespondError(c, err)
	}

	return httpserver.RespondOK(c, UnreadCountResponse{UnreadCount: h.coordinator.UnreadCount()})
}

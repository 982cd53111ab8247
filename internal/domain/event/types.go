package event

import "github.com/lllypuk/libranotify/internal/domain/notification"

// Coordinator event types.
const (
	TypeNotificationReceived   = "notification.received"
	TypeNotificationRead       = "notification.read"
	TypeAllNotificationsRead   = "notification.all_read"
	TypeNotificationsRefreshed = "notifications.refreshed"
	TypeRefreshFailed          = "notifications.refresh_failed"
	TypeUnreadCountChanged     = "unread_count.changed"
	TypeAutoRefreshChanged     = "auto_refresh.changed"
	TypePushConnected          = "push.connected"
	TypePushDisconnected       = "push.disconnected"
)

// AllTypes returns every coordinator event type.
func AllTypes() []string {
	return []string{
		TypeNotificationReceived,
		TypeNotificationRead,
		TypeAllNotificationsRead,
		TypeNotificationsRefreshed,
		TypeRefreshFailed,
		TypeUnreadCountChanged,
		TypeAutoRefreshChanged,
		TypePushConnected,
		TypePushDisconnected,
	}
}

// NotificationPayload carries a single notification.
type NotificationPayload struct {
	Notification notification.Notification `json:"notification"`
}

// ReadPayload identifies a notification marked as read.
type ReadPayload struct {
	NotificationID int64 `json:"notification_id"`
}

// RefreshedPayload summarizes a successful refresh.
type RefreshedPayload struct {
	Count       int `json:"count"`
	UnreadCount int `json:"unread_count"`
}

// RefreshFailedPayload describes a failed refresh.
type RefreshFailedPayload struct {
	Error               string `json:"error"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// UnreadCountPayload carries the new unread count.
type UnreadCountPayload struct {
	UnreadCount int `json:"unread_count"`
}

// AutoRefreshPayload carries the new auto-refresh flag.
type AutoRefreshPayload struct {
	Enabled bool `json:"enabled"`
}

package notification

import (
	"context"
	"time"

	"github.com/lllypuk/libranotify/internal/domain/notification"
)

// API is the subset of the library REST API the coordinator calls.
// Declared on the consumer side per project guidelines.
type API interface {
	ListNotifications(ctx context.Context) ([]notification.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkAsRead(ctx context.Context, id int64) error
	MarkAllAsRead(ctx context.Context) error
}

// PushChannel is the real-time channel the coordinator listens to.
type PushChannel interface {
	Connect(ctx context.Context)
	Disconnect()
	IsConnected() bool
	OnNotification(callback func(notification.Notification))
	OnUnreadCountUpdate(callback func(int))
	OnConnect(callback func())
	OnDisconnect(callback func())
}

// Metrics receives coordinator measurements.
type Metrics interface {
	RefreshCompleted(success bool, duration time.Duration)
	CommandCompleted(command string, success bool)
	UnreadCountChanged(count int)
	AutoRefreshChanged(enabled bool)
}

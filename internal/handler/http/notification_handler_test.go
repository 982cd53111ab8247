package httphandler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdhttp "net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	notifapp "github.com/lllypuk/libranotify/internal/application/notification"
	"github.com/lllypuk/libranotify/internal/domain/errs"
	"github.com/lllypuk/libranotify/internal/domain/notification"
	httphandler "github.com/lllypuk/libranotify/internal/handler/http"
	"github.com/lllypuk/libranotify/internal/infrastructure/httpserver"
	"github.com/lllypuk/libranotify/internal/middleware"
)

// stubAPI is a library API double for driving a real coordinator.
type stubAPI struct {
	mu      sync.Mutex
	list    []notification.Notification
	count   int
	listErr error
	markErr error
	marked  []int64
}

func (s *stubAPI) ListNotifications(context.Context) ([]notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return notification.CloneAll(s.list), nil
}

func (s *stubAPI) UnreadCount(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count, nil
}

func (s *stubAPI) MarkAsRead(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	s.marked = append(s.marked, id)
	return nil
}

func (s *stubAPI) MarkAllAsRead(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markErr
}

func testNotification(id int64, read bool) notification.Notification {
	n := notification.Notification{
		ID:        id,
		Type:      notification.TypeBookAvailable,
		Subject:   "Reserved book available",
		Message:   "Pick it up within three days",
		CreatedAt: notification.NewTimestamp(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
		UserID:    7,
	}
	if read {
		n.MarkRead(time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC))
	}
	return n
}

// setup returns an echo instance with the handler routes and a loaded
// coordinator holding [1 unread, 2 read] with an unread count of 1.
func setup(t *testing.T) (*echo.Echo, *stubAPI, *notifapp.Coordinator) {
	t.Helper()

	api := &stubAPI{
		list:  []notification.Notification{testNotification(1, false), testNotification(2, true)},
		count: 1,
	}
	coordinator := notifapp.NewCoordinator(api, nil)
	coordinator.Refresh(context.Background())

	e := echo.New()
	router := httpserver.NewRouter(e, httpserver.DefaultRouterConfig())
	router.RegisterAll(httphandler.NewNotificationHandler(coordinator))

	return e, api, coordinator
}

type envelope struct {
	Success bool              `json:"success"`
	Data    json.RawMessage   `json:"data"`
	Error   *httpserver.Error `json:"error"`
}

func do(t *testing.T, e *echo.Echo, method, path string) (int, envelope) {
	t.Helper()

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, path, nil))

	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestNotificationHandler_List(t *testing.T) {
	t.Run("full snapshot", func(t *testing.T) {
		e, _, _ := setup(t)

		code, body := do(t, e, stdhttp.MethodGet, "/api/v1/notifications")
		require.Equal(t, stdhttp.StatusOK, code)
		require.True(t, body.Success)

		var snapshot notifapp.Snapshot
		require.NoError(t, json.Unmarshal(body.Data, &snapshot))
		assert.Len(t, snapshot.Notifications, 2)
		assert.Equal(t, 1, snapshot.UnreadCount)
		assert.True(t, snapshot.AutoRefreshEnabled)
		assert.NotNil(t, snapshot.LastRefreshAt)
	})

	t.Run("unread only", func(t *testing.T) {
		e, _, _ := setup(t)

		_, body := do(t, e, stdhttp.MethodGet, "/api/v1/notifications?unread_only=true")

		var snapshot notifapp.Snapshot
		require.NoError(t, json.Unmarshal(body.Data, &snapshot))
		require.Len(t, snapshot.Notifications, 1)
		assert.Equal(t, int64(1), snapshot.Notifications[0].ID)
		assert.Equal(t, 1, snapshot.UnreadCount)
	})

	t.Run("camelCase wire names", func(t *testing.T) {
		e, _, _ := setup(t)

		_, body := do(t, e, stdhttp.MethodGet, "/api/v1/notifications")
		for _, key := range []string{`"unreadCount"`, `"autoRefreshEnabled"`, `"consecutiveFailures"`, `"createdAt"`, `"readAt"`} {
			assert.Contains(t, string(body.Data), key)
		}
	})
}

func TestNotificationHandler_UnreadCount(t *testing.T) {
	e, _, _ := setup(t)

	code, body := do(t, e, stdhttp.MethodGet, "/api/v1/notifications/unread/count")
	require.Equal(t, stdhttp.StatusOK, code)
	assert.JSONEq(t, `{"unreadCount":1}`, string(body.Data))
}

func TestNotificationHandler_MarkAsRead(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		e, api, coordinator := setup(t)

		code, body := do(t, e, stdhttp.MethodPost, "/api/v1/notifications/1/read")
		require.Equal(t, stdhttp.StatusOK, code)
		assert.JSONEq(t, `{"unreadCount":0}`, string(body.Data))
		assert.Equal(t, []int64{1}, api.marked)
		assert.NotNil(t, coordinator.Notifications()[0].ReadAt)
	})

	t.Run("invalid id", func(t *testing.T) {
		for _, id := range []string{"abc", "0", "-3"} {
			e, api, _ := setup(t)

			code, body := do(t, e, stdhttp.MethodPost, fmt.Sprintf("/api/v1/notifications/%s/read", id))
			assert.Equal(t, stdhttp.StatusBadRequest, code, id)
			require.NotNil(t, body.Error)
			assert.Equal(t, "INVALID_ID", body.Error.Code)
			assert.Empty(t, api.marked)
		}
	})

	t.Run("upstream errors are mapped", func(t *testing.T) {
		tests := []struct {
			err  error
			code int
		}{
			{fmt.Errorf("status 404: %w", errs.ErrNotFound), stdhttp.StatusNotFound},
			{fmt.Errorf("status 401: %w", errs.ErrUnauthorized), stdhttp.StatusUnauthorized},
			{fmt.Errorf("status 503: %w", errs.ErrUnavailable), stdhttp.StatusServiceUnavailable},
		}

		for _, tt := range tests {
			e, api, coordinator := setup(t)
			api.markErr = tt.err

			code, body := do(t, e, stdhttp.MethodPost, "/api/v1/notifications/1/read")
			assert.Equal(t, tt.code, code)
			assert.False(t, body.Success)
			assert.Equal(t, 1, coordinator.UnreadCount())
		}
	})
}

func TestNotificationHandler_MarkAllAsRead(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		e, _, coordinator := setup(t)

		code, body := do(t, e, stdhttp.MethodPost, "/api/v1/notifications/read-all")
		require.Equal(t, stdhttp.StatusOK, code)
		assert.JSONEq(t, `{"unreadCount":0}`, string(body.Data))
		assert.Equal(t, 0, coordinator.UnreadCount())
	})

	t.Run("failure", func(t *testing.T) {
		e, api, coordinator := setup(t)
		api.markErr = errors.New("connection reset")

		code, _ := do(t, e, stdhttp.MethodPost, "/api/v1/notifications/read-all")
		assert.Equal(t, stdhttp.StatusInternalServerError, code)
		assert.Equal(t, 1, coordinator.UnreadCount())
	})
}

func TestNotificationHandler_RefreshAndRetry(t *testing.T) {
	e, api, _ := setup(t)
	api.mu.Lock()
	api.listErr = fmt.Errorf("dial: %w", errs.ErrUnavailable)
	api.mu.Unlock()

	code, body := do(t, e, stdhttp.MethodPost, "/api/v1/notifications/refresh")
	require.Equal(t, stdhttp.StatusOK, code)

	var snapshot notifapp.Snapshot
	require.NoError(t, json.Unmarshal(body.Data, &snapshot))
	assert.False(t, snapshot.AutoRefreshEnabled)
	assert.Equal(t, 1, snapshot.ConsecutiveFailures)
	assert.Len(t, snapshot.Notifications, 2)

	api.mu.Lock()
	api.listErr = nil
	api.list = append(api.list, testNotification(3, false))
	api.count = 2
	api.mu.Unlock()

	code, body = do(t, e, stdhttp.MethodPost, "/api/v1/notifications/retry")
	require.Equal(t, stdhttp.StatusOK, code)

	require.NoError(t, json.Unmarshal(body.Data, &snapshot))
	assert.True(t, snapshot.AutoRefreshEnabled)
	assert.Equal(t, 0, snapshot.ConsecutiveFailures)
	assert.Len(t, snapshot.Notifications, 3)
	assert.Equal(t, 2, snapshot.UnreadCount)
}

func TestNotificationHandler_CommandMiddleware(t *testing.T) {
	api := &stubAPI{list: []notification.Notification{testNotification(1, false)}, count: 1}
	coordinator := notifapp.NewCoordinator(api, nil)

	e := echo.New()
	router := httpserver.NewRouter(e, httpserver.DefaultRouterConfig())
	router.RegisterAll(httphandler.NewNotificationHandler(coordinator,
		httphandler.WithCommandMiddleware(middleware.RateLimit(middleware.RateLimitConfig{
			Store: middleware.NewMemoryRateLimitStore(),
			Limit: 1,
		})),
	))

	code, _ := do(t, e, stdhttp.MethodPost, "/api/v1/notifications/refresh")
	assert.Equal(t, stdhttp.StatusOK, code)

	code, _ = do(t, e, stdhttp.MethodPost, "/api/v1/notifications/refresh")
	assert.Equal(t, stdhttp.StatusTooManyRequests, code)

	// Reads are never limited.
	for range 3 {
		code, _ = do(t, e, stdhttp.MethodGet, "/api/v1/notifications")
		assert.Equal(t, stdhttp.StatusOK, code)
	}
}

package websocket_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ws "github.com/lllypuk/libranotify/internal/infrastructure/websocket"
)

// connectViewer serves a single viewer on hub and returns the display side
// of the connection.
func connectViewer(t *testing.T, hub *ws.Hub, events ...string) *websocket.Conn {
	t.Helper()
	return connectViewerWith(t, hub, nil, events...)
}

// connectViewerWith is connectViewer with a registration hook.
func connectViewerWith(t *testing.T, hub *ws.Hub, onRegistered func(*ws.Viewer) error, events ...string) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		viewer := ws.NewViewer(hub, conn)
		viewer.Subscribe(events...)
		hub.RegisterWith(viewer, onRegistered)
		go viewer.WritePump()
		go viewer.ReadPump()
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func runHub(t *testing.T) *ws.Hub {
	t.Helper()
	hub := ws.NewHub()
	go hub.Run(t.Context())
	require.Eventually(t, hub.IsRunning, time.Second, 5*time.Millisecond)
	return hub
}

func TestNewHub(t *testing.T) {
	t.Run("creates hub with defaults", func(t *testing.T) {
		hub := ws.NewHub()

		assert.NotNil(t, hub)
		assert.False(t, hub.IsRunning())
		assert.Equal(t, 0, hub.ViewerCount())
	})

	t.Run("ignores nil logger", func(t *testing.T) {
		hub := ws.NewHub(ws.WithHubLogger(nil))

		assert.NotNil(t, hub)
	})
}

func TestHub_Run(t *testing.T) {
	t.Run("starts and stops with context cancellation", func(t *testing.T) {
		hub := ws.NewHub()
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan struct{})
		go func() {
			hub.Run(ctx)
			close(done)
		}()

		require.Eventually(t, hub.IsRunning, time.Second, 5*time.Millisecond)
		cancel()

		select {
		case <-done:
			assert.False(t, hub.IsRunning())
		case <-time.After(time.Second):
			t.Fatal("hub did not stop in time")
		}
	})

	t.Run("stops with Stop method", func(t *testing.T) {
		hub := ws.NewHub()

		done := make(chan struct{})
		go func() {
			hub.Run(context.Background())
			close(done)
		}()

		require.Eventually(t, hub.IsRunning, time.Second, 5*time.Millisecond)
		hub.Stop()
		hub.Stop()

		select {
		case <-done:
			assert.False(t, hub.IsRunning())
		case <-time.After(time.Second):
			t.Fatal("hub did not stop in time")
		}
	})

	t.Run("does not start twice", func(t *testing.T) {
		hub := runHub(t)

		done := make(chan struct{})
		go func() {
			hub.Run(t.Context())
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
			t.Fatal("second Run call did not return immediately")
		}
	})
}

func TestHub_Viewers(t *testing.T) {
	t.Run("registers and unregisters viewers", func(t *testing.T) {
		hub := runHub(t)

		conn := connectViewer(t, hub)
		require.Eventually(t, func() bool { return hub.ViewerCount() == 1 }, time.Second, 5*time.Millisecond)

		_ = conn.Close()
		require.Eventually(t, func() bool { return hub.ViewerCount() == 0 }, time.Second, 5*time.Millisecond)
	})

	t.Run("broadcast reaches unfiltered viewers", func(t *testing.T) {
		hub := runHub(t)
		conn := connectViewer(t, hub)
		require.Eventually(t, func() bool { return hub.ViewerCount() == 1 }, time.Second, 5*time.Millisecond)

		hub.Broadcast("unread_count.changed", []byte(`{"type":"unread_count.changed"}`))

		msg := readJSON(t, conn)
		assert.Equal(t, "unread_count.changed", msg["type"])
	})

	t.Run("broadcast respects event filter", func(t *testing.T) {
		hub := runHub(t)
		conn := connectViewer(t, hub, "push.connected")
		require.Eventually(t, func() bool { return hub.ViewerCount() == 1 }, time.Second, 5*time.Millisecond)

		hub.Broadcast("unread_count.changed", []byte(`{"type":"unread_count.changed"}`))
		hub.Broadcast("push.connected", []byte(`{"type":"push.connected"}`))

		msg := readJSON(t, conn)
		assert.Equal(t, "push.connected", msg["type"])
	})
}

func TestHub_RegisterWith(t *testing.T) {
	t.Run("hook output precedes later broadcasts", func(t *testing.T) {
		hub := runHub(t)

		// An event published while the hook runs still reaches the viewer,
		// after the hook's message.
		conn := connectViewerWith(t, hub, func(v *ws.Viewer) error {
			v.Send([]byte(`{"type":"snapshot"}`))
			hub.Broadcast("unread_count.changed", []byte(`{"type":"unread_count.changed"}`))
			return nil
		})

		assert.Equal(t, "snapshot", readJSON(t, conn)["type"])
		assert.Equal(t, "unread_count.changed", readJSON(t, conn)["type"])
		assert.Equal(t, 1, hub.ViewerCount())
	})

	t.Run("failing hook drops the viewer", func(t *testing.T) {
		hub := runHub(t)

		conn := connectViewerWith(t, hub, func(*ws.Viewer) error {
			return errors.New("encode failed")
		})

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		_, _, err := conn.ReadMessage()
		require.Error(t, err)
		assert.Equal(t, 0, hub.ViewerCount())
	})
}

func TestViewer_ControlMessages(t *testing.T) {
	hub := runHub(t)
	conn := connectViewer(t, hub)
	require.Eventually(t, func() bool { return hub.ViewerCount() == 1 }, time.Second, 5*time.Millisecond)

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))

		assert.Equal(t, "pong", readJSON(t, conn)["type"])
	})

	t.Run("subscribe", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(ws.ViewerMessage{Type: "subscribe", Events: []string{"push.connected"}}))

		msg := readJSON(t, conn)
		assert.Equal(t, "ack", msg["type"])
		assert.Equal(t, "subscribed", msg["action"])
		assert.Equal(t, []any{"push.connected"}, msg["events"])
	})

	t.Run("subscribe without events", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(ws.ViewerMessage{Type: "subscribe"}))

		assert.Equal(t, "error", readJSON(t, conn)["type"])
	})

	t.Run("invalid json", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{oops")))

		msg := readJSON(t, conn)
		assert.Equal(t, "error", msg["type"])
		assert.Equal(t, "invalid message format", msg["message"])
	})

	t.Run("unknown type", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(map[string]string{"type": "dance"}))

		assert.Equal(t, "unknown message type: dance", readJSON(t, conn)["message"])
	})
}

func TestViewer_Filter(t *testing.T) {
	viewer := ws.NewViewer(ws.NewHub(), nil)

	assert.True(t, viewer.Wants("anything"))
	assert.NotEmpty(t, viewer.ID())

	viewer.Subscribe("b", "a")
	assert.Equal(t, []string{"a", "b"}, viewer.Events())
	assert.True(t, viewer.Wants("a"))
	assert.False(t, viewer.Wants("c"))

	viewer.Unsubscribe("a", "b")
	assert.True(t, viewer.Wants("c"))
}

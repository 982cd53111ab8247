package notification_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/lllypuk/libranotify/internal/domain/notification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestType_Category(t *testing.T) {
	tests := []struct {
		name string
		typ  notification.Type
		want notification.Type
	}{
		{"due reminder", notification.TypeBookDueReminder, notification.TypeBookDueReminder},
		{"overdue", notification.TypeBookOverdue, notification.TypeBookOverdue},
		{"fine", notification.TypeFineNotice, notification.TypeFineNotice},
		{"payment", notification.TypePaymentConfirmation, notification.TypePaymentConfirmation},
		{"unknown tag", notification.Type("SYSTEM_MAINTENANCE"), notification.TypeDefault},
		{"empty tag", notification.Type(""), notification.TypeDefault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.typ.Category())
		})
	}
}

func TestNotification_MarkRead(t *testing.T) {
	t.Run("sets read timestamp once", func(t *testing.T) {
		n := notification.Notification{ID: 1}
		first := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

		assert.True(t, n.MarkRead(first))
		require.NotNil(t, n.ReadAt)
		assert.True(t, n.IsRead())

		assert.False(t, n.MarkRead(first.Add(time.Hour)))
		assert.True(t, first.Equal(n.ReadAt.Time))
	})

	t.Run("clone does not share read timestamp", func(t *testing.T) {
		n := notification.Notification{ID: 1}
		n.MarkRead(time.Now())

		clone := n.Clone()
		clone.ReadAt.Time = time.Time{}

		assert.False(t, n.ReadAt.IsZero())
	})
}

func TestDecode(t *testing.T) {
	t.Run("full payload", func(t *testing.T) {
		payload := `{
			"id": 42,
			"type": "BOOK_OVERDUE",
			"subject": "Overdue",
			"message": "Return 'Dune' please",
			"status": "SENT",
			"channel": "IN_APP",
			"createdAt": "2024-03-01T09:30:00",
			"readAt": "2024-03-02T10:00:00Z",
			"userId": 7
		}`

		n, err := notification.Decode([]byte(payload))

		require.NoError(t, err)
		assert.Equal(t, int64(42), n.ID)
		assert.Equal(t, notification.TypeBookOverdue, n.Type)
		assert.Equal(t, notification.StatusSent, n.Status)
		assert.Equal(t, notification.ChannelInApp, n.Channel)
		assert.Equal(t, int64(7), n.UserID)
		assert.Equal(t, time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC), n.CreatedAt.Time)
		require.NotNil(t, n.ReadAt)
		assert.True(t, n.IsRead())
	})

	t.Run("null and empty readAt are unread", func(t *testing.T) {
		for _, readAt := range []string{`null`, `""`} {
			n, err := notification.Decode([]byte(`{"id":1,"createdAt":"2024-01-01T00:00:00Z","readAt":` + readAt + `}`))
			require.NoError(t, err)
			assert.False(t, n.IsRead(), "readAt=%s", readAt)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := notification.Decode([]byte(`{"subject":"x"}`))
		require.ErrorIs(t, err, notification.ErrInvalidPayload)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := notification.Decode([]byte(`not json`))
		require.ErrorIs(t, err, notification.ErrInvalidPayload)
	})

	t.Run("bad timestamp", func(t *testing.T) {
		_, err := notification.Decode([]byte(`{"id":1,"createdAt":"yesterday"}`))
		require.Error(t, err)
	})
}

func TestDecodeList(t *testing.T) {
	list, err := notification.DecodeList([]byte(`[
		{"id":1,"readAt":null,"createdAt":"2024-01-01T00:00:00Z"},
		{"id":2,"readAt":"2024-01-01T00:00:00Z","createdAt":"2024-01-01T00:00:00Z"}
	]`))

	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 1, notification.CountUnread(list))

	empty, err := notification.DecodeList([]byte(`null`))
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestDecodeUnreadCount(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    int
	}{
		{"value", `{"unreadCount": 7}`, 7},
		{"missing field", `{}`, 0},
		{"negative", `{"unreadCount": -3}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := notification.DecodeUnreadCount([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := notification.DecodeUnreadCount([]byte(`[1]`))
	require.ErrorIs(t, err, notification.ErrInvalidPayload)
}

func TestTimestamp_MarshalJSON(t *testing.T) {
	ts := notification.NewTimestamp(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	data, err := json.Marshal(ts)

	require.NoError(t, err)
	assert.JSONEq(t, `"2024-01-01T00:00:00Z"`, string(data))

	data, err = json.Marshal(notification.Timestamp{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

package notification

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Decoding errors.
var (
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrInvalidPayload   = errors.New("invalid notification payload")
)

// UnreadCount is the payload of the unread-count endpoint and push topic.
// A missing field decodes as zero.
type UnreadCount struct {
	UnreadCount int `json:"unreadCount"`
}

// Decode parses a single notification payload.
func Decode(data []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return Notification{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if n.ID == 0 {
		return Notification{}, fmt.Errorf("%w: missing id", ErrInvalidPayload)
	}
	normalize(&n)
	return n, nil
}

// DecodeList parses an array of notifications.
func DecodeList(data []byte) ([]Notification, error) {
	var list []Notification
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if list == nil {
		list = []Notification{}
	}
	for i := range list {
		normalize(&list[i])
	}
	return list, nil
}

// DecodeUnreadCount parses an unread-count payload. Negative counts are
// clamped to zero.
func DecodeUnreadCount(data []byte) (int, error) {
	var payload UnreadCount
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return max(payload.UnreadCount, 0), nil
}

// normalize turns an empty readAt string into an unread notification.
func normalize(n *Notification) {
	if n.ReadAt != nil && n.ReadAt.IsZero() {
		n.ReadAt = nil
	}
}

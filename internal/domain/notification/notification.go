// Package notification contains the notification model shared by the REST
// client, the push channel and the state coordinator.
package notification

import "time"

// Type represents the category tag of a notification.
type Type string

const (
	// TypeBookDueReminder is sent shortly before a loan is due.
	TypeBookDueReminder Type = "BOOK_DUE_REMINDER"
	// TypeBookOverdue is sent when a loan is past its due date.
	TypeBookOverdue Type = "BOOK_OVERDUE"
	// TypeFineNotice is sent when a fine is issued.
	TypeFineNotice Type = "FINE_NOTICE"
	// TypeBookAvailable is sent when a reserved book becomes available.
	TypeBookAvailable Type = "BOOK_AVAILABLE"
	// TypeBookRequestConfirmed confirms a book request.
	TypeBookRequestConfirmed Type = "BOOK_REQUEST_CONFIRMED"
	// TypeBookRequestCancelled reports a cancelled book request.
	TypeBookRequestCancelled Type = "BOOK_REQUEST_CANCELLED"
	// TypeRenewalConfirmation confirms a loan renewal.
	TypeRenewalConfirmation Type = "RENEWAL_CONFIRMATION"
	// TypePaymentConfirmation confirms a payment.
	TypePaymentConfirmation Type = "PAYMENT_CONFIRMATION"
	// TypeDefault is used for tags this client does not recognize.
	TypeDefault Type = "DEFAULT"
)

// Known reports whether the tag is one of the recognized categories.
func (t Type) Known() bool {
	switch t {
	case TypeBookDueReminder, TypeBookOverdue, TypeFineNotice, TypeBookAvailable,
		TypeBookRequestConfirmed, TypeBookRequestCancelled, TypeRenewalConfirmation,
		TypePaymentConfirmation:
		return true
	default:
		return false
	}
}

// Category returns the tag itself when recognized and TypeDefault otherwise.
func (t Type) Category() Type {
	if t.Known() {
		return t
	}
	return TypeDefault
}

// Status is the server-side delivery status.
type Status string

// Delivery statuses.
const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
	StatusRead    Status = "READ"
)

// Channel is the delivery channel the server used.
type Channel string

// Delivery channels.
const (
	ChannelInApp Channel = "IN_APP"
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
)

// Notification is a single notification as delivered by the library API.
// ReadAt is nil while the notification is unread.
type Notification struct {
	ID        int64      `json:"id"`
	Type      Type       `json:"type"`
	Subject   string     `json:"subject"`
	Message   string     `json:"message"`
	Status    Status     `json:"status,omitempty"`
	Channel   Channel    `json:"channel,omitempty"`
	CreatedAt Timestamp  `json:"createdAt"`
	ReadAt    *Timestamp `json:"readAt,omitempty"`
	UserID    int64      `json:"userId"`
}

// IsRead checks whether the notification has a read timestamp.
func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}

// MarkRead sets the read timestamp if it is not set yet.
// It returns false and keeps the original timestamp when already read.
func (n *Notification) MarkRead(at time.Time) bool {
	if n.ReadAt != nil {
		return false
	}
	ts := NewTimestamp(at)
	n.ReadAt = &ts
	return true
}

// Clone returns a deep copy so callers cannot mutate shared read state.
func (n Notification) Clone() Notification {
	if n.ReadAt != nil {
		readAt := *n.ReadAt
		n.ReadAt = &readAt
	}
	return n
}

// CloneAll deep-copies a slice of notifications.
func CloneAll(list []Notification) []Notification {
	out := make([]Notification, len(list))
	for i := range list {
		out[i] = list[i].Clone()
	}
	return out
}

// CountUnread returns the number of notifications without a read timestamp.
func CountUnread(list []Notification) int {
	count := 0
	for i := range list {
		if !list[i].IsRead() {
			count++
		}
	}
	return count
}

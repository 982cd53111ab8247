package websocket

import "time"

// Default reconnection constants.
const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = 3 * time.Second
)

// State is the connection state of the push channel.
type State int

// Connection states.
const (
	// StateDisconnected means no session and, possibly, a retry pending.
	StateDisconnected State = iota
	// StateConnecting means a handshake is in progress.
	StateConnecting
	// StateConnected means both topics are subscribed.
	StateConnected
	// StateExhausted means the retry budget is spent; only a manual
	// Connect leaves this state.
	StateExhausted
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// RetryPolicy decides whether and when to retry after a failed handshake or
// a lost session.
type RetryPolicy struct {
	// MaxAttempts is the number of automatic retries before giving up.
	MaxAttempts int

	// Delay is the fixed wait before each retry.
	Delay time.Duration
}

// DefaultRetryPolicy returns 5 retries, 3 seconds apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxReconnectAttempts,
		Delay:       DefaultReconnectDelay,
	}
}

// Next returns the delay before the retry that follows attempt retries
// already made, or false when no retry is left.
func (p RetryPolicy) Next(attempt int) (time.Duration, bool) {
	if attempt < 0 || attempt >= p.MaxAttempts {
		return 0, false
	}
	return p.Delay, true
}

// Package metrics defines the Prometheus collectors for the notifier.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Refresh and command outcomes.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// pushStates lists every value of the push state label.
var pushStates = []string{"disconnected", "connecting", "connected", "exhausted"}

// NotificationMetrics contains Prometheus metrics for the coordinator and the
// push channel.
type NotificationMetrics struct {
	RefreshTotal       *prometheus.CounterVec
	RefreshDuration    prometheus.Histogram
	CommandTotal       *prometheus.CounterVec
	UnreadCount        prometheus.Gauge
	AutoRefreshEnabled prometheus.Gauge
	PushState          *prometheus.GaugeVec
	PushRetryTotal     prometheus.Counter
	PushMessagesTotal  *prometheus.CounterVec
}

// NewNotificationMetrics creates and registers notifier metrics with the
// given registerer.
func NewNotificationMetrics(registerer prometheus.Registerer) *NotificationMetrics {
	metrics := &NotificationMetrics{
		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "libranotify_refresh_total",
				Help: "Total number of full refreshes from the REST API",
			},
			[]string{"status"}, // status: success/failed
		),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "libranotify_refresh_duration_seconds",
			Help:    "Time to fetch the notification list and unread count",
			Buckets: prometheus.DefBuckets,
		}),
		CommandTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "libranotify_command_total",
				Help: "Total number of mark-as-read commands sent to the REST API",
			},
			[]string{"command", "status"},
		),
		UnreadCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "libranotify_unread_count",
			Help: "Current unread notification count held by the coordinator",
		}),
		AutoRefreshEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "libranotify_auto_refresh_enabled",
			Help: "1 when periodic polling is active",
		}),
		PushState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "libranotify_push_state",
				Help: "1 for the current push channel state, 0 otherwise",
			},
			[]string{"state"},
		),
		PushRetryTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "libranotify_push_retry_total",
			Help: "Total number of scheduled push reconnection attempts",
		}),
		PushMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "libranotify_push_messages_total",
				Help: "Total number of push messages by topic and outcome",
			},
			[]string{"topic", "outcome"}, // outcome: delivered/malformed
		),
	}

	registerer.MustRegister(
		metrics.RefreshTotal,
		metrics.RefreshDuration,
		metrics.CommandTotal,
		metrics.UnreadCount,
		metrics.AutoRefreshEnabled,
		metrics.PushState,
		metrics.PushRetryTotal,
		metrics.PushMessagesTotal,
	)

	metrics.PushStateChanged(pushStates[0])

	return metrics
}

// RefreshCompleted records a refresh outcome and its duration.
func (m *NotificationMetrics) RefreshCompleted(success bool, duration time.Duration) {
	m.RefreshTotal.WithLabelValues(status(success)).Inc()
	m.RefreshDuration.Observe(duration.Seconds())
}

// CommandCompleted records a mark-as-read or mark-all-as-read outcome.
func (m *NotificationMetrics) CommandCompleted(command string, success bool) {
	m.CommandTotal.WithLabelValues(command, status(success)).Inc()
}

// UnreadCountChanged sets the unread gauge.
func (m *NotificationMetrics) UnreadCountChanged(count int) {
	m.UnreadCount.Set(float64(count))
}

// AutoRefreshChanged sets the auto-refresh gauge.
func (m *NotificationMetrics) AutoRefreshChanged(enabled bool) {
	if enabled {
		m.AutoRefreshEnabled.Set(1)
		return
	}
	m.AutoRefreshEnabled.Set(0)
}

// PushStateChanged marks state as the only active push state.
func (m *NotificationMetrics) PushStateChanged(state string) {
	for _, s := range pushStates {
		if s == state {
			m.PushState.WithLabelValues(s).Set(1)
			continue
		}
		m.PushState.WithLabelValues(s).Set(0)
	}
}

// PushRetryScheduled counts a scheduled reconnection.
func (m *NotificationMetrics) PushRetryScheduled() {
	m.PushRetryTotal.Inc()
}

// PushMessageReceived counts an inbound push message.
func (m *NotificationMetrics) PushMessageReceived(topic, outcome string) {
	m.PushMessagesTotal.WithLabelValues(topic, outcome).Inc()
}

func status(success bool) string {
	if success {
		return StatusSuccess
	}
	return StatusFailed
}

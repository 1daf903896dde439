// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cleanroom_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	// Rooms
	RoomTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanroom_room_transitions_total",
			Help: "Room status writes by resulting status",
		},
		[]string{"status"},
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanroom_notifications_created_total",
			Help: "Notification rows inserted by type",
		},
		[]string{"type"},
	)

	// Realtime
	RealtimeClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cleanroom_realtime_clients",
			Help: "Currently connected change feed subscribers",
		},
	)

	RealtimeChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanroom_realtime_changes_total",
			Help: "Row changes broadcast to subscribers",
		},
		[]string{"table", "type"},
	)

	RealtimeDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanroom_realtime_dropped_total",
			Help: "Changes or subscribers dropped because a buffer was full",
		},
		[]string{"reason"}, // "broadcast_full", "slow_client"
	)

	// Sync engine
	SyncFeedStates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanroom_sync_feed_state_changes_total",
			Help: "Change feed state transitions seen by the sync engine, by new state",
		},
		[]string{"state"},
	)

	SyncRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanroom_sync_retries_total",
			Help: "Scheduled recovery attempts by kind",
		},
		[]string{"kind"}, // "reconnect", "refetch"
	)

	// Push
	PushDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanroom_push_deliveries_total",
			Help: "Web push sends by outcome",
		},
		[]string{"result"}, // "sent", "gone", "error"
	)
)

// RecordAPIRequest observes one served request.
func RecordAPIRequest(method, endpoint string, status int, duration time.Duration) {
	APIRequestDuration.WithLabelValues(method, endpoint, strconv.Itoa(status)).Observe(duration.Seconds())
}

// RecordTransition counts a room status write.
func RecordTransition(status string) {
	RoomTransitions.WithLabelValues(status).Inc()
}

// RecordNotifications counts inserted notifications.
func RecordNotifications(kind string, n int) {
	NotificationsCreated.WithLabelValues(kind).Add(float64(n))
}

// RecordPush counts one web push attempt.
func RecordPush(result string) {
	PushDeliveries.WithLabelValues(result).Inc()
}

// RecordFeedState counts a change feed state transition.
func RecordFeedState(state string) {
	SyncFeedStates.WithLabelValues(state).Inc()
}

// RecordSyncRetry counts one scheduled reconnect or refetch.
func RecordSyncRetry(kind string) {
	SyncRetries.WithLabelValues(kind).Inc()
}

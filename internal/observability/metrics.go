// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Feed metrics
	NotificationsReceived *prometheus.CounterVec
	NotificationsDropped  prometheus.Counter
	AccountNotifications  prometheus.Counter
	ConnectionState       prometheus.Gauge
	ReconnectAttempts     prometheus.Counter
	HighestSlotSeen       prometheus.Gauge

	// Classification metrics
	EventsClassified      *prometheus.CounterVec
	ClassificationErrors  *prometheus.CounterVec
	ClassificationLatency *prometheus.HistogramVec
	DedupHits             prometheus.Counter
	DedupSize             prometheus.Gauge
	RPCCallLatency        *prometheus.HistogramVec

	// Aggregation metrics
	WindowVolume     prometheus.Gauge
	WindowEvents     prometheus.Gauge
	Breaches         prometheus.Counter
	DispatchOutcomes *prometheus.CounterVec

	// Listener metrics
	ListenerFailures *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastClassifiedEvent prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "solana_volume_guard"
	}

	return &Metrics{
		NotificationsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "notifications_received_total",
			Help:      "Total number of log notifications received by processing path",
		}, []string{"path"}),
		NotificationsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "notifications_dropped_total",
			Help:      "Total number of background notifications dropped because every worker was busy",
		}),
		AccountNotifications: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "account_notifications_total",
			Help:      "Total number of account-change notifications for the tracked mint",
		}),
		ConnectionState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "connection_state",
			Help:      "Current connection state (0=disconnected .. 5=stopped)",
		}),
		ReconnectAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of reconnect attempts",
		}),
		HighestSlotSeen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "highest_slot_seen",
			Help:      "Highest Solana slot number seen in notifications",
		}),

		EventsClassified: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "events_total",
			Help:      "Total number of classified events by side and wallet ownership",
		}, []string{"side", "wallet"}),
		ClassificationErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "errors_total",
			Help:      "Total number of abandoned classifications by reason",
		}, []string{"reason"}),
		ClassificationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "latency_seconds",
			Help:      "Notification-to-event latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path"}),
		DedupHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "dedup_hits_total",
			Help:      "Total number of notifications discarded as duplicates",
		}),
		DedupSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "dedup_size",
			Help:      "Current number of signatures in the dedup cache",
		}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		WindowVolume: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "window_volume_sol",
			Help:      "Cumulative external buy volume in the current window",
		}),
		WindowEvents: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "window_events",
			Help:      "Number of contributing events in the current window",
		}),
		Breaches: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "breaches_total",
			Help:      "Total number of threshold breaches",
		}),
		DispatchOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "dispatch_outcomes_total",
			Help:      "Total number of liquidation dispatches by outcome",
		}, []string{"outcome"}),

		ListenerFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "failures_total",
			Help:      "Total number of listener errors and panics by listener",
		}, []string{"listener"}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		LastClassifiedEvent: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_classified_event_timestamp",
			Help:      "Unix timestamp of the last classified event",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordNotification increments the notifications counter for a processing path.
func RecordNotification(path string) {
	DefaultMetrics.NotificationsReceived.WithLabelValues(path).Inc()
}

// RecordNotificationDropped increments the dropped background notifications counter.
func RecordNotificationDropped() {
	DefaultMetrics.NotificationsDropped.Inc()
}

// RecordAccountNotification increments the account notifications counter.
func RecordAccountNotification() {
	DefaultMetrics.AccountNotifications.Inc()
}

// SetConnectionState updates the connection state gauge.
func SetConnectionState(state int) {
	DefaultMetrics.ConnectionState.Set(float64(state))
}

// RecordReconnectAttempt increments the reconnect attempts counter.
func RecordReconnectAttempt() {
	DefaultMetrics.ReconnectAttempts.Inc()
}

// UpdateHighestSlot updates the highest slot seen gauge.
func UpdateHighestSlot(slot int64) {
	DefaultMetrics.HighestSlotSeen.Set(float64(slot))
}

// RecordClassified records a classified event.
func RecordClassified(side string, internal bool, unixSeconds int64) {
	wallet := "external"
	if internal {
		wallet = "internal"
	}
	DefaultMetrics.EventsClassified.WithLabelValues(side, wallet).Inc()
	DefaultMetrics.LastClassifiedEvent.Set(float64(unixSeconds))
}

// RecordClassificationError records an abandoned classification.
func RecordClassificationError(reason string) {
	DefaultMetrics.ClassificationErrors.WithLabelValues(reason).Inc()
}

// RecordClassificationLatency records the latency of one classification.
func RecordClassificationLatency(path string, seconds float64) {
	DefaultMetrics.ClassificationLatency.WithLabelValues(path).Observe(seconds)
}

// RecordDedupHit increments the dedup hits counter.
func RecordDedupHit() {
	DefaultMetrics.DedupHits.Inc()
}

// SetDedupSize updates the dedup size gauge.
func SetDedupSize(n int) {
	DefaultMetrics.DedupSize.Set(float64(n))
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// UpdateWindow updates the aggregation window gauges.
func UpdateWindow(volume float64, events int) {
	DefaultMetrics.WindowVolume.Set(volume)
	DefaultMetrics.WindowEvents.Set(float64(events))
}

// RecordBreach increments the breaches counter.
func RecordBreach() {
	DefaultMetrics.Breaches.Inc()
}

// RecordDispatch records a dispatch outcome.
func RecordDispatch(outcome string) {
	DefaultMetrics.DispatchOutcomes.WithLabelValues(outcome).Inc()
}

// RecordListenerFailure records a listener error or panic.
func RecordListenerFailure(listener string) {
	DefaultMetrics.ListenerFailures.WithLabelValues(listener).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

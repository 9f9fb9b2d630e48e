// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tomtom215/examguard/internal/models"
)

// Prometheus instrumentation for:
// - Event ingestion and rule evaluation
// - Session status transitions and flags
// - Store latency, retries and the store circuit breaker
// - Connections, WebSocket traffic and notification delivery
// - API endpoint latency and throughput

var (
	// Ingest Metrics
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examguard_events_ingested_total",
			Help: "Total number of events appended to session logs",
		},
		[]string{"event_type"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examguard_events_rejected_total",
			Help: "Total number of events rejected before append",
		},
		[]string{"reason"}, // validation, not_associated, unknown_session, store, rate_limited, cancelled
	)

	EventsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "examguard_events_deduplicated_total",
			Help: "Total number of resubmitted events answered from the dedup cache",
		},
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "examguard_ingest_duration_seconds",
			Help:    "Time from receipt to committed append",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// Rule Evaluation Metrics
	EvaluationQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "examguard_evaluation_queue_depth",
			Help: "Evaluation jobs waiting across all shards",
		},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "examguard_evaluation_duration_seconds",
			Help:    "Duration of one rule evaluation pass over a window",
			Buckets: prometheus.DefBuckets,
		},
	)

	EvaluationErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "examguard_evaluation_errors_total",
			Help: "Evaluation passes that failed to read the window or record flags",
		},
	)

	FlagsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examguard_flags_raised_total",
			Help: "Total number of flags persisted",
		},
		[]string{"rule", "severity"},
	)

	// Session Metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "examguard_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examguard_session_transitions_total",
			Help: "Total number of committed session status transitions",
		},
		[]string{"from", "to", "trigger"},
	)

	InvalidTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examguard_invalid_transitions_total",
			Help: "Transition attempts rejected by the transition table",
		},
		[]string{"from", "trigger"},
	)

	// Connection Metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "examguard_connections_active",
			Help: "Connections currently in the registry",
		},
	)

	ConnectionsLost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examguard_connections_lost_total",
			Help: "Associated connections that went away",
		},
		[]string{"reason"}, // closed, idle_timeout
	)

	WSClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "examguard_websocket_clients",
			Help: "Open WebSocket clients",
		},
	)

	WSMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examguard_websocket_messages_total",
			Help: "WebSocket frames by direction and type",
		},
		[]string{"direction", "type"}, // direction: in, out
	)

	// Notification Metrics
	NotificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examguard_notifications_published_total",
			Help: "Notifications published to the internal bus",
		},
		[]string{"kind"},
	)

	NotificationDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examguard_notification_deliveries_total",
			Help: "Notification delivery attempts per sink",
		},
		[]string{"sink", "result"}, // result: success, failure
	)

	// Analytics Metrics
	AnalyticsCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "examguard_analytics_cache_hits_total",
			Help: "Summaries served from the analytics cache",
		},
	)

	AnalyticsCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "examguard_analytics_cache_misses_total",
			Help: "Summaries recomputed because no current cache entry existed",
		},
	)

	AnalyticsComputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "examguard_analytics_compute_duration_seconds",
			Help:    "Duration of a full summary fold",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Store Metrics
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "examguard_store_operation_duration_seconds",
			Help:    "Duration of store calls including retries",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation"},
	)

	StoreOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examguard_store_operation_errors_total",
			Help: "Store calls that returned an error",
		},
		[]string{"operation", "error_type"},
	)

	StoreRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examguard_store_retries_total",
			Help: "Store calls retried after a transient failure",
		},
		[]string{"operation"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Number of API requests currently being processed",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of requests rejected by rate limiting",
		},
		[]string{"endpoint"},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// ErrorType maps an error onto a small, bounded label set.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, models.ErrStoreUnavailable):
		return "unavailable"
	case errors.Is(err, models.ErrSequenceConflict), errors.Is(err, models.ErrStatusConflict):
		return "conflict"
	case errors.Is(err, models.ErrUnknownSession):
		return "not_found"
	case errors.Is(err, models.ErrSessionExists):
		return "exists"
	default:
		return "other"
	}
}

// RejectReason maps an ingest error onto the events_rejected reason label.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidEvent):
		return "validation"
	case errors.Is(err, models.ErrNotAssociated), errors.Is(err, models.ErrUnknownConnection):
		return "not_associated"
	case errors.Is(err, models.ErrUnknownSession):
		return "unknown_session"
	case errors.Is(err, models.ErrStoreUnavailable), errors.Is(err, models.ErrSequenceConflict):
		return "store"
	default:
		return "cancelled"
	}
}

// RecordIngest records one committed append.
func RecordIngest(eventType string, duration time.Duration) {
	EventsIngested.WithLabelValues(eventType).Inc()
	IngestDuration.Observe(duration.Seconds())
}

// RecordIngestRejected records a rejection by reason label.
func RecordIngestRejected(reason string) {
	EventsRejected.WithLabelValues(reason).Inc()
}

// RecordDuplicate records an event answered from the dedup cache.
func RecordDuplicate() {
	EventsDeduplicated.Inc()
}

// SetEvaluationQueueDepth sets the pending evaluation job gauge.
func SetEvaluationQueueDepth(depth int) {
	EvaluationQueueDepth.Set(float64(depth))
}

// RecordEvaluation records one rule evaluation pass.
func RecordEvaluation(duration time.Duration, err error) {
	EvaluationDuration.Observe(duration.Seconds())
	if err != nil {
		EvaluationErrors.Inc()
	}
}

// RecordFlag records a persisted flag.
func RecordFlag(rule, severity string) {
	FlagsRaised.WithLabelValues(rule, severity).Inc()
}

// RecordSessionCreated records a new session.
func RecordSessionCreated() {
	SessionsCreated.Inc()
}

// RecordTransition records a committed status change.
func RecordTransition(from, to, trigger string) {
	SessionTransitions.WithLabelValues(from, to, trigger).Inc()
}

// RecordInvalidTransition records a trigger the table refused.
func RecordInvalidTransition(from, trigger string) {
	InvalidTransitions.WithLabelValues(from, trigger).Inc()
}

// SetActiveConnections sets the registry size gauge.
func SetActiveConnections(n int) {
	ConnectionsActive.Set(float64(n))
}

// RecordConnectionLost records an associated connection going away.
func RecordConnectionLost(reason string) {
	ConnectionsLost.WithLabelValues(reason).Inc()
}

// RecordWSMessage records a WebSocket frame; direction is "in" or "out".
func RecordWSMessage(direction, msgType string) {
	WSMessages.WithLabelValues(direction, msgType).Inc()
}

// SetWSClients sets the open WebSocket client gauge.
func SetWSClients(n int) {
	WSClients.Set(float64(n))
}

// RecordNotificationPublished records a notification entering the bus.
func RecordNotificationPublished(kind string) {
	NotificationsPublished.WithLabelValues(kind).Inc()
}

// RecordNotificationDelivery records a sink delivery attempt.
func RecordNotificationDelivery(sink string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	NotificationDeliveries.WithLabelValues(sink, result).Inc()
}

// RecordAnalyticsCache records an analytics cache lookup.
func RecordAnalyticsCache(hit bool) {
	if hit {
		AnalyticsCacheHits.Inc()
	} else {
		AnalyticsCacheMisses.Inc()
	}
}

// RecordAnalyticsCompute records a full summary fold.
func RecordAnalyticsCompute(duration time.Duration) {
	AnalyticsComputeDuration.Observe(duration.Seconds())
}

// RecordStoreOperation records a store call and its outcome.
func RecordStoreOperation(operation string, duration time.Duration, err error) {
	StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		StoreOperationErrors.WithLabelValues(operation, ErrorType(err)).Inc()
	}
}

// RecordStoreRetry records a retried store call.
func RecordStoreRetry(operation string) {
	StoreRetries.WithLabelValues(operation).Inc()
}

// RecordBreakerRequest records a call through a circuit breaker.
func RecordBreakerRequest(name, result string) {
	CircuitBreakerRequests.WithLabelValues(name, result).Inc()
}

// RecordBreakerTransition records a breaker state change and updates its gauge.
func RecordBreakerTransition(name, from, to string) {
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
	CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
}

func breakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RateLimitDecisions counts admission decisions per scope.
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_rate_limit_decisions_total",
			Help: "Rate limit decisions by scope and outcome",
		},
		[]string{"scope", "outcome"},
	)

	// BackendDuration tracks AI backend call latency.
	BackendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_backend_duration_seconds",
			Help:    "AI backend call duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 45, 60},
		},
		[]string{"backend", "status"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_sse_connections_active",
			Help: "Number of active chat SSE streams",
		},
	)

	// HistoryWrites counts history store appends.
	HistoryWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_history_writes_total",
			Help: "History appends by role and outcome",
		},
		[]string{"role", "status"},
	)

	// TelemetryEvents counts telemetry records by event type and outcome.
	TelemetryEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_telemetry_events_total",
			Help: "Telemetry events by event type and outcome (sent, failed, dropped)",
		},
		[]string{"event", "outcome"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordRateLimit records a single scope decision.
func RecordRateLimit(scope string, blocked bool) {
	outcome := "allowed"
	if blocked {
		outcome = "blocked"
	}
	RateLimitDecisions.WithLabelValues(scope, outcome).Inc()
}

// RecordBackend records the latency of an AI backend call.
func RecordBackend(backend, status string, duration float64) {
	BackendDuration.WithLabelValues(backend, status).Observe(duration)
}

// RecordHistoryWrite records a history append outcome.
func RecordHistoryWrite(role string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	HistoryWrites.WithLabelValues(role, status).Inc()
}

// RecordTelemetry records the fate of a telemetry event.
func RecordTelemetry(event, outcome string) {
	TelemetryEvents.WithLabelValues(event, outcome).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}

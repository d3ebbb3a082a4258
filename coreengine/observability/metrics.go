// Package observability provides Prometheus metrics instrumentation for the flow engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// PROCESSOR METRICS
// =============================================================================

var (
	processorTriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowkernel_processor_triggers_total",
			Help: "Total number of processor executions",
		},
		[]string{"processor", "outcome"}, // outcome: committed, no_work, yielded, failed, cancelled
	)

	processorTriggerDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowkernel_processor_trigger_duration_seconds",
			Help:    "Processor execution duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"processor"},
	)

	processorActiveExecutions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowkernel_processor_active_executions",
			Help: "Executions currently in flight per processor",
		},
		[]string{"processor"},
	)
)

// =============================================================================
// CONNECTION METRICS
// =============================================================================

var (
	connectionBackpressureTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowkernel_connection_backpressure_total",
			Help: "Enqueue attempts refused because a connection was at capacity",
		},
		[]string{"connection"},
	)

	connectionExpiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowkernel_connection_expired_total",
			Help: "Flow files dropped because they exceeded the connection expiration",
		},
		[]string{"connection"},
	)

	connectionQueuedFlowFiles = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowkernel_connection_queued_flowfiles",
			Help: "Flow files queued in a connection",
		},
		[]string{"connection"},
	)

	connectionQueuedBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowkernel_connection_queued_bytes",
			Help: "Bytes queued in a connection",
		},
		[]string{"connection"},
	)
)

// =============================================================================
// CONTROLLER METRICS
// =============================================================================

var (
	controllerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowkernel_controller_transitions_total",
			Help: "Flow controller state transitions",
		},
		[]string{"from", "to"},
	)

	drainsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowkernel_drains_total",
			Help: "Drain outcomes on stop",
		},
		[]string{"outcome"}, // outcome: drained, timeout, skipped
	)

	drainDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowkernel_drain_duration_seconds",
			Help:    "Time spent waiting for connections to drain",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
)

// =============================================================================
// GRPC METRICS
// =============================================================================

var (
	grpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowkernel_grpc_requests_total",
			Help: "Total gRPC requests",
		},
		[]string{"method", "status"}, // status: OK, InvalidArgument, Internal, etc.
	)

	grpcRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowkernel_grpc_request_duration_seconds",
			Help:    "gRPC request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordTrigger records one processor execution.
func RecordTrigger(processor string, outcome string, durationMS int) {
	processorTriggersTotal.WithLabelValues(processor, outcome).Inc()
	processorTriggerDurationSeconds.WithLabelValues(processor).Observe(float64(durationMS) / 1000.0)
}

// SetActiveExecutions publishes the in-flight execution count of a processor.
func SetActiveExecutions(processor string, n int) {
	processorActiveExecutions.WithLabelValues(processor).Set(float64(n))
}

// RecordBackpressure counts one refused enqueue.
func RecordBackpressure(connection string) {
	connectionBackpressureTotal.WithLabelValues(connection).Inc()
}

// RecordExpired counts flow files dropped for age.
func RecordExpired(connection string, n int) {
	connectionExpiredTotal.WithLabelValues(connection).Add(float64(n))
}

// SetQueueDepth publishes the current depth of a connection.
// Called from the controller's housekeeping loop.
func SetQueueDepth(connection string, count int64, bytes int64) {
	connectionQueuedFlowFiles.WithLabelValues(connection).Set(float64(count))
	connectionQueuedBytes.WithLabelValues(connection).Set(float64(bytes))
}

// RecordControllerTransition records a controller state change.
func RecordControllerTransition(from, to string) {
	controllerTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordDrain records how a drain wait ended.
func RecordDrain(outcome string, durationMS int) {
	drainsTotal.WithLabelValues(outcome).Inc()
	drainDurationSeconds.Observe(float64(durationMS) / 1000.0)
}

// RecordGRPCRequest records gRPC request metrics.
// This should be called from gRPC interceptors.
func RecordGRPCRequest(method string, status string, durationMS int) {
	grpcRequestsTotal.WithLabelValues(method, status).Inc()
	grpcRequestDurationSeconds.WithLabelValues(method).Observe(float64(durationMS) / 1000.0)
}

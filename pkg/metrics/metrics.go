// Package metrics exposes the Prometheus collectors the worker runtime,
// tool invoker, and SLA monitor publish against. Adapted from
// r3e-network-service_layer's pkg/metrics: a package-level Registry plus
// Record* helper functions, instead of injecting a metrics struct
// through every constructor.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds every collector this package registers.
	Registry = prometheus.NewRegistry()

	deliveriesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "excproc",
			Subsystem: "worker",
			Name:      "deliveries_total",
			Help:      "Deliveries processed by a role's worker runtime, by role and outcome.",
		},
		[]string{"role", "outcome"},
	)

	deliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "excproc",
			Subsystem: "worker",
			Name:      "delivery_duration_seconds",
			Help:      "Time spent handling and committing one delivery, by role.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"role"},
	)

	casRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "excproc",
			Subsystem: "worker",
			Name:      "cas_retries_total",
			Help:      "Optimistic concurrency retries consumed per role before a commit succeeded or the attempt budget was exhausted.",
		},
		[]string{"role"},
	)

	dlqDiversions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "excproc",
			Subsystem: "worker",
			Name:      "dlq_diversions_total",
			Help:      "Envelopes diverted to the dead-letter queue, by role and error kind.",
		},
		[]string{"role", "kind"},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "excproc",
			Subsystem: "resilience",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open), by breaker name.",
		},
		[]string{"breaker"},
	)

	toolInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "excproc",
			Subsystem: "tool",
			Name:      "invocations_total",
			Help:      "Tool invocations by tool_id and outcome.",
		},
		[]string{"tool_id", "outcome"},
	)

	toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "excproc",
			Subsystem: "tool",
			Name:      "invocation_duration_seconds",
			Help:      "Tool invocation latency, by tool_id.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"tool_id"},
	)

	slaEmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "excproc",
			Subsystem: "sla",
			Name:      "emissions_total",
			Help:      "SLA timer events emitted, by kind (imminent|expired).",
		},
		[]string{"kind"},
	)

	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "excproc",
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Operator notifications sent, by kind and result.",
		},
		[]string{"kind", "result"},
	)
)

func init() {
	Registry.MustRegister(
		deliveriesProcessed,
		deliveryDuration,
		casRetries,
		dlqDiversions,
		breakerState,
		toolInvocations,
		toolDuration,
		slaEmissions,
		notificationsSent,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered collectors.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordDelivery records a worker delivery outcome and its handling duration.
func RecordDelivery(role, outcome string, dur time.Duration) {
	deliveriesProcessed.WithLabelValues(role, outcome).Inc()
	deliveryDuration.WithLabelValues(role).Observe(dur.Seconds())
}

// RecordCASRetry records one optimistic concurrency retry for role.
func RecordCASRetry(role string) {
	casRetries.WithLabelValues(role).Inc()
}

// RecordDLQDiversion records one envelope diverted to the dead-letter queue.
func RecordDLQDiversion(role, kind string) {
	dlqDiversions.WithLabelValues(role, kind).Inc()
}

// RecordBreakerState publishes a circuit breaker's current state (0/1/2).
func RecordBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

// RecordToolInvocation records a tool invocation outcome and latency.
func RecordToolInvocation(toolID, outcome string, dur time.Duration) {
	toolInvocations.WithLabelValues(toolID, outcome).Inc()
	toolDuration.WithLabelValues(toolID).Observe(dur.Seconds())
}

// RecordSLAEmission records one SLA timer event of the given kind.
func RecordSLAEmission(kind string) {
	slaEmissions.WithLabelValues(kind).Inc()
}

// RecordNotification records one outbound operator notification attempt.
func RecordNotification(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	notificationsSent.WithLabelValues(kind, result).Inc()
}

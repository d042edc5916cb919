package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PermissionChecks counts permission evaluations and their outcome (allowed|denied|error).
	PermissionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steward_permission_checks_total",
			Help: "Total number of role permission checks",
		},
		[]string{"permission", "result"},
	)

	// DelegatedCalls counts requests executed with a caller credential attached.
	DelegatedCalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "steward_delegated_calls_total",
			Help: "Total number of requests executed on behalf of a caller",
		},
	)

	// WorkflowTransitions counts state-machine transitions by entity and outcome.
	WorkflowTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steward_workflow_transitions_total",
			Help: "Total number of request workflow transitions",
		},
		[]string{"entity", "transition", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "steward_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

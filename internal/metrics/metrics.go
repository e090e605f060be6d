package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Query pipeline metrics
	QueriesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrimind_queries_received_total",
			Help: "Total number of queries accepted at ingress",
		},
		[]string{"modality"},
	)

	QueriesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrimind_queries_completed_total",
			Help: "Total number of queries that produced a terminal outcome",
		},
		[]string{"tier", "status"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agrimind_query_duration_seconds",
			Help:    "End-to-end query processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tier"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agrimind_stage_duration_seconds",
			Help:    "Per-stage duration (classify, plan, execute, merge, gate)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// Planner metrics
	PlansBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrimind_plans_built_total",
			Help: "Total number of execution plans built",
		},
		[]string{"tier"},
	)

	PlanSteps = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agrimind_plan_steps",
			Help:    "Number of steps per execution plan",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"tier"},
	)

	PlanningErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agrimind_planning_errors_total",
			Help: "Total number of rejected plans",
		},
	)

	// Execution engine metrics
	StepExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrimind_step_executions_total",
			Help: "Total number of plan step invocations by terminal status",
		},
		[]string{"capability", "status"},
	)

	StepRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrimind_step_retries_total",
			Help: "Total number of step retry attempts",
		},
		[]string{"capability"},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agrimind_step_duration_ms",
			Help:    "Step invocation duration in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"capability"},
	)

	// Merger metrics
	ClaimsTagged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrimind_claims_tagged_total",
			Help: "Total number of merged claims by grounding tag",
		},
		[]string{"tag"},
	)

	MergeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agrimind_merge_errors_total",
			Help: "Total number of step outputs dropped for schema mismatch",
		},
	)

	// HITL gate metrics
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrimind_gate_decisions_total",
			Help: "Total number of HITL gate decisions",
		},
		[]string{"outcome"},
	)

	ReviewQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agrimind_review_queue_depth",
			Help: "Number of composite results awaiting human review",
		},
	)

	ReviewWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agrimind_review_wait_seconds",
			Help:    "Time from escalation to recorded decision",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
	)

	// Retrieval metrics
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrimind_vector_searches_total",
			Help: "Total number of vector searches by status",
		},
		[]string{"collection", "status"},
	)

	VectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agrimind_vector_search_seconds",
			Help:    "Vector search latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"collection"},
	)

	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrimind_embedding_requests_total",
			Help: "Total number of embedding lookups by cache outcome",
		},
		[]string{"outcome"},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agrimind_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrimind_circuit_breaker_trips_total",
			Help: "Total number of circuit breaker open transitions",
		},
		[]string{"name"},
	)
)

// RecordVectorSearch records one vector search observation.
func RecordVectorSearch(collection, status string, seconds float64) {
	VectorSearches.WithLabelValues(collection, status).Inc()
	if status == "ok" {
		VectorSearchLatency.WithLabelValues(collection).Observe(seconds)
	}
}

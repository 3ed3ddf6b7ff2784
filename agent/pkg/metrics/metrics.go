package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "analyst_build_info",
			Help: "Build information of the analyst",
		},
		[]string{"version", "commit", "date"},
	)

	WorkflowStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyst_workflow_step_duration_seconds",
			Help:    "Duration of workflow steps in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	WorkflowRoutesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_workflow_routes_total",
			Help: "Total number of routing decisions by source step and route",
		},
		[]string{"from", "route"},
	)

	WorkflowRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analyst_workflow_retries_total",
			Help: "Total number of query generation retries after all test executions failed",
		},
	)

	WorkflowRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_workflow_runs_total",
			Help: "Total number of workflow runs by outcome",
		},
		[]string{"outcome"},
	)

	AnthropicRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_anthropic_requests_total",
			Help: "Total number of Anthropic API requests",
		},
		[]string{"endpoint", "status"},
	)

	AnthropicRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyst_anthropic_request_duration_seconds",
			Help:    "Duration of Anthropic API requests in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"endpoint"},
	)

	AnthropicTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_anthropic_tokens_total",
			Help: "Total number of Anthropic tokens by direction",
		},
		[]string{"direction"},
	)

	WarehouseQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_warehouse_queries_total",
			Help: "Total number of warehouse queries",
		},
		[]string{"status"},
	)

	WarehouseQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analyst_warehouse_query_duration_seconds",
			Help:    "Duration of warehouse queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	MemoryOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_memory_operations_total",
			Help: "Total number of external memory operations",
		},
		[]string{"backend", "op", "status"},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordAnthropicRequest records an Anthropic API request.
func RecordAnthropicRequest(endpoint string, duration time.Duration, err error) {
	AnthropicRequestsTotal.WithLabelValues(endpoint, status(err)).Inc()
	AnthropicRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordAnthropicTokens records token usage for an Anthropic API request.
func RecordAnthropicTokens(input, output int64) {
	AnthropicTokensTotal.WithLabelValues("input").Add(float64(input))
	AnthropicTokensTotal.WithLabelValues("output").Add(float64(output))
}

// RecordWarehouseQuery records a warehouse query.
func RecordWarehouseQuery(duration time.Duration, err error) {
	WarehouseQueriesTotal.WithLabelValues(status(err)).Inc()
	WarehouseQueryDuration.Observe(duration.Seconds())
}

// RecordMemoryOp records an external memory operation.
func RecordMemoryOp(backend, op string, err error) {
	MemoryOperationsTotal.WithLabelValues(backend, op, status(err)).Inc()
}

// RecordStep records the duration of a workflow step.
func RecordStep(step string, duration time.Duration) {
	WorkflowStepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordRoute records a routing decision.
func RecordRoute(from, route string) {
	WorkflowRoutesTotal.WithLabelValues(from, route).Inc()
}

// RecordRun records the outcome of a workflow run.
func RecordRun(outcome string) {
	WorkflowRunsTotal.WithLabelValues(outcome).Inc()
}

// RecordRetry records a generate/test retry.
func RecordRetry() {
	WorkflowRetriesTotal.Inc()
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Job lifecycle
	JobsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandlens_sync_jobs_started_total",
			Help: "Total number of sync jobs handed to the runner",
		},
		[]string{"sync_type"},
	)

	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandlens_sync_jobs_finished_total",
			Help: "Total number of sync jobs reaching a terminal status",
		},
		[]string{"status"},
	)

	JobsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "brandlens_sync_jobs_running",
			Help: "Number of sync jobs currently holding a runner slot",
		},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brandlens_sync_job_duration_seconds",
			Help:    "Wall-clock duration of orchestrated sync runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"sync_type", "status"},
	)

	// Orchestrator
	EntitySyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandlens_entity_syncs_total",
			Help: "Per-entity sub-sync outcomes",
		},
		[]string{"step", "status"},
	)

	// Record store
	RecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandlens_records_written_total",
			Help: "Rows written to the record store",
		},
		[]string{"record_type"},
	)

	RecordsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandlens_records_rejected_total",
			Help: "Provider records dropped by boundary validation",
		},
		[]string{"record_type"},
	)

	StoreBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brandlens_store_batch_duration_seconds",
			Help:    "Duration of record store batch writes",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"record_type"},
	)

	// Observability writes swallowed by policy
	BestEffortFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandlens_best_effort_failures_total",
			Help: "Ledger, audit and notification writes that failed and were swallowed",
		},
		[]string{"op"},
	)

	// Providers
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandlens_provider_requests_total",
			Help: "Requests sent to external analytics providers",
		},
		[]string{"provider", "status"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "brandlens_provider_circuit_breaker_state",
			Help: "Provider circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandlens_provider_circuit_breaker_transitions_total",
			Help: "Provider circuit breaker state transitions",
		},
		[]string{"provider", "from", "to"},
	)

	// Aggregation
	AggregationScopeMode = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandlens_aggregation_scope_mode_total",
			Help: "Which scope resolution path KPI aggregation took",
		},
		[]string{"mode"},
	)
)

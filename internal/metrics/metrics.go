package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Redis Operations Metrics
var (
	// RedisOpsTotal tracks total Redis operations by operation type and status
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis operation latency in seconds
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// RedisConnectionErrors tracks failed Redis dials
	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_connection_errors_total",
			Help: "Total Redis connection errors",
		},
	)

	// CircuitBreakerStateChanges tracks circuit breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// Lifecycle Metrics
var (
	// TransitionsTotal counts persisted lifecycle transitions by target state and failure kind
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "application_transitions_total",
			Help: "Persisted application transitions by target state and failure kind",
		},
		[]string{"state", "failure_kind"},
	)

	// InvalidTransitionsTotal counts rejected (state, event) pairs
	InvalidTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "application_invalid_transitions_total",
			Help: "Rejected lifecycle events by current state and event",
		},
		[]string{"state", "event"},
	)
)

// Deduplication Metrics
var (
	// DedupRegistrationsTotal counts registerIfAbsent calls by result (created/existing/error)
	DedupRegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_registrations_total",
			Help: "Dedup registrations by result (created/existing/error)",
		},
		[]string{"result"},
	)

	// DedupLookupsTotal counts identity lookups by result (hit/miss/error)
	DedupLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_lookups_total",
			Help: "Dedup lookups by result (hit/miss/error)",
		},
		[]string{"result"},
	)
)

// Rate Governor Metrics
var (
	// GovernorAdmissionsTotal counts governor decisions by platform and result
	GovernorAdmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_admissions_total",
			Help: "Rate governor admissions by platform and result (admitted/paced/cancelled/error)",
		},
		[]string{"platform", "result"},
	)

	// GovernorWaitDuration tracks time spent waiting for pacing or budget
	GovernorWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "governor_wait_duration_seconds",
			Help:    "Time spent waiting in the rate governor",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 300, 900, 3600},
		},
		[]string{"platform"},
	)

	// GovernorBudgetRemaining reports remaining budget per platform and window (hour/day)
	GovernorBudgetRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "governor_budget_remaining",
			Help: "Remaining action budget by platform and window (hour/day)",
		},
		[]string{"platform", "window"},
	)
)

// Session Coordinator Metrics
var (
	// SessionLoginsTotal counts login attempts by platform and result
	SessionLoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_logins_total",
			Help: "Platform login attempts by platform and result (success/error/throttled/circuit_open)",
		},
		[]string{"platform", "result"},
	)

	// SessionInvalidationsTotal counts session invalidations by platform and failure kind
	SessionInvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_invalidations_total",
			Help: "Session invalidations by platform and failure kind",
		},
		[]string{"platform", "kind"},
	)

	// SessionActionDuration tracks driver call latency by platform and action
	SessionActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "session_action_duration_seconds",
			Help:    "Driver call duration by platform and action (discover/submit)",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"platform", "action"},
	)

	// SessionQueueDepth tracks queued tasks per lane
	SessionQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "session_queue_depth",
			Help: "Tasks waiting in a lane queue",
		},
		[]string{"lane"},
	)

	// SessionPanicsTotal tracks lane panic recoveries
	SessionPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_panics_total",
			Help: "Total lane panic recoveries",
		},
	)
)

// Orchestrator Metrics
var (
	// RunsTotal counts pipeline runs by result (completed/aborted/cancelled)
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Pipeline runs by result (completed/aborted/cancelled/skipped)",
		},
		[]string{"result"},
	)

	// RunDuration tracks pipeline run duration
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_run_duration_seconds",
			Help:    "Pipeline run duration in seconds",
			Buckets: []float64{1, 10, 30, 60, 300, 900, 1800, 3600, 7200},
		},
	)

	// TasksTotal counts finished application tasks by outcome state
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_tasks_total",
			Help: "Application tasks finished by resulting state",
		},
		[]string{"state"},
	)

	// ContentGenerationDuration tracks content service latency
	ContentGenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "content_generation_duration_seconds",
			Help:    "Content generation duration in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)

// Database Metrics
var (
	// DBQueryDuration tracks database query duration by query name
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"query"},
	)

	// DBErrorsTotal tracks database errors by query name
	DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_errors_total",
			Help: "Total database errors by query",
		},
		[]string{"query"},
	)
)

// HTTP API Metrics
var (
	// HTTPRequestsTotal tracks API requests by method, route and status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status_code"},
	)

	// HTTPRequestDuration tracks API request latency in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status_code"},
	)

	// HTTPInFlight tracks requests currently being served
	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Build Information Metrics
var (
	// BuildInfo is a gauge that always returns 1, with build metadata as labels
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build information with version, commit, build_time, and go_version labels (value is always 1)",
		},
		[]string{"version", "commit", "build_time", "go_version"},
	)
)

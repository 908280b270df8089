package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistration(t *testing.T) {
	// promauto panics on duplicate names, so reaching this point already proves uniqueness
	metrics := []prometheus.Collector{
		RedisOpsTotal,
		RedisOpDuration,
		CircuitBreakerStateChanges,
		CircuitBreakerState,

		TransitionsTotal,
		InvalidTransitionsTotal,
		DedupRegistrationsTotal,
		DedupLookupsTotal,

		GovernorAdmissionsTotal,
		GovernorWaitDuration,
		GovernorBudgetRemaining,

		SessionLoginsTotal,
		SessionInvalidationsTotal,
		SessionActionDuration,
		SessionQueueDepth,
		SessionPanicsTotal,

		RunsTotal,
		RunDuration,
		TasksTotal,
		ContentGenerationDuration,

		DBQueryDuration,
		DBErrorsTotal,

		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPInFlight,

		BuildInfo,
	}

	for _, metric := range metrics {
		desc := make(chan *prometheus.Desc, 1)
		metric.Describe(desc)
		close(desc)

		require.NotNil(t, <-desc, "metric should have a valid descriptor")
	}
}

func TestCounterMetrics(t *testing.T) {
	tests := []struct {
		name    string
		metric  *prometheus.CounterVec
		labels  prometheus.Labels
		incBy   int
		wantVal float64
	}{
		{
			name:    "dedup registrations",
			metric:  DedupRegistrationsTotal,
			labels:  prometheus.Labels{"result": "created"},
			incBy:   3,
			wantVal: 3,
		},
		{
			name:    "governor admissions",
			metric:  GovernorAdmissionsTotal,
			labels:  prometheus.Labels{"platform": "linkedin", "result": "admitted"},
			incBy:   5,
			wantVal: 5,
		},
		{
			name:    "transitions",
			metric:  TransitionsTotal,
			labels:  prometheus.Labels{"state": "failed", "failure_kind": "network"},
			incBy:   2,
			wantVal: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.metric.Reset()

			for range tt.incBy {
				tt.metric.With(tt.labels).Inc()
			}

			assert.Equal(t, tt.wantVal, testutil.ToFloat64(tt.metric.With(tt.labels)))
		})
	}
}

func TestGaugeVecMetrics(t *testing.T) {
	GovernorBudgetRemaining.Reset()

	GovernorBudgetRemaining.WithLabelValues("seek", "hour").Set(19)
	GovernorBudgetRemaining.WithLabelValues("seek", "day").Set(149)

	assert.Equal(t, 19.0, testutil.ToFloat64(GovernorBudgetRemaining.WithLabelValues("seek", "hour")))
	assert.Equal(t, 149.0, testutil.ToFloat64(GovernorBudgetRemaining.WithLabelValues("seek", "day")))

	SessionQueueDepth.Reset()
	lane := SessionQueueDepth.WithLabelValues("linkedin/alice")
	lane.Inc()
	lane.Inc()
	lane.Dec()
	assert.Equal(t, 1.0, testutil.ToFloat64(lane))
}

func TestHistogramMetrics(t *testing.T) {
	SessionActionDuration.Reset()
	for _, obs := range []float64{0.4, 1.2, 7} {
		SessionActionDuration.WithLabelValues("linkedin", "submit").Observe(obs)
	}
	assert.Equal(t, 1, testutil.CollectAndCount(SessionActionDuration))

	RunDuration.Observe(42)
	assert.Equal(t, 1, testutil.CollectAndCount(RunDuration))
}

func TestMetricNaming(t *testing.T) {
	tests := []struct {
		name       string
		metric     prometheus.Collector
		wantSuffix string
	}{
		{"counter has _total suffix", DedupRegistrationsTotal, `_total"`},
		{"counter has _total suffix", SessionLoginsTotal, `_total"`},
		{"duration has _seconds suffix", GovernorWaitDuration, `_seconds"`},
		{"duration has _seconds suffix", RunDuration, `_seconds"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := make(chan *prometheus.Desc, 1)
			tt.metric.Describe(desc)
			close(desc)

			assert.Contains(t, (<-desc).String(), tt.wantSuffix)
		})
	}
}

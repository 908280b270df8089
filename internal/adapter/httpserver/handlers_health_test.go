package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthOK(_ context.Context) error { return nil }

func healthErr(msg string) func(context.Context) error {
	return func(_ context.Context) error { return errors.New(msg) }
}

func decodeHealth(t *testing.T, body []byte) healthReport {
	t.Helper()
	var report healthReport
	require.NoError(t, json.Unmarshal(body, &report))
	return report
}

func TestHealth_AllDependenciesUp(t *testing.T) {
	srv := newTestServer(t, &mockStatusService{},
		WithHealthChecks(
			HealthCheck{Name: "redis", Check: healthOK},
			HealthCheck{Name: "postgres", Check: healthOK},
		),
	)

	for _, path := range []string{"/health/startup", "/health/ready"} {
		t.Run(path, func(t *testing.T) {
			rec := serve(srv, http.MethodGet, path, "")

			require.Equal(t, http.StatusOK, rec.Code)
			report := decodeHealth(t, rec.Body.Bytes())
			assert.Equal(t, "ready", report.Status)
			assert.Equal(t, map[string]string{"redis": "ok", "postgres": "ok"}, report.Checks)
		})
	}
}

func TestHealth_ReportsEveryFailingDependency(t *testing.T) {
	srv := newTestServer(t, &mockStatusService{},
		WithHealthChecks(
			HealthCheck{Name: "redis", Check: healthErr("connection refused")},
			HealthCheck{Name: "postgres", Check: healthErr("database unreachable")},
			HealthCheck{Name: "artifacts", Check: healthOK},
		),
	)

	rec := serve(srv, http.MethodGet, "/health/ready", "")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	report := decodeHealth(t, rec.Body.Bytes())
	assert.Equal(t, "unhealthy", report.Status)
	assert.Equal(t, map[string]string{
		"redis":     "connection refused",
		"postgres":  "database unreachable",
		"artifacts": "ok",
	}, report.Checks)
}

func TestHealth_StartupUsesShortDeadline(t *testing.T) {
	var deadline time.Duration
	srv := newTestServer(t, &mockStatusService{},
		WithHealthChecks(HealthCheck{Name: "postgres", Check: func(ctx context.Context) error {
			if d, ok := ctx.Deadline(); ok {
				deadline = time.Until(d)
			}
			return nil
		}}),
	)

	rec := serve(srv, http.MethodGet, "/health/startup", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.LessOrEqual(t, deadline, startupCheckTimeout)
	assert.Greater(t, deadline, time.Duration(0))
}

func TestHealth_NoChecksConfigured(t *testing.T) {
	srv := newTestServer(t, &mockStatusService{})

	rec := serve(srv, http.MethodGet, "/health/ready", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestLiveness(t *testing.T) {
	srv := newTestServer(t, &mockStatusService{},
		WithHealthChecks(HealthCheck{Name: "postgres", Check: healthErr("database unreachable")}),
	)
	srv.clock.(*clockwork.FakeClock).Advance(90 * time.Second)

	rec := serve(srv, http.MethodGet, "/health/live", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","uptime":90}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestLiveness_ReportsRunInProgress(t *testing.T) {
	srv := newTestServer(t, &mockStatusService{}, WithRunTrigger(&mockRuns{running: true}))

	rec := serve(srv, http.MethodGet, "/health/live", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","uptime":0,"run_in_progress":true}`, rec.Body.String())
}

func TestVersion(t *testing.T) {
	srv := newTestServer(t, &mockStatusService{})

	rec := serve(srv, http.MethodGet, "/version", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"version"`)
	assert.Contains(t, body, `"go_version"`)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &mockStatusService{})

	rec := serve(srv, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/autoapply/internal/platform/version"
	"golang.org/x/sync/errgroup"
)

const (
	startupCheckTimeout   = 2 * time.Second
	readinessCheckTimeout = 5 * time.Second
)

// HealthCheck is a named dependency of the engine, such as the record store
// or the budget ledger.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// healthReport maps every check name to "ok" or its error text.
type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleStartup(c echo.Context) error {
	return s.writeHealth(c, startupCheckTimeout)
}

func (s *Server) handleReadiness(c echo.Context) error {
	return s.writeHealth(c, readinessCheckTimeout)
}

// handleLiveness never touches dependencies. It reports uptime and, when runs
// can be triggered, whether a pipeline run is in flight.
func (s *Server) handleLiveness(c echo.Context) error {
	response := map[string]any{
		"status": "ok",
		"uptime": s.clock.Since(s.startTime).Seconds(),
	}
	if s.runs != nil {
		response["run_in_progress"] = s.runs.Running()
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

func (s *Server) writeHealth(c echo.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
	defer cancel()

	report, healthy := s.checkDependencies(ctx)
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	if err := c.JSON(code, report); err != nil {
		return fmt.Errorf("failed to write health response: %w", err)
	}
	return nil
}

// checkDependencies runs every check concurrently. One failing dependency
// does not hide the state of the others.
func (s *Server) checkDependencies(ctx context.Context) (healthReport, bool) {
	report := healthReport{Status: "ready"}
	if len(s.healthChecks) == 0 {
		return report, true
	}

	var (
		mu      sync.Mutex
		healthy = true
	)
	report.Checks = make(map[string]string, len(s.healthChecks))

	var g errgroup.Group
	for _, hc := range s.healthChecks {
		g.Go(func() error {
			result := "ok"
			if err := hc.Check(ctx); err != nil {
				slog.WarnContext(ctx, "Health check failed", "check", hc.Name, "error", err)
				result = err.Error()
			}

			mu.Lock()
			defer mu.Unlock()
			report.Checks[hc.Name] = result
			if result != "ok" {
				healthy = false
			}
			return nil
		})
	}
	_ = g.Wait()

	if !healthy {
		report.Status = "unhealthy"
	}
	return report, healthy
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}

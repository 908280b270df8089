package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/autoapply/internal/adapter/postgres"
	"github.com/pscheid92/autoapply/internal/app"
	"github.com/pscheid92/autoapply/internal/domain"
)

type statusService interface {
	Get(ctx context.Context, id domain.Identity) (*domain.ApplicationRecord, error)
	List(ctx context.Context, filter domain.RecordFilter) ([]domain.ApplicationRecord, error)
	UpdateStatus(ctx context.Context, id domain.Identity, upd app.StatusUpdate) (domain.ApplicationRecord, error)
}

type reporter interface {
	Report(ctx context.Context, from, to time.Time) (app.Report, error)
}

type budgetReader interface {
	Remaining(ctx context.Context) (map[string]domain.Budget, error)
}

type runTrigger interface {
	Running() bool
	Trigger(ctx context.Context) (bool, error)
}

type companyFilters interface {
	AddFilter(ctx context.Context, company string, ft postgres.FilterType, reason string) error
	RemoveFilter(ctx context.Context, company string) (bool, error)
	List(ctx context.Context) ([]postgres.CompanyFilterEntry, error)
}

// Option enables an optional part of the API.
type Option func(*Server)

// WithBudgets exposes the remaining submission budget per platform.
func WithBudgets(b budgetReader) Option {
	return func(s *Server) { s.budgets = b }
}

// WithRunTrigger allows starting a pipeline run over HTTP.
func WithRunTrigger(r runTrigger) Option {
	return func(s *Server) { s.runs = r }
}

// WithCompanyFilters exposes the persisted company filter list.
func WithCompanyFilters(f companyFilters) Option {
	return func(s *Server) { s.companies = f }
}

// WithHealthChecks sets the dependency checks behind /health/startup and /health/ready.
func WithHealthChecks(checks ...HealthCheck) Option {
	return func(s *Server) { s.healthChecks = checks }
}

type Server struct {
	echo  *echo.Echo
	port  string
	clock clockwork.Clock

	status    statusService
	reports   reporter
	budgets   budgetReader
	runs      runTrigger
	companies companyFilters

	// runCtx outlives the request that triggered a run.
	runCtx context.Context

	healthChecks []HealthCheck
	startTime    time.Time
}

// NewServer builds the HTTP API. ctx bounds runs started through it.
func NewServer(ctx context.Context, port string, clock clockwork.Clock, status statusService, reports reporter, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:      e,
		port:      port,
		clock:     clock,
		status:    status,
		reports:   reports,
		runCtx:    ctx,
		startTime: clock.Now(),
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.port)
	if err := s.echo.Start(":" + s.port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

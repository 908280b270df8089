package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/autoapply/internal/adapter/postgres"
	"github.com/pscheid92/autoapply/internal/app"
	"github.com/pscheid92/autoapply/internal/domain"
	apperrors "github.com/pscheid92/autoapply/internal/platform/errors"
)

const (
	defaultListLimit    = 100
	maxListLimit        = 1000
	defaultReportWindow = 7 * 24 * time.Hour
)

func (s *Server) registerAPIRoutes(writeLimiter echo.MiddlewareFunc) {
	api := s.echo.Group("/api")

	api.GET("/applications", s.handleListApplications)
	api.GET("/applications/:platform/:id", s.handleGetApplication)
	api.POST("/applications/:platform/:id/status", s.handleUpdateStatus, writeLimiter)
	api.GET("/report", s.handleReport)

	if s.budgets != nil {
		api.GET("/budgets", s.handleBudgets)
	}
	if s.runs != nil {
		api.POST("/runs", s.handleTriggerRun, writeLimiter)
	}
	if s.companies != nil {
		api.GET("/companies", s.handleListCompanies)
		api.PUT("/companies/:company", s.handlePutCompany, writeLimiter)
		api.DELETE("/companies/:company", s.handleDeleteCompany, writeLimiter)
	}
}

func (s *Server) handleListApplications(c echo.Context) error {
	filter, err := parseRecordFilter(c)
	if err != nil {
		return err
	}

	recs, err := s.status.List(c.Request().Context(), filter)
	if err != nil {
		return fmt.Errorf("failed to list applications: %w", err)
	}
	if recs == nil {
		recs = []domain.ApplicationRecord{}
	}

	if err := c.JSON(http.StatusOK, map[string]any{"applications": recs, "count": len(recs)}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetApplication(c echo.Context) error {
	id, err := identityParam(c)
	if err != nil {
		return err
	}

	rec, err := s.status.Get(c.Request().Context(), id)
	if err != nil {
		return fmt.Errorf("failed to load application %s: %w", id, err)
	}

	if err := c.JSON(http.StatusOK, rec); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleUpdateStatus(c echo.Context) error {
	id, err := identityParam(c)
	if err != nil {
		return err
	}

	var upd app.StatusUpdate
	if err := c.Bind(&upd); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if upd.Action == "" {
		return apperrors.ValidationError("action is required")
	}

	rec, err := s.status.UpdateStatus(c.Request().Context(), id, upd)
	if err != nil {
		return err
	}
	slog.InfoContext(c.Request().Context(), "Application status updated", "application", id.Key(), "action", upd.Action, "state", rec.State)

	if err := c.JSON(http.StatusOK, rec); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleReport(c echo.Context) error {
	to, err := timeParam(c, "to")
	if err != nil {
		return err
	}
	if to.IsZero() {
		to = s.clock.Now().UTC()
	}
	from, err := timeParam(c, "from")
	if err != nil {
		return err
	}
	if from.IsZero() {
		from = to.Add(-defaultReportWindow)
	}
	if !from.Before(to) {
		return apperrors.ValidationError("from must be before to").
			WithContext("from", from).
			WithContext("to", to)
	}

	rep, err := s.reports.Report(c.Request().Context(), from, to)
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}

	if err := c.JSON(http.StatusOK, rep); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleBudgets(c echo.Context) error {
	budgets, err := s.budgets.Remaining(c.Request().Context())
	if err != nil {
		return fmt.Errorf("failed to read budgets: %w", err)
	}

	if err := c.JSON(http.StatusOK, budgets); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// handleTriggerRun starts a pipeline run in the background. The outcome is
// only visible in the logs and the application records.
func (s *Server) handleTriggerRun(c echo.Context) error {
	if s.runs.Running() {
		return apperrors.ConflictError("a run is already in progress", nil)
	}

	go func(ctx context.Context) {
		ran, err := s.runs.Trigger(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "Triggered run failed", "error", err)
			return
		}
		if !ran {
			slog.InfoContext(ctx, "Triggered run skipped")
		}
	}(s.runCtx)

	if err := c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleListCompanies(c echo.Context) error {
	entries, err := s.companies.List(c.Request().Context())
	if err != nil {
		return fmt.Errorf("failed to list company filters: %w", err)
	}
	if entries == nil {
		entries = []postgres.CompanyFilterEntry{}
	}

	if err := c.JSON(http.StatusOK, entries); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

type companyFilterRequest struct {
	Type   postgres.FilterType `json:"filter_type"`
	Reason string              `json:"reason"`
}

func (s *Server) handlePutCompany(c echo.Context) error {
	company := strings.TrimSpace(c.Param("company"))
	if company == "" {
		return apperrors.ValidationError("company is required")
	}

	var req companyFilterRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.Type == "" {
		req.Type = postgres.Blacklist
	}
	if req.Type != postgres.Blacklist && req.Type != postgres.Whitelist {
		return apperrors.ValidationError("filter_type must be blacklist or whitelist").
			WithContext("filter_type", req.Type)
	}

	if err := s.companies.AddFilter(c.Request().Context(), company, req.Type, req.Reason); err != nil {
		return fmt.Errorf("failed to save company filter: %w", err)
	}

	if err := c.NoContent(http.StatusNoContent); err != nil {
		return fmt.Errorf("failed to send response: %w", err)
	}
	return nil
}

func (s *Server) handleDeleteCompany(c echo.Context) error {
	company := c.Param("company")

	removed, err := s.companies.RemoveFilter(c.Request().Context(), company)
	if err != nil {
		return fmt.Errorf("failed to delete company filter: %w", err)
	}
	if !removed {
		return apperrors.NotFoundError("company filter not found").WithContext("company", company)
	}

	if err := c.NoContent(http.StatusNoContent); err != nil {
		return fmt.Errorf("failed to send response: %w", err)
	}
	return nil
}

func identityParam(c echo.Context) (domain.Identity, error) {
	id := domain.NormalizeIdentity(c.Param("platform"), c.Param("id"))
	if id.IsZero() {
		return domain.Identity{}, apperrors.ValidationError("platform and id are required")
	}
	return id, nil
}

func parseRecordFilter(c echo.Context) (domain.RecordFilter, error) {
	filter := domain.RecordFilter{
		Platform: strings.ToLower(strings.TrimSpace(c.QueryParam("platform"))),
		Limit:    defaultListLimit,
	}

	if raw := c.QueryParam("state"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, ok := domain.ParseState(strings.TrimSpace(part))
			if !ok {
				return domain.RecordFilter{}, apperrors.ValidationError("unknown state").WithContext("state", part)
			}
			filter.States = append(filter.States, st)
		}
	}

	var err error
	if filter.From, err = timeParam(c, "from"); err != nil {
		return domain.RecordFilter{}, err
	}
	if filter.To, err = timeParam(c, "to"); err != nil {
		return domain.RecordFilter{}, err
	}

	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return domain.RecordFilter{}, apperrors.ValidationError("limit must be a positive integer").WithContext("limit", raw)
		}
		filter.Limit = min(n, maxListLimit)
	}

	return filter, nil
}

// timeParam parses an optional RFC 3339 query parameter.
func timeParam(c echo.Context, name string) (time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperrors.ValidationError(name+" must be an RFC 3339 timestamp").WithContext(name, raw)
	}
	return t.UTC(), nil
}

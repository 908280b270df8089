package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/autoapply/internal/adapter/postgres"
	"github.com/pscheid92/autoapply/internal/app"
	"github.com/pscheid92/autoapply/internal/domain"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// --- Mock implementations ---

type mockStatusService struct {
	getFn    func(ctx context.Context, id domain.Identity) (*domain.ApplicationRecord, error)
	listFn   func(ctx context.Context, filter domain.RecordFilter) ([]domain.ApplicationRecord, error)
	updateFn func(ctx context.Context, id domain.Identity, upd app.StatusUpdate) (domain.ApplicationRecord, error)
}

func (m *mockStatusService) Get(ctx context.Context, id domain.Identity) (*domain.ApplicationRecord, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, domain.ErrRecordNotFound
}

func (m *mockStatusService) List(ctx context.Context, filter domain.RecordFilter) ([]domain.ApplicationRecord, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, nil
}

func (m *mockStatusService) UpdateStatus(ctx context.Context, id domain.Identity, upd app.StatusUpdate) (domain.ApplicationRecord, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, upd)
	}
	return domain.ApplicationRecord{}, errors.New("not implemented")
}

type mockReporter struct {
	reportFn func(ctx context.Context, from, to time.Time) (app.Report, error)
}

func (m *mockReporter) Report(ctx context.Context, from, to time.Time) (app.Report, error) {
	if m.reportFn != nil {
		return m.reportFn(ctx, from, to)
	}
	return app.Report{From: from, To: to}, nil
}

type mockBudgets struct {
	remainingFn func(ctx context.Context) (map[string]domain.Budget, error)
}

func (m *mockBudgets) Remaining(ctx context.Context) (map[string]domain.Budget, error) {
	return m.remainingFn(ctx)
}

type mockRuns struct {
	running   bool
	triggerFn func(ctx context.Context) (bool, error)
}

func (m *mockRuns) Running() bool { return m.running }

func (m *mockRuns) Trigger(ctx context.Context) (bool, error) {
	if m.triggerFn != nil {
		return m.triggerFn(ctx)
	}
	return true, nil
}

type mockCompanies struct {
	addFn    func(ctx context.Context, company string, ft postgres.FilterType, reason string) error
	removeFn func(ctx context.Context, company string) (bool, error)
	listFn   func(ctx context.Context) ([]postgres.CompanyFilterEntry, error)
}

func (m *mockCompanies) AddFilter(ctx context.Context, company string, ft postgres.FilterType, reason string) error {
	if m.addFn != nil {
		return m.addFn(ctx, company, ft, reason)
	}
	return nil
}

func (m *mockCompanies) RemoveFilter(ctx context.Context, company string) (bool, error) {
	if m.removeFn != nil {
		return m.removeFn(ctx, company)
	}
	return true, nil
}

func (m *mockCompanies) List(ctx context.Context) ([]postgres.CompanyFilterEntry, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

// --- Test helpers ---

func newTestServer(t *testing.T, status statusService, opts ...Option) *Server {
	t.Helper()
	return NewServer(context.Background(), "0", clockwork.NewFakeClockAt(testNow), status, &mockReporter{}, opts...)
}

func withReporter(r reporter) Option {
	return func(s *Server) { s.reports = r }
}

// serve sends a request through the full middleware chain.
func serve(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func testRecord(state domain.State) domain.ApplicationRecord {
	return domain.ApplicationRecord{
		Identity:  domain.Identity{Platform: "seek", ExternalID: "42"},
		State:     state,
		Version:   3,
		CreatedAt: testNow,
		UpdatedAt: testNow,
		History:   []domain.HistoryEntry{{State: state, At: testNow}},
	}
}

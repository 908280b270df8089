package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pscheid92/autoapply/internal/domain"
	"github.com/pscheid92/autoapply/internal/session"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type mockLane struct {
	key        domain.LaneKey
	discoverFn func(ctx context.Context, c domain.Criteria) ([]domain.JobListing, error)
	submitFn   func(ctx context.Context, req session.SubmitRequest) (domain.SubmissionResult, error)

	driverCalls atomic.Int32
}

func (m *mockLane) Key() domain.LaneKey { return m.key }

func (m *mockLane) Discover(ctx context.Context, c domain.Criteria) ([]domain.JobListing, error) {
	if m.discoverFn != nil {
		return m.discoverFn(ctx, c)
	}
	return nil, nil
}

// Submit mirrors the lane contract: BeforeCall runs right before the driver.
func (m *mockLane) Submit(ctx context.Context, req session.SubmitRequest) (domain.SubmissionResult, error) {
	if req.BeforeCall != nil {
		if err := req.BeforeCall(ctx); err != nil {
			return domain.SubmissionResult{}, err
		}
	}
	m.driverCalls.Add(1)
	if m.submitFn != nil {
		return m.submitFn(ctx, req)
	}
	return domain.SubmissionResult{Success: true}, nil
}

type mockLanes map[domain.LaneKey]*mockLane

func (m mockLanes) Lane(key domain.LaneKey) (Lane, error) {
	l, ok := m[key]
	if !ok {
		return nil, domain.ErrUnknownPlatform
	}
	return l, nil
}

type mockScorer struct {
	scoreFn func(ctx context.Context, l domain.JobListing, p domain.Profile) (float64, error)
	calls   atomic.Int32
}

func (m *mockScorer) Score(ctx context.Context, l domain.JobListing, p domain.Profile) (float64, error) {
	m.calls.Add(1)
	if m.scoreFn != nil {
		return m.scoreFn(ctx, l, p)
	}
	return 0.9, nil
}

type mockContent struct {
	generateFn  func(ctx context.Context, l domain.JobListing, p domain.Profile) (domain.ContentHandle, error)
	optimizeFn  func(ctx context.Context, l domain.JobListing, p domain.Profile) (domain.ContentHandle, error)
	calls       atomic.Int32
	resumeCalls atomic.Int32
}

func (m *mockContent) Generate(ctx context.Context, l domain.JobListing, p domain.Profile) (domain.ContentHandle, error) {
	n := m.calls.Add(1)
	if m.generateFn != nil {
		return m.generateFn(ctx, l, p)
	}
	return domain.ContentHandle{ID: fmt.Sprintf("letter-%d", n), Kind: "cover_letter"}, nil
}

func (m *mockContent) OptimizeResume(ctx context.Context, l domain.JobListing, p domain.Profile) (domain.ContentHandle, error) {
	n := m.resumeCalls.Add(1)
	if m.optimizeFn != nil {
		return m.optimizeFn(ctx, l, p)
	}
	return domain.ContentHandle{ID: fmt.Sprintf("resume-%d", n), Kind: "resume"}, nil
}

type mockCompanies struct {
	blocked map[string]string
	err     error
}

func (m *mockCompanies) IsBlocked(_ context.Context, company string) (bool, string, error) {
	if m.err != nil {
		return false, "", m.err
	}
	reason, ok := m.blocked[company]
	return ok, reason, nil
}

type mockBudgets struct {
	remaining map[string]domain.Budget
}

func (m *mockBudgets) Remaining(context.Context) (map[string]domain.Budget, error) {
	return m.remaining, nil
}

// failingStore wraps a Store and fails AppendHistory once armed.
type failingStore struct {
	domain.Store
	mu        sync.Mutex
	appendErr error
}

func (f *failingStore) AppendHistory(ctx context.Context, next domain.ApplicationRecord, entry domain.HistoryEntry) error {
	f.mu.Lock()
	err := f.appendErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.AppendHistory(ctx, next, entry)
}

type mockRunLock struct {
	acquireFn func(ctx context.Context) (bool, error)
	renewFn   func(ctx context.Context) error
	releases  atomic.Int32
}

func (m *mockRunLock) TryAcquire(ctx context.Context) (bool, error) {
	if m.acquireFn != nil {
		return m.acquireFn(ctx)
	}
	return true, nil
}

func (m *mockRunLock) Renew(ctx context.Context) error {
	if m.renewFn != nil {
		return m.renewFn(ctx)
	}
	return nil
}

func (m *mockRunLock) Release(context.Context) error {
	m.releases.Add(1)
	return nil
}

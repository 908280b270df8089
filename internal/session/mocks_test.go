package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pscheid92/autoapply/internal/domain"
	"github.com/pscheid92/autoapply/internal/ratelimit"
)

type mockDriver struct {
	platform string
	loginFn  func(ctx context.Context, account domain.Account) (domain.Session, error)
	logins   atomic.Int32
}

func (m *mockDriver) Platform() string { return m.platform }

func (m *mockDriver) Login(ctx context.Context, account domain.Account) (domain.Session, error) {
	m.logins.Add(1)
	return m.loginFn(ctx, account)
}

type mockSession struct {
	discoverFn func(ctx context.Context, criteria domain.Criteria) ([]domain.JobListing, error)
	submitFn   func(ctx context.Context, listing domain.JobListing, content []domain.ContentHandle, answers domain.Answers) (domain.SubmissionResult, error)
	checkFn    func(ctx context.Context) (domain.SessionStatus, error)
	logouts    atomic.Int32
}

func (m *mockSession) Discover(ctx context.Context, criteria domain.Criteria) ([]domain.JobListing, error) {
	return m.discoverFn(ctx, criteria)
}

func (m *mockSession) Submit(ctx context.Context, listing domain.JobListing, content []domain.ContentHandle, answers domain.Answers) (domain.SubmissionResult, error) {
	return m.submitFn(ctx, listing, content, answers)
}

func (m *mockSession) CheckSession(ctx context.Context) (domain.SessionStatus, error) {
	if m.checkFn == nil {
		return domain.SessionValid, nil
	}
	return m.checkFn(ctx)
}

func (m *mockSession) Logout(context.Context) error {
	m.logouts.Add(1)
	return nil
}

type mockGovernor struct {
	mu        sync.Mutex
	calls     []string
	acquireFn func(ctx context.Context, platform string) (ratelimit.Ticket, error)
}

func (m *mockGovernor) Acquire(ctx context.Context, platform string) (ratelimit.Ticket, error) {
	m.record("acquire")
	if m.acquireFn != nil {
		return m.acquireFn(ctx, platform)
	}
	return ratelimit.Ticket{Platform: platform}, nil
}

func (m *mockGovernor) Pace(context.Context, string) error {
	m.record("pace")
	return nil
}

func (m *mockGovernor) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockGovernor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

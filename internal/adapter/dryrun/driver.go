// Package dryrun provides a PlatformDriver that serves listings from a JSON
// fixture and records submissions in memory. It never contacts a platform.
package dryrun

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/autoapply/internal/domain"
)

const pageSize = 25

// Fixture is one listing of the catalog plus how its submission behaves.
type Fixture struct {
	domain.JobListing
	SubmitFailure  domain.FailureKind `json:"submit_failure,omitempty"`
	AlreadyApplied bool               `json:"already_applied,omitempty"`
}

// Catalog holds the fixtures of every platform and the submissions made
// against them. Drivers of one catalog share its state.
type Catalog struct {
	mu        sync.Mutex
	fixtures  map[string][]Fixture
	submitted map[string]bool
	clock     clockwork.Clock
}

func NewCatalog(fixtures []Fixture, clock clockwork.Clock) *Catalog {
	c := &Catalog{
		fixtures:  make(map[string][]Fixture),
		submitted: make(map[string]bool),
		clock:     clock,
	}
	for _, f := range fixtures {
		f.Platform = strings.ToLower(strings.TrimSpace(f.Platform))
		c.fixtures[f.Platform] = append(c.fixtures[f.Platform], f)
		if f.AlreadyApplied {
			c.submitted[f.Identity().Key()] = true
		}
	}
	return c
}

// LoadCatalog reads a JSON array of fixtures.
func LoadCatalog(path string, clock clockwork.Clock) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dry-run catalog: %w", err)
	}
	var fixtures []Fixture
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return nil, fmt.Errorf("failed to parse dry-run catalog %s: %w", path, err)
	}
	return NewCatalog(fixtures, clock), nil
}

// Drivers returns one driver per platform in the catalog, sorted by platform.
func (c *Catalog) Drivers() []domain.PlatformDriver {
	c.mu.Lock()
	platforms := make([]string, 0, len(c.fixtures))
	for p := range c.fixtures {
		platforms = append(platforms, p)
	}
	c.mu.Unlock()
	slices.Sort(platforms)

	drivers := make([]domain.PlatformDriver, len(platforms))
	for i, p := range platforms {
		drivers[i] = c.Driver(p)
	}
	return drivers
}

func (c *Catalog) Driver(platform string) *Driver {
	return &Driver{platform: strings.ToLower(platform), catalog: c}
}

// Submitted reports whether id has been submitted, including fixtures
// marked as already applied.
func (c *Catalog) Submitted(id domain.Identity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitted[id.Key()]
}

type Driver struct {
	platform string
	catalog  *Catalog
}

var _ domain.PlatformDriver = (*Driver)(nil)

func (d *Driver) Platform() string { return d.platform }

func (d *Driver) Login(ctx context.Context, account domain.Account) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if account.Username == "" {
		return nil, fmt.Errorf("%s: no username: %w", d.platform, domain.ErrAuthRequired)
	}
	slog.InfoContext(ctx, "Dry-run login", "platform", d.platform, "account", account.Username)
	return &session{driver: d, account: account.Username}, nil
}

type session struct {
	driver  *Driver
	account string
	closed  bool
}

func (s *session) Discover(ctx context.Context, criteria domain.Criteria) ([]domain.JobListing, error) {
	if err := s.usable(ctx); err != nil {
		return nil, err
	}
	c := s.driver.catalog
	c.mu.Lock()
	defer c.mu.Unlock()

	limit := pageSize * max(criteria.MaxPages, 1)
	var out []domain.JobListing
	for _, f := range c.fixtures[s.driver.platform] {
		if !matches(f.JobListing, criteria) {
			continue
		}
		l := f.JobListing
		if l.ScrapedAt.IsZero() {
			l.ScrapedAt = c.clock.Now()
		}
		out = append(out, l)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func matches(l domain.JobListing, c domain.Criteria) bool {
	if c.EasyApply && !l.EasyApply {
		return false
	}
	if loc := strings.TrimSpace(c.Location); loc != "" && !strings.Contains(strings.ToLower(l.Location), strings.ToLower(loc)) {
		return false
	}
	text := strings.ToLower(l.Title + " " + l.Description)
	for _, kw := range strings.Fields(strings.ToLower(c.Keywords)) {
		if !strings.Contains(text, kw) {
			return false
		}
	}
	return true
}

func (s *session) Submit(ctx context.Context, listing domain.JobListing, _ []domain.ContentHandle, _ domain.Answers) (domain.SubmissionResult, error) {
	if err := s.usable(ctx); err != nil {
		return domain.SubmissionResult{}, err
	}
	c := s.driver.catalog
	c.mu.Lock()
	defer c.mu.Unlock()

	id := listing.Identity()
	if c.submitted[id.Key()] {
		return domain.SubmissionResult{AlreadySubmittedOnPlatform: true, Detail: "application already on platform"}, nil
	}

	f, ok := c.find(s.driver.platform, id)
	if !ok {
		return domain.SubmissionResult{}, fmt.Errorf("listing %s not in catalog: %w", id, domain.ErrLayoutChanged)
	}

	switch f.SubmitFailure {
	case domain.FailureNone:
	case domain.FailureAuthRequired:
		return domain.SubmissionResult{}, fmt.Errorf("dry-run %s: %w", id, domain.ErrAuthRequired)
	case domain.FailureLayoutChanged:
		return domain.SubmissionResult{}, fmt.Errorf("dry-run %s: %w", id, domain.ErrLayoutChanged)
	case domain.FailureRateLimited:
		return domain.SubmissionResult{}, fmt.Errorf("dry-run %s: %w", id, domain.ErrRateLimited)
	case domain.FailureNetwork:
		return domain.SubmissionResult{}, fmt.Errorf("dry-run %s: %w", id, domain.ErrNetwork)
	default:
		return domain.SubmissionResult{FailureKind: f.SubmitFailure, Detail: "dry-run failure"}, nil
	}

	c.submitted[id.Key()] = true
	slog.InfoContext(ctx, "Dry-run submission", "identity", id.Key(), "account", s.account)
	return domain.SubmissionResult{Success: true, Detail: "dry run"}, nil
}

func (c *Catalog) find(platform string, id domain.Identity) (Fixture, bool) {
	for _, f := range c.fixtures[platform] {
		if f.Identity() == id {
			return f, true
		}
	}
	return Fixture{}, false
}

func (s *session) CheckSession(ctx context.Context) (domain.SessionStatus, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionInvalid, err
	}
	if s.closed {
		return domain.SessionInvalid, nil
	}
	return domain.SessionValid, nil
}

func (s *session) Logout(context.Context) error {
	s.closed = true
	return nil
}

func (s *session) usable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return domain.ErrSessionLost
	}
	return nil
}

// Package ratelimit implements the rate governor: per-platform hourly and daily
// budgets plus jittered pacing between actions. It is the only component that
// decides whether a platform action may proceed.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/autoapply/internal/domain"
	"github.com/pscheid92/autoapply/internal/metrics"
)

// Limits configures one platform.
type Limits struct {
	Hourly   int
	Daily    int
	MinDelay time.Duration
	MaxDelay time.Duration
}

func (l Limits) budget() domain.BudgetLimits {
	return domain.BudgetLimits{Hourly: l.Hourly, Daily: l.Daily}
}

func (l Limits) validate() error {
	switch {
	case l.Hourly <= 0 || l.Daily <= 0:
		return fmt.Errorf("ceilings must be positive, got hourly=%d daily=%d", l.Hourly, l.Daily)
	case l.Hourly > l.Daily:
		return fmt.Errorf("hourly ceiling %d exceeds daily ceiling %d", l.Hourly, l.Daily)
	case l.MinDelay < 0 || l.MaxDelay < l.MinDelay:
		return fmt.Errorf("invalid delay range %s-%s", l.MinDelay, l.MaxDelay)
	case l.MinDelay > 0 && time.Duration(l.Hourly)*l.MinDelay > time.Hour:
		return fmt.Errorf("hourly ceiling %d is unreachable with a minimum delay of %s", l.Hourly, l.MinDelay)
	}
	return nil
}

// Ticket is proof that an action was admitted.
type Ticket struct {
	Platform   string
	AdmittedAt time.Time
	Waited     time.Duration
	Budget     domain.Budget
}

// gate serializes one platform. sem has capacity one so waiting on it can be cancelled.
type gate struct {
	platform string
	limits   Limits
	sem      chan struct{}
	nextAt   time.Time // earliest start of the next action, guarded by sem
}

type Option func(*Governor)

// WithJitter replaces the delay source. The function must return a value in [lo, hi].
func WithJitter(fn func(lo, hi time.Duration) time.Duration) Option {
	return func(g *Governor) { g.jitter = fn }
}

type Governor struct {
	gates  map[string]*gate
	ledger domain.BudgetLedger
	clock  clockwork.Clock
	jitter func(lo, hi time.Duration) time.Duration
}

// NewGovernor validates limits up front. Inconsistent ceilings are a startup error.
func NewGovernor(limits map[string]Limits, ledger domain.BudgetLedger, clock clockwork.Clock, opts ...Option) (*Governor, error) {
	if len(limits) == 0 {
		return nil, errors.New("no platform limits configured")
	}

	g := &Governor{
		gates:  make(map[string]*gate, len(limits)),
		ledger: ledger,
		clock:  clock,
		jitter: uniformJitter,
	}
	for _, opt := range opts {
		opt(g)
	}

	for platform, l := range limits {
		if err := l.validate(); err != nil {
			return nil, fmt.Errorf("platform %s: %w", platform, err)
		}
		g.gates[platform] = &gate{platform: platform, limits: l, sem: make(chan struct{}, 1)}
	}
	return g, nil
}

// Platforms returns the configured platforms in sorted order.
func (g *Governor) Platforms() []string {
	out := make([]string, 0, len(g.gates))
	for p := range g.gates {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Acquire blocks until both pacing and budget admit one action on platform,
// and consumes one unit of budget. It returns ctx.Err() if the caller gives up.
func (g *Governor) Acquire(ctx context.Context, platform string) (Ticket, error) {
	gt, err := g.gate(platform)
	if err != nil {
		return Ticket{}, err
	}

	start := g.clock.Now()
	if err := g.enter(ctx, gt); err != nil {
		return Ticket{}, err
	}
	defer g.leave(gt)

	for {
		if err := g.sleepUntil(ctx, gt, gt.nextAt); err != nil {
			return Ticket{}, err
		}

		now := g.clock.Now()
		adm, err := g.ledger.TryConsume(ctx, platform, now, gt.limits.budget())
		if err != nil {
			metrics.GovernorAdmissionsTotal.WithLabelValues(platform, "error").Inc()
			return Ticket{}, fmt.Errorf("%w: %w", domain.ErrBudgetUnavailable, err)
		}

		if adm.Allowed {
			gt.nextAt = now.Add(g.jitter(gt.limits.MinDelay, gt.limits.MaxDelay))
			waited := now.Sub(start)
			g.observeAdmission(platform, waited, adm.Budget)
			return Ticket{Platform: platform, AdmittedAt: now, Waited: waited, Budget: adm.Budget}, nil
		}

		slog.Info("Rate budget exhausted, waiting", "platform", platform, "retry_at", adm.RetryAt,
			"hourly_remaining", adm.Budget.HourlyRemaining, "daily_remaining", adm.Budget.DailyRemaining)
		metrics.GovernorAdmissionsTotal.WithLabelValues(platform, "budget_wait").Inc()

		if !adm.RetryAt.After(now) {
			// a ledger that cannot name a future time would spin
			adm.RetryAt = now.Add(time.Second)
		}
		if err := g.sleepUntil(ctx, gt, adm.RetryAt); err != nil {
			return Ticket{}, err
		}
	}
}

// Pace applies only the inter-action delay. Discovery uses it, since browsing a
// platform should look human without spending submission budget.
func (g *Governor) Pace(ctx context.Context, platform string) error {
	gt, err := g.gate(platform)
	if err != nil {
		return err
	}

	if err := g.enter(ctx, gt); err != nil {
		return err
	}
	defer g.leave(gt)

	if err := g.sleepUntil(ctx, gt, gt.nextAt); err != nil {
		return err
	}
	gt.nextAt = g.clock.Now().Add(g.jitter(gt.limits.MinDelay, gt.limits.MaxDelay))
	metrics.GovernorAdmissionsTotal.WithLabelValues(platform, "paced").Inc()
	return nil
}

// Remaining reports the budget left per platform. It does not take the gates.
func (g *Governor) Remaining(ctx context.Context) (map[string]domain.Budget, error) {
	now := g.clock.Now()
	out := make(map[string]domain.Budget, len(g.gates))
	for platform, gt := range g.gates {
		b, err := g.ledger.Remaining(ctx, platform, now, gt.limits.budget())
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrBudgetUnavailable, platform, err)
		}
		out[platform] = b
		setBudgetGauge(platform, b)
	}
	return out, nil
}

func (g *Governor) gate(platform string) (*gate, error) {
	gt, ok := g.gates[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownPlatform, platform)
	}
	return gt, nil
}

func (g *Governor) enter(ctx context.Context, gt *gate) error {
	select {
	case gt.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		metrics.GovernorAdmissionsTotal.WithLabelValues(gt.platform, "cancelled").Inc()
		return ctx.Err()
	}
}

func (g *Governor) leave(gt *gate) {
	<-gt.sem
}

func (g *Governor) sleepUntil(ctx context.Context, gt *gate, at time.Time) error {
	d := at.Sub(g.clock.Now())
	if d <= 0 {
		return nil
	}

	timer := g.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		metrics.GovernorAdmissionsTotal.WithLabelValues(gt.platform, "cancelled").Inc()
		return ctx.Err()
	}
}

func (g *Governor) observeAdmission(platform string, waited time.Duration, b domain.Budget) {
	metrics.GovernorAdmissionsTotal.WithLabelValues(platform, "admitted").Inc()
	metrics.GovernorWaitDuration.WithLabelValues(platform).Observe(waited.Seconds())
	setBudgetGauge(platform, b)
}

func setBudgetGauge(platform string, b domain.Budget) {
	metrics.GovernorBudgetRemaining.WithLabelValues(platform, "hour").Set(float64(b.HourlyRemaining))
	metrics.GovernorBudgetRemaining.WithLabelValues(platform, "day").Set(float64(b.DailyRemaining))
}

func uniformJitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

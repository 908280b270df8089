// Package session owns the automation sessions. Each platform account gets one
// lane: a goroutine that executes every action against its session strictly in
// arrival order, so a session is never driven by two actions at once.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/autoapply/internal/domain"
	"github.com/pscheid92/autoapply/internal/metrics"
	"github.com/pscheid92/autoapply/internal/ratelimit"
)

const (
	defaultQueueSize = 256
	closeTimeout     = 10 * time.Second
	logoutTimeout    = 10 * time.Second
)

// Governor is the part of the rate governor a lane needs.
type Governor interface {
	Acquire(ctx context.Context, platform string) (ratelimit.Ticket, error)
	Pace(ctx context.Context, platform string) error
}

// Config tunes lanes. Zero values fall back to defaults in withDefaults.
type Config struct {
	ActionTimeout         time.Duration
	IdleTimeout           time.Duration
	CheckAfter            time.Duration // verify an existing session before use when idle this long
	MaxLogins             int
	LoginWindow           time.Duration
	LoginFailureThreshold uint
	LoginCooldown         time.Duration
	QueueSize             int
}

func (c Config) withDefaults() Config {
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 2 * time.Minute
	}
	if c.MaxLogins <= 0 {
		c.MaxLogins = 3
	}
	if c.LoginWindow <= 0 {
		c.LoginWindow = time.Hour
	}
	if c.LoginFailureThreshold == 0 {
		c.LoginFailureThreshold = 3
	}
	if c.LoginCooldown <= 0 {
		c.LoginCooldown = 30 * time.Minute
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	return c
}

// SubmitRequest is one submission. BeforeCall runs inside the lane after the
// governor admitted the action and right before the driver is called; an error
// from it aborts the submission without touching the platform.
type SubmitRequest struct {
	Listing    domain.JobListing
	Content    []domain.ContentHandle
	Answers    domain.Answers
	BeforeCall func(ctx context.Context) error
}

type laneCmd interface{ isLaneCmd() }

type baseLaneCmd struct{}

func (baseLaneCmd) isLaneCmd() {}

type discoverReply struct {
	listings []domain.JobListing
	err      error
}

type discoverCmd struct {
	baseLaneCmd
	ctx      context.Context
	criteria domain.Criteria
	reply    chan discoverReply
}

type submitReply struct {
	result domain.SubmissionResult
	err    error
}

type submitCmd struct {
	baseLaneCmd
	ctx   context.Context
	req   SubmitRequest
	reply chan submitReply
}

// Coordinator is the lane of one platform account.
type Coordinator struct {
	key      domain.LaneKey
	account  domain.Account
	driver   domain.PlatformDriver
	governor Governor
	clock    clockwork.Clock
	cfg      Config

	cmdCh     chan laneCmd
	closeCh   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// owned by the lane goroutine
	session  domain.Session
	lastUsed time.Time
	logins   *loginThrottle
	breaker  circuitbreaker.CircuitBreaker[any]
}

func NewCoordinator(account domain.Account, driver domain.PlatformDriver, governor Governor, clock clockwork.Clock, cfg Config) *Coordinator {
	cfg = cfg.withDefaults()
	key := domain.LaneKey{Platform: driver.Platform(), Account: account.Username}

	c := &Coordinator{
		key:      key,
		account:  account,
		driver:   driver,
		governor: governor,
		clock:    clock,
		cfg:      cfg,
		cmdCh:    make(chan laneCmd, cfg.QueueSize),
		closeCh:  make(chan struct{}),
		done:     make(chan struct{}),
		logins:   newLoginThrottle(cfg.MaxLogins, cfg.LoginWindow),
		breaker:  newLoginBreaker(key, cfg),
	}
	go c.run()
	return c
}

func newLoginBreaker(key domain.LaneKey, cfg Config) circuitbreaker.CircuitBreaker[any] {
	return circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(cfg.LoginFailureThreshold).
		WithDelay(cfg.LoginCooldown).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Login circuit breaker state changed",
				"lane", key.String(),
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			metrics.CircuitBreakerStateChanges.WithLabelValues("login", e.NewState.String()).Inc()
		}).
		Build()
}

func (c *Coordinator) Key() domain.LaneKey { return c.key }

// Discover runs a discovery search through the lane.
func (c *Coordinator) Discover(ctx context.Context, criteria domain.Criteria) ([]domain.JobListing, error) {
	reply := make(chan discoverReply, 1)
	if err := c.enqueue(ctx, &discoverCmd{ctx: ctx, criteria: criteria, reply: reply}); err != nil {
		return nil, err
	}

	select {
	case r := <-reply:
		return r.listings, r.err
	case <-c.done:
		return nil, fmt.Errorf("lane %s: %w", c.key, domain.ErrLaneClosed)
	}
}

// Submit runs one submission through the lane. The caller always gets the
// outcome of an action that reached the driver, even after cancelling ctx.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (domain.SubmissionResult, error) {
	reply := make(chan submitReply, 1)
	if err := c.enqueue(ctx, &submitCmd{ctx: ctx, req: req, reply: reply}); err != nil {
		return domain.SubmissionResult{}, err
	}

	select {
	case r := <-reply:
		return r.result, r.err
	case <-c.done:
		return domain.SubmissionResult{}, fmt.Errorf("lane %s: %w", c.key, domain.ErrLaneClosed)
	}
}

// Close fails queued work, logs out and stops the lane. It is safe to call more than once.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() { close(c.closeCh) })

	timeout := c.clock.NewTimer(closeTimeout)
	defer timeout.Stop()

	select {
	case <-c.done:
	case <-timeout.Chan():
		slog.Warn("Lane close timeout exceeded", "lane", c.key.String(), "timeout", closeTimeout)
	}
}

func (c *Coordinator) enqueue(ctx context.Context, cmd laneCmd) error {
	select {
	case <-c.closeCh:
		return fmt.Errorf("lane %s: %w", c.key, domain.ErrLaneClosed)
	default:
	}

	select {
	case c.cmdCh <- cmd:
		metrics.SessionQueueDepth.WithLabelValues(c.key.String()).Inc()
		return nil
	case <-c.closeCh:
		return fmt.Errorf("lane %s: %w", c.key, domain.ErrLaneClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) run() {
	defer close(c.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Lane panic recovered", "lane", c.key.String(), "panic", r)
			metrics.SessionPanicsTotal.Inc()
			c.failQueued(fmt.Errorf("lane %s panicked: %w", c.key, domain.ErrLaneClosed))
			c.logout("panic")
		}
	}()

	var idleCh <-chan time.Time
	var idle clockwork.Timer
	if c.cfg.IdleTimeout > 0 {
		idle = c.clock.NewTimer(c.cfg.IdleTimeout)
		defer idle.Stop()
		idleCh = idle.Chan()
	}

	for {
		// close wins over queued work
		select {
		case <-c.closeCh:
			c.shutdown()
			return
		default:
		}

		select {
		case <-c.closeCh:
			c.shutdown()
			return

		case <-idleCh:
			c.logout("idle")

		case cmd := <-c.cmdCh:
			metrics.SessionQueueDepth.WithLabelValues(c.key.String()).Dec()
			switch t := cmd.(type) {
			case *discoverCmd:
				listings, err := c.handleDiscover(t)
				t.reply <- discoverReply{listings: listings, err: err}
			case *submitCmd:
				result, err := c.handleSubmit(t)
				t.reply <- submitReply{result: result, err: err}
			default:
				slog.Warn("Lane received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
			if idle != nil {
				idle.Reset(c.cfg.IdleTimeout)
			}
		}
	}
}

func (c *Coordinator) shutdown() {
	c.failQueued(fmt.Errorf("lane %s: %w", c.key, domain.ErrLaneClosed))
	c.logout("closed")
}

func (c *Coordinator) handleDiscover(cmd *discoverCmd) ([]domain.JobListing, error) {
	ctx := cmd.ctx
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sess, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.governor.Pace(ctx, c.key.Platform); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.ActionTimeout)
	defer cancel()

	start := c.clock.Now()
	listings, err := sess.Discover(callCtx, cmd.criteria)
	metrics.SessionActionDuration.WithLabelValues(c.key.Platform, "discover").Observe(c.clock.Since(start).Seconds())
	c.lastUsed = c.clock.Now()

	if err != nil {
		err = c.callError(ctx, callCtx, "discover", err)
		c.invalidateIfSessionFailure(err)
		return nil, err
	}
	return listings, nil
}

func (c *Coordinator) handleSubmit(cmd *submitCmd) (domain.SubmissionResult, error) {
	ctx := cmd.ctx
	if err := ctx.Err(); err != nil {
		return domain.SubmissionResult{}, err
	}

	sess, err := c.ensureSession(ctx)
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	if _, err := c.governor.Acquire(ctx, c.key.Platform); err != nil {
		return domain.SubmissionResult{}, err
	}
	if cmd.req.BeforeCall != nil {
		if err := cmd.req.BeforeCall(ctx); err != nil {
			return domain.SubmissionResult{}, err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.ActionTimeout)
	defer cancel()

	start := c.clock.Now()
	result, err := sess.Submit(callCtx, cmd.req.Listing, cmd.req.Content, cmd.req.Answers)
	metrics.SessionActionDuration.WithLabelValues(c.key.Platform, "submit").Observe(c.clock.Since(start).Seconds())
	c.lastUsed = c.clock.Now()

	if err == nil && !result.Submitted() {
		kind := result.FailureKind
		if kind == domain.FailureNone {
			kind = domain.FailureUnknown
		}
		err = &domain.FailureError{Kind: kind, Detail: result.Detail}
	}
	if err != nil {
		err = c.callError(ctx, callCtx, "submit", err)
		c.invalidateIfSessionFailure(err)
		return result, err
	}
	return result, nil
}

// callError turns an action timeout into a network failure and adds the lane to the message.
func (c *Coordinator) callError(ctx, callCtx context.Context, action string, err error) error {
	if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("lane %s: %s timed out after %s: %w: %w", c.key, action, c.cfg.ActionTimeout, domain.ErrNetwork, err)
	}
	return fmt.Errorf("lane %s: %s failed: %w", c.key, action, err)
}

func (c *Coordinator) ensureSession(ctx context.Context) (domain.Session, error) {
	if c.session != nil && c.cfg.CheckAfter > 0 && c.clock.Since(c.lastUsed) >= c.cfg.CheckAfter {
		checkCtx, cancel := context.WithTimeout(ctx, c.cfg.ActionTimeout)
		status, err := c.session.CheckSession(checkCtx)
		cancel()
		if err != nil || status != domain.SessionValid {
			slog.Info("Stale session discarded", "lane", c.key.String(), "status", status.String(), "error", err)
			c.logout("stale")
		}
	}
	if c.session != nil {
		return c.session, nil
	}

	if !c.logins.allow(c.clock.Now()) {
		metrics.SessionLoginsTotal.WithLabelValues(c.key.Platform, "throttled").Inc()
		return nil, fmt.Errorf("lane %s: at most %d logins per %s: %w", c.key, c.cfg.MaxLogins, c.cfg.LoginWindow, domain.ErrLoginLimitReached)
	}
	if !c.breaker.TryAcquirePermit() {
		metrics.SessionLoginsTotal.WithLabelValues(c.key.Platform, "circuit_open").Inc()
		return nil, fmt.Errorf("lane %s: %w", c.key, domain.ErrLoginCircuitOpen)
	}

	loginCtx, cancel := context.WithTimeout(ctx, c.cfg.ActionTimeout)
	defer cancel()

	sess, err := c.driver.Login(loginCtx, c.account)
	if err != nil {
		c.breaker.RecordError(err)
		metrics.SessionLoginsTotal.WithLabelValues(c.key.Platform, "error").Inc()
		slog.Warn("Login failed", "lane", c.key.String(), "error", err)
		err = fmt.Errorf("lane %s: failed to log in: %w", c.key, err)
		c.invalidateIfSessionFailure(err)
		return nil, err
	}

	c.breaker.RecordSuccess()
	metrics.SessionLoginsTotal.WithLabelValues(c.key.Platform, "success").Inc()
	slog.Info("Logged in", "lane", c.key.String())

	c.session = sess
	c.lastUsed = c.clock.Now()
	return sess, nil
}

// invalidateIfSessionFailure drops the session after an auth or session-lost failure and
// fails every task already queued behind it with the same kind.
func (c *Coordinator) invalidateIfSessionFailure(err error) {
	kind := domain.ClassifyError(err)
	if !domain.IsSessionFailure(err) && kind != domain.FailureAuthRequired {
		return
	}

	slog.Warn("Session invalidated", "lane", c.key.String(), "kind", string(kind), "error", err)
	metrics.SessionInvalidationsTotal.WithLabelValues(c.key.Platform, string(kind)).Inc()

	c.logout("invalidated")
	c.failQueued(&domain.FailureError{Kind: kind, Detail: "session invalidated on lane " + c.key.String(), Err: err})
}

// failQueued answers every queued command with err without executing it.
func (c *Coordinator) failQueued(err error) {
	for {
		select {
		case cmd := <-c.cmdCh:
			metrics.SessionQueueDepth.WithLabelValues(c.key.String()).Dec()
			switch t := cmd.(type) {
			case *discoverCmd:
				t.reply <- discoverReply{err: err}
			case *submitCmd:
				t.reply <- submitReply{err: err}
			}
		default:
			return
		}
	}
}

func (c *Coordinator) logout(reason string) {
	if c.session == nil {
		return
	}
	sess := c.session
	c.session = nil

	ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
	defer cancel()
	if err := sess.Logout(ctx); err != nil {
		slog.Warn("Logout failed", "lane", c.key.String(), "reason", reason, "error", err)
		return
	}
	slog.Info("Logged out", "lane", c.key.String(), "reason", reason)
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/autoapply/internal/dedup"
	"github.com/pscheid92/autoapply/internal/domain"
	"github.com/pscheid92/autoapply/internal/lifecycle"
	"github.com/pscheid92/autoapply/internal/metrics"
	"github.com/pscheid92/autoapply/internal/platform/correlation"
	"github.com/pscheid92/autoapply/internal/session"
	"golang.org/x/sync/errgroup"
)

// ErrStorage marks a store failure. It aborts a run because transitions can
// no longer be made durable.
var ErrStorage = errors.New("storage failure")

// Target is one discovery search on one lane.
type Target struct {
	Lane     domain.LaneKey  `json:"lane"`
	Criteria domain.Criteria `json:"criteria"`
}

// RunRequest describes one pipeline run. Limit caps the number of tasks
// admitted; zero means no cap.
type RunRequest struct {
	Targets []Target
	Profile domain.Profile
	Answers domain.Answers
	Limit   int
}

// BudgetReporter reports the remaining platform budgets.
type BudgetReporter interface {
	Remaining(ctx context.Context) (map[string]domain.Budget, error)
}

type Config struct {
	MatchThreshold      float64
	CollaboratorTimeout time.Duration
	MaxInRunRetryWait   time.Duration
	RequireEasyApply    bool
	MaxConcurrency      int
	ResumeBatch         int
}

func (c Config) withDefaults() Config {
	if c.CollaboratorTimeout <= 0 {
		c.CollaboratorTimeout = 2 * time.Minute
	}
	if c.ResumeBatch <= 0 {
		c.ResumeBatch = 500
	}
	return c
}

// Orchestrator drives application records through the lifecycle.
type Orchestrator struct {
	store     domain.Store
	index     *dedup.Index
	machine   *lifecycle.Machine
	lanes     Lanes
	budgets   BudgetReporter
	scorer    domain.MatchScorer
	content   domain.ContentService
	companies domain.CompanyFilter
	clock     clockwork.Clock
	cfg       Config
}

// NewOrchestrator creates the pipeline driver. budgets and companies may be nil.
func NewOrchestrator(
	store domain.Store,
	machine *lifecycle.Machine,
	lanes Lanes,
	budgets BudgetReporter,
	scorer domain.MatchScorer,
	content domain.ContentService,
	companies domain.CompanyFilter,
	clock clockwork.Clock,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		store:     store,
		index:     dedup.NewIndex(store, machine, clock),
		machine:   machine,
		lanes:     lanes,
		budgets:   budgets,
		scorer:    scorer,
		content:   content,
		companies: companies,
		clock:     clock,
		cfg:       cfg.withDefaults(),
	}
}

type task struct {
	lane    Lane
	listing domain.JobListing
	record  domain.ApplicationRecord
}

// Run executes one pipeline run. Per-application failures are recorded on
// their records and never fail the run; only invalid transitions and storage
// failures abort it. On cancellation every record stays in its last
// persisted state and the error is ctx.Err().
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	runID := correlation.NewID()
	ctx = correlation.WithRunID(ctx, runID)
	start := o.clock.Now()
	t := newTally(runID)

	slog.InfoContext(ctx, "Pipeline run started", "targets", len(req.Targets), "limit", req.Limit)

	err := o.run(ctx, req, t)

	sum := t.snapshot()
	sum.Elapsed = o.clock.Since(start)
	if o.budgets != nil {
		if b, berr := o.budgets.Remaining(context.WithoutCancel(ctx)); berr == nil {
			sum.BudgetRemaining = b
		} else {
			slog.WarnContext(ctx, "Failed to read remaining budget", "error", berr)
		}
	}

	result := "completed"
	switch {
	case err == nil:
	case ctx.Err() != nil && !isFatal(err):
		result = "cancelled"
		err = ctx.Err()
	default:
		result = "aborted"
		sum.Aborted = true
		sum.AbortReason = err.Error()
	}
	metrics.RunsTotal.WithLabelValues(result).Inc()
	metrics.RunDuration.Observe(sum.Elapsed.Seconds())

	slog.InfoContext(ctx, "Pipeline run finished",
		"result", result,
		"attempted", sum.Attempted,
		"submitted", sum.Submitted,
		"skipped", sum.Skipped,
		"duplicates", sum.Duplicates,
		"needs_review", len(sum.NeedsReview),
		"elapsed", sum.Elapsed)

	return sum, err
}

func (o *Orchestrator) run(ctx context.Context, req RunRequest, t *tally) error {
	reconciled, err := o.Reconcile(ctx)
	if err != nil {
		return err
	}
	t.add(func(s *RunSummary) {
		s.Reconciled = len(reconciled)
		s.NeedsReview = append(s.NeedsReview, reconciled...)
	})

	actx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(actx)
	if o.cfg.MaxConcurrency > 0 {
		g.SetLimit(o.cfg.MaxConcurrency)
	}

	a := &admission{o: o, req: req, tally: t, scheduled: make(map[string]struct{})}
	a.spawn = func(tk task) {
		g.Go(func() error { return o.process(gctx, tk, req, t) })
	}

	admitErr := a.admitAll(gctx)
	if admitErr != nil {
		cancel()
	}
	waitErr := g.Wait()

	switch {
	case waitErr != nil:
		return waitErr
	case admitErr != nil:
		return admitErr
	default:
		return ctx.Err()
	}
}

// admission turns discovered listings and resumable records into tasks.
type admission struct {
	o         *Orchestrator
	req       RunRequest
	tally     *tally
	spawn     func(task)
	scheduled map[string]struct{}
	admitted  int
}

var errLimitReached = errors.New("run limit reached")

func (a *admission) admitAll(ctx context.Context) error {
	err := a.resume(ctx)
	if err == nil {
		err = a.discover(ctx)
	}
	if errors.Is(err, errLimitReached) {
		slog.InfoContext(ctx, "Run limit reached, admission stopped", "limit", a.req.Limit)
		return nil
	}
	return err
}

// resume schedules stored records that the pipeline can still advance.
func (a *admission) resume(ctx context.Context) error {
	recs, err := a.o.store.ListRecords(ctx, domain.RecordFilter{
		States:       []domain.State{domain.StateDiscovered, domain.StateMatched, domain.StateContentReady, domain.StateFailed},
		FailureKinds: domain.RetryableFailureKinds(),
		Limit:        a.o.cfg.ResumeBatch,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to list resumable records: %w", ErrStorage, err)
	}

	for _, rec := range recs {
		if !rec.IsPreSubmission() {
			continue
		}
		lane, err := a.laneFor(rec.Identity.Platform)
		if err != nil {
			slog.DebugContext(ctx, "No lane for resumable record", "identity", rec.Identity.Key(), "error", err)
			continue
		}
		listing, err := a.o.store.GetListing(ctx, rec.Identity)
		if err != nil {
			return fmt.Errorf("%w: failed to load listing %s: %w", ErrStorage, rec.Identity, err)
		}
		if err := a.admit(ctx, task{lane: lane, listing: *listing, record: rec}); err != nil {
			return err
		}
	}
	return nil
}

func (a *admission) discover(ctx context.Context) error {
	for _, target := range a.req.Targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		lane, err := a.o.lanes.Lane(target.Lane)
		if err != nil {
			slog.WarnContext(ctx, "Lane unavailable, skipping target", "lane", target.Lane.String(), "error", err)
			a.tally.add(func(s *RunSummary) { s.DiscoveryErrors++ })
			continue
		}

		listings, err := lane.Discover(ctx, target.Criteria)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.WarnContext(ctx, "Discovery failed", "lane", target.Lane.String(), "error", err)
			a.tally.add(func(s *RunSummary) { s.DiscoveryErrors++ })
			continue
		}
		slog.InfoContext(ctx, "Listings discovered", "lane", target.Lane.String(), "count", len(listings))

		for _, l := range listings {
			if err := a.register(ctx, lane, l); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *admission) register(ctx context.Context, lane Lane, listing domain.JobListing) error {
	if a.limitReached() {
		return errLimitReached
	}
	if listing.Platform == "" {
		listing.Platform = lane.Key().Platform
	}
	if listing.ScrapedAt.IsZero() {
		listing.ScrapedAt = a.o.clock.Now()
	}

	if listing.Identity().IsZero() {
		slog.WarnContext(ctx, "Listing without identity ignored", "title", listing.Title, "company", listing.Company)
		return nil
	}

	rec, created, err := a.o.index.RegisterIfAbsent(ctx, listing)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if _, ok := a.scheduled[rec.Identity.Key()]; ok {
		return nil
	}
	if !created && !rec.IsPreSubmission() {
		a.tally.add(func(s *RunSummary) { s.Duplicates++ })
		return nil
	}
	return a.admit(ctx, task{lane: lane, listing: listing, record: rec})
}

func (a *admission) admit(ctx context.Context, tk task) error {
	key := tk.record.Identity.Key()
	if _, ok := a.scheduled[key]; ok {
		return nil
	}
	if a.limitReached() {
		return errLimitReached
	}
	if !a.o.retryDue(tk.record) {
		a.scheduled[key] = struct{}{}
		a.tally.add(func(s *RunSummary) { s.Deferred++ })
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.scheduled[key] = struct{}{}
	a.admitted++
	a.tally.add(func(s *RunSummary) { s.Attempted++ })
	a.spawn(tk)
	return nil
}

func (a *admission) limitReached() bool {
	return a.req.Limit > 0 && a.admitted >= a.req.Limit
}

func (a *admission) laneFor(platform string) (Lane, error) {
	for _, t := range a.req.Targets {
		if t.Lane.Platform == platform {
			return a.o.lanes.Lane(t.Lane)
		}
	}
	return nil, fmt.Errorf("platform %s: %w", platform, domain.ErrUnknownPlatform)
}

// retryDue reports whether a retryable failure becomes eligible within this run.
func (o *Orchestrator) retryDue(rec domain.ApplicationRecord) bool {
	if rec.State != domain.StateFailed {
		return true
	}
	return rec.NextEligibleAt.Sub(o.clock.Now()) <= o.cfg.MaxInRunRetryWait
}

// Reconcile moves records left in Submitting by an interrupted run to
// Failed(unknown). They are never resubmitted automatically.
func (o *Orchestrator) Reconcile(ctx context.Context) ([]domain.Identity, error) {
	stale, err := o.store.ListRecords(ctx, domain.RecordFilter{States: []domain.State{domain.StateSubmitting}})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list submitting records: %w", ErrStorage, err)
	}

	ids := make([]domain.Identity, 0, len(stale))
	for _, rec := range stale {
		ev := lifecycle.Interrupted{Detail: "submission outcome unknown after interrupted run"}
		if _, err := o.transition(ctx, rec, ev); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				continue
			}
			return ids, err
		}
		slog.WarnContext(ctx, "Interrupted submission needs review", "identity", rec.Identity.Key())
		ids = append(ids, rec.Identity)
	}
	return ids, nil
}

// process advances one record until it reaches a state the pipeline cannot
// move on from within this run. Only fatal errors are returned.
func (o *Orchestrator) process(ctx context.Context, tk task, req RunRequest, t *tally) error {
	ctx = correlation.WithTaskID(ctx, tk.record.Identity.Key())
	rec := tk.record

	for {
		next, done, err := o.step(ctx, tk, rec, req)
		if err != nil {
			if isFatal(err) {
				slog.ErrorContext(ctx, "Task aborted run", "identity", rec.Identity.Key(), "state", rec.State, "error", err)
				return err
			}
			if ctx.Err() != nil {
				slog.DebugContext(ctx, "Task cancelled", "identity", rec.Identity.Key(), "state", next.State)
				return nil
			}
			// version conflict: someone else changed the record
			slog.WarnContext(ctx, "Task stopped", "identity", rec.Identity.Key(), "error", err)
			done = true
		}
		rec = next
		if done {
			metrics.TasksTotal.WithLabelValues(string(rec.State)).Inc()
			t.finish(rec)
			return nil
		}
	}
}

// step performs the work of the record's current state and persists the
// resulting transition. done reports that the task should stop.
func (o *Orchestrator) step(ctx context.Context, tk task, rec domain.ApplicationRecord, req RunRequest) (domain.ApplicationRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return rec, true, err
	}

	switch rec.State {
	case domain.StateDiscovered:
		ev, err := o.evaluate(ctx, tk.listing, req.Profile)
		if err != nil {
			return rec, true, err
		}
		next, err := o.transition(ctx, rec, ev)
		return next, false, err

	case domain.StateMatched:
		ev, err := o.generate(ctx, tk.listing, req.Profile)
		if err != nil {
			return rec, true, err
		}
		next, err := o.transition(ctx, rec, ev)
		return next, false, err

	case domain.StateContentReady:
		return o.submit(ctx, tk, rec, req.Answers)

	case domain.StateFailed:
		if !rec.FailureKind.Retryable() || !o.retryDue(rec) {
			return rec, true, nil
		}
		if wait := rec.NextEligibleAt.Sub(o.clock.Now()); wait > 0 {
			slog.DebugContext(ctx, "Waiting for retry", "identity", rec.Identity.Key(), "kind", rec.FailureKind, "wait", wait)
			select {
			case <-o.clock.After(wait):
			case <-ctx.Done():
				return rec, true, ctx.Err()
			}
		}
		next, err := o.transition(ctx, rec, lifecycle.Retry{})
		return next, false, err

	default:
		return rec, true, nil
	}
}

// evaluate runs the company filter, the easy-apply check and the match score.
func (o *Orchestrator) evaluate(ctx context.Context, listing domain.JobListing, profile domain.Profile) (lifecycle.Event, error) {
	if o.companies != nil && listing.Company != "" {
		blocked, reason, err := o.companies.IsBlocked(ctx, listing.Company)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: failed to check company filter: %w", ErrStorage, err)
		}
		if blocked {
			return lifecycle.Skip{Reason: domain.SkipCompanyFiltered, Detail: reason}, nil
		}
	}
	if o.cfg.RequireEasyApply && !listing.EasyApply {
		return lifecycle.Skip{Reason: domain.SkipNotEasyApply}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CollaboratorTimeout)
	defer cancel()

	score, err := o.scorer.Score(callCtx, listing, profile)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return lifecycle.Failed{Kind: domain.ClassifyError(err), Detail: "match scoring: " + err.Error()}, nil
	}
	return lifecycle.MatchScored{Score: score, Threshold: o.cfg.MatchThreshold}, nil
}

// generate produces the cover letter and, when the profile carries a resume,
// a keyword-optimized copy of it. A cancelled run returns ctx.Err() so the
// record stays Matched.
func (o *Orchestrator) generate(ctx context.Context, listing domain.JobListing, profile domain.Profile) (lifecycle.Event, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CollaboratorTimeout)
	defer cancel()

	start := o.clock.Now()
	defer func() { metrics.ContentGenerationDuration.Observe(o.clock.Since(start).Seconds()) }()

	failed := func(what string, err error) (lifecycle.Event, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return lifecycle.Failed{Kind: domain.FailureContentGeneration, Detail: what + ": " + err.Error()}, nil
	}

	letter, err := o.content.Generate(callCtx, listing, profile)
	if err != nil {
		return failed("cover letter", err)
	}
	ev := lifecycle.ContentGenerated{Handle: letter}

	if strings.TrimSpace(profile.ResumeText) != "" {
		resume, err := o.content.OptimizeResume(callCtx, listing, profile)
		if err != nil {
			return failed("resume", err)
		}
		ev.Resume = resume
	}
	return ev, nil
}

// submit sends the application through the lane. Submitting is persisted by
// the lane right before the driver call, so a task that never reached the
// platform stays in ContentReady.
func (o *Orchestrator) submit(ctx context.Context, tk task, rec domain.ApplicationRecord, answers domain.Answers) (domain.ApplicationRecord, bool, error) {
	cur := rec
	started := false
	var beforeErr error

	result, err := tk.lane.Submit(ctx, session.SubmitRequest{
		Listing: tk.listing,
		Content: rec.ContentRefs,
		Answers: answers,
		BeforeCall: func(ctx context.Context) error {
			next, err := o.transition(ctx, cur, lifecycle.SubmitStarted{})
			if err != nil {
				beforeErr = err
				return err
			}
			cur, started = next, true
			return nil
		},
	})

	if beforeErr != nil {
		return cur, true, beforeErr
	}
	if err != nil && ctx.Err() != nil {
		// Submitting stays on record when the driver was reached; the next
		// run reconciles it.
		return cur, true, ctx.Err()
	}

	// The platform answered; record that even if the run is being cancelled.
	persistCtx := context.WithoutCancel(ctx)

	if err != nil {
		slog.WarnContext(ctx, "Submission failed", "identity", rec.Identity.Key(), "reached_platform", started, "error", err)
		next, terr := o.transition(persistCtx, cur, lifecycle.Failed{Kind: domain.ClassifyError(err), Detail: err.Error()})
		return next, false, terr
	}

	next, terr := o.transition(persistCtx, cur, lifecycle.Submitted{
		AlreadyOnPlatform: result.AlreadySubmittedOnPlatform,
		Detail:            result.Detail,
	})
	return next, false, terr
}

// transition applies ev and persists it before anything else observes it.
func (o *Orchestrator) transition(ctx context.Context, rec domain.ApplicationRecord, ev lifecycle.Event) (domain.ApplicationRecord, error) {
	return persistTransition(ctx, o.store, o.machine, o.clock, rec, ev)
}

func persistTransition(ctx context.Context, store domain.Store, machine *lifecycle.Machine, clock clockwork.Clock, rec domain.ApplicationRecord, ev lifecycle.Event) (domain.ApplicationRecord, error) {
	next, entry, err := machine.Apply(rec, ev, clock.Now())
	if err != nil {
		metrics.InvalidTransitionsTotal.WithLabelValues(string(rec.State), lifecycle.EventName(ev)).Inc()
		return rec, err
	}

	if err := store.AppendHistory(ctx, next, entry); err != nil {
		switch {
		case errors.Is(err, domain.ErrVersionConflict):
			return rec, err
		case ctx.Err() != nil:
			return rec, ctx.Err()
		default:
			return rec, fmt.Errorf("%w: failed to persist transition of %s: %w", ErrStorage, rec.Identity, err)
		}
	}

	metrics.TransitionsTotal.WithLabelValues(string(next.State), string(next.FailureKind)).Inc()
	slog.InfoContext(ctx, "Application transitioned",
		"identity", next.Identity.Key(),
		"event", lifecycle.EventName(ev),
		"from", rec.State,
		"to", next.State,
		"failure_kind", next.FailureKind,
		"attempts", next.Attempts)
	return next, nil
}

func isFatal(err error) bool {
	return domain.IsFatal(err) || errors.Is(err, ErrStorage)
}

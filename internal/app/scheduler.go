package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/autoapply/internal/domain"
	"github.com/pscheid92/autoapply/internal/platform/correlation"
	"github.com/robfig/cron/v3"
)

const defaultRenewInterval = 15 * time.Second

// Scheduler triggers pipeline runs on a cron schedule. Overlapping runs in
// this process are skipped; a RunLock, when set, does the same across processes.
type Scheduler struct {
	schedule cron.Schedule
	job      func(ctx context.Context) error
	lock     domain.RunLock
	clock    clockwork.Clock
	renew    time.Duration

	running atomic.Bool
}

// NewScheduler parses a standard five-field cron expression. lock may be nil.
func NewScheduler(expr string, lock domain.RunLock, clock clockwork.Clock, job func(ctx context.Context) error) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid run schedule %q: %w", expr, err)
	}
	return &Scheduler{schedule: schedule, job: job, lock: lock, clock: clock, renew: defaultRenewInterval}, nil
}

// Next returns the first scheduled time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run blocks until ctx is cancelled, triggering a run at every scheduled time.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := s.schedule.Next(s.clock.Now())
		slog.Info("Next pipeline run scheduled", "at", next)

		timer := s.clock.NewTimer(next.Sub(s.clock.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}

		go func() {
			if _, err := s.Trigger(ctx); err != nil {
				slog.Error("Scheduled run failed", "error", err)
			}
		}()
	}
}

// Running reports whether a run started by this scheduler is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Trigger runs the job now unless a run is already in progress here or,
// with a lock, in another process. ran reports whether the job ran.
func (s *Scheduler) Trigger(ctx context.Context) (ran bool, err error) {
	if !s.running.CompareAndSwap(false, true) {
		slog.Warn("Previous run still in progress, skipping")
		return false, nil
	}
	defer s.running.Store(false)

	ctx = correlation.WithRunID(ctx, correlation.NewID())
	if s.lock == nil {
		return true, s.job(ctx)
	}

	ok, err := s.lock.TryAcquire(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		slog.InfoContext(ctx, "Run lock held by another process, skipping")
		return false, nil
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			slog.WarnContext(ctx, "Failed to release run lock", "error", err)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.keepLease(runCtx, cancel)

	return true, s.job(runCtx)
}

// keepLease renews the run lock until ctx ends and cancels the run once the
// lease is lost.
func (s *Scheduler) keepLease(ctx context.Context, cancel context.CancelFunc) {
	ticker := s.clock.NewTicker(s.renew)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := s.lock.Renew(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.ErrorContext(ctx, "Run lock lost, cancelling run", "error", err)
				cancel()
				return
			}
		}
	}
}

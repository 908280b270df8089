package lifecycle

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/autoapply/internal/domain"
)

// Policy bounds automatic retries. Attempts are counted per pipeline step,
// not per kind: every retryable failure of the step counts, and the ceiling of
// the kind that just failed decides whether the record is exhausted. Mixed
// failures therefore never extend the retry budget of a step.
type Policy struct {
	MaxAttempts       map[domain.FailureKind]int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration
}

// DefaultPolicy returns three attempts per retryable kind with 30s doubling backoff capped at 30m.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: map[domain.FailureKind]int{
			domain.FailureContentGeneration: 3,
			domain.FailureRateLimited:       3,
			domain.FailureNetwork:           3,
		},
		BackoffBase:       30 * time.Second,
		BackoffMultiplier: 2,
		BackoffMax:        30 * time.Minute,
	}
}

// Validate rejects policies that could never terminate or never wait.
func (p Policy) Validate() error {
	for kind, n := range p.MaxAttempts {
		if !kind.Retryable() {
			return fmt.Errorf("max attempts configured for non-retryable kind %q", kind)
		}
		if n < 1 {
			return fmt.Errorf("max attempts for %q must be at least 1, got %d", kind, n)
		}
	}
	if p.BackoffBase <= 0 {
		return fmt.Errorf("backoff base must be positive, got %s", p.BackoffBase)
	}
	if p.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff multiplier must be at least 1, got %v", p.BackoffMultiplier)
	}
	if p.BackoffMax < p.BackoffBase {
		return fmt.Errorf("backoff max %s is below backoff base %s", p.BackoffMax, p.BackoffBase)
	}
	return nil
}

func (p Policy) maxAttempts(kind domain.FailureKind) int {
	if n, ok := p.MaxAttempts[kind]; ok {
		return n
	}
	return 1
}

// Backoff returns the wait after the given number of failed attempts.
func (p Policy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := float64(p.BackoffBase) * math.Pow(p.BackoffMultiplier, float64(attempts-1))
	if d > float64(p.BackoffMax) || math.IsInf(d, 0) {
		return p.BackoffMax
	}
	return time.Duration(d)
}

// Machine applies lifecycle events to application records.
type Machine struct {
	policy Policy
}

func NewMachine(policy Policy) *Machine {
	return &Machine{policy: policy}
}

func (m *Machine) Policy() Policy { return m.policy }

// New returns the initial Discovered record for a first-seen identity.
func (m *Machine) New(identity domain.Identity, now time.Time) domain.ApplicationRecord {
	entry := domain.HistoryEntry{State: domain.StateDiscovered, Detail: "discovered", At: now}
	return domain.ApplicationRecord{
		ID:        uuid.New(),
		Identity:  identity,
		State:     domain.StateDiscovered,
		History:   []domain.HistoryEntry{entry},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Apply computes the record that results from ev. The input record is not modified.
// The returned entry is already appended to the returned record's history.
func (m *Machine) Apply(rec domain.ApplicationRecord, ev Event, now time.Time) (domain.ApplicationRecord, domain.HistoryEntry, error) {
	next := rec.Clone()
	var entry domain.HistoryEntry
	ok := false

	switch rec.State {
	case domain.StateDiscovered:
		switch e := ev.(type) {
		case MatchScored:
			if e.Score >= e.Threshold {
				entry, ok = m.advance(&next, domain.StateMatched, fmt.Sprintf("match score %.2f", e.Score)), true
			} else {
				detail := fmt.Sprintf("match score %.2f below threshold %.2f", e.Score, e.Threshold)
				entry, ok = m.skip(&next, domain.SkipLowMatch, detail), true
			}
		case Skip:
			entry, ok = m.skip(&next, e.Reason, e.Detail), true
		case Failed:
			entry, ok = m.fail(&next, e.Kind, e.Detail, domain.StateDiscovered, now), true
		}

	case domain.StateMatched:
		switch e := ev.(type) {
		case ContentGenerated:
			next.ContentRefs = append(next.ContentRefs, e.Handle)
			detail := "content " + e.Handle.ID
			if e.Resume.ID != "" {
				next.ContentRefs = append(next.ContentRefs, e.Resume)
				detail += ", resume " + e.Resume.ID
			}
			entry, ok = m.advance(&next, domain.StateContentReady, detail), true
		case Skip:
			entry, ok = m.skip(&next, e.Reason, e.Detail), true
		case Failed:
			entry, ok = m.fail(&next, e.Kind, e.Detail, domain.StateMatched, now), true
		}

	case domain.StateContentReady:
		switch e := ev.(type) {
		case SubmitStarted:
			// Submitting is part of the submit step, so a pending retry count survives it.
			attempts := next.Attempts
			entry, ok = m.advance(&next, domain.StateSubmitting, "submission started"), true
			next.Attempts = attempts
		case Skip:
			entry, ok = m.skip(&next, e.Reason, e.Detail), true
		case Failed:
			entry, ok = m.fail(&next, e.Kind, e.Detail, domain.StateContentReady, now), true
		}

	case domain.StateSubmitting:
		switch e := ev.(type) {
		case Submitted:
			detail := e.Detail
			if e.AlreadyOnPlatform {
				detail = joinDetail("already submitted on platform", detail)
			}
			entry, ok = m.advance(&next, domain.StateSubmitted, detail), true
		case Failed:
			entry, ok = m.fail(&next, e.Kind, e.Detail, domain.StateContentReady, now), true
		case Interrupted:
			detail := joinDetail("interrupted during submission", e.Detail)
			entry, ok = m.fail(&next, domain.FailureUnknown, detail, domain.StateContentReady, now), true
		}

	case domain.StateSubmitted:
		if e, is := ev.(AwaitResponse); is {
			entry, ok = m.advance(&next, domain.StateAwaitingResponse, e.Note), true
		}

	case domain.StateAwaitingResponse:
		if e, is := ev.(Outcome); is {
			switch e.State {
			case domain.StateInterview, domain.StateRejected, domain.StateOffer:
				entry, ok = m.advance(&next, e.State, e.Note), true
			}
		}

	case domain.StateInterview:
		if e, is := ev.(Outcome); is {
			switch e.State {
			case domain.StateRejected, domain.StateOffer:
				entry, ok = m.advance(&next, e.State, e.Note), true
			}
		}

	case domain.StateFailed:
		entry, ok = m.applyFailed(rec, &next, ev, now)
	}

	if !ok {
		return rec, domain.HistoryEntry{}, &domain.InvalidTransitionError{
			From:        rec.State,
			FailureKind: rec.FailureKind,
			Event:       ev.eventName(),
		}
	}

	entry.At = now
	next.History = append(next.History, entry)
	next.Version = rec.Version + 1
	next.UpdatedAt = now
	return next, entry, nil
}

func (m *Machine) applyFailed(rec domain.ApplicationRecord, next *domain.ApplicationRecord, ev Event, now time.Time) (domain.HistoryEntry, bool) {
	kind := rec.FailureKind

	if e, is := ev.(Skip); is && kind != domain.FailureExhausted {
		return m.skip(next, e.Reason, e.Detail), true
	}

	switch {
	case kind.Retryable():
		if _, is := ev.(Retry); !is || now.Before(rec.NextEligibleAt) {
			return domain.HistoryEntry{}, false
		}
		attempts := rec.Attempts
		entry := m.resume(next, fmt.Sprintf("retry after %s (attempt %d)", kind, attempts+1))
		next.Attempts = attempts
		return entry, true

	case kind == domain.FailureAuthRequired, kind == domain.FailureLayoutChanged:
		e, is := ev.(Requeue)
		if !is {
			return domain.HistoryEntry{}, false
		}
		return m.resume(next, joinDetail("requeued after "+string(kind), e.Note)), true

	case kind == domain.FailureUnknown:
		e, is := ev.(Resolve)
		if !is {
			return domain.HistoryEntry{}, false
		}
		if e.Submitted {
			if !failedDuringSubmission(rec) {
				return domain.HistoryEntry{}, false
			}
			return m.advance(next, domain.StateSubmitted, joinDetail("resolved as submitted", e.Note)), true
		}
		return m.resume(next, joinDetail("resolved as not submitted", e.Note)), true
	}

	return domain.HistoryEntry{}, false
}

// advance moves to a non-failure state and clears the retry bookkeeping.
func (m *Machine) advance(next *domain.ApplicationRecord, state domain.State, detail string) domain.HistoryEntry {
	next.State = state
	next.FailureKind = domain.FailureNone
	next.SkipReason = domain.SkipNone
	next.Attempts = 0
	next.NextEligibleAt = time.Time{}
	next.RetryFrom = ""
	return domain.HistoryEntry{State: state, Detail: detail}
}

func (m *Machine) resume(next *domain.ApplicationRecord, detail string) domain.HistoryEntry {
	from := next.RetryFrom
	if from == "" {
		from = domain.StateDiscovered
	}
	return m.advance(next, from, detail)
}

func (m *Machine) skip(next *domain.ApplicationRecord, reason domain.SkipReason, detail string) domain.HistoryEntry {
	if reason == domain.SkipNone {
		reason = domain.SkipManual
	}
	m.advance(next, domain.StateSkipped, detail)
	next.SkipReason = reason
	return domain.HistoryEntry{State: domain.StateSkipped, SkipReason: reason, Detail: detail}
}

// fail records a failure. Retryable kinds count an attempt on the step's shared
// counter and either schedule the next eligible time or, at the ceiling of
// kind, become exhausted.
func (m *Machine) fail(next *domain.ApplicationRecord, kind domain.FailureKind, detail string, retryFrom domain.State, now time.Time) domain.HistoryEntry {
	if kind == domain.FailureNone {
		kind = domain.FailureUnknown
	}

	next.State = domain.StateFailed
	next.SkipReason = domain.SkipNone
	next.RetryFrom = retryFrom
	next.LastError = detail
	next.NextEligibleAt = time.Time{}

	if kind.Retryable() {
		next.Attempts++
		if next.Attempts >= m.policy.maxAttempts(kind) {
			detail = joinDetail(fmt.Sprintf("%s after %d attempts", kind, next.Attempts), detail)
			kind = domain.FailureExhausted
		} else {
			next.NextEligibleAt = now.Add(m.policy.Backoff(next.Attempts))
		}
	}

	next.FailureKind = kind
	return domain.HistoryEntry{State: domain.StateFailed, FailureKind: kind, Detail: detail}
}

func failedDuringSubmission(rec domain.ApplicationRecord) bool {
	n := len(rec.History)
	return n >= 2 && rec.History[n-2].State == domain.StateSubmitting
}

func joinDetail(prefix, detail string) string {
	if detail == "" {
		return prefix
	}
	if prefix == "" {
		return detail
	}
	return prefix + ": " + detail
}

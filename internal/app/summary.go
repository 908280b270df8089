package app

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pscheid92/autoapply/internal/domain"
)

// RunSummary is the structured report of one pipeline run.
type RunSummary struct {
	RunID           string                     `json:"run_id"`
	Attempted       int                        `json:"attempted"`
	Submitted       int                        `json:"submitted"`
	Skipped         int                        `json:"skipped"`
	Duplicates      int                        `json:"duplicates"`
	Deferred        int                        `json:"deferred"`
	Reconciled      int                        `json:"reconciled"`
	DiscoveryErrors int                        `json:"discovery_errors"`
	Failed          map[domain.FailureKind]int `json:"failed"`
	ByState         map[domain.State]int       `json:"by_state"`
	NeedsReview     []domain.Identity          `json:"needs_review"`
	Exhausted       []domain.Identity          `json:"exhausted"`
	BudgetRemaining map[string]domain.Budget   `json:"budget_remaining,omitempty"`
	Elapsed         time.Duration              `json:"elapsed"`
	Aborted         bool                       `json:"aborted"`
	AbortReason     string                     `json:"abort_reason,omitempty"`
}

var failureKinds = []domain.FailureKind{
	domain.FailureContentGeneration,
	domain.FailureAuthRequired,
	domain.FailureLayoutChanged,
	domain.FailureRateLimited,
	domain.FailureNetwork,
	domain.FailureUnknown,
	domain.FailureExhausted,
}

// tally collects task outcomes from concurrent workers.
type tally struct {
	mu  sync.Mutex
	sum RunSummary
}

func newTally(runID string) *tally {
	failed := make(map[domain.FailureKind]int, len(failureKinds))
	for _, k := range failureKinds {
		failed[k] = 0
	}
	return &tally{sum: RunSummary{
		RunID:       runID,
		Failed:      failed,
		ByState:     make(map[domain.State]int),
		NeedsReview: []domain.Identity{},
		Exhausted:   []domain.Identity{},
	}}
}

func (t *tally) add(fn func(s *RunSummary)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.sum)
}

// finish records the state a task left its record in.
func (t *tally) finish(rec domain.ApplicationRecord) {
	t.add(func(s *RunSummary) {
		s.ByState[rec.State]++
		switch {
		case rec.State == domain.StateSubmitted:
			s.Submitted++
		case rec.State == domain.StateSkipped:
			s.Skipped++
		case rec.State == domain.StateFailed:
			s.Failed[rec.FailureKind]++
			if rec.FailureKind == domain.FailureExhausted {
				s.Exhausted = append(s.Exhausted, rec.Identity)
			}
			if rec.NeedsReview() {
				s.NeedsReview = append(s.NeedsReview, rec.Identity)
			}
		}
	})
}

func (t *tally) snapshot() RunSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.sum
	byKey := func(a, b domain.Identity) int { return strings.Compare(a.Key(), b.Key()) }
	s.NeedsReview = slices.SortedFunc(slices.Values(s.NeedsReview), byKey)
	s.Exhausted = slices.SortedFunc(slices.Values(s.Exhausted), byKey)
	return s
}

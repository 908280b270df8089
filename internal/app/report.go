package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pscheid92/autoapply/internal/domain"
)

// PlatformStats aggregates the records of one platform. SuccessRate is the
// percentage of submitted applications that reached an interview or offer.
type PlatformStats struct {
	Total       int     `json:"total"`
	Submitted   int     `json:"submitted"`
	Interviews  int     `json:"interviews"`
	Offers      int     `json:"offers"`
	Rejected    int     `json:"rejected"`
	NeedsReview int     `json:"needs_review"`
	SuccessRate float64 `json:"success_rate"`
}

type Report struct {
	From        time.Time                `json:"from"`
	To          time.Time                `json:"to"`
	Total       int                      `json:"total"`
	ByState     map[domain.State]int     `json:"by_state"`
	PerPlatform map[string]PlatformStats `json:"per_platform"`
}

// Reporter summarizes application records updated in a time range.
type Reporter struct {
	store domain.Store
}

func NewReporter(store domain.Store) *Reporter {
	return &Reporter{store: store}
}

func (r *Reporter) Report(ctx context.Context, from, to time.Time) (Report, error) {
	recs, err := r.store.ListRecords(ctx, domain.RecordFilter{From: from, To: to})
	if err != nil {
		return Report{}, fmt.Errorf("failed to list records for report: %w", err)
	}

	rep := Report{
		From:        from,
		To:          to,
		Total:       len(recs),
		ByState:     make(map[domain.State]int),
		PerPlatform: make(map[string]PlatformStats),
	}
	successful := make(map[string]int)
	for _, rec := range recs {
		rep.ByState[rec.State]++

		ps := rep.PerPlatform[rec.Identity.Platform]
		ps.Total++
		if rec.SubmittedCount() > 0 {
			ps.Submitted++
		}
		reached := reachedStates(rec)
		if reached[domain.StateInterview] {
			ps.Interviews++
		}
		if reached[domain.StateOffer] {
			ps.Offers++
		}
		if reached[domain.StateInterview] || reached[domain.StateOffer] {
			successful[rec.Identity.Platform]++
		}
		if rec.State == domain.StateRejected {
			ps.Rejected++
		}
		if rec.NeedsReview() {
			ps.NeedsReview++
		}
		rep.PerPlatform[rec.Identity.Platform] = ps
	}

	for p, ps := range rep.PerPlatform {
		if ps.Submitted > 0 {
			ps.SuccessRate = math.Round(float64(successful[p])*10000/float64(ps.Submitted)) / 100
		}
		rep.PerPlatform[p] = ps
	}
	return rep, nil
}

func reachedStates(rec domain.ApplicationRecord) map[domain.State]bool {
	out := make(map[domain.State]bool, len(rec.History))
	for _, h := range rec.History {
		out[h.State] = true
	}
	return out
}

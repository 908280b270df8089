package domain

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of an application record.
type State string

const (
	StateDiscovered       State = "discovered"
	StateMatched          State = "matched"
	StateContentReady     State = "content_ready"
	StateSubmitting       State = "submitting"
	StateSubmitted        State = "submitted"
	StateAwaitingResponse State = "awaiting_response"
	StateInterview        State = "interview"
	StateRejected         State = "rejected"
	StateOffer            State = "offer"
	StateFailed           State = "failed"
	StateSkipped          State = "skipped"
)

// ParseState converts a string to a State. ok is false for unknown values.
func ParseState(s string) (State, bool) {
	switch st := State(s); st {
	case StateDiscovered, StateMatched, StateContentReady, StateSubmitting, StateSubmitted,
		StateAwaitingResponse, StateInterview, StateRejected, StateOffer, StateFailed, StateSkipped:
		return st, true
	default:
		return "", false
	}
}

// FailureKind classifies why an application failed.
type FailureKind string

const (
	FailureNone              FailureKind = ""
	FailureContentGeneration FailureKind = "content_generation"
	FailureAuthRequired      FailureKind = "auth_required"
	FailureLayoutChanged     FailureKind = "layout_changed"
	FailureRateLimited       FailureKind = "rate_limited"
	FailureNetwork           FailureKind = "network"
	FailureUnknown           FailureKind = "unknown"
	FailureExhausted         FailureKind = "exhausted"
)

// Retryable reports whether the kind is retried automatically with backoff.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureContentGeneration, FailureRateLimited, FailureNetwork:
		return true
	default:
		return false
	}
}

// RetryableFailureKinds lists the kinds for which Retryable is true.
func RetryableFailureKinds() []FailureKind {
	return []FailureKind{FailureContentGeneration, FailureRateLimited, FailureNetwork}
}

// NeedsReview reports whether the kind parks the record for a human.
func (k FailureKind) NeedsReview() bool {
	switch k {
	case FailureAuthRequired, FailureLayoutChanged, FailureUnknown:
		return true
	default:
		return false
	}
}

// SkipReason explains a Skipped record.
type SkipReason string

const (
	SkipNone            SkipReason = ""
	SkipLowMatch        SkipReason = "low_match"
	SkipCompanyFiltered SkipReason = "company_filtered"
	SkipNotEasyApply    SkipReason = "not_easy_apply"
	SkipManual          SkipReason = "manual"
)

// HistoryEntry is one append-only step of a record's lifecycle.
type HistoryEntry struct {
	State       State       `json:"state"`
	FailureKind FailureKind `json:"failure_kind,omitempty"`
	SkipReason  SkipReason  `json:"skip_reason,omitempty"`
	Detail      string      `json:"detail,omitempty"`
	At          time.Time   `json:"at"`
}

// ContentHandle references generated content without carrying it.
type ContentHandle struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// ApplicationRecord tracks one job identity through the application lifecycle.
// It is only changed through lifecycle transitions.
type ApplicationRecord struct {
	ID             uuid.UUID       `json:"id"`
	Identity       Identity        `json:"identity"`
	State          State           `json:"state"`
	FailureKind    FailureKind     `json:"failure_kind,omitempty"`
	SkipReason     SkipReason      `json:"skip_reason,omitempty"`
	History        []HistoryEntry  `json:"history"`
	Attempts       int             `json:"attempts"` // retryable failures of the current step, any kind
	ContentRefs    []ContentHandle `json:"content_refs,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	NextEligibleAt time.Time       `json:"next_eligible_at,omitzero"`
	RetryFrom      State           `json:"retry_from,omitempty"`
	Version        int             `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// IsTerminal reports whether no further transition, automated or external, applies.
func (r *ApplicationRecord) IsTerminal() bool {
	switch r.State {
	case StateRejected, StateOffer, StateSkipped:
		return true
	case StateFailed:
		return r.FailureKind == FailureExhausted
	default:
		return false
	}
}

// IsPreSubmission reports whether the pipeline may still act on the record.
// A retryable failure counts, since its retry resumes a pre-submission state.
func (r *ApplicationRecord) IsPreSubmission() bool {
	switch r.State {
	case StateDiscovered, StateMatched, StateContentReady:
		return true
	case StateFailed:
		return r.FailureKind.Retryable()
	default:
		return false
	}
}

// NeedsReview reports whether the record is parked for human action.
func (r *ApplicationRecord) NeedsReview() bool {
	return r.State == StateFailed && r.FailureKind.NeedsReview()
}

// SubmittedCount counts Submitted entries in the history.
func (r *ApplicationRecord) SubmittedCount() int {
	n := 0
	for _, h := range r.History {
		if h.State == StateSubmitted {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so callers can derive a new record without aliasing slices.
func (r ApplicationRecord) Clone() ApplicationRecord {
	c := r
	c.History = append([]HistoryEntry(nil), r.History...)
	c.ContentRefs = append([]ContentHandle(nil), r.ContentRefs...)
	return c
}

package lifecycle

import "github.com/pscheid92/autoapply/internal/domain"

// Event drives a transition. Unknown (state, event) pairs are rejected.
type Event interface {
	eventName() string
}

// MatchScored moves Discovered to Matched, or to Skipped(low_match) below Threshold.
type MatchScored struct {
	Score     float64
	Threshold float64
}

// Skip parks a pre-submission record for good.
type Skip struct {
	Reason domain.SkipReason
	Detail string
}

// ContentGenerated moves Matched to ContentReady. Resume is optional.
type ContentGenerated struct {
	Handle domain.ContentHandle
	Resume domain.ContentHandle
}

// SubmitStarted commits the intent to submit. It must be persisted before the driver call.
type SubmitStarted struct{}

// Submitted records the platform confirmation.
type Submitted struct {
	AlreadyOnPlatform bool
	Detail            string
}

// Failed records a failed step.
type Failed struct {
	Kind   domain.FailureKind
	Detail string
}

// Retry resumes a retryable failure once its backoff elapsed.
type Retry struct{}

// AwaitResponse marks a submitted application as waiting for the employer.
type AwaitResponse struct {
	Note string
}

// Outcome records the employer's answer: interview, rejected or offer.
type Outcome struct {
	State domain.State
	Note  string
}

// Interrupted reconciles a record found in Submitting without a Submitted commit.
type Interrupted struct {
	Detail string
}

// Resolve is the human answer for a Failed(unknown) record.
type Resolve struct {
	Submitted bool
	Note      string
}

// Requeue releases a record parked for review back into the pipeline.
type Requeue struct {
	Note string
}

func (MatchScored) eventName() string      { return "match_scored" }
func (Skip) eventName() string             { return "skip" }
func (ContentGenerated) eventName() string { return "content_generated" }
func (SubmitStarted) eventName() string    { return "submit_started" }
func (Submitted) eventName() string        { return "submitted" }
func (Failed) eventName() string           { return "failed" }
func (Retry) eventName() string            { return "retry" }
func (AwaitResponse) eventName() string    { return "await_response" }
func (Outcome) eventName() string          { return "outcome" }
func (Interrupted) eventName() string      { return "interrupted" }
func (Resolve) eventName() string          { return "resolve" }
func (Requeue) eventName() string          { return "requeue" }

// EventName returns the wire name of an event, used in logs and metrics.
func EventName(ev Event) string { return ev.eventName() }

package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrRecordNotFound    = errors.New("application record not found")
	ErrListingNotFound   = errors.New("job listing not found")
	ErrArtifactNotFound  = errors.New("artifact not found")
	ErrVersionConflict   = errors.New("application record version conflict")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrStorageCorrupt    = errors.New("storage corrupt")
	ErrUnknownPlatform   = errors.New("unknown platform")
	ErrLaneClosed        = errors.New("lane closed")
)

// Collaborator failures. Drivers and content services wrap these so the
// core can map them to failure kinds.
var (
	ErrAuthRequired       = errors.New("authentication required")
	ErrLayoutChanged      = errors.New("page layout changed")
	ErrDriverIncompatible = errors.New("driver incompatible with platform")
	ErrRateLimited        = errors.New("rate limited by platform")
	ErrNetwork            = errors.New("network failure")
	ErrSessionLost        = errors.New("automation session lost")
	ErrContentGeneration  = errors.New("content generation failed")
	ErrLoginLimitReached  = errors.New("login attempt limit reached")
	ErrLoginCircuitOpen   = errors.New("login circuit open")
	ErrBudgetUnavailable  = errors.New("rate budget unavailable")
)

// InvalidTransitionError describes a rejected (state, event) pair.
type InvalidTransitionError struct {
	From        State
	FailureKind FailureKind
	Event       string
}

func (e *InvalidTransitionError) Error() string {
	if e.FailureKind != FailureNone {
		return fmt.Sprintf("invalid transition: event %s in state %s(%s)", e.Event, e.From, e.FailureKind)
	}
	return fmt.Sprintf("invalid transition: event %s in state %s", e.Event, e.From)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// FailureError carries an already classified failure.
type FailureError struct {
	Kind   FailureKind
	Detail string
	Err    error
}

func (e *FailureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *FailureError) Unwrap() error { return e.Err }

// ClassifyError maps a collaborator error to a failure kind.
func ClassifyError(err error) FailureKind {
	var fe *FailureError
	switch {
	case err == nil:
		return FailureNone
	case errors.As(err, &fe):
		return fe.Kind
	case errors.Is(err, ErrAuthRequired), errors.Is(err, ErrLoginCircuitOpen):
		return FailureAuthRequired
	case errors.Is(err, ErrLayoutChanged), errors.Is(err, ErrDriverIncompatible):
		return FailureLayoutChanged
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrLoginLimitReached):
		return FailureRateLimited
	case errors.Is(err, ErrNetwork), errors.Is(err, ErrSessionLost), errors.Is(err, ErrBudgetUnavailable), errors.Is(err, ErrLaneClosed),
		errors.Is(err, context.DeadlineExceeded):
		return FailureNetwork
	case errors.Is(err, ErrContentGeneration):
		return FailureContentGeneration
	default:
		return FailureUnknown
	}
}

// IsSessionFailure reports whether err invalidates the automation session.
func IsSessionFailure(err error) bool {
	return errors.Is(err, ErrAuthRequired) || errors.Is(err, ErrSessionLost)
}

// IsFatal reports whether err must abort a whole run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrStorageCorrupt)
}

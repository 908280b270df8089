package domain

import (
	"context"
)

// LaneKey identifies one platform account. Each key owns exactly one lane.
type LaneKey struct {
	Platform string `json:"platform"`
	Account  string `json:"account"`
}

func (k LaneKey) String() string { return k.Platform + "/" + k.Account }

// Account carries the credentials a driver needs to open a session.
type Account struct {
	Platform string
	Username string
	Secret   string
}

// SessionStatus is the answer of a session health check.
type SessionStatus int

const (
	SessionInvalid SessionStatus = iota
	SessionValid
)

func (s SessionStatus) String() string {
	if s == SessionValid {
		return "valid"
	}
	return "invalid"
}

// Answers holds prepared answers for screening questions, keyed by question text.
type Answers map[string]string

// SubmissionResult is everything the core learns from a submit attempt.
// AlreadySubmittedOnPlatform is reported when the platform shows the
// application as present, e.g. after a crash mid-call; it counts as success.
type SubmissionResult struct {
	Success                    bool        `json:"success"`
	AlreadySubmittedOnPlatform bool        `json:"already_submitted_on_platform"`
	FailureKind                FailureKind `json:"failure_kind,omitempty"`
	Detail                     string      `json:"detail,omitempty"`
}

// Submitted reports whether the application is on the platform after the call.
func (r SubmissionResult) Submitted() bool {
	return r.Success || r.AlreadySubmittedOnPlatform
}

// PlatformDriver opens automation sessions against one hiring platform.
// The core never inspects page structure, only these contracts.
type PlatformDriver interface {
	Platform() string
	Login(ctx context.Context, account Account) (Session, error)
}

// Session is one authenticated automation session. It is not safe for
// concurrent use; the session coordinator serializes every call.
type Session interface {
	Discover(ctx context.Context, criteria Criteria) ([]JobListing, error)
	Submit(ctx context.Context, listing JobListing, content []ContentHandle, answers Answers) (SubmissionResult, error)
	CheckSession(ctx context.Context) (SessionStatus, error)
	Logout(ctx context.Context) error
}

package domain

import (
	"context"
	"time"
)

// RecordFilter selects application records. Zero fields do not filter.
// FailureKinds only constrains records in StateFailed.
type RecordFilter struct {
	States       []State
	FailureKinds []FailureKind
	Platform     string
	From         time.Time
	To           time.Time
	Limit        int
}

// Store persists listings and application records.
//
// CreateIfAbsent must be atomic on the record identity: concurrent calls for
// the same identity create exactly one record. AppendHistory appends exactly
// one entry and replaces the record snapshot only when the stored version
// equals next.Version-1; otherwise it returns ErrVersionConflict.
type Store interface {
	CreateIfAbsent(ctx context.Context, listing JobListing, record ApplicationRecord) (ApplicationRecord, bool, error)
	GetRecord(ctx context.Context, id Identity) (*ApplicationRecord, error)
	GetListing(ctx context.Context, id Identity) (*JobListing, error)
	AppendHistory(ctx context.Context, next ApplicationRecord, entry HistoryEntry) error
	ListRecords(ctx context.Context, filter RecordFilter) ([]ApplicationRecord, error)
}

// BudgetLimits are the ceilings of one platform's rolling windows.
type BudgetLimits struct {
	Hourly int `json:"hourly"`
	Daily  int `json:"daily"`
}

// Budget is the remaining capacity in both windows.
type Budget struct {
	HourlyRemaining int `json:"hourly_remaining"`
	DailyRemaining  int `json:"daily_remaining"`
}

// Admission is the outcome of a budget check. When Allowed is false,
// RetryAt is the earliest time a window admits capacity again.
type Admission struct {
	Allowed bool
	RetryAt time.Time
	Budget  Budget
}

// BudgetLedger holds the per-platform action counters.
// Only the rate governor talks to it.
type BudgetLedger interface {
	TryConsume(ctx context.Context, platform string, now time.Time, limits BudgetLimits) (Admission, error)
	Remaining(ctx context.Context, platform string, now time.Time, limits BudgetLimits) (Budget, error)
}

// RunLock is a lease that keeps pipeline runs from overlapping across processes.
type RunLock interface {
	TryAcquire(ctx context.Context) (bool, error)
	Renew(ctx context.Context) error
	Release(ctx context.Context) error
}

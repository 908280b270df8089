package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/autoapply/internal/domain"
)

// Store implements domain.Store. Records live in applications, their
// append-only history in application_history.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const insertListing = `-- name: InsertListing :exec
INSERT INTO job_listings (platform, external_id, title, company, location, url, description, easy_apply, scraped_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (platform, external_id) DO NOTHING`

const insertApplication = `-- name: InsertApplication :one
INSERT INTO applications (id, platform, external_id, state, failure_kind, skip_reason, attempts,
                          content_refs, last_error, next_eligible_at, retry_from, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (platform, external_id) DO NOTHING
RETURNING id`

const insertHistory = `-- name: InsertHistory :exec
INSERT INTO application_history (application_id, seq, state, failure_kind, skip_reason, detail, at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

const selectApplicationColumns = `id, platform, external_id, state, failure_kind, skip_reason, attempts,
       content_refs, last_error, next_eligible_at, retry_from, version, created_at, updated_at`

const getApplication = `-- name: GetApplication :one
SELECT ` + selectApplicationColumns + `
FROM applications
WHERE platform = $1 AND external_id = $2`

const getHistory = `-- name: GetHistory :many
SELECT application_id, state, failure_kind, skip_reason, detail, at
FROM application_history
WHERE application_id = ANY($1)
ORDER BY application_id, seq`

const updateApplication = `-- name: UpdateApplication :one
UPDATE applications
SET state = $3, failure_kind = $4, skip_reason = $5, attempts = $6, content_refs = $7,
    last_error = $8, next_eligible_at = $9, retry_from = $10, version = $11, updated_at = $12
WHERE platform = $1 AND external_id = $2 AND version = $11 - 1
RETURNING id`

const getListing = `-- name: GetListing :one
SELECT platform, external_id, title, company, location, url, description, easy_apply, scraped_at
FROM job_listings
WHERE platform = $1 AND external_id = $2`

// CreateIfAbsent relies on the unique (platform, external_id) key: a
// concurrent insert of the same identity waits for the first one and then
// does nothing.
func (s *Store) CreateIfAbsent(ctx context.Context, listing domain.JobListing, record domain.ApplicationRecord) (domain.ApplicationRecord, bool, error) {
	id := record.Identity

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.ApplicationRecord{}, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, insertListing,
		id.Platform, id.ExternalID, listing.Title, listing.Company, listing.Location,
		listing.URL, listing.Description, listing.EasyApply, listing.ScrapedAt.UTC()); err != nil {
		return domain.ApplicationRecord{}, false, fmt.Errorf("failed to insert listing: %w", err)
	}

	var appID uuid.UUID
	err = tx.QueryRow(ctx, insertApplication,
		record.ID, id.Platform, id.ExternalID, record.State, record.FailureKind, record.SkipReason,
		record.Attempts, contentRefs(record.ContentRefs), record.LastError, nullableTime(record.NextEligibleAt),
		record.RetryFrom, record.Version, record.CreatedAt.UTC(), record.UpdatedAt.UTC(),
	).Scan(&appID)

	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := s.getRecord(ctx, tx, id)
		if err != nil {
			return domain.ApplicationRecord{}, false, err
		}
		if err := tx.Commit(ctx); err != nil {
			return domain.ApplicationRecord{}, false, fmt.Errorf("failed to commit: %w", err)
		}
		return *existing, false, nil
	}
	if err != nil {
		return domain.ApplicationRecord{}, false, fmt.Errorf("failed to insert application: %w", err)
	}

	for i, h := range record.History {
		if err := insertEntry(ctx, tx, appID, i+1+record.Version-len(record.History), h); err != nil {
			return domain.ApplicationRecord{}, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.ApplicationRecord{}, false, fmt.Errorf("failed to commit: %w", err)
	}
	return record.Clone(), true, nil
}

func (s *Store) GetRecord(ctx context.Context, id domain.Identity) (*domain.ApplicationRecord, error) {
	return s.getRecord(ctx, s.pool, id)
}

func (s *Store) GetListing(ctx context.Context, id domain.Identity) (*domain.JobListing, error) {
	var l domain.JobListing
	err := s.pool.QueryRow(ctx, getListing, id.Platform, id.ExternalID).Scan(
		&l.Platform, &l.ExternalID, &l.Title, &l.Company, &l.Location, &l.URL, &l.Description, &l.EasyApply, &l.ScrapedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing %s: %w", id, err)
	}
	l.ScrapedAt = l.ScrapedAt.UTC()
	return &l, nil
}

// AppendHistory updates the snapshot only when the stored version is
// next.Version-1 and inserts the entry in the same transaction.
func (s *Store) AppendHistory(ctx context.Context, next domain.ApplicationRecord, entry domain.HistoryEntry) error {
	id := next.Identity

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var appID uuid.UUID
	err = tx.QueryRow(ctx, updateApplication,
		id.Platform, id.ExternalID, next.State, next.FailureKind, next.SkipReason, next.Attempts,
		contentRefs(next.ContentRefs), next.LastError, nullableTime(next.NextEligibleAt), next.RetryFrom,
		next.Version, next.UpdatedAt.UTC(),
	).Scan(&appID)

	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := s.getRecord(ctx, tx, id); gerr != nil {
			return gerr
		}
		return fmt.Errorf("record %s at version %d: %w", id, next.Version-1, domain.ErrVersionConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to update application: %w", err)
	}

	if err := insertEntry(ctx, tx, appID, next.Version, entry); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (s *Store) ListRecords(ctx context.Context, f domain.RecordFilter) ([]domain.ApplicationRecord, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, st := range f.States {
			states[i] = string(st)
		}
		where = append(where, "state = ANY("+arg(states)+")")
	}
	if len(f.FailureKinds) > 0 {
		kinds := make([]string, len(f.FailureKinds))
		for i, k := range f.FailureKinds {
			kinds[i] = string(k)
		}
		where = append(where, "(state <> 'failed' OR failure_kind = ANY("+arg(kinds)+"))")
	}
	if f.Platform != "" {
		where = append(where, "platform = "+arg(strings.ToLower(f.Platform)))
	}
	if !f.From.IsZero() {
		where = append(where, "updated_at >= "+arg(f.From.UTC()))
	}
	if !f.To.IsZero() {
		where = append(where, "updated_at < "+arg(f.To.UTC()))
	}

	query := "-- name: ListApplications :many\nSELECT " + selectApplicationColumns + "\nFROM applications"
	if len(where) > 0 {
		query += "\nWHERE " + strings.Join(where, " AND ")
	}
	query += "\nORDER BY created_at, platform, external_id"
	if f.Limit > 0 {
		query += "\nLIMIT " + arg(f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanApplication)
	if err != nil {
		return nil, fmt.Errorf("failed to scan applications: %w", err)
	}

	if err := loadHistory(ctx, s.pool, recs); err != nil {
		return nil, err
	}
	return recs, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) getRecord(ctx context.Context, q querier, id domain.Identity) (*domain.ApplicationRecord, error) {
	rows, err := q.Query(ctx, getApplication, id.Platform, id.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get application %s: %w", id, err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanApplication)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan application %s: %w", id, err)
	}

	recs := []domain.ApplicationRecord{rec}
	if err := loadHistory(ctx, q, recs); err != nil {
		return nil, err
	}
	return &recs[0], nil
}

func scanApplication(row pgx.CollectableRow) (domain.ApplicationRecord, error) {
	var (
		rec  domain.ApplicationRecord
		next *time.Time
	)
	err := row.Scan(&rec.ID, &rec.Identity.Platform, &rec.Identity.ExternalID, &rec.State, &rec.FailureKind,
		&rec.SkipReason, &rec.Attempts, &rec.ContentRefs, &rec.LastError, &next, &rec.RetryFrom,
		&rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return rec, err
	}
	if next != nil {
		rec.NextEligibleAt = next.UTC()
	}
	if len(rec.ContentRefs) == 0 {
		rec.ContentRefs = nil
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

// loadHistory fills the History of recs with one query.
func loadHistory(ctx context.Context, q querier, recs []domain.ApplicationRecord) error {
	if len(recs) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(recs))
	byID := make(map[uuid.UUID]int, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
		byID[r.ID] = i
	}

	rows, err := q.Query(ctx, getHistory, ids)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			appID uuid.UUID
			h     domain.HistoryEntry
		)
		if err := rows.Scan(&appID, &h.State, &h.FailureKind, &h.SkipReason, &h.Detail, &h.At); err != nil {
			return fmt.Errorf("failed to scan history: %w", err)
		}
		h.At = h.At.UTC()
		i := byID[appID]
		recs[i].History = append(recs[i].History, h)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	for _, r := range recs {
		if len(r.History) == 0 {
			return fmt.Errorf("record %s has no history: %w", r.Identity, domain.ErrStorageCorrupt)
		}
	}
	return nil
}

func insertEntry(ctx context.Context, tx pgx.Tx, appID uuid.UUID, seq int, h domain.HistoryEntry) error {
	if _, err := tx.Exec(ctx, insertHistory, appID, seq, h.State, h.FailureKind, h.SkipReason, h.Detail, h.At.UTC()); err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

func contentRefs(refs []domain.ContentHandle) []domain.ContentHandle {
	if refs == nil {
		return []domain.ContentHandle{}
	}
	return refs
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

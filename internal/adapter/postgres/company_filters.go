package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FilterType is the list a company filter entry belongs to.
type FilterType string

const (
	Blacklist FilterType = "blacklist"
	Whitelist FilterType = "whitelist"
)

// CompanyFilterEntry is one row of the company filter list.
type CompanyFilterEntry struct {
	Company   string     `json:"company"`
	Type      FilterType `json:"filter_type"`
	Reason    string     `json:"reason,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// CompanyFilterRepo implements domain.CompanyFilter. Only blacklisted
// companies are blocked; whitelist entries are informational.
type CompanyFilterRepo struct {
	pool *pgxpool.Pool
}

func NewCompanyFilterRepo(pool *pgxpool.Pool) *CompanyFilterRepo {
	return &CompanyFilterRepo{pool: pool}
}

const getCompanyFilter = `-- name: GetCompanyFilter :one
SELECT filter_type, reason
FROM company_filters
WHERE company = $1`

const upsertCompanyFilter = `-- name: UpsertCompanyFilter :exec
INSERT INTO company_filters (company, filter_type, reason)
VALUES ($1, $2, $3)
ON CONFLICT (company) DO UPDATE SET filter_type = EXCLUDED.filter_type, reason = EXCLUDED.reason`

const deleteCompanyFilter = `-- name: DeleteCompanyFilter :execrows
DELETE FROM company_filters
WHERE company = $1`

const listCompanyFilters = `-- name: ListCompanyFilters :many
SELECT company, filter_type, reason, created_at
FROM company_filters
ORDER BY company`

func (r *CompanyFilterRepo) IsBlocked(ctx context.Context, company string) (bool, string, error) {
	var (
		ft     FilterType
		reason string
	)
	err := r.pool.QueryRow(ctx, getCompanyFilter, foldCompany(company)).Scan(&ft, &reason)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("failed to look up company filter: %w", err)
	}
	return ft == Blacklist, reason, nil
}

func (r *CompanyFilterRepo) AddFilter(ctx context.Context, company string, ft FilterType, reason string) error {
	name := foldCompany(company)
	if name == "" {
		return errors.New("company name is empty")
	}
	if ft != Blacklist && ft != Whitelist {
		return fmt.Errorf("unknown filter type %q", ft)
	}
	if _, err := r.pool.Exec(ctx, upsertCompanyFilter, name, ft, reason); err != nil {
		return fmt.Errorf("failed to save company filter: %w", err)
	}
	return nil
}

// RemoveFilter reports whether an entry existed.
func (r *CompanyFilterRepo) RemoveFilter(ctx context.Context, company string) (bool, error) {
	tag, err := r.pool.Exec(ctx, deleteCompanyFilter, foldCompany(company))
	if err != nil {
		return false, fmt.Errorf("failed to delete company filter: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *CompanyFilterRepo) List(ctx context.Context) ([]CompanyFilterEntry, error) {
	rows, err := r.pool.Query(ctx, listCompanyFilters)
	if err != nil {
		return nil, fmt.Errorf("failed to list company filters: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (CompanyFilterEntry, error) {
		var e CompanyFilterEntry
		err := row.Scan(&e.Company, &e.Type, &e.Reason, &e.CreatedAt)
		e.CreatedAt = e.CreatedAt.UTC()
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan company filters: %w", err)
	}
	return entries, nil
}

func foldCompany(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

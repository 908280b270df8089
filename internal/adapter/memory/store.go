// Package memory provides an in-process Store used by dry runs and tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/pscheid92/autoapply/internal/domain"
)

// Store keeps listings and application records in maps guarded by one mutex.
// A single lock makes CreateIfAbsent atomic on identity.
type Store struct {
	mu       sync.RWMutex
	listings map[string]domain.JobListing
	records  map[string]domain.ApplicationRecord
}

func NewStore() *Store {
	return &Store{
		listings: make(map[string]domain.JobListing),
		records:  make(map[string]domain.ApplicationRecord),
	}
}

func (s *Store) CreateIfAbsent(_ context.Context, listing domain.JobListing, record domain.ApplicationRecord) (domain.ApplicationRecord, bool, error) {
	key := record.Identity.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[key]; ok {
		return existing.Clone(), false, nil
	}
	s.listings[key] = listing
	s.records[key] = record.Clone()
	return record.Clone(), true, nil
}

func (s *Store) GetRecord(_ context.Context, id domain.Identity) (*domain.ApplicationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id.Key()]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	c := rec.Clone()
	return &c, nil
}

func (s *Store) GetListing(_ context.Context, id domain.Identity) (*domain.JobListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.listings[id.Key()]
	if !ok {
		return nil, domain.ErrListingNotFound
	}
	return &l, nil
}

// AppendHistory stores next with the stored history plus entry, so earlier
// entries can never be rewritten through this call.
func (s *Store) AppendHistory(_ context.Context, next domain.ApplicationRecord, entry domain.HistoryEntry) error {
	key := next.Identity.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[key]
	if !ok {
		return domain.ErrRecordNotFound
	}
	if cur.Version != next.Version-1 {
		return fmt.Errorf("stored version %d, next version %d: %w", cur.Version, next.Version, domain.ErrVersionConflict)
	}

	stored := next.Clone()
	stored.History = append(slices.Clone(cur.History), entry)
	s.records[key] = stored
	return nil
}

func (s *Store) ListRecords(_ context.Context, filter domain.RecordFilter) ([]domain.ApplicationRecord, error) {
	s.mu.RLock()
	out := make([]domain.ApplicationRecord, 0, len(s.records))
	for _, rec := range s.records {
		if matches(rec, filter) {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.ApplicationRecord) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.Identity.Key(), b.Identity.Key()))
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matches(rec domain.ApplicationRecord, f domain.RecordFilter) bool {
	if len(f.States) > 0 && !slices.Contains(f.States, rec.State) {
		return false
	}
	if len(f.FailureKinds) > 0 && rec.State == domain.StateFailed && !slices.Contains(f.FailureKinds, rec.FailureKind) {
		return false
	}
	if f.Platform != "" && rec.Identity.Platform != f.Platform {
		return false
	}
	if !f.From.IsZero() && rec.UpdatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !rec.UpdatedAt.Before(f.To) {
		return false
	}
	return true
}

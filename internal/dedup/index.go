// Package dedup is the single entry point for "have we seen this job before".
// It sits on the Store's unique identity key and never evicts.
package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/autoapply/internal/domain"
	"github.com/pscheid92/autoapply/internal/lifecycle"
	"github.com/pscheid92/autoapply/internal/metrics"
	"golang.org/x/sync/singleflight"
)

type Index struct {
	store   domain.Store
	machine *lifecycle.Machine
	clock   clockwork.Clock
	lookups singleflight.Group
}

func NewIndex(store domain.Store, machine *lifecycle.Machine, clock clockwork.Clock) *Index {
	return &Index{store: store, machine: machine, clock: clock}
}

// Lookup returns the record for id, or nil when the identity was never seen.
// Concurrent lookups of one identity share a single store read. The shared
// read outlives any one caller; each caller stops waiting on its own ctx.
func (x *Index) Lookup(ctx context.Context, id domain.Identity) (*domain.ApplicationRecord, error) {
	shared := context.WithoutCancel(ctx)
	ch := x.lookups.DoChan(id.Key(), func() (any, error) {
		return x.store.GetRecord(shared, id)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		metrics.DedupLookupsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to look up %s: %w", id, ctx.Err())
	}

	v, err := res.Val, res.Err
	if errors.Is(err, domain.ErrRecordNotFound) {
		metrics.DedupLookupsTotal.WithLabelValues("miss").Inc()
		return nil, nil
	}
	if err != nil {
		metrics.DedupLookupsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to look up %s: %w", id, err)
	}

	metrics.DedupLookupsTotal.WithLabelValues("hit").Inc()
	rec := v.(*domain.ApplicationRecord).Clone()
	return &rec, nil
}

// RegisterIfAbsent creates the Discovered record for listing on first sight.
// Of any number of concurrent callers for one identity exactly one gets created=true;
// the others get the existing record.
func (x *Index) RegisterIfAbsent(ctx context.Context, listing domain.JobListing) (domain.ApplicationRecord, bool, error) {
	id := listing.Identity()
	if id.IsZero() {
		return domain.ApplicationRecord{}, false, fmt.Errorf("listing %q has no identity", listing.URL)
	}
	listing.Platform, listing.ExternalID = id.Platform, id.ExternalID

	rec, created, err := x.store.CreateIfAbsent(ctx, listing, x.machine.New(id, x.clock.Now()))
	if err != nil {
		metrics.DedupRegistrationsTotal.WithLabelValues("error").Inc()
		return domain.ApplicationRecord{}, false, fmt.Errorf("failed to register %s: %w", id, err)
	}

	if created {
		metrics.DedupRegistrationsTotal.WithLabelValues("created").Inc()
	} else {
		metrics.DedupRegistrationsTotal.WithLabelValues("existing").Inc()
	}
	return rec, created, nil
}

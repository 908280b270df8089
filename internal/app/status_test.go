package app

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/autoapply/internal/adapter/memory"
	"github.com/pscheid92/autoapply/internal/domain"
	"github.com/pscheid92/autoapply/internal/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seed stores a record for l and applies evs to it.
func seed(t *testing.T, store domain.Store, machine *lifecycle.Machine, clock clockwork.Clock, l domain.JobListing, evs ...lifecycle.Event) domain.ApplicationRecord {
	t.Helper()
	ctx := context.Background()
	rec, _, err := store.CreateIfAbsent(ctx, l, machine.New(l.Identity(), clock.Now()))
	require.NoError(t, err)
	for _, ev := range evs {
		rec, err = persistTransition(ctx, store, machine, clock, rec, ev)
		require.NoError(t, err)
	}
	return rec
}

var toSubmitted = []lifecycle.Event{
	lifecycle.MatchScored{Score: 0.9, Threshold: 0.7},
	lifecycle.ContentGenerated{Handle: domain.ContentHandle{ID: "c1", Kind: "cover_letter"}},
	lifecycle.SubmitStarted{},
	lifecycle.Submitted{},
}

func newStatusService() (*StatusService, *memory.Store, *lifecycle.Machine, clockwork.Clock) {
	store := memory.NewStore()
	machine := lifecycle.NewMachine(testPolicy())
	clock := clockwork.NewFakeClockAt(t0)
	return NewStatusService(store, machine, clock), store, machine, clock
}

func TestUpdateStatus_OutcomeOnSubmittedAwaitsFirst(t *testing.T) {
	svc, store, machine, clock := newStatusService()
	rec := seed(t, store, machine, clock, listing("1"), toSubmitted...)

	got, err := svc.UpdateStatus(context.Background(), rec.Identity, StatusUpdate{Action: ActionInterview, Note: "call on monday"})
	require.NoError(t, err)

	assert.Equal(t, domain.StateInterview, got.State)
	n := len(got.History)
	assert.Equal(t, domain.StateAwaitingResponse, got.History[n-2].State)
	assert.Contains(t, got.History[n-1].Detail, "call on monday")

	got, err = svc.UpdateStatus(context.Background(), rec.Identity, StatusUpdate{Action: ActionOffer})
	require.NoError(t, err)
	assert.Equal(t, domain.StateOffer, got.State)
	assert.True(t, got.IsTerminal())
}

func TestUpdateStatus_InvalidTransition(t *testing.T) {
	svc, store, machine, clock := newStatusService()
	rec := seed(t, store, machine, clock, listing("1"))

	_, err := svc.UpdateStatus(context.Background(), rec.Identity, StatusUpdate{Action: ActionOffer})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	stored, err := svc.Get(context.Background(), rec.Identity)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDiscovered, stored.State)
}

func TestUpdateStatus_UnknownAction(t *testing.T) {
	svc, store, machine, clock := newStatusService()
	rec := seed(t, store, machine, clock, listing("1"))

	_, err := svc.UpdateStatus(context.Background(), rec.Identity, StatusUpdate{Action: "hired"})
	require.ErrorIs(t, err, ErrUnknownAction)
}

func TestUpdateStatus_UnknownRecord(t *testing.T) {
	svc, _, _, _ := newStatusService()

	_, err := svc.UpdateStatus(context.Background(), listing("404").Identity(), StatusUpdate{Action: ActionSkip})
	require.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestUpdateStatus_ManualSkip(t *testing.T) {
	svc, store, machine, clock := newStatusService()
	rec := seed(t, store, machine, clock, listing("1"), lifecycle.MatchScored{Score: 0.9, Threshold: 0.7})

	got, err := svc.UpdateStatus(context.Background(), rec.Identity, StatusUpdate{Action: ActionSkip, Note: "not interested"})
	require.NoError(t, err)
	assert.Equal(t, domain.SkipManual, got.SkipReason)
}

func TestUpdateStatus_ResolveNotSubmittedResumes(t *testing.T) {
	svc, store, machine, clock := newStatusService()
	rec := seed(t, store, machine, clock, listing("1"),
		lifecycle.MatchScored{Score: 0.9, Threshold: 0.7},
		lifecycle.ContentGenerated{Handle: domain.ContentHandle{ID: "c1"}},
		lifecycle.SubmitStarted{},
		lifecycle.Interrupted{},
	)

	got, err := svc.UpdateStatus(context.Background(), rec.Identity, StatusUpdate{Action: ActionResolveNotSubmitted})
	require.NoError(t, err)
	assert.Equal(t, domain.StateContentReady, got.State)
	assert.Zero(t, got.SubmittedCount())
}

func TestList_FiltersByState(t *testing.T) {
	svc, store, machine, clock := newStatusService()
	seed(t, store, machine, clock, listing("1"), toSubmitted...)
	seed(t, store, machine, clock, listing("2"))

	recs, err := svc.List(context.Background(), domain.RecordFilter{States: []domain.State{domain.StateSubmitted}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "1", recs[0].Identity.ExternalID)
}

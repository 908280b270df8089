package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/autoapply/internal/domain"
	"github.com/pscheid92/autoapply/internal/lifecycle"
)

// StatusAction is an external update of an application, made by a human or
// by mail parsing after submission.
type StatusAction string

const (
	ActionAwaitingResponse    StatusAction = "awaiting_response"
	ActionInterview           StatusAction = "interview"
	ActionRejected            StatusAction = "rejected"
	ActionOffer               StatusAction = "offer"
	ActionRequeue             StatusAction = "requeue"
	ActionResolveSubmitted    StatusAction = "resolve_submitted"
	ActionResolveNotSubmitted StatusAction = "resolve_not_submitted"
	ActionSkip                StatusAction = "skip"
)

var ErrUnknownAction = errors.New("unknown status action")

type StatusUpdate struct {
	Action StatusAction `json:"action"`
	Note   string       `json:"note"`
}

// StatusService applies external transitions and exposes the records.
type StatusService struct {
	store   domain.Store
	machine *lifecycle.Machine
	clock   clockwork.Clock
}

func NewStatusService(store domain.Store, machine *lifecycle.Machine, clock clockwork.Clock) *StatusService {
	return &StatusService{store: store, machine: machine, clock: clock}
}

func (s *StatusService) Get(ctx context.Context, id domain.Identity) (*domain.ApplicationRecord, error) {
	return s.store.GetRecord(ctx, id)
}

func (s *StatusService) List(ctx context.Context, filter domain.RecordFilter) ([]domain.ApplicationRecord, error) {
	return s.store.ListRecords(ctx, filter)
}

// UpdateStatus applies one external action. An outcome reported for a record
// that is still Submitted moves it to AwaitingResponse first.
func (s *StatusService) UpdateStatus(ctx context.Context, id domain.Identity, upd StatusUpdate) (domain.ApplicationRecord, error) {
	ev, err := statusEvent(upd)
	if err != nil {
		return domain.ApplicationRecord{}, err
	}

	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return domain.ApplicationRecord{}, err
	}
	cur := *rec

	if _, isOutcome := ev.(lifecycle.Outcome); isOutcome && cur.State == domain.StateSubmitted {
		cur, err = persistTransition(ctx, s.store, s.machine, s.clock, cur, lifecycle.AwaitResponse{})
		if err != nil {
			return domain.ApplicationRecord{}, err
		}
	}

	next, err := persistTransition(ctx, s.store, s.machine, s.clock, cur, ev)
	if err != nil {
		return domain.ApplicationRecord{}, fmt.Errorf("failed to apply %s to %s: %w", upd.Action, id, err)
	}
	return next, nil
}

func statusEvent(upd StatusUpdate) (lifecycle.Event, error) {
	switch upd.Action {
	case ActionAwaitingResponse:
		return lifecycle.AwaitResponse{Note: upd.Note}, nil
	case ActionInterview:
		return lifecycle.Outcome{State: domain.StateInterview, Note: upd.Note}, nil
	case ActionRejected:
		return lifecycle.Outcome{State: domain.StateRejected, Note: upd.Note}, nil
	case ActionOffer:
		return lifecycle.Outcome{State: domain.StateOffer, Note: upd.Note}, nil
	case ActionRequeue:
		return lifecycle.Requeue{Note: upd.Note}, nil
	case ActionResolveSubmitted:
		return lifecycle.Resolve{Submitted: true, Note: upd.Note}, nil
	case ActionResolveNotSubmitted:
		return lifecycle.Resolve{Submitted: false, Note: upd.Note}, nil
	case ActionSkip:
		return lifecycle.Skip{Reason: domain.SkipManual, Detail: upd.Note}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, upd.Action)
	}
}

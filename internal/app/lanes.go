package app

import (
	"context"

	"github.com/pscheid92/autoapply/internal/domain"
	"github.com/pscheid92/autoapply/internal/session"
)

// Lane is the serialized execution context of one platform account.
type Lane interface {
	Key() domain.LaneKey
	Discover(ctx context.Context, criteria domain.Criteria) ([]domain.JobListing, error)
	Submit(ctx context.Context, req session.SubmitRequest) (domain.SubmissionResult, error)
}

// Lanes hands out the lane for a key.
type Lanes interface {
	Lane(key domain.LaneKey) (Lane, error)
}

// RegistryLanes adapts a session.Registry to Lanes.
type RegistryLanes struct {
	Registry *session.Registry
}

func (r RegistryLanes) Lane(key domain.LaneKey) (Lane, error) {
	c, err := r.Registry.Get(key)
	if err != nil {
		return nil, err
	}
	return c, nil
}

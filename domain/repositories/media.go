package repositories

import (
	"context"

	"github.com/satriahrh/nexus/domain/entities"
)

// PollResult is the outcome of one status check of a generation job.
// Exactly one of Done or Failure is meaningful once the job finished.
type PollResult struct {
	Done      bool
	ResultRef string
	Failure   string
}

// Finished reports whether the job reached a terminal state
func (r PollResult) Finished() bool {
	return r.Done || r.Failure != ""
}

// MediaGenerator submits and checks long-running media generation operations
type MediaGenerator interface {
	Submit(ctx context.Context, kind entities.JobKind, params entities.MediaParams) (handle string, err error)
	Poll(ctx context.Context, kind entities.JobKind, handle string) (PollResult, error)
}

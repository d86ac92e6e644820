package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stulshyan/sherpaAI-sub000/internal/pipeline"
	"github.com/stulshyan/sherpaAI-sub000/internal/queue/streams"
)

// Enqueuer publishes decomposition jobs for the worker.
type Enqueuer struct {
	publisher *streams.Publisher
	status    *StatusStore
	stream    string
	now       func() time.Time
}

func NewEnqueuer(publisher *streams.Publisher, status *StatusStore, stream string) *Enqueuer {
	return &Enqueuer{publisher: publisher, status: status, stream: stream, now: time.Now}
}

// Enqueue caches a queued snapshot and then publishes the job, so a worker's
// first progress write always lands after the queued one. It returns the job
// id; a failed cache write is reported alongside a published job id.
func (e *Enqueuer) Enqueue(ctx context.Context, requirementID, requestedBy string) (string, error) {
	if requirementID == "" {
		return "", errors.New("requirement id is required")
	}
	jobID := uuid.NewString()
	now := e.now().UTC()
	state := pipeline.State{
		RequirementID: requirementID,
		JobID:         jobID,
		Stage:         pipeline.StageQueued,
		Progress:      pipeline.StageQueued.Progress(),
		StartedAt:     now,
		UpdatedAt:     now,
		Metadata:      map[string]interface{}{},
	}
	var cacheErr error
	if e.status != nil {
		cacheErr = e.status.Put(ctx, state)
	}

	req := streams.DecomposeRequest{RequirementID: requirementID, JobID: jobID, RequestedBy: requestedBy}
	if _, err := e.publisher.PublishPayload(ctx, e.stream, streams.EventDecomposeRequested, streams.VersionV1, req); err != nil {
		if e.status != nil && cacheErr == nil {
			// Replace the queued snapshot of a job that will never run.
			state.Stage = pipeline.StageFailed
			state.Progress = pipeline.StageFailed.Progress()
			state.Error = &pipeline.Error{Stage: pipeline.StageQueued, Message: err.Error()}
			_ = e.status.Put(context.WithoutCancel(ctx), state)
		}
		return "", fmt.Errorf("enqueue %s: %w", requirementID, err)
	}
	if cacheErr != nil {
		return jobID, fmt.Errorf("cache queued status: %w", cacheErr)
	}
	return jobID, nil
}

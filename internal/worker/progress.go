package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stulshyan/sherpaAI-sub000/internal/pipeline"
	"github.com/stulshyan/sherpaAI-sub000/internal/queue/streams"
)

const progressStreamMaxLen = 10000

// ProgressSink fans pipeline snapshots out to the status cache and the
// progress stream. Handle matches pipeline.ProgressFunc.
type ProgressSink struct {
	status    *StatusStore
	publisher *streams.Publisher
	stream    string
}

// NewProgressSink builds a sink. A nil publisher or empty stream disables
// progress events.
func NewProgressSink(status *StatusStore, publisher *streams.Publisher, stream string) *ProgressSink {
	return &ProgressSink{status: status, publisher: publisher, stream: stream}
}

func (p *ProgressSink) Handle(ctx context.Context, state pipeline.State) error {
	var errs []error
	if p.status != nil {
		if err := p.status.Put(ctx, state); err != nil {
			errs = append(errs, err)
		}
	}
	if p.publisher != nil && p.stream != "" {
		if err := p.publish(ctx, state); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *ProgressSink) publish(ctx context.Context, state pipeline.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal progress state: %w", err)
	}
	evt := streams.ProgressEvent{
		RequirementID: state.RequirementID,
		JobID:         state.JobID,
		Stage:         string(state.Stage),
		Progress:      state.Progress,
		State:         raw,
	}
	_, err = p.publisher.PublishPayload(ctx, p.stream, streams.EventProgress, streams.VersionV1, evt,
		streams.WithMaxLenApprox(progressStreamMaxLen))
	return err
}

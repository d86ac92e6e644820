// Package worker consumes decomposition jobs from Redis Streams and runs them
// through the pipeline orchestrator.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/stulshyan/sherpaAI-sub000/config"
	"github.com/stulshyan/sherpaAI-sub000/internal/pipeline"
	"github.com/stulshyan/sherpaAI-sub000/internal/queue/streams"
)

// Default stream names.
const (
	StreamDecompose = "requirements.decompose"
	StreamProgress  = "requirements.progress"
)

// Runner executes one pipeline job. *pipeline.Orchestrator satisfies it.
type Runner interface {
	ExecuteJob(ctx context.Context, requirementID, jobID string) pipeline.State
}

// Options configure a Processor. Zero values take defaults.
type Options struct {
	Stream      string
	Concurrency int
	Block       time.Duration
	// ClaimIdle is how long an entry must sit unacknowledged on another
	// consumer before it is reclaimed at startup.
	ClaimIdle time.Duration
	Logger    *zap.Logger
}

// OptionsFrom maps the worker configuration section onto Options.
func OptionsFrom(cfg config.WorkerConfig) Options {
	return Options{Stream: cfg.Stream, Concurrency: cfg.Concurrency}
}

func (o Options) withDefaults() Options {
	if o.Stream == "" {
		o.Stream = StreamDecompose
	}
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.Block <= 0 {
		o.Block = 5 * time.Second
	}
	if o.ClaimIdle <= 0 {
		o.ClaimIdle = 10 * time.Minute
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Processor reads jobs and runs at most Concurrency of them at once.
type Processor struct {
	runner   Runner
	consumer *streams.Consumer
	opts     Options
	logger   *zap.Logger
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
}

func NewProcessor(runner Runner, consumer *streams.Consumer, opts Options) *Processor {
	opts = opts.withDefaults()
	return &Processor{
		runner:   runner,
		consumer: consumer,
		opts:     opts,
		logger:   opts.Logger.Named("worker"),
		sem:      semaphore.NewWeighted(int64(opts.Concurrency)),
	}
}

// Start processes jobs until ctx is done, then waits for in-flight runs.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Info("worker starting", zap.String("stream", p.opts.Stream), zap.Int("concurrency", p.opts.Concurrency))
	defer p.wg.Wait()

	if err := p.reclaim(ctx); err != nil {
		p.logger.Warn("reclaim pending jobs failed", zap.Error(err))
	}
	for {
		if ctx.Err() != nil {
			p.logger.Info("worker stopping", zap.Error(ctx.Err()))
			return nil
		}
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("read stream failed", zap.Error(err))
			_ = pipeline.SleepContext(ctx, time.Second)
		}
	}
}

// Poll reads one batch, dispatches it and returns the number of jobs started.
// It does not wait for them to finish; Wait does.
func (p *Processor) Poll(ctx context.Context) (int, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	// Read only as many entries as there are free slots.
	free := int64(1)
	for p.sem.TryAcquire(1) {
		free++
		if free == int64(p.opts.Concurrency) {
			break
		}
	}
	msgs, err := p.consumer.Read(ctx, p.opts.Stream, streams.WithBlock(p.opts.Block), streams.WithCount(free))
	if unused := free - int64(len(msgs)); unused > 0 {
		p.sem.Release(unused)
	}
	if err != nil {
		return 0, err
	}
	for _, msg := range msgs {
		p.dispatch(ctx, msg)
	}
	return len(msgs), nil
}

// Wait blocks until every dispatched job has finished.
func (p *Processor) Wait() { p.wg.Wait() }

func (p *Processor) reclaim(ctx context.Context) error {
	cursor := "0-0"
	for {
		msgs, next, err := p.consumer.Claim(ctx, p.opts.Stream, p.opts.ClaimIdle, cursor, 16)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			if err := p.sem.Acquire(ctx, 1); err != nil {
				return err
			}
			p.logger.Info("reclaimed pending job", zap.String("id", msg.ID))
			p.dispatch(ctx, msg)
		}
		if next == "" || next == "0-0" {
			return nil
		}
		cursor = next
	}
}

// dispatch runs msg on its own goroutine. The caller must hold a semaphore slot.
func (p *Processor) dispatch(ctx context.Context, msg streams.Message) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		p.handle(ctx, msg)
	}()
}

func (p *Processor) handle(ctx context.Context, msg streams.Message) {
	log := p.logger.With(zap.String("id", msg.ID), zap.String("event_id", msg.Envelope.EventID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", zap.Any("panic", r))
		}
	}()

	var req streams.DecomposeRequest
	if err := msg.Envelope.Decode(&req); err != nil || req.RequirementID == "" {
		log.Warn("dropping job with unusable payload", zap.Error(err))
		p.ack(msg.ID, log)
		return
	}
	log = log.With(zap.String("requirement_id", req.RequirementID), zap.String("job_id", req.JobID))
	log.Info("job started")

	state := p.runner.ExecuteJob(ctx, req.RequirementID, req.JobID)

	// A run interrupted by shutdown stays pending so another worker reclaims it.
	if state.Stage == pipeline.StageCancelled && errors.Is(ctx.Err(), context.Canceled) {
		log.Info("job interrupted by shutdown; leaving pending")
		return
	}
	fields := []zap.Field{zap.String("stage", string(state.Stage))}
	if state.Error != nil {
		fields = append(fields, zap.String("code", state.Error.Code), zap.String("error", state.Error.Message))
	}
	log.Info("job finished", fields...)
	p.ack(msg.ID, log)
}

func (p *Processor) ack(id string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.consumer.Ack(ctx, p.opts.Stream, id); err != nil {
		log.Warn("ack failed", zap.Error(err))
	}
}

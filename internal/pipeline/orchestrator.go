// Package pipeline drives a requirement document through extraction,
// classification, decomposition, readiness scoring and storage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/stulshyan/sherpaAI-sub000/config"
	"github.com/stulshyan/sherpaAI-sub000/models"
)

const (
	defaultMaxRetries   = 3
	defaultStageTimeout = 120 * time.Second
	defaultBackoffBase  = time.Second
)

// Metrics receives stage and outcome observations.
type Metrics interface {
	ObserveStage(stage string, d time.Duration, err error)
	IncStageRetry(stage, code string)
	IncOutcome(stage string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveStage(string, time.Duration, error) {}
func (noopMetrics) IncStageRetry(string, string)              {}
func (noopMetrics) IncOutcome(string)                         {}

// ProgressFunc receives a snapshot at every transition. Its errors are logged.
type ProgressFunc func(ctx context.Context, state State) error

// Options tune retry and timing behaviour. Zero values take defaults.
type Options struct {
	MaxRetries   int
	StageTimeout time.Duration
	BackoffBase  time.Duration
	Sleep        func(ctx context.Context, d time.Duration) error
	Now          func() time.Time
	Logger       *zap.Logger
	Tracer       trace.Tracer
	Metrics      Metrics
	OnProgress   ProgressFunc
}

// OptionsFrom maps the pipeline configuration section onto Options.
func OptionsFrom(cfg config.PipelineConfig) Options {
	return Options{MaxRetries: cfg.MaxRetries, StageTimeout: cfg.StageTimeout, BackoffBase: cfg.BackoffBase}
}

func (o Options) withDefaults() Options {
	if o.MaxRetries < 1 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.StageTimeout <= 0 {
		o.StageTimeout = defaultStageTimeout
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = defaultBackoffBase
	}
	if o.Sleep == nil {
		o.Sleep = SleepContext
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer("sherpa/pipeline")
	}
	if o.Metrics == nil {
		o.Metrics = noopMetrics{}
	}
	return o
}

// Deps are the collaborators of a run.
type Deps struct {
	Requirements RequirementRepository
	Features     FeatureRepository
	Extractor    Extractor
	Objects      ObjectStore
	Readiness    ReadinessScorer
	Classifier   ClassificationAgent
	Decomposer   DecompositionAgent
}

func (d Deps) validate() error {
	switch {
	case d.Requirements == nil:
		return errors.New("pipeline: requirement repository required")
	case d.Features == nil:
		return errors.New("pipeline: feature repository required")
	case d.Extractor == nil:
		return errors.New("pipeline: extractor required")
	case d.Objects == nil:
		return errors.New("pipeline: object store required")
	case d.Readiness == nil:
		return errors.New("pipeline: readiness scorer required")
	case d.Classifier == nil:
		return errors.New("pipeline: classification agent required")
	case d.Decomposer == nil:
		return errors.New("pipeline: decomposition agent required")
	}
	return nil
}

// Tuning is the part of Options that may change while the process runs.
type Tuning struct {
	MaxRetries   int
	StageTimeout time.Duration
	BackoffBase  time.Duration
}

// Orchestrator runs pipelines. It holds no per-run state and may serve many
// runs concurrently.
type Orchestrator struct {
	deps   Deps
	opts   Options
	tuning atomic.Pointer[Tuning]
	logger *zap.Logger
}

func New(deps Deps, opts Options) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	o := &Orchestrator{deps: deps, opts: opts, logger: opts.Logger.Named("pipeline")}
	o.tuning.Store(&Tuning{MaxRetries: opts.MaxRetries, StageTimeout: opts.StageTimeout, BackoffBase: opts.BackoffBase})
	return o, nil
}

// Tuning returns the retry settings the next run will use.
func (o *Orchestrator) Tuning() Tuning { return *o.tuning.Load() }

// SetTuning replaces the retry settings. Runs already in flight keep the
// settings they started with; zero fields take defaults.
func (o *Orchestrator) SetTuning(t Tuning) {
	d := Options{MaxRetries: t.MaxRetries, StageTimeout: t.StageTimeout, BackoffBase: t.BackoffBase}.withDefaults()
	o.tuning.Store(&Tuning{MaxRetries: d.MaxRetries, StageTimeout: d.StageTimeout, BackoffBase: d.BackoffBase})
	o.logger.Info("pipeline tuning updated",
		zap.Int("max_retries", d.MaxRetries),
		zap.Duration("stage_timeout", d.StageTimeout),
		zap.Duration("backoff_base", d.BackoffBase))
}

// ApplyConfig is a config.Manager listener that applies the pipeline section.
func (o *Orchestrator) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	o.SetTuning(Tuning{
		MaxRetries:   cfg.Pipeline.MaxRetries,
		StageTimeout: cfg.Pipeline.StageTimeout,
		BackoffBase:  cfg.Pipeline.BackoffBase,
	})
}

// run is the mutable state of one Execute call.
type run struct {
	state      *State
	tuning     Tuning
	retryCount int
}

// stageError ties a failure to the stage and attempt count that produced it.
type stageError struct {
	stage    Stage
	attempts int
	err      error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

// Execute runs the pipeline for requirementID under a fresh job id.
func (o *Orchestrator) Execute(ctx context.Context, requirementID string) State {
	return o.ExecuteJob(ctx, requirementID, uuid.NewString())
}

// ExecuteJob runs the pipeline and returns the final state. Failures are
// reported through the state, never as an error.
func (o *Orchestrator) ExecuteJob(ctx context.Context, requirementID, jobID string) State {
	ctx, span := o.opts.Tracer.Start(ctx, "pipeline.execute", trace.WithAttributes(
		attribute.String("requirement.id", requirementID),
		attribute.String("pipeline.job_id", jobID),
	))
	defer span.End()

	now := o.opts.Now()
	r := &run{tuning: o.Tuning(), state: &State{
		RequirementID: requirementID,
		JobID:         jobID,
		Stage:         StageQueued,
		Progress:      StageQueued.Progress(),
		StartedAt:     now,
		UpdatedAt:     now,
		Metadata:      map[string]interface{}{},
	}}
	log := o.logger.With(zap.String("requirement_id", requirementID), zap.String("job_id", jobID))
	log.Info("pipeline started")
	o.emit(ctx, r)

	if err := o.runStages(ctx, r); err != nil {
		o.fail(ctx, r, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("pipeline finished", zap.String("stage", string(r.state.Stage)), zap.Error(err))
	} else {
		o.complete(ctx, r)
		log.Info("pipeline finished", zap.String("stage", string(r.state.Stage)),
			zap.Duration("elapsed", r.state.UpdatedAt.Sub(r.state.StartedAt)))
	}
	span.SetAttributes(attribute.String("pipeline.stage", string(r.state.Stage)))
	o.opts.Metrics.IncOutcome(string(r.state.Stage))
	return r.state.Snapshot()
}

func (o *Orchestrator) runStages(ctx context.Context, r *run) error {
	id := r.state.RequirementID

	extracted, err := retryStage(ctx, o, r, StageExtracting, func(ctx context.Context) (*models.ExtractionResult, error) {
		return o.extract(ctx, id)
	})
	if err != nil {
		return err
	}
	r.state.Metadata[MetaWordCount] = extracted.WordCount
	r.state.Metadata[MetaPageCount] = extracted.PageCount
	r.state.Metadata[MetaDetectedLanguage] = extracted.DetectedLanguage
	if err := ctx.Err(); err != nil {
		return err
	}

	classification, err := retryStage(ctx, o, r, StageClassifying, func(ctx context.Context) (*models.ClassificationResult, error) {
		return o.classify(ctx, id)
	})
	if err != nil {
		return err
	}
	r.state.Metadata[MetaClassificationType] = classification.Type
	r.state.Metadata[MetaClassificationConfidence] = classification.Confidence
	if err := ctx.Err(); err != nil {
		return err
	}

	decomposition, err := retryStage(ctx, o, r, StageDecomposing, func(ctx context.Context) (*models.DecompositionResult, error) {
		return o.decompose(ctx, id)
	})
	if err != nil {
		return err
	}
	r.state.Metadata[MetaThemeCount] = len(decomposition.Themes)
	r.state.Metadata[MetaFeatureCount] = len(decomposition.FeatureCandidates)
	r.state.Metadata[MetaAtomicRequirementCount] = len(decomposition.AtomicRequirements)
	r.state.Metadata[MetaQuestionCount] = len(decomposition.ClarificationQuestions)
	r.state.Metadata[MetaDecomposition] = decomposition
	if err := ctx.Err(); err != nil {
		return err
	}

	o.enter(ctx, r, StageScoring)
	scored := o.score(decomposition)
	r.state.Metadata[MetaDecomposition] = scored
	if err := ctx.Err(); err != nil {
		return err
	}

	o.enter(ctx, r, StageStoring)
	keys, err := o.store(ctx, r.state, scored)
	if err != nil {
		return &stageError{stage: StageStoring, attempts: r.retryCount, err: err}
	}
	r.state.Metadata[MetaStoredArtifacts] = keys
	return nil
}

// retryStage enters stage, then runs body under the stage timeout, retrying
// transient failures with exponential backoff up to MaxRetries attempts.
func retryStage[T any](ctx context.Context, o *Orchestrator, r *run, stage Stage, body func(context.Context) (T, error)) (T, error) {
	var zero T
	o.enter(ctx, r, stage)
	ctx, span := o.opts.Tracer.Start(ctx, "pipeline.stage", trace.WithAttributes(attribute.String("pipeline.stage", string(stage))))
	defer span.End()

	for attempt := 1; ; attempt++ {
		start := o.opts.Now()
		v, err := withTimeout(ctx, stage, r.tuning.StageTimeout, body)
		o.opts.Metrics.ObserveStage(string(stage), o.opts.Now().Sub(start), err)
		if err == nil {
			return v, nil
		}
		r.retryCount = attempt
		span.RecordError(err)
		if !IsRetryable(err) || attempt >= r.tuning.MaxRetries {
			span.SetStatus(codes.Error, err.Error())
			return zero, &stageError{stage: stage, attempts: attempt, err: err}
		}

		code := ErrorCode(err)
		r.state.Error = &Error{Stage: stage, Code: code, Message: err.Error(), Retryable: true, RetryCount: attempt}
		r.state.UpdatedAt = o.opts.Now()
		o.opts.Metrics.IncStageRetry(string(stage), code)
		delay := backoff(r.tuning.BackoffBase, attempt)
		o.logger.Info("stage failed, retrying",
			zap.String("requirement_id", r.state.RequirementID),
			zap.String("stage", string(stage)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.String("code", code),
			zap.Error(err))
		o.emit(ctx, r)

		if serr := o.opts.Sleep(ctx, delay); serr != nil {
			return zero, &stageError{stage: stage, attempts: attempt, err: serr}
		}
	}
}

// enter moves the run into stage, persists the requirement status and emits.
func (o *Orchestrator) enter(ctx context.Context, r *run, stage Stage) {
	if !r.state.Stage.CanAdvanceTo(stage) {
		o.logger.Error("illegal stage transition",
			zap.String("from", string(r.state.Stage)), zap.String("to", string(stage)))
		return
	}
	r.state.Stage = stage
	if p := stage.Progress(); p > r.state.Progress {
		r.state.Progress = p
	}
	r.state.UpdatedAt = o.opts.Now()
	o.setStatus(ctx, r.state.RequirementID, stage.RequirementStatus(), "")
	o.emit(ctx, r)
}

func (o *Orchestrator) complete(ctx context.Context, r *run) {
	now := o.opts.Now()
	r.state.Stage = StageCompleted
	r.state.Progress = StageCompleted.Progress()
	r.state.UpdatedAt = now
	r.state.CompletedAt = &now
	r.state.Error = nil
	o.setStatus(ctx, r.state.RequirementID, models.RequirementStatusDecomposed, "")
	o.emit(ctx, r)
}

func (o *Orchestrator) fail(ctx context.Context, r *run, err error) {
	stage := r.state.Stage
	attempts := r.retryCount
	var se *stageError
	if errors.As(err, &se) {
		stage = se.stage
		attempts = se.attempts
	}
	final := StageFailed
	if isCancellation(err) {
		final = StageCancelled
	}
	// Status and the terminal snapshot are written even when ctx is cancelled.
	ctx = context.WithoutCancel(ctx)

	r.state.Stage = final
	r.state.Progress = final.Progress()
	r.state.UpdatedAt = o.opts.Now()
	r.state.Error = &Error{
		Stage:      stage,
		Code:       ErrorCode(err),
		Message:    err.Error(),
		Retryable:  false,
		RetryCount: attempts,
	}
	o.setStatus(ctx, r.state.RequirementID, final.RequirementStatus(), err.Error())
	o.emit(ctx, r)
}

func (o *Orchestrator) setStatus(ctx context.Context, id string, status models.RequirementStatus, msg string) {
	if err := o.deps.Requirements.UpdateStatus(ctx, id, status, msg); err != nil {
		o.logger.Warn("update requirement status failed",
			zap.String("requirement_id", id), zap.String("status", string(status)), zap.Error(err))
	}
}

func (o *Orchestrator) emit(ctx context.Context, r *run) {
	if o.opts.OnProgress == nil {
		return
	}
	snap := r.state.Snapshot()
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("progress callback panicked", zap.String("requirement_id", snap.RequirementID), zap.Any("panic", rec))
		}
	}()
	if err := o.opts.OnProgress(ctx, snap); err != nil {
		o.logger.Warn("progress callback failed",
			zap.String("requirement_id", snap.RequirementID), zap.String("stage", string(snap.Stage)), zap.Error(err))
	}
}

// LoadResult reads a stored decomposition result.
func (o *Orchestrator) LoadResult(ctx context.Context, requirementID string) (*models.DecompositionResult, error) {
	var res models.DecompositionResult
	if err := o.deps.Objects.DownloadJSON(ctx, ArtifactKey(requirementID, ArtifactResult), &res); err != nil {
		return nil, fmt.Errorf("load decomposition %s: %w", requirementID, err)
	}
	return &res, nil
}

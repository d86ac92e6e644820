// Package agent turns a prompt into schema-validated structured output using
// a model backend. One Executor serves every agent type; the per-type prompt
// building and output parsing are injected as a Strategy.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/stulshyan/sherpaAI-sub000/config"
	"github.com/stulshyan/sherpaAI-sub000/internal/adapter"
	"github.com/stulshyan/sherpaAI-sub000/internal/apperr"
	"github.com/stulshyan/sherpaAI-sub000/internal/execlog"
	"github.com/stulshyan/sherpaAI-sub000/internal/quality"
	"github.com/stulshyan/sherpaAI-sub000/internal/validator"
)

// Type names an agent kind.
type Type string

const (
	TypeClassification Type = "classification"
	TypeDecomposition  Type = "decomposition"
)

// Config holds static per-agent settings.
type Config struct {
	Type           Type
	AdapterID      string
	Fallbacks      []string
	MaxRetries     int
	Timeout        time.Duration
	PromptTemplate string
	Temperature    float64
	MaxTokens      int
	OutputSchema   validator.Schema
}

// ConfigFrom maps the file configuration of an agent onto Config.
func ConfigFrom(t Type, ac config.AgentConfig, schema validator.Schema) Config {
	return Config{
		Type:           t,
		AdapterID:      ac.Adapter,
		Fallbacks:      append([]string(nil), ac.Fallbacks...),
		MaxRetries:     ac.MaxRetries,
		Timeout:        ac.Timeout,
		PromptTemplate: ac.PromptTemplate,
		Temperature:    ac.Temperature,
		MaxTokens:      ac.MaxTokens,
		OutputSchema:   schema,
	}
}

// ExecutionContext identifies one Execute call.
type ExecutionContext struct {
	ExecutionID   string
	AgentID       string
	AgentType     Type
	ProjectID     string
	FeatureID     string
	RequirementID string
	Metadata      map[string]interface{}
	StartedAt     time.Time
}

// Input is the payload handed to an agent plus optional caller context.
type Input[T any] struct {
	Payload T
	Context *ExecutionContext
}

// Output is a validated, scored agent result.
type Output[R any] struct {
	ExecutionID string
	Payload     R
	AdapterID   string
	Model       string
	Latency     time.Duration
	Usage       adapter.Usage
	Quality     quality.Score
}

// Strategy supplies the agent-specific behaviour. ParseOutput must use
// ExtractJSON (or ParseJSON) and return an error rather than a nil document.
type Strategy[T any] interface {
	BuildPrompt(in Input[T]) (string, error)
	ParseOutput(text string) (interface{}, error)
}

// Hooks are optional lifecycle callbacks. Exactly one of OnAfterExecute and
// OnError fires per Execute, always after OnBeforeExecute.
type Hooks[R any] struct {
	OnBeforeExecute func(ctx context.Context, ec *ExecutionContext)
	OnAfterExecute  func(ctx context.Context, out *Output[R])
	OnError         func(ctx context.Context, ec *ExecutionContext, err error)
	// OnChunk switches completions to streaming and receives every text delta.
	OnChunk func(ec *ExecutionContext, chunk string)
}

// AdapterSource is the subset of adapter.Registry the executor needs.
type AdapterSource interface {
	Get(id string) (adapter.Adapter, error)
	FallbackChain(id string) []string
}

// QualityScorer scores a validated document.
type QualityScorer interface {
	Score(output interface{}, schema map[string]interface{}) quality.Score
}

// Observer receives per-attempt and fallback events, typically for metrics.
type Observer interface {
	ObserveCompletion(agentType, adapterID string, d time.Duration, err error)
	ObserveFallback(agentType, from, to string)
}

// Deps are the shared collaborators of every executor.
type Deps struct {
	Adapters  AdapterSource
	Validator *validator.Validator
	Scorer    QualityScorer
	ExecLog   execlog.Logger
	Logger    *zap.Logger
	Tracer    trace.Tracer
	Observer  Observer
}

// Executor runs one agent type.
type Executor[T, R any] struct {
	cfg      Config
	strategy Strategy[T]
	hooks    Hooks[R]
	deps     Deps
	logger   *zap.Logger
	now      func() time.Time
}

// NewExecutor wires an executor. Missing optional deps get no-op defaults.
func NewExecutor[T, R any](cfg Config, strategy Strategy[T], deps Deps, hooks Hooks[R]) *Executor[T, R] {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if deps.Validator == nil {
		deps.Validator = validator.New(validator.Options{})
	}
	if deps.Scorer == nil {
		deps.Scorer = quality.Scorer{}
	}
	if deps.ExecLog == nil {
		deps.ExecLog = execlog.Noop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("sherpa/agent")
	}
	return &Executor[T, R]{
		cfg:      cfg,
		strategy: strategy,
		hooks:    hooks,
		deps:     deps,
		logger:   deps.Logger.Named("agent").With(zap.String("agent_type", string(cfg.Type))),
		now:      time.Now,
	}
}

// Config returns the executor configuration.
func (e *Executor[T, R]) Config() Config { return e.cfg }

// Execute builds the prompt, obtains a completion, parses, validates and scores
// it. Errors are reported to OnError and returned unchanged.
func (e *Executor[T, R]) Execute(ctx context.Context, in Input[T]) (*Output[R], error) {
	ec := e.newContext(in.Context)
	ctx, span := e.deps.Tracer.Start(ctx, "agent.execute", trace.WithAttributes(
		attribute.String("agent.type", string(e.cfg.Type)),
		attribute.String("agent.execution_id", ec.ExecutionID),
		attribute.String("requirement.id", ec.RequirementID),
	))
	defer span.End()

	if e.hooks.OnBeforeExecute != nil {
		e.hooks.OnBeforeExecute(ctx, ec)
	}

	rec := execlog.Record{
		ID:            ec.ExecutionID,
		AgentID:       ec.AgentID,
		AgentType:     string(e.cfg.Type),
		ProjectID:     ec.ProjectID,
		RequirementID: ec.RequirementID,
		FeatureID:     ec.FeatureID,
		StartedAt:     ec.StartedAt,
		Metadata:      ec.Metadata,
	}
	out, err := e.safeRun(ctx, ec, in, &rec)
	rec.CompletedAt = e.now()
	rec.Latency = rec.CompletedAt.Sub(ec.StartedAt)

	if err != nil {
		rec.Error = err.Error()
		e.deps.ExecLog.Log(ctx, rec)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("agent execution failed", zap.String("execution_id", ec.ExecutionID), zap.Error(err))
		if e.hooks.OnError != nil {
			e.hooks.OnError(ctx, ec, err)
		}
		return nil, err
	}

	rec.Success = true
	e.deps.ExecLog.Log(ctx, rec)
	span.SetAttributes(attribute.String("agent.adapter", out.AdapterID), attribute.Float64("agent.quality", out.Quality.Overall))
	e.logger.Debug("agent execution completed",
		zap.String("execution_id", ec.ExecutionID),
		zap.String("adapter", out.AdapterID),
		zap.Duration("latency", out.Latency),
		zap.Float64("quality", out.Quality.Overall))
	if e.hooks.OnAfterExecute != nil {
		e.hooks.OnAfterExecute(ctx, out)
	}
	return out, nil
}

// safeRun converts a panic in a strategy or adapter into an error so it takes
// the OnError path.
func (e *Executor[T, R]) safeRun(ctx context.Context, ec *ExecutionContext, in Input[T], rec *execlog.Record) (out *Output[R], err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("agent %s panicked: %v", e.cfg.Type, r)
		}
	}()
	return e.run(ctx, ec, in, rec)
}

func (e *Executor[T, R]) run(ctx context.Context, ec *ExecutionContext, in Input[T], rec *execlog.Record) (*Output[R], error) {
	prompt, err := e.strategy.BuildPrompt(in)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}
	rec.Prompt = prompt

	completion, err := e.executeWithRetry(ctx, ec, prompt)
	if completion != nil {
		rec.AdapterID = completion.AdapterID
		rec.Model = completion.Model
		rec.Response = completion.Text
		rec.Usage = completion.Usage
	}
	if err != nil {
		return nil, err
	}
	if a, gerr := e.deps.Adapters.Get(completion.AdapterID); gerr == nil {
		rec.Cost = a.EstimateCost(completion.Usage)
	}

	doc, err := e.strategy.ParseOutput(completion.Text)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, &ParseError{Raw: completion.Text, Err: errors.New("strategy returned no document")}
	}

	if e.cfg.OutputSchema != nil {
		res := e.deps.Validator.Validate(doc, e.cfg.OutputSchema)
		if !res.Valid {
			return nil, &ValidationError{Errors: res.Errors}
		}
		if res.Coerced != nil {
			doc = res.Coerced
		}
	}
	rec.Output = doc

	score := e.deps.Scorer.Score(doc, e.cfg.OutputSchema)
	rec.Quality = &score

	var payload R
	if err := decodeInto(doc, &payload); err != nil {
		return nil, &ParseError{Raw: completion.Text, Err: err}
	}
	return &Output[R]{
		ExecutionID: ec.ExecutionID,
		Payload:     payload,
		AdapterID:   completion.AdapterID,
		Model:       completion.Model,
		Latency:     e.now().Sub(ec.StartedAt),
		Usage:       completion.Usage,
		Quality:     score,
	}, nil
}

// candidates lists the primary adapter followed by its fallbacks. Agent-level
// fallbacks take precedence over the registry chain.
func (e *Executor[T, R]) candidates() []string {
	fallbacks := e.cfg.Fallbacks
	if len(fallbacks) == 0 && e.deps.Adapters != nil {
		fallbacks = e.deps.Adapters.FallbackChain(e.cfg.AdapterID)
	}
	out := make([]string, 0, 1+len(fallbacks))
	out = append(out, e.cfg.AdapterID)
	for _, id := range fallbacks {
		if id != e.cfg.AdapterID {
			out = append(out, id)
		}
	}
	return out
}

// executeWithRetry makes at most MaxRetries completion attempts in total. Each
// failure advances to the next candidate, wrapping back to the primary once the
// chain is exhausted. There is no backoff at this layer.
func (e *Executor[T, R]) executeWithRetry(ctx context.Context, ec *ExecutionContext, prompt string) (*adapter.Completion, error) {
	if e.deps.Adapters == nil {
		return nil, fmt.Errorf("agent %s: no adapter source configured", e.cfg.Type)
	}
	candidates := e.candidates()
	req := adapter.Request{
		Prompt:      prompt,
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	}

	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := candidates[attempt%len(candidates)]
		if attempt > 0 && e.deps.Observer != nil {
			prev := candidates[(attempt-1)%len(candidates)]
			if prev != id {
				e.deps.Observer.ObserveFallback(string(e.cfg.Type), prev, id)
			}
		}
		completion, err := e.complete(ctx, ec, id, req)
		if err == nil {
			return completion, nil
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		e.logger.Info("completion attempt failed",
			zap.String("execution_id", ec.ExecutionID),
			zap.String("adapter", id),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", e.cfg.MaxRetries),
			zap.Error(err))
	}
	e.logger.Warn("completion attempts exhausted",
		zap.String("execution_id", ec.ExecutionID),
		zap.Int("attempts", e.cfg.MaxRetries))
	return nil, lastErr
}

func (e *Executor[T, R]) complete(ctx context.Context, ec *ExecutionContext, id string, req adapter.Request) (*adapter.Completion, error) {
	a, err := e.deps.Adapters.Get(id)
	if err != nil {
		return nil, err
	}
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}
	start := e.now()
	var completion *adapter.Completion
	if e.hooks.OnChunk != nil {
		completion, err = a.Stream(ctx, req, func(chunk string) error {
			e.hooks.OnChunk(ec, chunk)
			return nil
		})
	} else {
		completion, err = a.Complete(ctx, req)
	}
	if err == nil && completion == nil {
		err = apperr.New(apperr.CodeProvider, "complete", fmt.Errorf("adapter %s returned no completion", id))
	}
	if e.deps.Observer != nil {
		e.deps.Observer.ObserveCompletion(string(e.cfg.Type), id, e.now().Sub(start), err)
	}
	if err != nil {
		return nil, err
	}
	if completion.AdapterID == "" {
		completion.AdapterID = id
	}
	if completion.Model == "" {
		completion.Model = a.Model()
	}
	return completion, nil
}

func (e *Executor[T, R]) newContext(from *ExecutionContext) *ExecutionContext {
	ec := &ExecutionContext{
		ExecutionID: uuid.NewString(),
		AgentType:   e.cfg.Type,
		AgentID:     string(e.cfg.Type) + "-agent",
		StartedAt:   e.now(),
		Metadata:    map[string]interface{}{},
	}
	if from == nil {
		return ec
	}
	ec.ProjectID = from.ProjectID
	ec.FeatureID = from.FeatureID
	ec.RequirementID = from.RequirementID
	if from.AgentID != "" {
		ec.AgentID = from.AgentID
	}
	for k, v := range from.Metadata {
		ec.Metadata[k] = v
	}
	return ec
}

func decodeInto(doc interface{}, target interface{}) error {
	if p, ok := target.(*interface{}); ok {
		*p = doc
		return nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode output: %w", err)
	}
	return nil
}

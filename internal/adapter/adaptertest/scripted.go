// Package adaptertest provides a scripted in-memory adapter for tests.
package adaptertest

import (
	"context"
	"strings"
	"sync"

	"github.com/stulshyan/sherpaAI-sub000/config"
	"github.com/stulshyan/sherpaAI-sub000/internal/adapter"
)

// Step is one scripted reply: either Text or Err.
type Step struct {
	Text string
	Err  error
}

// Reply is a successful step.
func Reply(text string) Step { return Step{Text: text} }

// Fail is a failing step.
func Fail(err error) Step { return Step{Err: err} }

// Scripted replays its steps in order and repeats the last one once exhausted.
type Scripted struct {
	id    string
	model string

	mu      sync.Mutex
	steps   []Step
	calls   int
	prompts []string
	// PingErr is returned by Ping.
	PingErr error
}

var _ adapter.Adapter = (*Scripted)(nil)

func New(id string, steps ...Step) *Scripted {
	return &Scripted{id: id, model: id + "-model", steps: steps}
}

// Factory returns an adapter.Factory serving the given adapters by id and a
// failing Scripted for any other id.
func Factory(adapters ...*Scripted) adapter.Factory {
	byID := make(map[string]*Scripted, len(adapters))
	for _, a := range adapters {
		byID[a.id] = a
	}
	return func(cfg config.AdapterConfig) (adapter.Adapter, error) {
		if a, ok := byID[cfg.ID]; ok {
			return a, nil
		}
		return New(cfg.ID), nil
	}
}

// Configs returns minimal valid configs for ids.
func Configs(ids ...string) []config.AdapterConfig {
	out := make([]config.AdapterConfig, 0, len(ids))
	for _, id := range ids {
		out = append(out, config.AdapterConfig{ID: id, Provider: config.ProviderOpenAI, Model: id + "-model"})
	}
	return out
}

func (s *Scripted) ID() string    { return s.id }
func (s *Scripted) Model() string { return s.model }

// Calls reports how many completions were requested.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Prompts returns every prompt received.
func (s *Scripted) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

func (s *Scripted) Complete(ctx context.Context, req adapter.Request) (*adapter.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.calls++
	s.prompts = append(s.prompts, req.Prompt)
	var step Step
	switch {
	case len(s.steps) == 0:
		step = Step{Err: errNoScript}
	case s.calls <= len(s.steps):
		step = s.steps[s.calls-1]
	default:
		step = s.steps[len(s.steps)-1]
	}
	s.mu.Unlock()

	if step.Err != nil {
		return nil, step.Err
	}
	return &adapter.Completion{
		AdapterID: s.id,
		Model:     s.model,
		Text:      step.Text,
		Usage: adapter.Usage{
			InputTokens:  int64(s.CountTokens(req.Prompt)),
			OutputTokens: int64(s.CountTokens(step.Text)),
		},
	}, nil
}

func (s *Scripted) Stream(ctx context.Context, req adapter.Request, onChunk func(string) error) (*adapter.Completion, error) {
	c, err := s.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if onChunk != nil {
		if err := onChunk(c.Text); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (s *Scripted) CountTokens(text string) int { return len(strings.Fields(text)) }

func (s *Scripted) EstimateCost(u adapter.Usage) float64 { return float64(u.Total()) * 0.000001 }

func (s *Scripted) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.PingErr
}

type scriptError string

func (e scriptError) Error() string { return string(e) }

const errNoScript = scriptError("adaptertest: no scripted reply")

// Package adapter wraps model-provider backends behind a single completion
// contract and resolves them, with their fallback chains, through a Registry.
package adapter

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/stulshyan/sherpaAI-sub000/config"
	"github.com/stulshyan/sherpaAI-sub000/internal/apperr"
)

// ErrUnknownAdapter is returned by Registry.Get for ids that are not registered.
var ErrUnknownAdapter = errors.New("unknown adapter")

// Request is a single prompt sent to a backend.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Usage counts tokens consumed by one completion.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

func (u Usage) Total() int64 { return u.InputTokens + u.OutputTokens }

// Completion is a finished model response.
type Completion struct {
	AdapterID  string
	Model      string
	Text       string
	StopReason string
	Usage      Usage
	Latency    time.Duration
}

// Adapter is a provider-specific handle.
type Adapter interface {
	ID() string
	Model() string
	Complete(ctx context.Context, req Request) (*Completion, error)
	// Stream delivers text deltas to onChunk as they arrive and returns the
	// assembled completion. An error from onChunk aborts the stream.
	Stream(ctx context.Context, req Request, onChunk func(string) error) (*Completion, error)
	CountTokens(text string) int
	EstimateCost(u Usage) float64
	Ping(ctx context.Context) error
}

// Factory builds an Adapter from its configuration.
type Factory func(cfg config.AdapterConfig) (Adapter, error)

// costFor prices usage with the per-1K token rates of the adapter config.
func costFor(cfg config.AdapterConfig, u Usage) float64 {
	in := float64(u.InputTokens) / 1000.0 * cfg.CostPer1KInput
	out := float64(u.OutputTokens) / 1000.0 * cfg.CostPer1KOutput
	return in + out
}

const defaultMaxTokens = 4096

func maxTokens(req Request, cfg config.AdapterConfig) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if cfg.MaxTokens > 0 {
		return cfg.MaxTokens
	}
	return defaultMaxTokens
}

// classify wraps a provider error with a code the pipeline can use to decide
// whether a retry is worthwhile. status is the upstream HTTP status, 0 if unknown.
func classify(op string, status int, err error) error {
	if err == nil {
		return nil
	}
	if apperr.CodeOf(err) != "" {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if status != 0 {
		return apperr.New(apperr.FromHTTPStatus(status), op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.New(apperr.CodeDeadline, op, err)
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return apperr.New(apperr.CodeConnReset, op, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return apperr.New(apperr.CodeConnRefused, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.New(apperr.CodeDeadline, op, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return apperr.New(apperr.CodeRateLimit, op, err)
	case strings.Contains(msg, "503") || strings.Contains(msg, "overloaded") || strings.Contains(msg, "unavailable"):
		return apperr.New(apperr.CodeServiceUnavailable, op, err)
	case strings.Contains(msg, "connection reset"):
		return apperr.New(apperr.CodeConnReset, op, err)
	case strings.Contains(msg, "connection refused"):
		return apperr.New(apperr.CodeConnRefused, op, err)
	case strings.Contains(msg, "timeout"):
		return apperr.New(apperr.CodeDeadline, op, err)
	}
	return apperr.New(apperr.CodeProvider, op, err)
}

package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/stulshyan/sherpaAI-sub000/config"
	"github.com/stulshyan/sherpaAI-sub000/internal/apperr"
)

// langchainAdapter serves OpenAI-compatible and Ollama backends through langchaingo.
// The client is built on first use so a missing credential only fails that adapter.
type langchainAdapter struct {
	cfg config.AdapterConfig

	once   sync.Once
	llm    llms.Model
	llmErr error
}

func newLangchain(cfg config.AdapterConfig) (Adapter, error) {
	return &langchainAdapter{cfg: cfg}, nil
}

func (l *langchainAdapter) model() (llms.Model, error) {
	l.once.Do(func() {
		switch l.cfg.Provider {
		case config.ProviderOllama:
			opts := []ollama.Option{ollama.WithModel(l.cfg.Model)}
			if l.cfg.BaseURL != "" {
				opts = append(opts, ollama.WithServerURL(l.cfg.BaseURL))
			}
			l.llm, l.llmErr = ollama.New(opts...)
		default:
			opts := []openai.Option{openai.WithModel(l.cfg.Model)}
			if key := l.cfg.Credential(); key != "" {
				opts = append(opts, openai.WithToken(key))
			}
			if l.cfg.BaseURL != "" {
				opts = append(opts, openai.WithBaseURL(l.cfg.BaseURL))
			}
			l.llm, l.llmErr = openai.New(opts...)
		}
		if l.llmErr != nil {
			l.llmErr = apperr.New(apperr.CodeProvider, fmt.Sprintf("init %s adapter %s", l.cfg.Provider, l.cfg.ID), l.llmErr)
		}
	})
	return l.llm, l.llmErr
}

func (l *langchainAdapter) ID() string    { return l.cfg.ID }
func (l *langchainAdapter) Model() string { return l.cfg.Model }

func (l *langchainAdapter) Complete(ctx context.Context, req Request) (*Completion, error) {
	return l.generate(ctx, req, nil)
}

func (l *langchainAdapter) Stream(ctx context.Context, req Request, onChunk func(string) error) (*Completion, error) {
	return l.generate(ctx, req, onChunk)
}

func (l *langchainAdapter) generate(ctx context.Context, req Request, onChunk func(string) error) (*Completion, error) {
	llm, err := l.model()
	if err != nil {
		return nil, err
	}
	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()
	}

	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	opts := []llms.CallOption{
		llms.WithTemperature(req.Temperature),
		llms.WithMaxTokens(maxTokens(req, l.cfg)),
	}
	if onChunk != nil {
		opts = append(opts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			return onChunk(string(chunk))
		}))
	}

	start := time.Now()
	resp, err := llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, classify(l.cfg.Provider+" complete", 0, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, apperr.New(apperr.CodeProvider, l.cfg.Provider+" complete", fmt.Errorf("empty response"))
	}
	choice := resp.Choices[0]
	return &Completion{
		AdapterID:  l.cfg.ID,
		Model:      l.cfg.Model,
		Text:       choice.Content,
		StopReason: choice.StopReason,
		Usage: Usage{
			InputTokens:  intFromInfo(choice.GenerationInfo, "PromptTokens", "prompt_tokens"),
			OutputTokens: intFromInfo(choice.GenerationInfo, "CompletionTokens", "completion_tokens"),
		},
		Latency: time.Since(start),
	}, nil
}

func (l *langchainAdapter) CountTokens(text string) int {
	return llms.CountTokens(l.cfg.Model, text)
}

func (l *langchainAdapter) EstimateCost(u Usage) float64 { return costFor(l.cfg, u) }

func (l *langchainAdapter) Ping(ctx context.Context) error {
	_, err := l.Complete(ctx, Request{Prompt: "ping", MaxTokens: 1})
	return err
}

// intFromInfo reads a token count from langchaingo's untyped generation info.
func intFromInfo(info map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		case string:
			var n int64
			if _, err := fmt.Sscan(strings.TrimSpace(v), &n); err == nil {
				return n
			}
		}
	}
	return 0
}

package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/tmc/langchaingo/llms"

	"github.com/stulshyan/sherpaAI-sub000/config"
	"github.com/stulshyan/sherpaAI-sub000/internal/apperr"
)

// anthropicAdapter talks to Claude either directly or through AWS Bedrock.
type anthropicAdapter struct {
	cfg    config.AdapterConfig
	client anthropic.Client
	// configErr is reported on every call when credentials are missing, so a
	// misconfigured fallback fails its attempt instead of the whole process.
	configErr error
}

func newAnthropic(cfg config.AdapterConfig) (Adapter, error) {
	// Retries belong to the agent and pipeline layers.
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	var configErr error

	if cfg.Provider == config.ProviderBedrock {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
	} else {
		key := cfg.Credential()
		if key == "" {
			configErr = fmt.Errorf("adapter %s: no api key (set api_key or %s)", cfg.ID, cfg.APIKeyEnv)
		}
		opts = append(opts, option.WithAPIKey(key))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &anthropicAdapter{cfg: cfg, client: anthropic.NewClient(opts...), configErr: configErr}, nil
}

func (a *anthropicAdapter) ID() string    { return a.cfg.ID }
func (a *anthropicAdapter) Model() string { return a.cfg.Model }

func (a *anthropicAdapter) params(req Request) anthropic.MessageNewParams {
	p := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.Model),
		MaxTokens: int64(maxTokens(req, a.cfg)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		p.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return p
}

func (a *anthropicAdapter) Complete(ctx context.Context, req Request) (*Completion, error) {
	if a.configErr != nil {
		return nil, apperr.New(apperr.CodeProvider, "anthropic complete", a.configErr)
	}
	start := time.Now()
	resp, err := a.client.Messages.New(ctx, a.params(req))
	if err != nil {
		return nil, classify("anthropic complete", statusOf(err), err)
	}
	return &Completion{
		AdapterID:  a.cfg.ID,
		Model:      string(resp.Model),
		Text:       messageText(resp),
		StopReason: string(resp.StopReason),
		Usage:      Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
		Latency:    time.Since(start),
	}, nil
}

func (a *anthropicAdapter) Stream(ctx context.Context, req Request, onChunk func(string) error) (*Completion, error) {
	if a.configErr != nil {
		return nil, apperr.New(apperr.CodeProvider, "anthropic stream", a.configErr)
	}
	start := time.Now()
	stream := a.client.Messages.NewStreaming(ctx, a.params(req))
	defer stream.Close()

	msg := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return nil, apperr.New(apperr.CodeProvider, "anthropic stream accumulate", err)
		}
		ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && onChunk != nil {
			if err := onChunk(delta.Text); err != nil {
				return nil, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classify("anthropic stream", statusOf(err), err)
	}
	model := string(msg.Model)
	if model == "" {
		model = a.cfg.Model
	}
	return &Completion{
		AdapterID:  a.cfg.ID,
		Model:      model,
		Text:       messageText(&msg),
		StopReason: string(msg.StopReason),
		Usage:      Usage{InputTokens: msg.Usage.InputTokens, OutputTokens: msg.Usage.OutputTokens},
		Latency:    time.Since(start),
	}, nil
}

// CountTokens uses the cl100k approximation; Claude's tokenizer is not public.
func (a *anthropicAdapter) CountTokens(text string) int {
	return llms.CountTokens(a.cfg.Model, text)
}

func (a *anthropicAdapter) EstimateCost(u Usage) float64 { return costFor(a.cfg, u) }

func (a *anthropicAdapter) Ping(ctx context.Context) error {
	_, err := a.Complete(ctx, Request{Prompt: "ping", MaxTokens: 1})
	return err
}

func messageText(msg *anthropic.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(variant.Text)
		}
	}
	return b.String()
}

func statusOf(err error) int {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

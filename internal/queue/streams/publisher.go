package streams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Publisher appends validated envelopes to Redis streams.
type Publisher struct {
	client   redis.Cmdable
	registry *SchemaRegistry
	now      func() time.Time
}

// PublishOption adjusts the XADD call.
type PublishOption func(*redis.XAddArgs)

// WithMaxLenApprox trims the stream to roughly maxLen entries.
func WithMaxLenApprox(maxLen int64) PublishOption {
	return func(args *redis.XAddArgs) {
		if maxLen > 0 {
			args.MaxLen = maxLen
			args.Approx = true
		}
	}
}

// NewPublisher builds a publisher. A nil registry disables payload validation.
func NewPublisher(client redis.Cmdable, registry *SchemaRegistry) *Publisher {
	return &Publisher{client: client, registry: registry, now: time.Now}
}

// Publish fills EventID and OccurredAt when unset, validates env and appends
// it to stream. It returns the stream entry id.
func (p *Publisher) Publish(ctx context.Context, stream string, env Envelope, opts ...PublishOption) (string, error) {
	if stream == "" {
		return "", errors.New("stream name is required")
	}
	if env.EventID == "" {
		env.EventID = uuid.NewString()
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = p.now().UTC()
	}
	if err := env.Validate(); err != nil {
		return "", err
	}
	if p.registry != nil {
		if err := p.registry.Validate(env.EventType, env.Version, env.Data); err != nil {
			return "", err
		}
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	args := &redis.XAddArgs{Stream: stream, Values: map[string]interface{}{"envelope": string(raw)}}
	for _, opt := range opts {
		opt(args)
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// PublishPayload wraps payload in a fresh envelope and publishes it.
func (p *Publisher) PublishPayload(ctx context.Context, stream, eventType, version string, payload interface{}, opts ...PublishOption) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return p.Publish(ctx, stream, Envelope{EventType: eventType, Version: version, Data: data}, opts...)
}

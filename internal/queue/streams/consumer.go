package streams

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Consumer reads envelopes as a member of a consumer group. Entries that do
// not decode or fail schema validation are acknowledged and dropped.
type Consumer struct {
	client   redis.Cmdable
	registry *SchemaRegistry
	group    string
	name     string
	logger   *zap.Logger
}

// ReadOption adjusts the XREADGROUP call.
type ReadOption func(*redis.XReadGroupArgs)

// WithBlock waits up to d for new entries.
func WithBlock(d time.Duration) ReadOption {
	return func(args *redis.XReadGroupArgs) {
		if d > 0 {
			args.Block = d
		}
	}
}

// WithCount caps the entries returned by one read.
func WithCount(n int64) ReadOption {
	return func(args *redis.XReadGroupArgs) {
		if n > 0 {
			args.Count = n
		}
	}
}

func NewConsumer(client redis.Cmdable, registry *SchemaRegistry, group, name string, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{client: client, registry: registry, group: group, name: name, logger: logger.Named("streams")}
}

// EnsureGroup creates group on stream (and the stream itself) starting from
// the first entry. An existing group is left untouched.
func EnsureGroup(ctx context.Context, client redis.Cmdable, stream, group string) error {
	if stream == "" || group == "" {
		return errors.New("stream and group must be provided")
	}
	if err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err(); err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return fmt.Errorf("xgroup create %s/%s: %w", stream, group, err)
	}
	return nil
}

// Message is a decoded stream entry.
type Message struct {
	ID       string
	Envelope Envelope
}

// Read returns new entries for this consumer. Without WithBlock it does not wait.
func (c *Consumer) Read(ctx context.Context, stream string, opts ...ReadOption) ([]Message, error) {
	if stream == "" {
		return nil, errors.New("stream name is required")
	}
	args := &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{stream, ">"},
		Block:    -1,
	}
	for _, opt := range opts {
		opt(args)
	}
	res, err := c.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup %s: %w", stream, err)
	}
	var out []Message
	for _, st := range res {
		for _, msg := range st.Messages {
			if m, ok := c.decode(ctx, stream, msg); ok {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// Ack acknowledges processed entries.
func (c *Consumer) Ack(ctx context.Context, stream string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, stream, c.group, ids...).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", stream, err)
	}
	return nil
}

// Claim takes over entries pending on other consumers for longer than minIdle.
// The returned cursor continues the scan; "0-0" means the scan is complete.
func (c *Consumer) Claim(ctx context.Context, stream string, minIdle time.Duration, start string, count int64) ([]Message, string, error) {
	if start == "" {
		start = "0-0"
	}
	args := &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  minIdle,
		Start:    start,
		Count:    count,
	}
	msgs, next, err := c.client.XAutoClaim(ctx, args).Result()
	if err != nil {
		return nil, "", fmt.Errorf("xautoclaim %s: %w", stream, err)
	}
	var out []Message
	for _, msg := range msgs {
		if m, ok := c.decode(ctx, stream, msg); ok {
			out = append(out, m)
		}
	}
	return out, next, nil
}

func (c *Consumer) decode(ctx context.Context, stream string, msg redis.XMessage) (Message, bool) {
	drop := func(reason string, err error) (Message, bool) {
		c.logger.Warn("dropping stream entry", zap.String("stream", stream), zap.String("id", msg.ID),
			zap.String("reason", reason), zap.Error(err))
		if ackErr := c.client.XAck(ctx, stream, c.group, msg.ID).Err(); ackErr != nil {
			c.logger.Warn("ack dropped entry failed", zap.String("id", msg.ID), zap.Error(ackErr))
		}
		return Message{}, false
	}

	var raw []byte
	switch v := msg.Values["envelope"].(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return drop("missing envelope field", nil)
	}
	env, err := UnmarshalEnvelope(raw)
	if err != nil {
		return drop("malformed envelope", err)
	}
	if c.registry != nil {
		if err := c.registry.Validate(env.EventType, env.Version, env.Data); err != nil {
			return drop("invalid payload", err)
		}
	}
	return Message{ID: msg.ID, Envelope: env}, true
}

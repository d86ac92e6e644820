package streams

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LagMetrics describes the backlog of a consumer group.
type LagMetrics struct {
	Pending    int64
	Lag        int64
	Consumers  int64
	OldestIdle time.Duration
}

// GroupLag reports backlog for group on stream. Lag is -1 when the group is unknown.
func GroupLag(ctx context.Context, client redis.Cmdable, stream, group string) (LagMetrics, error) {
	groups, err := client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return LagMetrics{}, fmt.Errorf("xinfo groups %s: %w", stream, err)
	}
	m := LagMetrics{Lag: -1}
	for _, g := range groups {
		if g.Name == group {
			m.Pending = g.Pending
			m.Lag = g.Lag
			m.Consumers = g.Consumers
			break
		}
	}
	if m.Pending == 0 {
		return m, nil
	}
	pending, err := client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream, Group: group, Start: "-", End: "+", Count: 1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return LagMetrics{}, fmt.Errorf("xpending %s: %w", stream, err)
	}
	if len(pending) > 0 {
		m.OldestIdle = pending[0].Idle
	}
	return m, nil
}

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stulshyan/sherpaAI-sub000/internal/pipeline"
)

// ErrStatusNotFound is returned when no status is cached for a requirement.
var ErrStatusNotFound = errors.New("status not found")

const (
	statusKeyPrefix  = "sherpa:status:"
	DefaultStatusTTL = 24 * time.Hour
)

// StatusStore caches the latest pipeline snapshot per requirement.
type StatusStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewStatusStore(client redis.Cmdable, ttl time.Duration) *StatusStore {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &StatusStore{client: client, ttl: ttl}
}

func StatusKey(requirementID string) string { return statusKeyPrefix + requirementID }

func (s *StatusStore) Put(ctx context.Context, state pipeline.State) error {
	if state.RequirementID == "" {
		return errors.New("status: requirement id is required")
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := s.client.Set(ctx, StatusKey(state.RequirementID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("set status %s: %w", state.RequirementID, err)
	}
	return nil
}

func (s *StatusStore) Get(ctx context.Context, requirementID string) (*pipeline.State, error) {
	raw, err := s.client.Get(ctx, StatusKey(requirementID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStatusNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get status %s: %w", requirementID, err)
	}
	var state pipeline.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode status %s: %w", requirementID, err)
	}
	return &state, nil
}

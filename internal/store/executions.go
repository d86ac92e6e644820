package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stulshyan/sherpaAI-sub000/internal/execlog"
	"github.com/stulshyan/sherpaAI-sub000/internal/quality"
)

// StartExecution writes the request half of an agent execution.
func (s *Store) StartExecution(ctx context.Context, rec execlog.Record) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO agent_executions (id, agent_id, agent_type, project_id, requirement_id, feature_id, adapter_id, model, prompt, started_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.AgentID, rec.AgentType, nullString(rec.ProjectID), nullString(rec.RequirementID),
		nullString(rec.FeatureID), nullString(rec.AdapterID), nullString(rec.Model), rec.Prompt, rec.StartedAt)
	if err != nil {
		return fmt.Errorf("insert execution %s: %w", rec.ID, err)
	}
	return nil
}

// CompleteExecution attaches the outcome to a row written by StartExecution.
func (s *Store) CompleteExecution(ctx context.Context, rec execlog.Record) error {
	qualityJSON, err := jsonOrNull(rec.Quality)
	if err != nil {
		return fmt.Errorf("marshal quality: %w", err)
	}
	outputJSON, err := jsonOrNull(rec.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE agent_executions SET
  adapter_id = COALESCE($2, adapter_id),
  model = COALESCE($3, model),
  response = $4,
  output = $5,
  input_tokens = $6,
  output_tokens = $7,
  cost = $8,
  latency_ms = $9,
  quality = $10,
  success = $11,
  error = $12,
  completed_at = $13
WHERE id = $1`,
		rec.ID, nullString(rec.AdapterID), nullString(rec.Model), rec.Response, outputJSON,
		rec.Usage.InputTokens, rec.Usage.OutputTokens, rec.Cost, rec.Latency.Milliseconds(),
		qualityJSON, rec.Success, nullString(rec.Error), rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("complete execution %s: %w", rec.ID, err)
	}
	return expectOne(res, "complete execution")
}

func jsonOrNull(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if q, ok := v.(*quality.Score); ok && q == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

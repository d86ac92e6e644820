package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/stulshyan/sherpaAI-sub000/models"
)

func (s *Store) CreateFeature(ctx context.Context, f *models.Feature) error {
	meta := []byte(`{}`)
	if len(f.Metadata) > 0 {
		b, err := json.Marshal(f.Metadata)
		if err != nil {
			return fmt.Errorf("marshal feature metadata: %w", err)
		}
		meta = b
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO features (id, project_id, requirement_id, candidate_id, title, description, complexity, readiness_score, theme_ids, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
RETURNING created_at`,
		f.ID, f.ProjectID, f.RequirementID, f.CandidateID, f.Title, f.Description, string(f.Complexity),
		f.ReadinessScore, pq.Array(f.ThemeIDs), meta)
	if err := row.Scan(&f.CreatedAt); err != nil {
		return fmt.Errorf("insert feature %s: %w", f.ID, err)
	}
	return nil
}

// ListFeaturesByRequirement returns the features created for a requirement, oldest first.
func (s *Store) ListFeaturesByRequirement(ctx context.Context, requirementID string) ([]models.Feature, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, project_id, requirement_id, candidate_id, title, description, complexity, readiness_score, theme_ids, metadata, created_at
FROM features WHERE requirement_id=$1 ORDER BY created_at, id`, requirementID)
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	defer rows.Close()

	var out []models.Feature
	for rows.Next() {
		var (
			f          models.Feature
			complexity string
			meta       []byte
		)
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.RequirementID, &f.CandidateID, &f.Title, &f.Description,
			&complexity, &f.ReadinessScore, pq.Array(&f.ThemeIDs), &meta, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feature: %w", err)
		}
		f.Complexity = models.Complexity(complexity)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &f.Metadata); err != nil {
				return nil, fmt.Errorf("decode feature %s metadata: %w", f.ID, err)
			}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

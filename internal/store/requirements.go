package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/stulshyan/sherpaAI-sub000/models"
)

const requirementColumns = `id, project_id, title, source_key, status, COALESCE(error_message, ''),
  COALESCE(extracted_text_key, ''), word_count, COALESCE(classification_type, ''),
  classification_confidence, created_at, updated_at`

// CreateRequirement inserts req with status uploaded when no status is set.
func (s *Store) CreateRequirement(ctx context.Context, req *models.Requirement) error {
	if req.Status == "" {
		req.Status = models.RequirementStatusUploaded
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO requirements (id, project_id, title, source_key, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW())
RETURNING created_at, updated_at`,
		req.ID, req.ProjectID, req.Title, req.SourceKey, string(req.Status))
	if err := row.Scan(&req.CreatedAt, &req.UpdatedAt); err != nil {
		return fmt.Errorf("insert requirement %s: %w", req.ID, err)
	}
	return nil
}

// FindByID returns models.ErrRequirementNotFound when id is unknown.
func (s *Store) FindByID(ctx context.Context, id string) (*models.Requirement, error) {
	ctx, span := startSpan(ctx, "FindByID", attribute.String("requirement_id", id))
	defer span.End()

	var (
		req        models.Requirement
		status     string
		classType  string
		confidence sql.NullFloat64
	)
	err := s.DB.QueryRowContext(ctx, `SELECT `+requirementColumns+` FROM requirements WHERE id=$1`, id).Scan(
		&req.ID, &req.ProjectID, &req.Title, &req.SourceKey, &status, &req.ErrorMessage,
		&req.ExtractedTextKey, &req.WordCount, &classType, &confidence, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrRequirementNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("select requirement %s: %w", id, err)
	}
	req.Status = models.RequirementStatus(status)
	req.ClassificationType = models.RequirementType(classType)
	req.ClassificationConfidence = confidence.Float64
	return &req, nil
}

// UpdateStatus sets status and error message. An empty message clears it.
func (s *Store) UpdateStatus(ctx context.Context, id string, status models.RequirementStatus, errorMessage string) error {
	ctx, span := startSpan(ctx, "UpdateStatus", attribute.String("requirement_id", id), attribute.String("status", string(status)))
	defer span.End()

	res, err := s.DB.ExecContext(ctx, `UPDATE requirements SET status=$2, error_message=$3, updated_at=NOW() WHERE id=$1`,
		id, string(status), nullString(errorMessage))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("update requirement %s status: %w", id, err)
	}
	return expectOne(res, "update status")
}

func (s *Store) UpdateExtractedText(ctx context.Context, id, textKey string, wordCount int) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE requirements SET extracted_text_key=$2, word_count=$3, updated_at=NOW() WHERE id=$1`,
		id, textKey, wordCount)
	if err != nil {
		return fmt.Errorf("update requirement %s extracted text: %w", id, err)
	}
	return expectOne(res, "update extracted text")
}

func (s *Store) UpdateClassification(ctx context.Context, id string, t models.RequirementType, confidence float64) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE requirements SET classification_type=$2, classification_confidence=$3, updated_at=NOW() WHERE id=$1`,
		id, string(t), confidence)
	if err != nil {
		return fmt.Errorf("update requirement %s classification: %w", id, err)
	}
	return expectOne(res, "update classification")
}

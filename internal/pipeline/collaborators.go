package pipeline

import (
	"context"
	"fmt"

	"github.com/stulshyan/sherpaAI-sub000/internal/agent"
	"github.com/stulshyan/sherpaAI-sub000/internal/quality"
	"github.com/stulshyan/sherpaAI-sub000/models"
)

// RequirementRepository reads and updates requirement rows.
type RequirementRepository interface {
	FindByID(ctx context.Context, id string) (*models.Requirement, error)
	UpdateStatus(ctx context.Context, id string, status models.RequirementStatus, errorMessage string) error
	UpdateExtractedText(ctx context.Context, id, textKey string, wordCount int) error
	UpdateClassification(ctx context.Context, id string, t models.RequirementType, confidence float64) error
}

// FeatureRepository persists feature records.
type FeatureRepository interface {
	CreateFeature(ctx context.Context, f *models.Feature) error
}

// Extractor turns a stored source document into text.
type Extractor interface {
	ExtractFromS3(ctx context.Context, key string) (*models.ExtractionResult, error)
	// SaveExtractedText stores the text and returns its object key.
	SaveExtractedText(ctx context.Context, requirementID, text string) (string, error)
}

// ObjectStore is a flat key/value blob store.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	UploadJSON(ctx context.Context, key string, v interface{}) error
	DownloadJSON(ctx context.Context, key string, v interface{}) error
}

// ReadinessScorer scores a feature candidate.
type ReadinessScorer interface {
	CalculateScore(fc models.FeatureCandidate, reqs []models.AtomicRequirement, questions []models.ClarificationQuestion) quality.Score
}

// ClassificationAgent is satisfied by *agent.Classifier.
type ClassificationAgent interface {
	Execute(ctx context.Context, in agent.Input[agent.ClassificationInput]) (*agent.Output[models.ClassificationResult], error)
}

// DecompositionAgent is satisfied by *agent.Decomposer.
type DecompositionAgent interface {
	Execute(ctx context.Context, in agent.Input[agent.DecompositionInput]) (*agent.Output[models.DecompositionResult], error)
}

// Artifact names stored under requirements/{id}/decomposition/.
const (
	ArtifactResult   = "result"
	ArtifactThemes   = "themes"
	ArtifactFeatures = "features"
)

// ArtifactKey is the object key of a decomposition artifact.
func ArtifactKey(requirementID, artifact string) string {
	return fmt.Sprintf("requirements/%s/decomposition/%s.json", requirementID, artifact)
}

package models

import (
	"errors"
	"time"
)

// ErrRequirementNotFound is returned when a requirement is not found
var ErrRequirementNotFound = errors.New("requirement not found")

// RequirementStatus is the externally visible lifecycle of a requirement document.
type RequirementStatus string

const (
	RequirementStatusUploaded    RequirementStatus = "uploaded"
	RequirementStatusExtracting  RequirementStatus = "extracting"
	RequirementStatusClassifying RequirementStatus = "classifying"
	RequirementStatusDecomposing RequirementStatus = "decomposing"
	RequirementStatusDecomposed  RequirementStatus = "decomposed"
	RequirementStatusFailed      RequirementStatus = "failed"
)

type Requirement struct {
	ID                       string            `json:"id"`
	ProjectID                string            `json:"project_id"`
	Title                    string            `json:"title"`
	SourceKey                string            `json:"source_key"`
	Status                   RequirementStatus `json:"status"`
	ErrorMessage             string            `json:"error_message,omitempty"`
	ExtractedTextKey         string            `json:"extracted_text_key,omitempty"`
	WordCount                int               `json:"word_count,omitempty"`
	ClassificationType       RequirementType   `json:"classification_type,omitempty"`
	ClassificationConfidence float64           `json:"classification_confidence,omitempty"`
	CreatedAt                time.Time         `json:"created_at"`
	UpdatedAt                time.Time         `json:"updated_at"`
}

// RequirementType is the classification assigned to a requirement document.
type RequirementType string

const (
	RequirementTypeNewFeature  RequirementType = "new_feature"
	RequirementTypeEnhancement RequirementType = "enhancement"
	RequirementTypeEpic        RequirementType = "epic"
	RequirementTypeBugFix      RequirementType = "bug_fix"
)

// Feature is the durable record created for every stored feature candidate.
type Feature struct {
	ID             string                 `json:"id"`
	ProjectID      string                 `json:"project_id"`
	RequirementID  string                 `json:"requirement_id"`
	CandidateID    string                 `json:"candidate_id"`
	Title          string                 `json:"title"`
	Description    string                 `json:"description"`
	Complexity     Complexity             `json:"complexity"`
	ReadinessScore float64                `json:"readiness_score"`
	ThemeIDs       []string               `json:"theme_ids"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// ExtractionResult is the text extracted from a requirement's source document.
type ExtractionResult struct {
	Text             string `json:"text"`
	WordCount        int    `json:"word_count"`
	PageCount        int    `json:"page_count"`
	DetectedLanguage string `json:"detected_language"`
}

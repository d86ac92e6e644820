package pipeline

import (
	"time"
)

// Metadata keys written by the stages. Values are JSON-friendly.
const (
	MetaWordCount                = "wordCount"                // int, extracting
	MetaPageCount                = "pageCount"                // int, extracting
	MetaDetectedLanguage         = "detectedLanguage"         // string, extracting
	MetaClassificationType       = "classificationType"       // models.RequirementType, classifying
	MetaClassificationConfidence = "classificationConfidence" // float64, classifying
	MetaThemeCount               = "themeCount"               // int, decomposing
	MetaFeatureCount             = "featureCount"             // int, decomposing
	MetaAtomicRequirementCount   = "atomicRequirementCount"   // int, decomposing
	MetaQuestionCount            = "questionCount"            // int, decomposing
	MetaDecomposition            = "decomposition"            // *models.DecompositionResult, decomposing and scoring
	MetaStoredArtifacts          = "storedArtifacts"          // []string object keys, storing
)

// Error describes the most recent stage failure of a run.
type Error struct {
	Stage      Stage  `json:"stage"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	RetryCount int    `json:"retryCount"`
}

// State is the progress of one requirement through the pipeline. It is owned
// by the orchestrator until Execute returns.
type State struct {
	RequirementID string                 `json:"requirementId"`
	JobID         string                 `json:"jobId"`
	Stage         Stage                  `json:"stage"`
	Progress      int                    `json:"progress"`
	StartedAt     time.Time              `json:"startedAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
	CompletedAt   *time.Time             `json:"completedAt,omitempty"`
	Error         *Error                 `json:"error,omitempty"`
	Metadata      map[string]interface{} `json:"metadata"`
}

// Snapshot returns a copy safe to hand to progress listeners. Metadata values
// are shared; the map itself is not.
func (s *State) Snapshot() State {
	out := *s
	out.Metadata = make(map[string]interface{}, len(s.Metadata))
	for k, v := range s.Metadata {
		out.Metadata[k] = v
	}
	if s.Error != nil {
		e := *s.Error
		out.Error = &e
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

package models

// ClassificationResult is the structured output of the classification agent.
type ClassificationResult struct {
	Type                   RequirementType `json:"type"`
	Confidence             float64         `json:"confidence"`
	Reasoning              string          `json:"reasoning"`
	SuggestedDecomposition bool            `json:"suggestedDecomposition"`
	Indicators             []string        `json:"indicators,omitempty"`
}

type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeYesNo          QuestionType = "yes_no"
	QuestionTypeText           QuestionType = "text"
	QuestionTypeDropdown       QuestionType = "dropdown"
)

type QuestionPriority string

const (
	QuestionPriorityBlocking   QuestionPriority = "blocking"
	QuestionPriorityImportant  QuestionPriority = "important"
	QuestionPriorityNiceToHave QuestionPriority = "nice_to_have"
)

type Theme struct {
	ID          string  `json:"id"`
	Label       string  `json:"label"`
	Description string  `json:"description,omitempty"`
	Confidence  float64 `json:"confidence"`
}

type AtomicRequirement struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	ThemeID      string   `json:"themeId,omitempty"`
	ClarityScore float64  `json:"clarityScore"`
	Dependencies []string `json:"dependencies,omitempty"`
}

type FeatureCandidate struct {
	ID                   string     `json:"id"`
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	ThemeIDs             []string   `json:"themeIds,omitempty"`
	AtomicRequirementIDs []string   `json:"atomicRequirementIds"`
	EstimatedComplexity  Complexity `json:"estimatedComplexity"`
	Confidence           float64    `json:"confidence"`
	// ReadinessScore is attached by the scoring stage; nil until then.
	ReadinessScore *float64 `json:"readinessScore,omitempty"`
}

type ClarificationQuestion struct {
	ID           string           `json:"id"`
	FeatureID    string           `json:"featureId,omitempty"`
	Question     string           `json:"question"`
	QuestionType QuestionType     `json:"questionType"`
	Options      []string         `json:"options,omitempty"`
	Priority     QuestionPriority `json:"priority"`
}

// DecompositionResult is the structured output of the decomposition agent.
type DecompositionResult struct {
	Themes                 []Theme                 `json:"themes"`
	AtomicRequirements     []AtomicRequirement     `json:"atomicRequirements"`
	FeatureCandidates      []FeatureCandidate      `json:"featureCandidates"`
	ClarificationQuestions []ClarificationQuestion `json:"clarificationQuestions,omitempty"`
}

// RequirementsFor returns the atomic requirements linked to the candidate, in candidate order.
func (d *DecompositionResult) RequirementsFor(fc FeatureCandidate) []AtomicRequirement {
	byID := make(map[string]AtomicRequirement, len(d.AtomicRequirements))
	for _, ar := range d.AtomicRequirements {
		byID[ar.ID] = ar
	}
	out := make([]AtomicRequirement, 0, len(fc.AtomicRequirementIDs))
	for _, id := range fc.AtomicRequirementIDs {
		if ar, ok := byID[id]; ok {
			out = append(out, ar)
		}
	}
	return out
}

// QuestionsFor returns the clarification questions attached to the candidate.
func (d *DecompositionResult) QuestionsFor(fc FeatureCandidate) []ClarificationQuestion {
	var out []ClarificationQuestion
	for _, q := range d.ClarificationQuestions {
		if q.FeatureID == fc.ID {
			out = append(out, q)
		}
	}
	return out
}

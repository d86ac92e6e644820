package agent

import (
	"errors"
	"strings"

	"github.com/stulshyan/sherpaAI-sub000/config"
	"github.com/stulshyan/sherpaAI-sub000/models"
)

// ClassificationInput is the payload of the classification agent.
type ClassificationInput struct {
	RequirementID string
	Title         string
	Text          string
}

// Classifier labels a requirement document with its type.
type Classifier = Executor[ClassificationInput, models.ClassificationResult]

type classificationStrategy struct {
	template string
}

func (s classificationStrategy) BuildPrompt(in Input[ClassificationInput]) (string, error) {
	if strings.TrimSpace(in.Payload.Text) == "" {
		return "", errors.New("classification: empty requirement text")
	}
	return renderPrompt(s.template, in.Payload)
}

func (classificationStrategy) ParseOutput(text string) (interface{}, error) {
	return ParseJSON(text)
}

// NewClassifier builds the classification agent from its configuration. The
// embedded classification schema is always enforced.
func NewClassifier(ac config.AgentConfig, deps Deps, hooks Hooks[models.ClassificationResult]) *Classifier {
	cfg := ConfigFrom(TypeClassification, ac, ClassificationSchema())
	tmpl := cfg.PromptTemplate
	if tmpl == "" {
		tmpl = PromptClassification
	}
	return NewExecutor[ClassificationInput, models.ClassificationResult](cfg, classificationStrategy{template: tmpl}, deps, hooks)
}

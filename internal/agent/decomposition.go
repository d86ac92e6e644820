package agent

import (
	"errors"
	"strings"

	"github.com/stulshyan/sherpaAI-sub000/config"
	"github.com/stulshyan/sherpaAI-sub000/models"
)

// DecompositionInput is the payload of the decomposition agent.
type DecompositionInput struct {
	RequirementID string
	Title         string
	Text          string
	Type          models.RequirementType
}

// Decomposer splits a classified requirement into themes, atomic
// requirements, feature candidates and clarification questions.
type Decomposer = Executor[DecompositionInput, models.DecompositionResult]

type decompositionStrategy struct {
	template string
}

func (s decompositionStrategy) BuildPrompt(in Input[DecompositionInput]) (string, error) {
	if strings.TrimSpace(in.Payload.Text) == "" {
		return "", errors.New("decomposition: empty requirement text")
	}
	p := in.Payload
	if p.Type == "" {
		p.Type = models.RequirementTypeNewFeature
	}
	return renderPrompt(s.template, p)
}

// ParseOutput accepts either the result object or an array holding it.
func (decompositionStrategy) ParseOutput(text string) (interface{}, error) {
	doc, err := ParseJSON(text)
	if err != nil {
		return nil, err
	}
	if arr, ok := doc.([]interface{}); ok && len(arr) == 1 {
		if obj, ok := arr[0].(map[string]interface{}); ok {
			return obj, nil
		}
	}
	return doc, nil
}

func NewDecomposer(ac config.AgentConfig, deps Deps, hooks Hooks[models.DecompositionResult]) *Decomposer {
	cfg := ConfigFrom(TypeDecomposition, ac, DecompositionSchema())
	tmpl := cfg.PromptTemplate
	if tmpl == "" {
		tmpl = PromptDecomposition
	}
	return NewExecutor[DecompositionInput, models.DecompositionResult](cfg, decompositionStrategy{template: tmpl}, deps, hooks)
}

package agent

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Prompt template keys understood by the built-in agents.
const (
	PromptClassification = "classification"
	PromptDecomposition  = "decomposition"
)

const classificationPrompt = `You classify software requirement documents.

Classify the document below as exactly one of: new_feature, enhancement, epic, bug_fix.
Respond with a single JSON object and nothing else:
{"type": "...", "confidence": 0.0-1.0, "reasoning": "...", "suggestedDecomposition": true|false, "indicators": ["..."]}
{{if .Title}}
Title: {{.Title}}
{{end}}
Document:
"""
{{.Text}}
"""`

const decompositionPrompt = `You decompose a {{.Type}} requirement document into implementable work.

Return a single JSON object with:
- "themes": [{"id", "label", "description", "confidence"}]
- "atomicRequirements": [{"id", "text", "themeId", "clarityScore", "dependencies"}]
- "featureCandidates": [{"id", "title", "description", "themeIds", "atomicRequirementIds", "estimatedComplexity": "low|medium|high", "confidence"}]
- "clarificationQuestions": [{"id", "featureId", "question", "questionType": "multiple_choice|yes_no|text|dropdown", "options", "priority": "blocking|important|nice_to_have"}]
Scores and confidences are numbers between 0 and 1. Identifiers must be unique.
{{if .Title}}
Title: {{.Title}}
{{end}}
Document:
"""
{{.Text}}
"""`

var promptTemplates = template.Must(template.New(PromptClassification).Parse(classificationPrompt))

func init() {
	template.Must(promptTemplates.New(PromptDecomposition).Parse(decompositionPrompt))
}

func renderPrompt(key string, data interface{}) (string, error) {
	t := promptTemplates.Lookup(key)
	if t == nil {
		return "", fmt.Errorf("unknown prompt template %q", key)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", key, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

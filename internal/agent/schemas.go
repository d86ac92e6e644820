package agent

import (
	"fmt"

	_ "embed"

	"github.com/stulshyan/sherpaAI-sub000/internal/validator"
)

//go:embed schemas/classification.json
var classificationSchemaJSON []byte

//go:embed schemas/decomposition.json
var decompositionSchemaJSON []byte

// ClassificationSchema returns a fresh copy of the classification output schema.
func ClassificationSchema() validator.Schema {
	return mustSchema("classification", classificationSchemaJSON)
}

// DecompositionSchema returns a fresh copy of the decomposition output schema.
func DecompositionSchema() validator.Schema {
	return mustSchema("decomposition", decompositionSchemaJSON)
}

func mustSchema(name string, raw []byte) validator.Schema {
	s, err := validator.ParseSchema(raw)
	if err != nil {
		panic(fmt.Sprintf("embedded %s schema: %v", name, err))
	}
	return s
}

package streams

import (
	"encoding/json"
	"fmt"
)

// Event types and payload versions.
const (
	EventDecomposeRequested = "requirement.decompose"
	EventProgress           = "requirement.progress"
	VersionV1               = "v1"
)

// DecomposeRequest asks a worker to run the pipeline for one requirement.
type DecomposeRequest struct {
	RequirementID string `json:"requirement_id"`
	JobID         string `json:"job_id,omitempty"`
	RequestedBy   string `json:"requested_by,omitempty"`
}

// ProgressEvent is one pipeline snapshot. State holds the encoded snapshot.
type ProgressEvent struct {
	RequirementID string          `json:"requirement_id"`
	JobID         string          `json:"job_id"`
	Stage         string          `json:"stage"`
	Progress      int             `json:"progress"`
	State         json.RawMessage `json:"state,omitempty"`
}

var decomposeSchema = []byte(`{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["requirement_id"],
  "properties": {
    "requirement_id": {"type": "string", "minLength": 1},
    "job_id": {"type": "string"},
    "requested_by": {"type": "string"}
  },
  "additionalProperties": false
}`)

var progressSchema = []byte(`{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["requirement_id", "job_id", "stage", "progress"],
  "properties": {
    "requirement_id": {"type": "string", "minLength": 1},
    "job_id": {"type": "string"},
    "stage": {"type": "string", "enum": ["queued", "extracting", "classifying", "decomposing", "scoring", "storing", "completed", "failed", "cancelled"]},
    "progress": {"type": "integer", "minimum": 0, "maximum": 100},
    "state": {"type": "object"}
  }
}`)

// RegisterBaseSchemas registers the payload schemas of every built-in event.
func RegisterBaseSchemas(reg *SchemaRegistry) error {
	defs := []struct {
		eventType string
		schema    []byte
	}{
		{EventDecomposeRequested, decomposeSchema},
		{EventProgress, progressSchema},
	}
	for _, d := range defs {
		if err := reg.Register(d.eventType, VersionV1, d.schema); err != nil {
			return fmt.Errorf("register %s: %w", d.eventType, err)
		}
	}
	return nil
}

// NewBaseRegistry returns a registry holding the built-in schemas.
func NewBaseRegistry() (*SchemaRegistry, error) {
	reg := NewSchemaRegistry()
	if err := RegisterBaseSchemas(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

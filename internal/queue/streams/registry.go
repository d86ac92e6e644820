package streams

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaRegistry holds compiled payload schemas by event type and version.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]*jsonschema.Schema)}
}

func registryKey(eventType, version string) string { return eventType + "@" + version }

// Register compiles schema for eventType/version, replacing any previous one.
func (r *SchemaRegistry) Register(eventType, version string, schema []byte) error {
	if eventType == "" || version == "" {
		return fmt.Errorf("event type and version are required")
	}
	url := fmt.Sprintf("mem://events/%s/%s.json", eventType, version)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("add schema %s: %w", url, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("compile schema %s: %w", url, err)
	}
	r.mu.Lock()
	r.schemas[registryKey(eventType, version)] = compiled
	r.mu.Unlock()
	return nil
}

// Validate checks payload against the schema registered for eventType/version.
func (r *SchemaRegistry) Validate(eventType, version string, payload []byte) error {
	r.mu.RLock()
	schema, ok := r.schemas[registryKey(eventType, version)]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no schema registered for %s %s", eventType, version)
	}
	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", eventType, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%s payload validation failed: %w", eventType, err)
	}
	return nil
}

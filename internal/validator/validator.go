// Package validator checks structured model output against JSON Schemas.
//
// Compiled schemas are cached per distinct schema document, keyed by its
// canonical (sorted-key) JSON encoding, so callers may pass freshly decoded
// schema maps on every call without paying for recompilation.
package validator

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a decoded JSON Schema document.
type Schema = map[string]interface{}

// FieldError is one schema violation.
type FieldError struct {
	Path    string                 `json:"path"`
	Message string                 `json:"message"`
	Keyword string                 `json:"keyword"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Result is the outcome of Validate.
type Result struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors"`
	// Coerced holds the value that was validated when type coercion is enabled.
	Coerced interface{} `json:"coerced,omitempty"`
}

// Error joins every violation as "path: message" separated by "; ".
func (r Result) Error() string {
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, e.Path+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}

// Options configures a Validator.
type Options struct {
	// CoerceTypes converts numeric strings to numbers and "true"/"false" to
	// booleans where the schema expects them. Validate then mutates maps and
	// slices of the value in place.
	CoerceTypes bool
}

// Validator compiles and caches schemas. It is safe for concurrent use.
type Validator struct {
	opts Options

	mu    sync.Mutex
	cache map[string]*jsonschema.Schema
}

func New(opts Options) *Validator {
	return &Validator{opts: opts, cache: make(map[string]*jsonschema.Schema)}
}

// ParseSchema decodes a JSON Schema document.
func ParseSchema(raw []byte) (Schema, error) {
	var s Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return s, nil
}

// CacheSize reports how many distinct schemas have been compiled.
func (v *Validator) CacheSize() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.cache)
}

func (v *Validator) compile(schema Schema) (*jsonschema.Schema, error) {
	canon, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	key := string(canon)

	v.mu.Lock()
	defer v.mu.Unlock()
	if compiled, ok := v.cache[key]; ok {
		return compiled, nil
	}
	sum := sha256.Sum256(canon)
	url := "mem://schemas/" + hex.EncodeToString(sum[:8]) + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(canon)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	v.cache[key] = compiled
	return compiled, nil
}

// Validate checks value against schema. A schema that cannot be compiled
// yields an invalid result with a single "schema" error.
func (v *Validator) Validate(value interface{}, schema Schema) Result {
	compiled, err := v.compile(schema)
	if err != nil {
		return Result{Errors: []FieldError{{Path: "/", Message: err.Error(), Keyword: "schema"}}}
	}
	doc, err := normalize(value)
	if err != nil {
		return Result{Errors: []FieldError{{Path: "/", Message: err.Error(), Keyword: "type"}}}
	}
	var res Result
	if v.opts.CoerceTypes {
		doc = coerceValue(doc, schema)
		res.Coerced = doc
	}
	if err := compiled.Validate(doc); err != nil {
		res.Errors = fieldErrors(err)
		return res
	}
	res.Valid = true
	res.Errors = []FieldError{}
	return res
}

// ValidateOrError returns nil for a valid value and otherwise one error listing
// every violation.
func (v *Validator) ValidateOrError(value interface{}, schema Schema) error {
	res := v.Validate(value, schema)
	if res.Valid {
		return nil
	}
	return errors.New(res.Error())
}

// Coerce deep-copies value, applies type coercion against schema to the copy
// and returns it. value itself is never modified.
func (v *Validator) Coerce(value interface{}, schema Schema) (interface{}, error) {
	doc, err := normalize(value)
	if err != nil {
		return nil, err
	}
	clone := deepCopy(doc)
	if _, err := v.compile(schema); err != nil {
		return nil, err
	}
	return coerceValue(clone, schema), nil
}

// CanCoerce reports whether Coerce followed by Validate succeeds. It never panics.
func (v *Validator) CanCoerce(value interface{}, schema Schema) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	coerced, err := v.Coerce(value, schema)
	if err != nil {
		return false
	}
	return v.Validate(coerced, schema).Valid
}

// fieldErrors flattens the jsonschema error tree into its leaf causes.
func fieldErrors(err error) []FieldError {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []FieldError{{Path: "/", Message: err.Error(), Keyword: "unknown"}}
	}
	var out []FieldError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, FieldError{
				Path:    instancePath(e.InstanceLocation),
				Message: e.Message,
				Keyword: keyword(e.KeywordLocation),
				Params: map[string]interface{}{
					"keywordLocation": e.KeywordLocation,
					"schemaLocation":  e.AbsoluteKeywordLocation,
				},
			})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func instancePath(loc string) string {
	if loc == "" {
		return "/"
	}
	return loc
}

func keyword(loc string) string {
	if i := strings.LastIndex(loc, "/"); i >= 0 {
		return loc[i+1:]
	}
	return loc
}

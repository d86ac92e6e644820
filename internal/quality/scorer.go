// Package quality scores structured agent output on completeness, internal
// consistency and self-reported confidence.
package quality

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Score holds four values in [0,1]; Overall is the mean of the other three.
type Score struct {
	Overall      float64 `json:"overall"`
	Completeness float64 `json:"completeness"`
	Consistency  float64 `json:"consistency"`
	Confidence   float64 `json:"confidence"`
}

// NewScore builds a Score from its components, clamping each to [0,1].
func NewScore(completeness, consistency, confidence float64) Score {
	s := Score{
		Completeness: clamp(completeness),
		Consistency:  clamp(consistency),
		Confidence:   clamp(confidence),
	}
	s.Overall = (s.Completeness + s.Consistency + s.Confidence) / 3
	return s
}

const (
	// DefaultConfidence is used when the output reports no confidence at all.
	DefaultConfidence = 0.8
	maxPenalties      = 5
)

// Scorer is stateless; the zero value is ready to use.
type Scorer struct{}

// Score evaluates output, a decoded JSON object or any value that encodes as
// one. schema may be nil.
func (Scorer) Score(output interface{}, schema map[string]interface{}) Score {
	obj := asObject(output)
	return NewScore(completeness(obj, schema), consistency(obj), confidence(obj))
}

func completeness(obj map[string]interface{}, schema map[string]interface{}) float64 {
	if schema == nil {
		if len(obj) == 0 {
			return 0
		}
		filled := 0
		for _, v := range obj {
			if !isEmpty(v) {
				filled++
			}
		}
		return float64(filled) / float64(len(obj))
	}

	props, _ := schema["properties"].(map[string]interface{})
	if len(props) == 0 {
		return 1
	}
	required := map[string]bool{}
	if req, ok := schema["required"].([]interface{}); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	} else if req, ok := schema["required"].([]string); ok {
		for _, s := range req {
			required[s] = true
		}
	}
	var total, present float64
	for name := range props {
		w := 1.0
		if required[name] {
			w = 2
		}
		total += w
		if v, ok := obj[name]; ok && !isEmpty(v) {
			present += w
		}
	}
	return present / total
}

// consistency walks the whole tree and subtracts a fifth per violation.
func consistency(obj map[string]interface{}) float64 {
	violations := countViolations(obj)
	if violations > maxPenalties {
		violations = maxPenalties
	}
	return 1 - float64(violations)/maxPenalties
}

func countViolations(v interface{}) int {
	n := 0
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			if arr, ok := val.([]interface{}); ok && len(arr) == 0 && strings.Contains(k, "Id") {
				n++
			}
			if f, ok := number(val); ok && (strings.Contains(k, "Score") || strings.Contains(k, "confidence")) {
				if f < 0 || f > 1 {
					n++
				}
			}
			n += countViolations(val)
		}
	case []interface{}:
		if hasDuplicateIDs(t) {
			n++
		}
		for _, val := range t {
			n += countViolations(val)
		}
	}
	return n
}

func hasDuplicateIDs(arr []interface{}) bool {
	seen := map[string]bool{}
	for _, item := range arr {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		id, ok := m["id"]
		if !ok || id == nil {
			continue
		}
		key := fmt.Sprint(id)
		if seen[key] {
			return true
		}
		seen[key] = true
	}
	return false
}

// confidence prefers a top-level value, then averages the confidence fields of
// objects found directly under top-level keys or inside top-level arrays.
func confidence(obj map[string]interface{}) float64 {
	if f, ok := number(obj["confidence"]); ok {
		return f
	}
	var sum float64
	var count int
	collect := func(v interface{}) {
		if m, ok := v.(map[string]interface{}); ok {
			if f, ok := number(m["confidence"]); ok {
				sum += f
				count++
			}
		}
	}
	for _, v := range obj {
		if arr, ok := v.([]interface{}); ok {
			for _, item := range arr {
				collect(item)
			}
			continue
		}
		collect(v)
	}
	if count == 0 {
		return DefaultConfidence
	}
	return sum / float64(count)
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	}
	return false
}

func number(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}

func asObject(v interface{}) map[string]interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return m
	}
	if v == nil {
		return map[string]interface{}{}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]interface{}{}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]interface{}{}
	}
	return m
}

func clamp(f float64) float64 {
	switch {
	case f != f:
		return 0
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

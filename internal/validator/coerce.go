package validator

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// normalize returns value unchanged when it is already a decoded JSON tree
// and otherwise round-trips it through encoding/json (structs, typed slices).
func normalize(value interface{}) (interface{}, error) {
	switch value.(type) {
	case nil, bool, string, float64, json.Number, map[string]interface{}, []interface{}:
		return value, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return doc, nil
}

func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}

// coerceValue rewrites scalar mismatches guided by schema. Maps and slices are
// updated in place; the possibly replaced value is returned.
func coerceValue(v interface{}, schema map[string]interface{}) interface{} {
	if schema == nil {
		return v
	}
	if all, ok := schema["allOf"].([]interface{}); ok {
		for _, sub := range all {
			if s, ok := sub.(map[string]interface{}); ok {
				v = coerceValue(v, s)
			}
		}
	}

	switch t := v.(type) {
	case string:
		return coerceString(t, schemaTypes(schema))
	case map[string]interface{}:
		props, _ := schema["properties"].(map[string]interface{})
		extra, _ := schema["additionalProperties"].(map[string]interface{})
		for k, val := range t {
			if ps, ok := props[k].(map[string]interface{}); ok {
				t[k] = coerceValue(val, ps)
			} else if extra != nil {
				t[k] = coerceValue(val, extra)
			}
		}
		return t
	case []interface{}:
		items, _ := schema["items"].(map[string]interface{})
		if items == nil {
			return t
		}
		for i := range t {
			t[i] = coerceValue(t[i], items)
		}
		return t
	}
	return v
}

func coerceString(s string, types map[string]bool) interface{} {
	if len(types) == 0 || types["string"] {
		return s
	}
	trimmed := strings.TrimSpace(s)
	if types["integer"] {
		if n, err := strconv.ParseFloat(trimmed, 64); err == nil && n == math.Trunc(n) && !math.IsInf(n, 0) {
			return n
		}
	}
	if types["number"] {
		if n, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsInf(n, 0) && !math.IsNaN(n) {
			return n
		}
	}
	if types["boolean"] {
		switch trimmed {
		case "true":
			return true
		case "false":
			return false
		}
	}
	return s
}

func schemaTypes(schema map[string]interface{}) map[string]bool {
	out := map[string]bool{}
	switch t := schema["type"].(type) {
	case string:
		out[t] = true
	case []interface{}:
		for _, x := range t {
			if s, ok := x.(string); ok {
				out[s] = true
			}
		}
	}
	return out
}

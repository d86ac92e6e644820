package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	jsonFence = regexp.MustCompile("(?s)```json[ \t]*\\r?\\n?(.*?)```")
	anyFence  = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*[ \t]*\\r?\\n?(.*?)```")
)

// ExtractJSON locates the JSON document inside a model response. It tries, in
// order: a ```json fenced block, any fenced block, the first balanced {...} or
// [...] span, and finally the trimmed text itself.
func ExtractJSON(text string) string {
	if m := jsonFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := anyFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if span, ok := firstJSONSpan(text); ok {
		return span
	}
	return strings.TrimSpace(text)
}

// ParseJSON extracts and decodes the JSON document of a response.
func ParseJSON(text string) (interface{}, error) {
	candidate := ExtractJSON(text)
	var doc interface{}
	if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
		return nil, &ParseError{Raw: text, Err: err}
	}
	if doc == nil {
		return nil, &ParseError{Raw: text, Err: fmt.Errorf("response decoded to null")}
	}
	return doc, nil
}

// firstJSONSpan returns the first balanced object or array, skipping brackets
// that appear inside string literals.
func firstJSONSpan(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	open := s[start]
	closer := byte('}')
	if open == '[' {
		closer = ']'
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

package extraction

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

func stripPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() { strictPolicy = bluemonday.StrictPolicy() })
	return strictPolicy
}

// stripTags removes every element, dropping script and style bodies, and
// returns the unescaped text.
func stripTags(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(stripPolicy().Sanitize(s)))
}

package agent

import (
	"fmt"
	"strings"

	"github.com/stulshyan/sherpaAI-sub000/internal/apperr"
	"github.com/stulshyan/sherpaAI-sub000/internal/validator"
)

// ParseError reports a response that did not contain decodable JSON.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string     { return "parse output: " + e.Err.Error() }
func (e *ParseError) Unwrap() error     { return e.Err }
func (e *ParseError) ErrorCode() string { return apperr.CodeParse }

// ValidationError reports schema violations in parsed output.
type ValidationError struct {
	Errors []validator.FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Path+": "+fe.Message)
	}
	return fmt.Sprintf("Validation failed: %s", strings.Join(parts, "; "))
}

func (e *ValidationError) ErrorCode() string { return apperr.CodeValidation }

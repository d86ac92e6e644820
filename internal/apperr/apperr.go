// Package apperr carries machine-readable error codes across package boundaries
// so retry decisions can be made without string matching on provider errors.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Codes shared by adapters, collaborators and the pipeline retry wrapper.
const (
	CodeTimeout            = "TIMEOUT"
	CodeRateLimit          = "RATE_LIMIT"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeConnReset          = "ECONNRESET"
	CodeConnRefused        = "ECONNREFUSED"
	CodeDeadline           = "ETIMEDOUT"
	CodeProvider           = "PROVIDER_ERROR"
	CodeValidation         = "VALIDATION_ERROR"
	CodeParse              = "PARSE_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeUnknown            = "UNKNOWN"
)

// Error attaches a code and the failing operation to an underlying error.
type Error struct {
	Code string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, strings.ToLower(e.Code))
	default:
		return strings.ToLower(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a code. A nil err yields nil.
func New(code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

// Coder is implemented by errors that expose a code.
type Coder interface {
	ErrorCode() string
}

func (e *Error) ErrorCode() string { return e.Code }

// CodeOf returns the first code found in err's chain, or "" when none is present.
func CodeOf(err error) string {
	var c Coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return ""
}

// FromHTTPStatus maps an upstream HTTP status onto a code.
func FromHTTPStatus(status int) string {
	switch {
	case status == 429:
		return CodeRateLimit
	case status == 408 || status == 504:
		return CodeTimeout
	case status == 502 || status == 503 || status == 529:
		return CodeServiceUnavailable
	case status == 404:
		return CodeNotFound
	default:
		return CodeProvider
	}
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/stulshyan/sherpaAI-sub000/internal/agent"
	"github.com/stulshyan/sherpaAI-sub000/internal/apperr"
)

// ErrCancelled aborts a run as cancelled rather than failed. Stage bodies and
// collaborators may return it (or wrap it).
var ErrCancelled = errors.New("pipeline cancelled")

// CodeCancelled is recorded on cancelled runs.
const CodeCancelled = "CANCELLED"

var retryableCodes = map[string]struct{}{
	"ECONNRESET":          {},
	"ETIMEDOUT":           {},
	"ECONNREFUSED":        {},
	"EPIPE":               {},
	"ENOTFOUND":           {},
	"EAI_AGAIN":           {},
	"RATE_LIMIT":          {},
	"RATE_LIMITED":        {},
	"TIMEOUT":             {},
	"SERVICE_UNAVAILABLE": {},
	"429":                 {},
	"502":                 {},
	"503":                 {},
	"504":                 {},
}

// ErrorCode derives a code for err: an explicit code in the chain, else one
// matching a known network condition, else UNKNOWN.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if isCancellation(err) {
		return CodeCancelled
	}
	if code := apperr.CodeOf(err); code != "" {
		return code
	}
	switch {
	case errors.Is(err, syscall.ECONNRESET):
		return "ECONNRESET"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "ECONNREFUSED"
	case errors.Is(err, syscall.EPIPE):
		return "EPIPE"
	case errors.Is(err, syscall.ETIMEDOUT):
		return "ETIMEDOUT"
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.CodeTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTemporary || dnsErr.IsTimeout {
			return "EAI_AGAIN"
		}
		return "ENOTFOUND"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "ETIMEDOUT"
	}
	return apperr.CodeUnknown
}

// IsRetryable reports whether a stage failure is transient. Validation and
// parse failures and cancellations never are.
func IsRetryable(err error) bool {
	if err == nil || isCancellation(err) {
		return false
	}
	var ve *agent.ValidationError
	if errors.As(err, &ve) {
		return false
	}
	if _, ok := retryableCodes[ErrorCode(err)]; ok {
		return true
	}
	if status, ok := httpStatus(err); ok {
		if _, ok := retryableCodes[strconv.Itoa(status)]; ok {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "rate limit")
}

type statusCoder interface {
	StatusCode() int
}

func httpStatus(err error) (int, bool) {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode(), true
	}
	return 0, false
}

func isCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// backoff returns base * 2^attempt, attempt starting at 1.
func backoff(base time.Duration, attempt int) time.Duration {
	return time.Duration(float64(base) * math.Pow(2, float64(attempt)))
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// withTimeout runs body on its own goroutine and returns whichever of body,
// the timer or ctx finishes first. A losing body has its context cancelled
// and its result dropped.
func withTimeout[T any](ctx context.Context, stage Stage, timeout time.Duration, body func(context.Context) (T, error)) (T, error) {
	var zero T
	bodyCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("stage %s panicked: %v", stage, r)}
			}
		}()
		v, err := body(bodyCtx)
		done <- result{val: v, err: err}
	}()

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}
	select {
	case r := <-done:
		return r.val, r.err
	case <-timerC:
		return zero, apperr.New(apperr.CodeTimeout, string(stage), fmt.Errorf("stage timed out after %s", timeout))
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

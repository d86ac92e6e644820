package pipeline

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stulshyan/sherpaAI-sub000/internal/agent"
	"github.com/stulshyan/sherpaAI-sub000/internal/apperr"
	"github.com/stulshyan/sherpaAI-sub000/models"
)

func TestStageTransitions(t *testing.T) {
	if !StageQueued.CanAdvanceTo(StageExtracting) || !StageExtracting.CanAdvanceTo(StageDecomposing) {
		t.Fatalf("forward transitions must be allowed")
	}
	if StageDecomposing.CanAdvanceTo(StageClassifying) {
		t.Fatalf("backward transition allowed")
	}
	if !StageStoring.CanAdvanceTo(StageFailed) || !StageQueued.CanAdvanceTo(StageCancelled) {
		t.Fatalf("failure transitions must be allowed from non-terminal stages")
	}
	if StageCompleted.CanAdvanceTo(StageFailed) || StageFailed.CanAdvanceTo(StageCancelled) {
		t.Fatalf("terminal stages are absorbing")
	}
}

func TestStageRequirementStatus(t *testing.T) {
	want := map[Stage]models.RequirementStatus{
		StageQueued:      models.RequirementStatusUploaded,
		StageExtracting:  models.RequirementStatusExtracting,
		StageClassifying: models.RequirementStatusClassifying,
		StageDecomposing: models.RequirementStatusDecomposing,
		StageScoring:     models.RequirementStatusDecomposing,
		StageStoring:     models.RequirementStatusDecomposing,
		StageCompleted:   models.RequirementStatusDecomposed,
		StageFailed:      models.RequirementStatusFailed,
		StageCancelled:   models.RequirementStatusFailed,
	}
	for stage, status := range want {
		if got := stage.RequirementStatus(); got != status {
			t.Fatalf("%s: expected %s, got %s", stage, status, got)
		}
	}
	if StageFailed.Progress() != 0 || StageCancelled.Progress() != 0 {
		t.Fatalf("failed and cancelled report 0 progress")
	}
}

type statusErr int

func (s statusErr) Error() string   { return fmt.Sprintf("upstream returned %d", int(s)) }
func (s statusErr) StatusCode() int { return int(s) }

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limit code", apperr.New(apperr.CodeRateLimit, "op", errors.New("x")), true},
		{"service unavailable", apperr.New(apperr.CodeServiceUnavailable, "op", errors.New("x")), true},
		{"syscall reset", fmt.Errorf("dial: %w", syscall.ECONNRESET), true},
		{"timeout message", errors.New("upstream Timeout while reading"), true},
		{"rate limit message", errors.New("hit the rate limit"), true},
		{"http 503", statusErr(503), true},
		{"http 400", statusErr(400), false},
		{"validation", &agent.ValidationError{}, false},
		{"cancelled", ErrCancelled, false},
		{"context cancelled", context.Canceled, false},
		{"plain", errors.New("bad input"), false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: IsRetryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestBackoffDoubles(t *testing.T) {
	if backoff(time.Second, 1) != 2*time.Second || backoff(time.Second, 3) != 8*time.Second {
		t.Fatalf("unexpected backoff")
	}
}

func TestSleepContextHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

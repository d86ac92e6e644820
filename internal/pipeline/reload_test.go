package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stulshyan/sherpaAI-sub000/config"
	"github.com/stulshyan/sherpaAI-sub000/internal/apperr"
	"github.com/stulshyan/sherpaAI-sub000/models"
)

type layerSource struct {
	values map[string]interface{}
}

func (s *layerSource) Name() string { return "test" }

func (s *layerSource) Load(context.Context) (map[string]interface{}, error) {
	return s.values, nil
}

func TestConfigReloadChangesNextRunRetries(t *testing.T) {
	f := newFixture(t, nil, nil)
	ex := &stubExtractor{fn: func(context.Context, int) (*models.ExtractionResult, error) {
		return nil, apperr.New(apperr.CodeRateLimit, "extract", errors.New("throttled"))
	}}
	f.deps.Extractor = ex
	o := f.orchestrator(t)

	layer := &layerSource{values: map[string]interface{}{}}
	m := config.NewManager(nil, config.DefaultsSource(), layer).
		Apply(config.WithEnvLookup(func(string) (string, bool) { return "", false }))
	m.Subscribe(o.ApplyConfig)
	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if st := o.Execute(context.Background(), "r1"); st.Stage != StageFailed || ex.attempts() != 3 {
		t.Fatalf("expected 3 attempts under defaults, got %d (%s)", ex.attempts(), st.Stage)
	}

	layer.values = map[string]interface{}{"pipeline": map[string]interface{}{
		"max_retries":  5,
		"backoff_base": 10 * time.Millisecond,
	}}
	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("second reload: %v", err)
	}
	if tn := o.Tuning(); tn.MaxRetries != 5 || tn.BackoffBase != 10*time.Millisecond || tn.StageTimeout != 120*time.Second {
		t.Fatalf("unexpected tuning after reload %+v", tn)
	}

	st := o.Execute(context.Background(), "r1")
	if got := ex.attempts() - 3; got != 5 {
		t.Fatalf("expected 5 attempts after reload, got %d", got)
	}
	if st.Error == nil || st.Error.RetryCount != 5 {
		t.Fatalf("unexpected error record %+v", st.Error)
	}
}

func TestSetTuningFillsDefaults(t *testing.T) {
	o := newFixture(t, nil, nil).orchestrator(t)
	o.SetTuning(Tuning{MaxRetries: 2})
	if tn := o.Tuning(); tn.MaxRetries != 2 || tn.StageTimeout != defaultStageTimeout || tn.BackoffBase != defaultBackoffBase {
		t.Fatalf("unexpected tuning %+v", tn)
	}
}

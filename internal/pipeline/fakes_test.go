package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stulshyan/sherpaAI-sub000/config"
	"github.com/stulshyan/sherpaAI-sub000/internal/adapter"
	"github.com/stulshyan/sherpaAI-sub000/internal/adapter/adaptertest"
	"github.com/stulshyan/sherpaAI-sub000/internal/agent"
	"github.com/stulshyan/sherpaAI-sub000/internal/extraction"
	"github.com/stulshyan/sherpaAI-sub000/internal/objectstore"
	"github.com/stulshyan/sherpaAI-sub000/internal/readiness"
	"github.com/stulshyan/sherpaAI-sub000/models"
)

type memRequirements struct {
	mu       sync.Mutex
	rows     map[string]*models.Requirement
	statuses []models.RequirementStatus
}

func newMemRequirements(reqs ...models.Requirement) *memRequirements {
	m := &memRequirements{rows: map[string]*models.Requirement{}}
	for i := range reqs {
		r := reqs[i]
		m.rows[r.ID] = &r
	}
	return m
}

func (m *memRequirements) FindByID(_ context.Context, id string) (*models.Requirement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, models.ErrRequirementNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRequirements) UpdateStatus(_ context.Context, id string, status models.RequirementStatus, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
	if r, ok := m.rows[id]; ok {
		r.Status = status
		r.ErrorMessage = msg
	}
	return nil
}

func (m *memRequirements) UpdateExtractedText(_ context.Context, id, key string, words int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[id]
	r.ExtractedTextKey = key
	r.WordCount = words
	return nil
}

func (m *memRequirements) UpdateClassification(_ context.Context, id string, t models.RequirementType, c float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[id]
	r.ClassificationType = t
	r.ClassificationConfidence = c
	return nil
}

func (m *memRequirements) get(id string) models.Requirement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}

type memFeatures struct {
	mu       sync.Mutex
	features []*models.Feature
}

func (m *memFeatures) CreateFeature(_ context.Context, f *models.Feature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.features = append(m.features, f)
	return nil
}

// stubExtractor hands every attempt to fn.
type stubExtractor struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, attempt int) (*models.ExtractionResult, error)
}

func (s *stubExtractor) ExtractFromS3(ctx context.Context, _ string) (*models.ExtractionResult, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	return s.fn(ctx, n)
}

func (s *stubExtractor) SaveExtractedText(context.Context, string, string) (string, error) {
	return "requirements/r1/extracted.txt", nil
}

func (s *stubExtractor) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

type progressLog struct {
	mu     sync.Mutex
	states []State
}

func (p *progressLog) record(_ context.Context, s State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, s)
	return nil
}

func (p *progressLog) snapshot() []State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]State(nil), p.states...)
}

const (
	classificationReply = `{"type":"new_feature","confidence":0.9,"reasoning":"introduces report export","suggestedDecomposition":true}`
	decompositionReply  = "```json\n" + `{
  "themes": [
    {"id": "t1", "label": "Reporting", "confidence": 0.9},
    {"id": "t2", "label": "Scheduling", "confidence": 0.8}
  ],
  "atomicRequirements": [
    {"id": "a1", "text": "Export reports as CSV", "themeId": "t1", "clarityScore": 0.9},
    {"id": "a2", "text": "Include visible columns", "themeId": "t1", "clarityScore": 0.5},
    {"id": "a3", "text": "Schedule weekly exports", "themeId": "t2", "clarityScore": 0.8}
  ],
  "featureCandidates": [
    {"id": "f1", "title": "CSV export", "description": "Export reports", "themeIds": ["t1"], "atomicRequirementIds": ["a1", "a2"], "estimatedComplexity": "low", "confidence": 0.85},
    {"id": "f2", "title": "Scheduled export", "description": "Weekly exports", "themeIds": ["t2"], "atomicRequirementIds": ["a3"], "estimatedComplexity": "medium", "confidence": 0.7}
  ],
  "clarificationQuestions": [
    {"id": "q1", "featureId": "f2", "question": "Which timezone?", "questionType": "text", "priority": "blocking"}
  ]
}` + "\n```"
)

type fixture struct {
	reqs     *memRequirements
	features *memFeatures
	objects  *objectstore.Memory
	classify *adaptertest.Scripted
	backup   *adaptertest.Scripted
	sleeps   *recordedSleeps
	progress *progressLog
	deps     Deps
	opts     Options
}

func newFixture(t *testing.T, classifierSteps, decomposerSteps []adaptertest.Step) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		reqs: newMemRequirements(models.Requirement{
			ID: "r1", ProjectID: "p1", Title: "Reporting", SourceKey: "uploads/r1.txt", Status: models.RequirementStatusUploaded,
		}),
		features: &memFeatures{},
		objects:  objectstore.NewMemory(),
		classify: adaptertest.New("claude", classifierSteps...),
		backup:   adaptertest.New("gpt", classifierSteps...),
		sleeps:   &recordedSleeps{},
		progress: &progressLog{},
	}
	if err := f.objects.Upload(ctx, "uploads/r1.txt", []byte("The user should be able to export reports to CSV every week."), "text/plain"); err != nil {
		t.Fatalf("seed source: %v", err)
	}
	decomposer := adaptertest.New("decomposer", decomposerSteps...)
	reg, err := adapter.NewRegistry(adaptertest.Configs("claude", "gpt", "decomposer"),
		map[string][]string{"claude": {"gpt"}},
		adaptertest.Factory(f.classify, f.backup, decomposer))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	agentDeps := agent.Deps{Adapters: reg}
	f.deps = Deps{
		Requirements: f.reqs,
		Features:     f.features,
		Extractor:    extraction.New(f.objects, nil),
		Objects:      f.objects,
		Readiness:    readiness.Scorer{},
		Classifier:   agent.NewClassifier(config.AgentConfig{Adapter: "claude", MaxRetries: 3}, agentDeps, agent.Hooks[models.ClassificationResult]{}),
		Decomposer:   agent.NewDecomposer(config.AgentConfig{Adapter: "decomposer", MaxRetries: 1}, agentDeps, agent.Hooks[models.DecompositionResult]{}),
	}
	f.opts = Options{Sleep: f.sleeps.sleep, OnProgress: f.progress.record}
	return f
}

func (f *fixture) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o, err := New(f.deps, f.opts)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o
}

func assertNonDecreasing(t *testing.T, states []State) {
	t.Helper()
	last := -1
	for i, s := range states {
		if s.Stage == StageFailed || s.Stage == StageCancelled {
			if i != len(states)-1 {
				t.Fatalf("terminal state %s emitted before the end", s.Stage)
			}
			continue
		}
		if s.Progress < last {
			t.Fatalf("progress decreased at %d: %d -> %d (%s)", i, last, s.Progress, s.Stage)
		}
		last = s.Progress
	}
}

func stages(states []State) string {
	out := ""
	for i, s := range states {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%s:%d", s.Stage, s.Progress)
	}
	return out
}

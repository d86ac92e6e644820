package readiness

import (
	"math"
	"testing"

	"github.com/stulshyan/sherpaAI-sub000/models"
)

func TestCalculateScore(t *testing.T) {
	fc := models.FeatureCandidate{ID: "f1", Confidence: 0.9}
	reqs := []models.AtomicRequirement{
		{ID: "r1", ClarityScore: 0.9},
		{ID: "r2", ClarityScore: 0.3},
	}
	qs := []models.ClarificationQuestion{
		{ID: "q1", Priority: models.QuestionPriorityBlocking},
		{ID: "q2", Priority: models.QuestionPriorityNiceToHave},
	}
	s := Scorer{}.CalculateScore(fc, reqs, qs)
	if s.Completeness != 0.5 {
		t.Fatalf("expected completeness 0.5, got %f", s.Completeness)
	}
	if s.Consistency != 0.75 {
		t.Fatalf("expected consistency 0.75, got %f", s.Consistency)
	}
	if math.Abs(s.Confidence-0.6) > 1e-9 {
		t.Fatalf("expected confidence 0.6, got %f", s.Confidence)
	}
}

func TestCalculateScoreWithoutLinkedRequirements(t *testing.T) {
	s := Scorer{}.CalculateScore(models.FeatureCandidate{Confidence: 0.7}, nil, nil)
	if s.Completeness != 0 || s.Consistency != 1 || s.Confidence != 0.7 {
		t.Fatalf("unexpected score %+v", s)
	}
	many := make([]models.ClarificationQuestion, 6)
	for i := range many {
		many[i].Priority = models.QuestionPriorityBlocking
	}
	if s := (Scorer{}).CalculateScore(models.FeatureCandidate{}, nil, many); s.Consistency != 0 {
		t.Fatalf("expected consistency floored at 0, got %f", s.Consistency)
	}
}

package quality

import (
	"math"
	"testing"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCompletenessWithoutSchema(t *testing.T) {
	out := map[string]interface{}{
		"a": "x",
		"b": "",
		"c": []interface{}{},
		"d": map[string]interface{}{},
		"e": nil,
		"f": 0.0,
	}
	s := Scorer{}.Score(out, nil)
	if !near(s.Completeness, 2.0/6.0) {
		t.Fatalf("expected 2/6, got %f", s.Completeness)
	}
}

func TestCompletenessWeightsRequiredProperties(t *testing.T) {
	schema := map[string]interface{}{
		"required": []interface{}{"type", "reasoning"},
		"properties": map[string]interface{}{
			"type":       map[string]interface{}{},
			"reasoning":  map[string]interface{}{},
			"indicators": map[string]interface{}{},
		},
	}
	s := Scorer{}.Score(map[string]interface{}{"type": "epic", "indicators": []interface{}{"x"}}, schema)
	// (2 + 1) / (2 + 2 + 1)
	if !near(s.Completeness, 3.0/5.0) {
		t.Fatalf("expected 0.6, got %f", s.Completeness)
	}
	empty := Scorer{}.Score(map[string]interface{}{}, map[string]interface{}{"type": "object"})
	if empty.Completeness != 1 {
		t.Fatalf("schema without properties must score 1, got %f", empty.Completeness)
	}
}

func TestConsistencyPenalties(t *testing.T) {
	out := map[string]interface{}{
		"featureIds": []interface{}{},
		"items": []interface{}{
			map[string]interface{}{"id": "a", "clarityScore": 1.4},
			map[string]interface{}{"id": "a"},
		},
		"confidence": 0.5,
	}
	s := Scorer{}.Score(out, nil)
	// empty featureIds, duplicate id, clarityScore out of range
	if !near(s.Consistency, 1-3.0/5.0) {
		t.Fatalf("expected 0.4, got %f", s.Consistency)
	}
}

func TestConsistencyIsFlooredAtZero(t *testing.T) {
	out := map[string]interface{}{}
	for _, k := range []string{"aId", "bId", "cId", "dId", "eId", "fId", "gId"} {
		out[k] = []interface{}{}
	}
	if s := (Scorer{}).Score(out, nil); s.Consistency != 0 {
		t.Fatalf("expected floor 0, got %f", s.Consistency)
	}
}

func TestConfidenceSources(t *testing.T) {
	top := Scorer{}.Score(map[string]interface{}{"confidence": 0.9, "x": []interface{}{map[string]interface{}{"confidence": 0.1}}}, nil)
	if !near(top.Confidence, 0.9) {
		t.Fatalf("expected top-level confidence, got %f", top.Confidence)
	}
	nested := Scorer{}.Score(map[string]interface{}{
		"themes":  []interface{}{map[string]interface{}{"confidence": 0.6}, map[string]interface{}{"confidence": 0.8}},
		"summary": map[string]interface{}{"confidence": 1.0},
	}, nil)
	if !near(nested.Confidence, 0.8) {
		t.Fatalf("expected average 0.8, got %f", nested.Confidence)
	}
	none := Scorer{}.Score(map[string]interface{}{"a": "b"}, nil)
	if none.Confidence != DefaultConfidence {
		t.Fatalf("expected default confidence, got %f", none.Confidence)
	}
}

func TestOverallIsMeanAndBounded(t *testing.T) {
	for _, c := range [][3]float64{{0, 0, 0}, {1, 1, 1}, {0.2, 0.5, 0.9}, {1.7, -3, 0.5}} {
		s := NewScore(c[0], c[1], c[2])
		if s.Overall < 0 || s.Overall > 1 {
			t.Fatalf("overall out of range for %v: %f", c, s.Overall)
		}
		if !near(s.Overall, (s.Completeness+s.Consistency+s.Confidence)/3) {
			t.Fatalf("overall is not the mean for %v", c)
		}
	}
}

func TestScoreAcceptsStructs(t *testing.T) {
	type out struct {
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	s := Scorer{}.Score(out{Confidence: 0.7, Reasoning: "clear"}, nil)
	if !near(s.Confidence, 0.7) || s.Completeness != 1 {
		t.Fatalf("unexpected score %+v", s)
	}
}

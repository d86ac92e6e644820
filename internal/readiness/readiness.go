// Package readiness estimates how implementation-ready a feature candidate is.
package readiness

import (
	"github.com/stulshyan/sherpaAI-sub000/internal/quality"
	"github.com/stulshyan/sherpaAI-sub000/models"
)

const (
	defaultClarityThreshold = 0.6
	blockingPenalty         = 0.25
)

// Scorer derives a readiness score from a candidate's linked requirements and
// open questions:
//   - completeness: share of linked requirements whose clarity reaches the threshold
//   - consistency: 1 minus 0.25 per blocking question
//   - confidence: mean clarity of linked requirements, or the candidate's own
//     confidence when nothing is linked
type Scorer struct {
	ClarityThreshold float64
}

func (s Scorer) threshold() float64 {
	if s.ClarityThreshold > 0 {
		return s.ClarityThreshold
	}
	return defaultClarityThreshold
}

// CalculateScore scores one candidate.
func (s Scorer) CalculateScore(fc models.FeatureCandidate, reqs []models.AtomicRequirement, questions []models.ClarificationQuestion) quality.Score {
	var clear int
	var claritySum float64
	for _, r := range reqs {
		claritySum += r.ClarityScore
		if r.ClarityScore >= s.threshold() {
			clear++
		}
	}

	completeness := 0.0
	confidence := fc.Confidence
	if len(reqs) > 0 {
		completeness = float64(clear) / float64(len(reqs))
		confidence = claritySum / float64(len(reqs))
	}

	consistency := 1.0
	for _, q := range questions {
		if q.Priority == models.QuestionPriorityBlocking {
			consistency -= blockingPenalty
		}
	}
	return quality.NewScore(completeness, consistency, confidence)
}

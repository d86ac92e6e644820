package pipeline

import "github.com/stulshyan/sherpaAI-sub000/models"

// Stage is one phase of a decomposition run.
type Stage string

const (
	StageQueued      Stage = "queued"
	StageExtracting  Stage = "extracting"
	StageClassifying Stage = "classifying"
	StageDecomposing Stage = "decomposing"
	StageScoring     Stage = "scoring"
	StageStoring     Stage = "storing"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
	StageCancelled   Stage = "cancelled"
)

var stageOrder = map[Stage]int{
	StageQueued:      0,
	StageExtracting:  1,
	StageClassifying: 2,
	StageDecomposing: 3,
	StageScoring:     4,
	StageStoring:     5,
	StageCompleted:   6,
}

var stageProgress = map[Stage]int{
	StageQueued:      5,
	StageExtracting:  25,
	StageClassifying: 40,
	StageDecomposing: 75,
	StageScoring:     90,
	StageStoring:     95,
	StageCompleted:   100,
}

// Progress is the completion percentage reported while in s. Failed and
// cancelled report 0.
func (s Stage) Progress() int { return stageProgress[s] }

// Terminal reports whether no further transition is possible.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageCancelled
}

// CanAdvanceTo reports whether next is a legal transition from s: forward
// through the fixed order, or straight to failed/cancelled from any
// non-terminal stage.
func (s Stage) CanAdvanceTo(next Stage) bool {
	if s.Terminal() {
		return false
	}
	if next == StageFailed || next == StageCancelled {
		return true
	}
	cur, ok := stageOrder[s]
	if !ok {
		return false
	}
	n, ok := stageOrder[next]
	return ok && n > cur
}

// RequirementStatus maps a stage onto the externally visible requirement status.
func (s Stage) RequirementStatus() models.RequirementStatus {
	switch s {
	case StageQueued:
		return models.RequirementStatusUploaded
	case StageExtracting:
		return models.RequirementStatusExtracting
	case StageClassifying:
		return models.RequirementStatusClassifying
	case StageDecomposing, StageScoring, StageStoring:
		return models.RequirementStatusDecomposing
	case StageCompleted:
		return models.RequirementStatusDecomposed
	default:
		return models.RequirementStatusFailed
	}
}

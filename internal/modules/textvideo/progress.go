package textvideo

import (
	"fmt"

	"github.com/solocore/textloom/internal/types"
)

// Stage progress checkpoints on the parent task.
const (
	ProgressMaterialDone = 25
	ProgressAnalysisDone = 50
	ProgressSubtasksDone = 55
	ProgressScriptsDone  = 75

	// Stage-5 budget split applied by the aggregate formula.
	progressBase        = 55
	scriptStageBudget   = 20
	videoStageBudget    = 25
	progressCapNonFinal = 95
	progressCapNoVideos = 75
)

// Aggregate is the parent view derived from the sub-task rows.
type Aggregate struct {
	Status   string
	Stage    string
	Progress int
	Message  string

	Total          int
	CompletedCount int
	FailedCount    int
	ProcessingCount int
	PendingCount   int
	AllTerminal    bool
}

// ComputeAggregate derives the parent task status and progress from its
// sub tasks. Pure function; both the orchestrator tail and the reconciler
// run every parent write through it.
//
// Progress while work remains: 55 + 20*scriptRate + 25*weightedVideoRate,
// where completed sub tasks weigh 1.0, processing ones at most 0.95 of
// their own progress, failed ones 0, and anything else half its progress.
// Capped at 95 while any sub task is non-terminal, and at 75 when every
// finished sub task failed.
func ComputeAggregate(subTasks []*types.SubVideoTask) Aggregate {
	agg := Aggregate{Total: len(subTasks)}
	if agg.Total == 0 {
		agg.Status = types.TaskStatusProcessing
		agg.Stage = types.StageVideoGeneration
		agg.Progress = progressBase
		agg.Message = "no sub tasks yet"
		return agg
	}

	var weighted float64
	for _, sub := range subTasks {
		switch sub.Status {
		case types.SubTaskStatusCompleted:
			agg.CompletedCount++
			weighted += 1.0
		case types.SubTaskStatusFailed:
			agg.FailedCount++
		case types.SubTaskStatusProcessing, types.SubTaskStatusProcessingSubtitles:
			agg.ProcessingCount++
			w := float64(sub.Progress) / 100.0
			if w > 0.95 {
				w = 0.95
			}
			weighted += w
		default:
			agg.PendingCount++
			weighted += float64(sub.Progress) / 100.0 * 0.5
		}
	}
	agg.AllTerminal = agg.CompletedCount+agg.FailedCount == agg.Total

	switch {
	case agg.AllTerminal && agg.CompletedCount == agg.Total:
		agg.Status = types.TaskStatusCompleted
		agg.Stage = types.StageCompleted
		agg.Progress = 100
		agg.Message = fmt.Sprintf("all %d sub tasks completed", agg.Total)
	case agg.AllTerminal && agg.CompletedCount > 0:
		agg.Status = types.TaskStatusPartialSuccess
		agg.Stage = types.StageCompleted
		agg.Progress = 100
		agg.Message = fmt.Sprintf("%d of %d sub tasks completed, %d failed", agg.CompletedCount, agg.Total, agg.FailedCount)
	case agg.AllTerminal:
		agg.Status = types.TaskStatusFailed
		agg.Stage = types.StageFailed
		agg.Progress = progressCapNoVideos
		agg.Message = fmt.Sprintf("all %d sub tasks failed", agg.Total)
	default:
		agg.Status = types.TaskStatusProcessing
		agg.Stage = types.StageVideoGeneration

		// Scripts are done by the time any sub task reaches stage 5.
		scriptRate := 1.0
		videoRate := weighted / float64(agg.Total)
		progress := progressBase + int(scriptStageBudget*scriptRate+videoStageBudget*videoRate)
		if progress > progressCapNonFinal {
			progress = progressCapNonFinal
		}
		if agg.CompletedCount == 0 && agg.FailedCount > 0 && progress > progressCapNoVideos {
			progress = progressCapNoVideos
		}
		agg.Progress = progress
		agg.Message = fmt.Sprintf("in flight: %d completed, %d failed, %d processing, %d pending",
			agg.CompletedCount, agg.FailedCount, agg.ProcessingCount, agg.PendingCount)
	}
	return agg
}

// ScriptStyleForIndex assigns the script style for one sub video.
// Index is 1-based.
func ScriptStyleForIndex(index int) string {
	if index == 2 {
		return types.ScriptStyleProductGeek
	}
	return types.ScriptStyleDefault
}

package textvideo

import (
	"testing"

	"github.com/solocore/textloom/internal/types"
)

func subTask(status string, progress int) *types.SubVideoTask {
	return &types.SubVideoTask{Status: status, Progress: progress}
}

func TestComputeAggregateAllCompleted(t *testing.T) {
	agg := ComputeAggregate([]*types.SubVideoTask{
		subTask(types.SubTaskStatusCompleted, 100),
		subTask(types.SubTaskStatusCompleted, 100),
	})
	if agg.Status != types.TaskStatusCompleted {
		t.Fatalf("status = %s", agg.Status)
	}
	if agg.Progress != 100 || agg.Stage != types.StageCompleted {
		t.Fatalf("progress=%d stage=%s", agg.Progress, agg.Stage)
	}
}

func TestComputeAggregateSingleSubTask(t *testing.T) {
	// N = 1: the parent completes iff the single sub task completes;
	// partial_success is unreachable.
	agg := ComputeAggregate([]*types.SubVideoTask{subTask(types.SubTaskStatusCompleted, 100)})
	if agg.Status != types.TaskStatusCompleted {
		t.Fatalf("status = %s", agg.Status)
	}
	agg = ComputeAggregate([]*types.SubVideoTask{subTask(types.SubTaskStatusFailed, 0)})
	if agg.Status != types.TaskStatusFailed {
		t.Fatalf("status = %s", agg.Status)
	}
}

func TestComputeAggregatePartialSuccess(t *testing.T) {
	agg := ComputeAggregate([]*types.SubVideoTask{
		subTask(types.SubTaskStatusCompleted, 100),
		subTask(types.SubTaskStatusFailed, 0),
		subTask(types.SubTaskStatusCompleted, 100),
	})
	if agg.Status != types.TaskStatusPartialSuccess {
		t.Fatalf("status = %s", agg.Status)
	}
	if agg.CompletedCount != 2 || agg.FailedCount != 1 {
		t.Fatalf("completed=%d failed=%d", agg.CompletedCount, agg.FailedCount)
	}
	if agg.Stage != types.StageCompleted || agg.Progress != 100 {
		t.Fatalf("stage=%s progress=%d", agg.Stage, agg.Progress)
	}
}

func TestComputeAggregateAllFailed(t *testing.T) {
	agg := ComputeAggregate([]*types.SubVideoTask{
		subTask(types.SubTaskStatusFailed, 0),
		subTask(types.SubTaskStatusFailed, 0),
	})
	if agg.Status != types.TaskStatusFailed {
		t.Fatalf("status = %s", agg.Status)
	}
	if agg.Stage != types.StageFailed {
		t.Fatalf("stage = %s", agg.Stage)
	}
	if agg.Progress > 75 {
		t.Fatalf("progress = %d, want <= 75", agg.Progress)
	}
}

func TestComputeAggregateCapWhileProcessing(t *testing.T) {
	// One done, one still merging: whatever the formula says, progress
	// must stay <= 95.
	agg := ComputeAggregate([]*types.SubVideoTask{
		subTask(types.SubTaskStatusCompleted, 100),
		subTask(types.SubTaskStatusProcessing, 99),
	})
	if agg.Status != types.TaskStatusProcessing {
		t.Fatalf("status = %s", agg.Status)
	}
	if agg.Progress > 95 {
		t.Fatalf("progress = %d, want <= 95", agg.Progress)
	}
	if agg.AllTerminal {
		t.Fatal("AllTerminal should be false")
	}
}

func TestComputeAggregateCapWhenOnlyFailures(t *testing.T) {
	agg := ComputeAggregate([]*types.SubVideoTask{
		subTask(types.SubTaskStatusFailed, 0),
		subTask(types.SubTaskStatusProcessing, 90),
	})
	if agg.Progress > 75 {
		t.Fatalf("progress = %d, want <= 75 with zero completions and a failure", agg.Progress)
	}
}

func TestComputeAggregateFormula(t *testing.T) {
	// Two processing sub tasks at 80%: 55 + 20 + 25*0.80 = 95.
	agg := ComputeAggregate([]*types.SubVideoTask{
		subTask(types.SubTaskStatusProcessing, 80),
		subTask(types.SubTaskStatusProcessing, 80),
	})
	if agg.Progress != 95 {
		t.Fatalf("progress = %d, want 95", agg.Progress)
	}
}

func TestComputeAggregateSubtitlesCountAsProcessing(t *testing.T) {
	agg := ComputeAggregate([]*types.SubVideoTask{
		subTask(types.SubTaskStatusProcessingSubtitles, 90),
	})
	if agg.Status != types.TaskStatusProcessing {
		t.Fatalf("status = %s", agg.Status)
	}
	if agg.AllTerminal {
		t.Fatal("processing_subtitles is not terminal")
	}
}

func TestScriptStyleForIndex(t *testing.T) {
	cases := map[int]string{
		1: types.ScriptStyleDefault,
		2: types.ScriptStyleProductGeek,
		3: types.ScriptStyleDefault,
		5: types.ScriptStyleDefault,
	}
	for index, want := range cases {
		if got := ScriptStyleForIndex(index); got != want {
			t.Fatalf("ScriptStyleForIndex(%d) = %s, want %s", index, got, want)
		}
	}
}

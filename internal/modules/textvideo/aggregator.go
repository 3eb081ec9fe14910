package textvideo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/solocore/textloom/internal/platform/dbctx"
	"github.com/solocore/textloom/internal/platform/logger"
	"github.com/solocore/textloom/internal/repos"
	"github.com/solocore/textloom/internal/services"
	"github.com/solocore/textloom/internal/types"
)

// Aggregator converges a parent task from its sub-task rows. Both the
// orchestrator tail and the reconciler funnel every parent write through
// it, so the store invariants (terminal protection, monotonic progress,
// the single downward rewrite) are applied in exactly one place.
type Aggregator struct {
	log         *logger.Logger
	taskRepo    repos.TaskRepo
	subTaskRepo repos.SubVideoTaskRepo
	notifier    services.TaskNotifier
}

func NewAggregator(baseLog *logger.Logger, taskRepo repos.TaskRepo, subTaskRepo repos.SubVideoTaskRepo, notifier services.TaskNotifier) *Aggregator {
	return &Aggregator{
		log:         baseLog.With("component", "Aggregator"),
		taskRepo:    taskRepo,
		subTaskRepo: subTaskRepo,
		notifier:    notifier,
	}
}

// Converge recomputes and writes the parent task state. When all sub
// tasks are terminal it also writes the multi-video results list and the
// completed count.
func (a *Aggregator) Converge(ctx context.Context, taskID uuid.UUID) (Aggregate, error) {
	dbc := dbctx.Context{Ctx: ctx}

	subTasks, err := a.subTaskRepo.GetByParent(dbc, taskID)
	if err != nil {
		return Aggregate{}, err
	}
	agg := ComputeAggregate(subTasks)

	if agg.AllTerminal {
		results := make([]SubmitResultRow, 0, len(subTasks))
		for i, sub := range subTasks {
			results = append(results, SubmitResultRow{
				SubTaskID:     sub.SubTaskID,
				SubTaskIndex:  i + 1,
				ScriptStyle:   sub.ScriptStyle,
				Success:       sub.Status == types.SubTaskStatusCompleted,
				Status:        sub.Status,
				VideoURL:      sub.VideoURL,
				ThumbnailURL:  sub.ThumbnailURL,
				Duration:      sub.Duration,
				CourseMediaID: sub.CourseMediaID,
				Error:         sub.ErrorMessage,
				GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
			})
		}
		if err := a.taskRepo.SetMultiVideoResults(dbc, taskID, mustJSON(results), agg.CompletedCount); err != nil {
			a.log.Warn("multi video results write failed", "task_id", taskID, "error", err)
		}
	}

	switch agg.Status {
	case types.TaskStatusCompleted:
		now := time.Now().UTC()
		if _, err := a.taskRepo.UpdateStatus(dbc, taskID, types.TaskStatusCompleted, map[string]any{
			"progress":      100,
			"current_stage": types.StageCompleted,
			"completed_at":  now,
		}); err != nil {
			return agg, err
		}
	case types.TaskStatusPartialSuccess:
		now := time.Now().UTC()
		if _, err := a.taskRepo.UpdateStatus(dbc, taskID, types.TaskStatusPartialSuccess, map[string]any{
			"progress":      100,
			"current_stage": types.StageCompleted,
			"completed_at":  now,
		}); err != nil {
			return agg, err
		}
	case types.TaskStatusFailed:
		now := time.Now().UTC()
		if _, err := a.taskRepo.UpdateStatus(dbc, taskID, types.TaskStatusFailed, map[string]any{
			"current_stage": types.StageFailed,
			"error_message": agg.Message,
			"completed_at":  now,
		}); err != nil {
			return agg, err
		}
	default:
		if _, err := a.taskRepo.UpdateProgress(dbc, taskID, agg.Progress, types.StageVideoGeneration, agg.Message); err != nil {
			return agg, err
		}
		// The one sanctioned downward write: a stored 100 while work
		// remains is rewritten to the recomputed value.
		current, err := a.taskRepo.GetByID(dbc, taskID)
		if err == nil && current != nil && current.Progress >= 100 {
			if _, err := a.taskRepo.ForceProgressRewrite(dbc, taskID, agg.Progress); err != nil {
				a.log.Warn("forced progress rewrite failed", "task_id", taskID, "error", err)
			}
		}
	}

	if a.notifier != nil {
		a.notifier.TaskProgress(ctx, taskID.String(), agg.Stage, agg.Progress, agg.Message)
		if agg.AllTerminal {
			a.notifier.TaskStatus(ctx, taskID.String(), agg.Status, agg.Message)
		}
	}

	a.log.Info("parent converged",
		"task_id", taskID,
		"status", agg.Status,
		"progress", agg.Progress,
		"completed", agg.CompletedCount,
		"failed", agg.FailedCount,
		"total", agg.Total,
	)
	return agg, nil
}

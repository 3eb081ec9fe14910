package textvideo

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/solocore/textloom/internal/clients/videomerge"
	"github.com/solocore/textloom/internal/platform/dbctx"
	"github.com/solocore/textloom/internal/platform/logger"
	"github.com/solocore/textloom/internal/repos"
	"github.com/solocore/textloom/internal/types"
)

// ReconcileStats summarizes one reconciler pass.
type ReconcileStats struct {
	Polled        int
	Updated       int
	ParentUpdates int
	Errors        int
}

// Reconciler is the stage-5 poller: on each tick it selects the oldest
// in-flight sub tasks, queries the merge service, applies terminal
// transitions, and converges parents. External query failures are logged
// and skipped; the sub task is retried on the next tick.
type Reconciler struct {
	log         *logger.Logger
	cfg         Config
	merge       videomerge.Client
	subTaskRepo repos.SubVideoTaskRepo
	jobRepo     repos.JobRunRepo
	aggregator  *Aggregator
	now         func() time.Time
}

func NewReconciler(
	baseLog *logger.Logger,
	cfg Config,
	merge videomerge.Client,
	subTaskRepo repos.SubVideoTaskRepo,
	jobRepo repos.JobRunRepo,
	aggregator *Aggregator,
) *Reconciler {
	return &Reconciler{
		log:         baseLog.With("component", "VideoMergeReconciler"),
		cfg:         cfg,
		merge:       merge,
		subTaskRepo: subTaskRepo,
		jobRepo:     jobRepo,
		aggregator:  aggregator,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile runs one pass. Batch size is max(10, MaxConcurrentTasks),
// ordered by oldest updated_at first.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileStats, error) {
	dbc := dbctx.Context{Ctx: ctx}
	stats := ReconcileStats{}

	limit := r.cfg.MaxConcurrentTasks
	if limit < 10 {
		limit = 10
	}
	subTasks, err := r.subTaskRepo.FetchProcessing(dbc, limit)
	if err != nil {
		return stats, err
	}
	stats.Polled = len(subTasks)
	if len(subTasks) == 0 {
		return stats, nil
	}

	for _, sub := range subTasks {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		updated, parentTouched := r.reconcileOne(ctx, dbc, sub, &stats)
		if updated {
			stats.Updated++
		}
		if parentTouched {
			if _, err := r.aggregator.Converge(ctx, sub.ParentTaskID); err != nil {
				stats.Errors++
				r.log.Warn("parent convergence failed", "task_id", sub.ParentTaskID, "error", err)
			} else {
				stats.ParentUpdates++
			}
		}
	}

	r.log.Info("reconcile pass done",
		"polled", stats.Polled,
		"updated", stats.Updated,
		"parent_updates", stats.ParentUpdates,
		"errors", stats.Errors,
	)
	return stats, nil
}

// reconcileOne returns (subTaskUpdated, parentNeedsConvergence).
func (r *Reconciler) reconcileOne(ctx context.Context, dbc dbctx.Context, sub *types.SubVideoTask, stats *ReconcileStats) (bool, bool) {
	age := r.ageOf(sub)

	// Subtitle post-processing that overran its budget is closed out as
	// completed with a note; the merged video exists at this point.
	if sub.Status == types.SubTaskStatusProcessingSubtitles {
		if age > r.cfg.SubtitleTimeout {
			msg := fmt.Sprintf("dynamic subtitle processing timed out (%.1fs > %s)", age.Seconds(), r.cfg.SubtitleTimeout)
			if ok, err := r.subTaskRepo.UpdateFields(dbc, sub.SubTaskID, map[string]any{
				"status":        types.SubTaskStatusCompleted,
				"progress":      100,
				"error_message": msg,
			}); err != nil || !ok {
				stats.Errors++
				r.log.Warn("subtitle timeout write failed", "sub_task_id", sub.SubTaskID, "error", err)
				return false, false
			}
			r.log.Info("subtitle timeout, sub task closed", "sub_task_id", sub.SubTaskID, "elapsed", age.Seconds())
			return true, true
		}
		return false, false
	}

	// Merge that exceeded its generation budget fails.
	if age > r.cfg.MergeTimeout {
		if ok, err := r.subTaskRepo.UpdateFields(dbc, sub.SubTaskID, map[string]any{
			"status":        types.SubTaskStatusFailed,
			"error_message": "generation timeout",
		}); err != nil || !ok {
			stats.Errors++
			r.log.Warn("timeout write failed", "sub_task_id", sub.SubTaskID, "error", err)
			return false, false
		}
		r.log.Info("merge timeout, sub task failed", "sub_task_id", sub.SubTaskID, "elapsed", age.Seconds())
		return true, true
	}

	if sub.CourseMediaID == "" {
		r.log.Debug("sub task has no course_media_id yet, skipping", "sub_task_id", sub.SubTaskID)
		return false, false
	}

	result, err := r.merge.Query(ctx, sub.CourseMediaID)
	if err != nil {
		// Not fatal to the batch; retried on the next tick.
		stats.Errors++
		r.log.Warn("merge query failed",
			"sub_task_id", sub.SubTaskID,
			"course_media_id", sub.CourseMediaID,
			"error", err,
		)
		return false, false
	}
	if result == nil || (result.Status != videomerge.MergeStatusSuccess && result.Status != videomerge.MergeStatusFailed) {
		return false, false
	}

	updates := map[string]any{}
	enqueueSubtitles := false
	if result.Status == videomerge.MergeStatusSuccess && result.MergeVideo != "" {
		if r.cfg.DynamicSubtitleEnabled {
			updates["status"] = types.SubTaskStatusProcessingSubtitles
			updates["video_url"] = result.MergeVideo
			updates["thumbnail_url"] = result.SnapshotURL
			updates["duration"] = result.Duration
			enqueueSubtitles = true
		} else {
			now := r.now()
			updates["status"] = types.SubTaskStatusCompleted
			updates["progress"] = 100
			updates["video_url"] = result.MergeVideo
			updates["thumbnail_url"] = result.SnapshotURL
			updates["duration"] = result.Duration
			updates["completed_at"] = now
		}
	} else {
		reason := result.FailureReasons
		if reason == "" {
			reason = "video merge failed"
		}
		updates["status"] = types.SubTaskStatusFailed
		updates["error_message"] = reason
	}

	ok, err := r.subTaskRepo.UpdateFields(dbc, sub.SubTaskID, updates)
	if err != nil {
		// Fall back to a plain failure write so the row cannot wedge.
		stats.Errors++
		r.log.Error("sub task update failed, writing failure fallback", "sub_task_id", sub.SubTaskID, "error", err)
		if _, ferr := r.subTaskRepo.MarkFailed(dbc, sub.SubTaskID, fmt.Sprintf("store update error: %.200s", err.Error())); ferr != nil {
			r.log.Error("failure fallback write also failed", "sub_task_id", sub.SubTaskID, "error", ferr)
			return false, false
		}
		return true, true
	}
	if !ok {
		r.log.Warn("sub task update affected no rows", "sub_task_id", sub.SubTaskID)
		return false, false
	}

	if enqueueSubtitles {
		if err := r.enqueueSubtitleJob(dbc, sub, result); err != nil {
			// Enqueue failure must not strand the sub task: close it out.
			r.log.Error("subtitle job enqueue failed, completing directly", "sub_task_id", sub.SubTaskID, "error", err)
			if _, ferr := r.subTaskRepo.UpdateFields(dbc, sub.SubTaskID, map[string]any{
				"status":        types.SubTaskStatusCompleted,
				"progress":      100,
				"error_message": fmt.Sprintf("subtitle job enqueue failed: %v", err),
			}); ferr != nil {
				r.log.Error("subtitle fallback write failed", "sub_task_id", sub.SubTaskID, "error", ferr)
			}
		}
	}

	return true, true
}

func (r *Reconciler) enqueueSubtitleJob(dbc dbctx.Context, sub *types.SubVideoTask, result *videomerge.QueryResult) error {
	payload := mustJSON(map[string]any{
		"sub_task_id":   sub.SubTaskID,
		"video_url":     result.MergeVideo,
		"subtitles_url": result.SubtitlesURL,
		"template":      "hype",
	})
	_, err := r.jobRepo.Enqueue(dbc, &types.JobRun{
		JobType: types.JobTypeSubtitlePostprocess,
		Payload: datatypes.JSON(payload),
	})
	return err
}

func (r *Reconciler) ageOf(sub *types.SubVideoTask) time.Duration {
	ref := sub.UpdatedAt
	if ref.IsZero() {
		ref = sub.CreatedAt
	}
	if ref.IsZero() {
		return 0
	}
	return r.now().Sub(ref)
}

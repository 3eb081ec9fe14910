package subtitles

import (
	"fmt"
	"time"

	"github.com/solocore/textloom/internal/jobs/runtime"
	core "github.com/solocore/textloom/internal/modules/textvideo"
	"github.com/solocore/textloom/internal/platform/dbctx"
	"github.com/solocore/textloom/internal/platform/logger"
	"github.com/solocore/textloom/internal/repos"
	"github.com/solocore/textloom/internal/types"
)

// Handler finalizes a sub task after dynamic-subtitle post-processing.
// Payload: {sub_task_id, video_url, subtitles_url, template}.
//
// The rendering itself happens in an external tool; this handler closes
// the processing_subtitles window by marking the sub task completed with
// the final video reference and converging the parent. If the external
// render never lands, the reconciler's subtitle timeout closes the sub
// task instead.
type Handler struct {
	log         *logger.Logger
	subTaskRepo repos.SubVideoTaskRepo
	aggregator  *core.Aggregator
}

func NewHandler(baseLog *logger.Logger, subTaskRepo repos.SubVideoTaskRepo, aggregator *core.Aggregator) *Handler {
	return &Handler{
		log:         baseLog.With("handler", types.JobTypeSubtitlePostprocess),
		subTaskRepo: subTaskRepo,
		aggregator:  aggregator,
	}
}

func (h *Handler) Run(jc *runtime.Context) error {
	subTaskID := jc.PayloadString("sub_task_id")
	if subTaskID == "" {
		jc.Fail("payload", fmt.Errorf("payload missing sub_task_id"))
		return nil
	}
	videoURL := jc.PayloadString("video_url")

	dbc := dbctx.Context{Ctx: jc.Ctx}
	sub, err := h.subTaskRepo.GetBySubTaskID(dbc, subTaskID)
	if err != nil {
		jc.Fail("load", err)
		return nil
	}
	if sub == nil {
		jc.Fail("load", fmt.Errorf("sub task %s not found", subTaskID))
		return nil
	}
	if sub.Status != types.SubTaskStatusProcessingSubtitles {
		// Already closed out (reconciler timeout or duplicate delivery).
		jc.Succeed(map[string]any{"skipped": true, "status": sub.Status})
		return nil
	}

	updates := map[string]any{
		"status":       types.SubTaskStatusCompleted,
		"progress":     100,
		"completed_at": time.Now().UTC(),
	}
	if videoURL != "" {
		updates["video_url"] = videoURL
	}
	if _, err := h.subTaskRepo.UpdateFields(dbc, subTaskID, updates); err != nil {
		jc.Fail("update", err)
		return nil
	}

	if _, err := h.aggregator.Converge(jc.Ctx, sub.ParentTaskID); err != nil {
		h.log.Warn("parent convergence failed", "task_id", sub.ParentTaskID, "error", err)
	}

	jc.Succeed(map[string]any{"sub_task_id": subTaskID})
	return nil
}

package textvideo

import (
	"errors"
	"fmt"

	"github.com/solocore/textloom/internal/jobs/runtime"
	core "github.com/solocore/textloom/internal/modules/textvideo"
	"github.com/solocore/textloom/internal/platform/logger"
	"github.com/solocore/textloom/internal/types"
)

// Handler consumes text_video_pipeline jobs. Payload:
// {task_id, source_file, workspace_dir, mode, persona_id, sub_count}.
// Duplicate deliveries are harmless; the orchestrator no-ops past work
// already committed under the store's natural keys.
type Handler struct {
	log          *logger.Logger
	orchestrator *core.Orchestrator
}

func NewHandler(baseLog *logger.Logger, orchestrator *core.Orchestrator) *Handler {
	return &Handler{
		log:          baseLog.With("handler", types.JobTypeTextVideoPipeline),
		orchestrator: orchestrator,
	}
}

func (h *Handler) Run(jc *runtime.Context) error {
	taskID, ok := jc.PayloadUUID("task_id")
	if !ok {
		err := fmt.Errorf("payload missing task_id")
		jc.Fail("payload", err)
		return nil
	}

	params := core.PipelineParams{
		TaskID:       taskID,
		SourceFile:   jc.PayloadString("source_file"),
		WorkspaceDir: jc.PayloadString("workspace_dir"),
		Mode:         jc.PayloadString("mode"),
		SubCount:     jc.PayloadInt("sub_count", 1),
	}
	if personaID, ok := jc.PayloadUUID("persona_id"); ok {
		params.PersonaID = &personaID
	}

	jc.Progress("pipeline", "running")
	result, err := h.orchestrator.RunTask(jc.Ctx, params)
	if err != nil {
		var perr *core.PipelineError
		if errors.As(err, &perr) && perr.Kind == core.ErrCancelled {
			// Cancellation is a clean stop, not a retryable failure.
			jc.Succeed(map[string]any{"cancelled": true})
			return nil
		}
		jc.Fail("pipeline", err)
		return nil
	}

	jc.Succeed(map[string]any{
		"status":          result.Status,
		"progress":        result.Progress,
		"material_count":  result.MaterialCount,
		"script_count":    result.ScriptCount,
		"submitted_count": result.SubmittedCount,
	})
	return nil
}

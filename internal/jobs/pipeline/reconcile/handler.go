package reconcile

import (
	"github.com/solocore/textloom/internal/jobs/runtime"
	core "github.com/solocore/textloom/internal/modules/textvideo"
	"github.com/solocore/textloom/internal/platform/logger"
	"github.com/solocore/textloom/internal/types"
)

// Handler consumes merge_reconcile ticks (empty payload) and runs one
// reconciler pass. Re-delivery produces no additional state changes: the
// pass re-reads the store and every update it applies is idempotent.
type Handler struct {
	log        *logger.Logger
	reconciler *core.Reconciler
}

func NewHandler(baseLog *logger.Logger, reconciler *core.Reconciler) *Handler {
	return &Handler{
		log:        baseLog.With("handler", types.JobTypeMergeReconcile),
		reconciler: reconciler,
	}
}

func (h *Handler) Run(jc *runtime.Context) error {
	stats, err := h.reconciler.Reconcile(jc.Ctx)
	if err != nil {
		jc.Fail("reconcile", err)
		return nil
	}
	jc.Succeed(map[string]any{
		"polled":         stats.Polled,
		"updated":        stats.Updated,
		"parent_updates": stats.ParentUpdates,
		"errors":         stats.Errors,
	})
	return nil
}

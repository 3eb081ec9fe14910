package textvideo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/solocore/textloom/internal/platform/dbctx"
	"github.com/solocore/textloom/internal/platform/logger"
	"github.com/solocore/textloom/internal/repos"
	"github.com/solocore/textloom/internal/services"
	"github.com/solocore/textloom/internal/types"
)

// PipelineParams is the queue payload driving one orchestration.
type PipelineParams struct {
	TaskID       uuid.UUID
	SourceFile   string
	WorkspaceDir string
	Mode         string
	PersonaID    *uuid.UUID
	SubCount     int
}

// TaskResult summarizes one orchestration run. Sub tasks may still be in
// flight on the merge service when it returns; the reconciler owns the
// rest of their lifecycle.
type TaskResult struct {
	TaskID          uuid.UUID
	Status          string
	Progress        int
	MaterialCount   int
	AnalysisCount   int
	ScriptCount     int
	SubmittedCount  int
	CompletedCount  int
	FailedCount     int
	ProcessingTime  time.Duration
}

// Orchestrator drives a single task through the five pipeline stages.
// Idempotent at task granularity: every stage's side effects are keyed by
// natural unique constraints, so a re-run after a crash no-ops past
// committed work.
type Orchestrator struct {
	log       *logger.Logger
	cfg       Config
	taskRepo  repos.TaskRepo
	processor *MaterialProcessor
	analyzer  *MaterialAnalyzer
	scripts   *ScriptGenerator
	submitter *VideoSubmitter
	subTasks  repos.SubVideoTaskRepo
	aggregator *Aggregator
	notifier  services.TaskNotifier
}

func NewOrchestrator(
	baseLog *logger.Logger,
	cfg Config,
	taskRepo repos.TaskRepo,
	processor *MaterialProcessor,
	analyzer *MaterialAnalyzer,
	scripts *ScriptGenerator,
	submitter *VideoSubmitter,
	subTasks repos.SubVideoTaskRepo,
	aggregator *Aggregator,
	notifier services.TaskNotifier,
) *Orchestrator {
	return &Orchestrator{
		log:        baseLog.With("component", "PipelineOrchestrator"),
		cfg:        cfg,
		taskRepo:   taskRepo,
		processor:  processor,
		analyzer:   analyzer,
		scripts:    scripts,
		submitter:  submitter,
		subTasks:   subTasks,
		aggregator: aggregator,
		notifier:   notifier,
	}
}

func (o *Orchestrator) tracer() trace.Tracer {
	return otel.Tracer("textloom/pipeline")
}

// RunTask executes stages 1-5 for one task. Stage failures at 1-3 abort
// the task; stage-4 failures are per sub task with at least one success
// required; stage-5 submission failures are per sub task.
func (o *Orchestrator) RunTask(ctx context.Context, params PipelineParams) (*TaskResult, error) {
	start := time.Now()
	taskID := params.TaskID
	dbc := dbctx.Context{Ctx: ctx}
	log := o.log.With("task_id", taskID)

	if params.SubCount < 1 {
		params.SubCount = 1
	}
	if params.SubCount > 5 {
		params.SubCount = 5
	}

	task, err := o.taskRepo.GetByID(dbc, taskID)
	if err != nil {
		return nil, newPipelineError(ErrFatal, "init", err)
	}
	if task == nil {
		return nil, newPipelineError(ErrFatal, "init", fmt.Errorf("task %s not found", taskID))
	}
	if task.Status == types.TaskStatusCancelled {
		return nil, newPipelineError(ErrCancelled, "init", nil)
	}

	now := time.Now().UTC()
	if _, err := o.taskRepo.UpdateStatus(dbc, taskID, types.TaskStatusProcessing, map[string]any{
		"current_stage": types.StageMaterialProcessing,
		"started_at":    now,
	}); err != nil {
		return nil, newPipelineError(ErrFatal, "init", err)
	}
	o.notify(ctx, taskID, types.StageMaterialProcessing, 5, "starting material processing")

	// ---- Stage 1: material processing (completes at 25%) ----
	if err := o.checkCancelled(dbc, taskID); err != nil {
		return nil, err
	}
	ctx1, span1 := o.tracer().Start(ctx, "stage.material_processing", trace.WithAttributes(attribute.String("task_id", taskID.String())))
	materials, err := o.processor.ProcessMaterials(ctx1, params.SourceFile, taskID, params.WorkspaceDir)
	span1.End()
	if err != nil {
		kind := ErrMaterialStageFailed
		if _, ok := err.(*MaterialError); ok {
			kind = ErrInputInvalid
		}
		return nil, o.failTask(dbc, taskID, types.StageMaterialProcessing, newPipelineError(kind, types.StageMaterialProcessing, err))
	}
	log.Info("stage 1 done", "materials", len(materials.MediaItems), "content_len", len(materials.ExtractedContent))
	if _, err := o.taskRepo.UpdateProgress(dbc, taskID, ProgressMaterialDone, types.StageMaterialProcessing, "material processing complete"); err != nil {
		log.Warn("progress write failed", "stage", 1, "error", err)
	}
	o.notify(ctx, taskID, types.StageMaterialProcessing, ProgressMaterialDone, fmt.Sprintf("%d materials registered", len(materials.MediaItems)))

	// ---- Stage 2: material analysis (completes at 50%) ----
	if err := o.checkCancelled(dbc, taskID); err != nil {
		return nil, err
	}
	if err := o.taskRepo.UpdateStage(dbc, taskID, types.StageMaterialAnalysis); err != nil {
		log.Warn("stage write failed", "stage", 2, "error", err)
	}
	ctx2, span2 := o.tracer().Start(ctx, "stage.material_analysis")
	summary, analyses, err := o.analyzer.AnalyzeMaterials(ctx2, taskID, materials.MediaItems, params.WorkspaceDir)
	span2.End()
	if err != nil {
		return nil, o.failTask(dbc, taskID, types.StageMaterialAnalysis, newPipelineError(ErrFatal, types.StageMaterialAnalysis, err))
	}
	// Strictly more than 90% failures aborts; exactly 90% proceeds.
	if summary.TotalAnalyzed > 0 && summary.FailureRate() > o.cfg.AnalysisFailureRateLimit {
		err := fmt.Errorf("analysis failure rate %.0f%% exceeds limit", summary.FailureRate()*100)
		return nil, o.failTask(dbc, taskID, types.StageMaterialAnalysis, newPipelineError(ErrAnalysisFailureRateExceeded, types.StageMaterialAnalysis, err))
	}
	log.Info("stage 2 done", "analyzed", summary.TotalAnalyzed, "failed", summary.FailedCount)
	if _, err := o.taskRepo.UpdateProgress(dbc, taskID, ProgressAnalysisDone, types.StageMaterialAnalysis, "material analysis complete"); err != nil {
		log.Warn("progress write failed", "stage", 2, "error", err)
	}
	o.notify(ctx, taskID, types.StageMaterialAnalysis, ProgressAnalysisDone, fmt.Sprintf("%d materials analyzed", summary.TotalAnalyzed))

	// ---- Stage 3: sub-task creation (completes at 55%) ----
	if err := o.checkCancelled(dbc, taskID); err != nil {
		return nil, err
	}
	if err := o.taskRepo.UpdateStage(dbc, taskID, types.StageSubtaskCreation); err != nil {
		log.Warn("stage write failed", "stage", 3, "error", err)
	}
	subTaskIDs, err := o.createSubTasks(dbc, taskID, params.SubCount)
	if err != nil {
		return nil, o.failTask(dbc, taskID, types.StageSubtaskCreation, newPipelineError(ErrFatal, types.StageSubtaskCreation, err))
	}
	log.Info("stage 3 done", "sub_tasks", len(subTaskIDs))
	if _, err := o.taskRepo.UpdateProgress(dbc, taskID, ProgressSubtasksDone, types.StageSubtaskCreation, "sub tasks created"); err != nil {
		log.Warn("progress write failed", "stage", 3, "error", err)
	}

	// ---- Stage 4: script generation (completes at 75%) ----
	if err := o.checkCancelled(dbc, taskID); err != nil {
		return nil, err
	}
	if err := o.taskRepo.UpdateStage(dbc, taskID, types.StageScriptGeneration); err != nil {
		log.Warn("stage write failed", "stage", 4, "error", err)
	}
	topic := ExtractTopic(materials.ExtractedContent)
	materialContext := buildMaterialContext(analyses)

	ctx4, span4 := o.tracer().Start(ctx, "stage.script_generation")
	outcomes := o.scripts.GenerateScriptsParallel(ctx4, taskID, subTaskIDs, topic, materials.ExtractedContent, materialContext, params.PersonaID)
	span4.End()

	var scriptSuccesses int
	for _, outcome := range outcomes {
		if outcome.Err == nil && outcome.Result != nil {
			scriptSuccesses++
		} else if outcome.Err != nil {
			log.Warn("script generation failed", "sub_task_id", outcome.SubTaskID, "error", outcome.Err)
		}
	}
	if scriptSuccesses == 0 {
		err := fmt.Errorf("all %d script generations failed", len(outcomes))
		return nil, o.failTask(dbc, taskID, types.StageScriptGeneration, newPipelineError(ErrAllScriptsFailed, types.StageScriptGeneration, err))
	}
	log.Info("stage 4 done", "succeeded", scriptSuccesses, "failed", len(outcomes)-scriptSuccesses)
	if _, err := o.taskRepo.UpdateProgress(dbc, taskID, ProgressScriptsDone, types.StageScriptGeneration, "script generation complete"); err != nil {
		log.Warn("progress write failed", "stage", 4, "error", err)
	}
	o.notify(ctx, taskID, types.StageScriptGeneration, ProgressScriptsDone, fmt.Sprintf("%d scripts generated", scriptSuccesses))

	// ---- Stage 5: merge submission + parent convergence ----
	if err := o.checkCancelled(dbc, taskID); err != nil {
		return nil, err
	}
	if err := o.taskRepo.UpdateStage(dbc, taskID, types.StageVideoGeneration); err != nil {
		log.Warn("stage write failed", "stage", 5, "error", err)
	}
	ctx5, span5 := o.tracer().Start(ctx, "stage.video_submission")
	submissions := o.submitter.SubmitAll(ctx5, taskID, task.Title, params.Mode, materials.MediaItems, subTaskIDs)
	span5.End()
	log.Info("stage 5 submissions done", "submitted", len(submissions))

	agg, err := o.aggregator.Converge(ctx, taskID)
	if err != nil {
		log.Warn("post-submission convergence failed", "error", err)
	}

	result := &TaskResult{
		TaskID:         taskID,
		Status:         agg.Status,
		Progress:       agg.Progress,
		MaterialCount:  len(materials.MediaItems),
		AnalysisCount:  summary.TotalAnalyzed,
		ScriptCount:    scriptSuccesses,
		SubmittedCount: len(submissions),
		CompletedCount: agg.CompletedCount,
		FailedCount:    agg.FailedCount,
		ProcessingTime: time.Since(start),
	}
	log.Info("orchestration done",
		"status", result.Status,
		"progress", result.Progress,
		"materials", result.MaterialCount,
		"scripts", result.ScriptCount,
		"elapsed", result.ProcessingTime.String(),
	)
	return result, nil
}

// createSubTasks registers N sub-task rows keyed by their natural id;
// existing rows from a prior run are left untouched.
func (o *Orchestrator) createSubTasks(dbc dbctx.Context, taskID uuid.UUID, count int) ([]string, error) {
	ids := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		subTaskID := types.SubTaskIDFor(taskID, i)
		if _, err := o.subTasks.CreateIfAbsent(dbc, &types.SubVideoTask{
			SubTaskID:    subTaskID,
			ParentTaskID: taskID,
			VideoIndex:   i,
			ScriptStyle:  ScriptStyleForIndex(i),
			Status:       types.SubTaskStatusPending,
			Progress:     0,
		}); err != nil {
			return nil, fmt.Errorf("create sub task %s: %w", subTaskID, err)
		}
		ids = append(ids, subTaskID)
	}
	return ids, nil
}

// buildMaterialContext exposes only completed analyses to the script LLM.
func buildMaterialContext(analyses []*types.MaterialAnalysis) []MaterialContextEntry {
	entries := make([]MaterialContextEntry, 0, len(analyses))
	for _, a := range analyses {
		if a.Status != types.AnalysisStatusCompleted {
			continue
		}
		id := a.OriginalURL
		if a.MediaItemID != nil {
			id = a.MediaItemID.String()
		}
		url := a.FileURL
		if url == "" {
			url = a.OriginalURL
		}
		entries = append(entries, MaterialContextEntry{
			MaterialID:  id,
			Type:        a.FileType,
			Description: a.AIDescription,
			URL:         url,
		})
	}
	return entries
}

// checkCancelled aborts at a stage boundary when the task row was set to
// cancelled. Sub tasks already submitted keep running on the merge
// service and are reconciled to terminal states later.
func (o *Orchestrator) checkCancelled(dbc dbctx.Context, taskID uuid.UUID) error {
	if dbc.Ctx != nil && dbc.Ctx.Err() != nil {
		return newPipelineError(ErrCancelled, "context", dbc.Ctx.Err())
	}
	task, err := o.taskRepo.GetByID(dbc, taskID)
	if err != nil {
		return newPipelineError(ErrFatal, "cancel_check", err)
	}
	if task != nil && task.Status == types.TaskStatusCancelled {
		o.log.Info("task cancelled, stopping at stage boundary", "task_id", taskID)
		return newPipelineError(ErrCancelled, task.CurrentStage, nil)
	}
	return nil
}

// failTask records an abort: status failed, stage failed, error message,
// completion timestamp. Committed rows are left intact for post-mortem.
func (o *Orchestrator) failTask(dbc dbctx.Context, taskID uuid.UUID, stage string, perr *PipelineError) error {
	now := time.Now().UTC()
	if _, err := o.taskRepo.UpdateStatus(dbc, taskID, types.TaskStatusFailed, map[string]any{
		"current_stage": types.StageFailed,
		"error_message": perr.Error(),
		"completed_at":  now,
	}); err != nil {
		o.log.Error("failure status write error", "task_id", taskID, "error", err)
	}
	if o.notifier != nil && dbc.Ctx != nil {
		o.notifier.TaskStatus(dbc.Ctx, taskID.String(), types.TaskStatusFailed, perr.Error())
	}
	o.log.Error("task failed", "task_id", taskID, "stage", stage, "error", perr)
	return perr
}

func (o *Orchestrator) notify(ctx context.Context, taskID uuid.UUID, stage string, progress int, message string) {
	if o.notifier == nil {
		return
	}
	o.notifier.TaskProgress(ctx, taskID.String(), stage, progress, message)
}

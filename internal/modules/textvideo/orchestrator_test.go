package textvideo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/solocore/textloom/internal/clients/videomerge"
	"github.com/solocore/textloom/internal/platform/dbctx"
	"github.com/solocore/textloom/internal/types"
)

const visionJSON = `{
  "material_id": "m",
  "material_type": "image",
  "visual_description": "a product on a table",
  "contextual_meaning": "shows the launch hardware",
  "extracted_text_ocr": "",
  "suggested_narrative_functions": ["product_showcase"],
  "keywords": ["product", "launch"]
}`

type pipelineFixture struct {
	taskRepo     *fakeTaskRepo
	subTaskRepo  *fakeSubTaskRepo
	mediaRepo    *fakeMediaItemRepo
	analysisRepo *fakeAnalysisRepo
	scriptRepo   *fakeScriptRepo
	jobRepo      *fakeJobRepo
	ai           *stubAI
	merge        *stubMerge
	bucket       *stubBucket

	orchestrator *Orchestrator
	reconciler   *Reconciler

	taskID       uuid.UUID
	workspaceDir string
	sourceFile   string
}

func newPipelineFixture(t *testing.T, manifest string, subCount int) *pipelineFixture {
	t.Helper()
	log := testLogger(t)

	f := &pipelineFixture{
		taskRepo:     newFakeTaskRepo(),
		subTaskRepo:  newFakeSubTaskRepo(),
		mediaRepo:    newFakeMediaItemRepo(),
		analysisRepo: newFakeAnalysisRepo(),
		scriptRepo:   newFakeScriptRepo(),
		jobRepo:      &fakeJobRepo{},
		ai:           &stubAI{visionOutput: visionJSON, scriptOutput: validScriptJSON},
		merge:        newStubMerge(),
		bucket:       &stubBucket{host: "cdn.example"},
		taskID:       uuid.New(),
	}

	f.workspaceDir = t.TempDir()
	f.sourceFile = filepath.Join(f.workspaceDir, "source_manifest.md")
	if err := os.WriteFile(f.sourceFile, []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	cfg := Config{
		DownloadPoolSize:         5,
		AnalysisPoolSize:         4,
		ScriptPoolSize:           3,
		MaxImages:                20,
		MaxVideos:                5,
		MaxFileSize:              10 << 20,
		KeyframesPerVideo:        3,
		MaxConcurrentTasks:       10,
		MergeTimeout:             defaultReconcilerConfig().MergeTimeout,
		SubtitleTimeout:          defaultReconcilerConfig().SubtitleTimeout,
		AnalysisFailureRateLimit: 0.9,
	}
	tools := &stubMediaTools{}
	processor := NewMaterialProcessor(log, cfg, f.bucket, tools, f.mediaRepo)
	analyzer := NewMaterialAnalyzer(log, cfg, f.ai, f.bucket, tools, f.analysisRepo)
	scripts := NewScriptGenerator(log, cfg, f.ai, f.scriptRepo, f.subTaskRepo, newFakePersonaRepo(), &fakeTemplateRepo{})
	submitter := NewVideoSubmitter(log, cfg, f.merge, f.subTaskRepo)
	aggregator := NewAggregator(log, f.taskRepo, f.subTaskRepo, nopNotifier{})
	f.orchestrator = NewOrchestrator(log, cfg, f.taskRepo, processor, analyzer, scripts, submitter, f.subTaskRepo, aggregator, nopNotifier{})
	f.reconciler = NewReconciler(log, cfg, f.merge, f.subTaskRepo, f.jobRepo, aggregator)

	_, _ = f.taskRepo.Create(dbctx.Context{Ctx: context.Background()}, &types.Task{
		ID:            f.taskID,
		Title:         "Demo",
		TaskType:      "text_to_video",
		Status:        types.TaskStatusPending,
		SubVideoCount: subCount,
	})
	return f
}

func (f *pipelineFixture) params(subCount int) PipelineParams {
	return PipelineParams{
		TaskID:       f.taskID,
		SourceFile:   f.sourceFile,
		WorkspaceDir: f.workspaceDir,
		Mode:         "multi_scene",
		SubCount:     subCount,
	}
}

const demoManifest = `# Demo

The launch article begins with a product shot.

![product](https://cdn.example/a.jpg)

And ends with a walkthrough video.

<video src="https://cdn.example/b.mp4"></video>
`

func TestPipelineScenarioAllGood(t *testing.T) {
	// Scenario: N=1, one image + one video, everything succeeds; after
	// the reconciler pass the task is completed at 100.
	f := newPipelineFixture(t, demoManifest, 1)
	ctx := context.Background()

	result, err := f.orchestrator.RunTask(ctx, f.params(1))
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if result.MaterialCount != 2 {
		t.Fatalf("materials = %d, want 2", result.MaterialCount)
	}
	if result.ScriptCount != 1 {
		t.Fatalf("scripts = %d, want 1", result.ScriptCount)
	}

	dbc := dbctx.Context{Ctx: ctx}
	items, _ := f.mediaRepo.GetByTask(dbc, f.taskID)
	if len(items) != 2 {
		t.Fatalf("media rows = %d, want 2", len(items))
	}
	analyses, _ := f.analysisRepo.GetByTask(dbc, f.taskID)
	if len(analyses) != 2 {
		t.Fatalf("analysis rows = %d, want 2", len(analyses))
	}
	for _, a := range analyses {
		if a.Status != types.AnalysisStatusCompleted {
			t.Fatalf("analysis %s status = %s", a.OriginalURL, a.Status)
		}
	}

	// Submission handed off to the merge service: parent still
	// processing, sub task at 80 with a course_media_id.
	task, _ := f.taskRepo.GetByID(dbc, f.taskID)
	if task.Status != types.TaskStatusProcessing {
		t.Fatalf("task status = %s", task.Status)
	}
	sub, _ := f.subTaskRepo.GetBySubTaskID(dbc, types.SubTaskIDFor(f.taskID, 1))
	if sub.CourseMediaID == "" || sub.Progress != 80 {
		t.Fatalf("sub = %+v", sub)
	}

	// Merge finishes; reconciler converges the parent.
	f.merge.results[sub.CourseMediaID] = &videomerge.QueryResult{
		Status:      videomerge.MergeStatusSuccess,
		MergeVideo:  "https://cdn.example/final.mp4",
		SnapshotURL: "https://cdn.example/final.jpg",
		Duration:    61,
	}
	if _, err := f.reconciler.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	task, _ = f.taskRepo.GetByID(dbc, f.taskID)
	if task.Status != types.TaskStatusCompleted || task.Progress != 100 || task.CurrentStage != types.StageCompleted {
		t.Fatalf("task = status=%s progress=%d stage=%s", task.Status, task.Progress, task.CurrentStage)
	}
	sub, _ = f.subTaskRepo.GetBySubTaskID(dbc, types.SubTaskIDFor(f.taskID, 1))
	if sub.Status != types.SubTaskStatusCompleted || sub.VideoURL == "" {
		t.Fatalf("sub = %+v", sub)
	}
}

func TestPipelineEmptySource(t *testing.T) {
	// Scenario: manifest contains only comment lines; stage 1 aborts
	// with input_invalid, no media rows are written.
	manifest := "<!-- Unavailable markdown: https://gone.example/a -->\n<!-- Unavailable markdown: https://gone.example/b -->\n"
	f := newPipelineFixture(t, manifest, 1)
	ctx := context.Background()

	_, err := f.orchestrator.RunTask(ctx, f.params(1))
	if err == nil {
		t.Fatal("expected pipeline error")
	}
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Kind != ErrInputInvalid {
		t.Fatalf("error = %v", err)
	}

	dbc := dbctx.Context{Ctx: ctx}
	task, _ := f.taskRepo.GetByID(dbc, f.taskID)
	if task.Status != types.TaskStatusFailed {
		t.Fatalf("task status = %s", task.Status)
	}
	if n, _ := f.mediaRepo.CountByTask(dbc, f.taskID); n != 0 {
		t.Fatalf("media rows = %d, want 0", n)
	}
}

func TestPipelineDuplicateDelivery(t *testing.T) {
	// Scenario: the same pipeline message is delivered twice. Media item
	// counts stay flat, completed analyses stay completed, no duplicate
	// script rows appear.
	f := newPipelineFixture(t, demoManifest, 2)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}

	if _, err := f.orchestrator.RunTask(ctx, f.params(2)); err != nil {
		t.Fatalf("first run: %v", err)
	}
	mediaBefore, _ := f.mediaRepo.CountByTask(dbc, f.taskID)
	scriptCallsBefore := f.ai.scriptCalls

	if _, err := f.orchestrator.RunTask(ctx, f.params(2)); err != nil {
		t.Fatalf("second run: %v", err)
	}

	mediaAfter, _ := f.mediaRepo.CountByTask(dbc, f.taskID)
	if mediaAfter != mediaBefore {
		t.Fatalf("media rows changed: %d -> %d", mediaBefore, mediaAfter)
	}
	analyses, _ := f.analysisRepo.GetByTask(dbc, f.taskID)
	for _, a := range analyses {
		if a.Status != types.AnalysisStatusCompleted {
			t.Fatalf("completed analysis downgraded: %s = %s", a.OriginalURL, a.Status)
		}
	}
	// Sub task rows are keyed by natural id: still exactly two.
	subTasks, _ := f.subTaskRepo.GetByParent(dbc, f.taskID)
	if len(subTasks) != 2 {
		t.Fatalf("sub tasks = %d, want 2", len(subTasks))
	}
	// One ScriptContent row per sub task, and the second run never
	// re-invoked the LLM for them.
	scripts, _ := f.scriptRepo.GetByTask(dbc, f.taskID)
	if len(scripts) != 2 {
		t.Fatalf("script rows = %d, want 2", len(scripts))
	}
	if f.ai.scriptCalls != scriptCallsBefore {
		t.Fatalf("script LLM re-invoked on duplicate delivery: %d -> %d", scriptCallsBefore, f.ai.scriptCalls)
	}
}

func TestAnalysisConflictRuleKeepsCompleted(t *testing.T) {
	// A completed analysis row is never downgraded by a re-upsert.
	repo := newFakeAnalysisRepo()
	dbc := dbctx.Context{Ctx: context.Background()}
	taskID := uuid.New()

	first := &types.MaterialAnalysis{
		TaskID:        taskID,
		OriginalURL:   "https://cdn.example/a.jpg",
		Status:        types.AnalysisStatusCompleted,
		AIDescription: "good",
	}
	if _, err := repo.Upsert(dbc, first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	second := &types.MaterialAnalysis{
		TaskID:       taskID,
		OriginalURL:  "https://cdn.example/a.jpg",
		Status:       types.AnalysisStatusFailed,
		ErrorMessage: "late failure",
	}
	row, err := repo.Upsert(dbc, second)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if row.Status != types.AnalysisStatusCompleted {
		t.Fatalf("status = %s, want completed kept", row.Status)
	}
	if row.ErrorMessage != "late failure" {
		t.Fatalf("non-status fields must overwrite: %q", row.ErrorMessage)
	}
}

func TestPipelineAllScriptsFailed(t *testing.T) {
	f := newPipelineFixture(t, demoManifest, 2)
	f.ai.scriptOutput = "no json here"
	ctx := context.Background()

	_, err := f.orchestrator.RunTask(ctx, f.params(2))
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Kind != ErrAllScriptsFailed {
		t.Fatalf("error = %v", err)
	}
	task, _ := f.taskRepo.GetByID(dbctx.Context{Ctx: ctx}, f.taskID)
	if task.Status != types.TaskStatusFailed {
		t.Fatalf("task status = %s", task.Status)
	}
}

func TestPipelineAnalysisFailureRateBoundary(t *testing.T) {
	// A failure rate of exactly 90% must NOT abort (strict >).
	// 10 materials, 9 failing: build a manifest with 10 images and make
	// the vision model fail for all but one URL.
	manifest := "# Boundary case\n\nSome intro paragraph to satisfy validation.\n\n"
	for i := 0; i < 10; i++ {
		manifest += "![shot](https://cdn.example/img" + string(rune('0'+i)) + ".jpg)\n\n"
	}
	f := newPipelineFixture(t, manifest, 1)

	// Vision succeeds only on the first call; the other nine fail.
	calls := 0
	counting := &countingAI{inner: f.ai, failAfter: 1, calls: &calls}
	cfg := Config{
		DownloadPoolSize: 5, AnalysisPoolSize: 1, ScriptPoolSize: 3,
		MaxImages: 20, MaxVideos: 5, MaxFileSize: 10 << 20,
		KeyframesPerVideo: 3, MaxConcurrentTasks: 10,
		MergeTimeout:             defaultReconcilerConfig().MergeTimeout,
		SubtitleTimeout:          defaultReconcilerConfig().SubtitleTimeout,
		AnalysisFailureRateLimit: 0.9,
	}
	log := testLogger(t)
	tools := &stubMediaTools{}
	analyzer := NewMaterialAnalyzer(log, cfg, counting, f.bucket, tools, f.analysisRepo)
	processor := NewMaterialProcessor(log, cfg, f.bucket, tools, f.mediaRepo)
	scripts := NewScriptGenerator(log, cfg, f.ai, f.scriptRepo, f.subTaskRepo, newFakePersonaRepo(), &fakeTemplateRepo{})
	submitter := NewVideoSubmitter(log, cfg, f.merge, f.subTaskRepo)
	aggregator := NewAggregator(log, f.taskRepo, f.subTaskRepo, nopNotifier{})
	orch := NewOrchestrator(log, cfg, f.taskRepo, processor, analyzer, scripts, submitter, f.subTaskRepo, aggregator, nopNotifier{})

	if _, err := orch.RunTask(context.Background(), f.params(1)); err != nil {
		t.Fatalf("RunTask should tolerate exactly 90%% failures: %v", err)
	}
}

type countingAI struct {
	inner     *stubAI
	failAfter int
	calls     *int
}

func (c *countingAI) AnalyzeImage(ctx context.Context, imageURL string, prompt string, model string) (string, error) {
	*c.calls++
	if *c.calls > c.failAfter {
		return "", errors.New("vision unavailable")
	}
	return c.inner.visionOutput, nil
}

func (c *countingAI) GenerateScript(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	return c.inner.GenerateScript(ctx, prompt, maxTokens, temperature)
}

func TestPipelineCancellation(t *testing.T) {
	f := newPipelineFixture(t, demoManifest, 1)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}

	// Cancel before the run starts: the first stage boundary stops it.
	_, _ = f.taskRepo.UpdateStatus(dbc, f.taskID, types.TaskStatusCancelled, nil)

	_, err := f.orchestrator.RunTask(ctx, f.params(1))
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Kind != ErrCancelled {
		t.Fatalf("error = %v", err)
	}
	if n, _ := f.mediaRepo.CountByTask(dbc, f.taskID); n != 0 {
		t.Fatalf("media rows = %d, want 0 after pre-run cancel", n)
	}
}

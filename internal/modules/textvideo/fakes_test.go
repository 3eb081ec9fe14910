package textvideo

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/solocore/textloom/internal/clients/videomerge"
	"github.com/solocore/textloom/internal/platform/dbctx"
	"github.com/solocore/textloom/internal/services"
	"github.com/solocore/textloom/internal/types"
)

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// In-memory repo stands-ins. The task fake reproduces the store guards
// (terminal protection, monotonic progress, the downward rewrite window)
// so aggregate-level tests exercise the same invariants as the real
// store.

type fakeTaskRepo struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*types.Task

	forcedRewrites int
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: map[uuid.UUID]*types.Task{}}
}

func (r *fakeTaskRepo) Create(dbc dbctx.Context, task *types.Task) (*types.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	cp := *task
	r.tasks[task.ID] = &cp
	return task, nil
}

func (r *fakeTaskRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTaskRepo) List(dbc dbctx.Context, status string, limit, offset int) ([]*types.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Task
	for _, t := range r.tasks {
		if status == "" || t.Status == status {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeTaskRepo) UpdateStatus(dbc dbctx.Context, id uuid.UUID, status string, updates map[string]any) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return false, nil
	}
	if t.Status == types.TaskStatusCompleted && status != types.TaskStatusCompleted {
		return true, nil
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	for k, v := range updates {
		switch k {
		case "progress":
			if p, ok := toInt(v); ok && p > t.Progress {
				t.Progress = p
			}
		case "current_stage":
			t.CurrentStage = fmt.Sprint(v)
		case "error_message":
			t.ErrorMessage = fmt.Sprint(v)
		case "started_at":
			if ts, ok := v.(time.Time); ok {
				t.StartedAt = &ts
			}
		case "completed_at":
			if ts, ok := v.(time.Time); ok {
				t.CompletedAt = &ts
			}
		}
	}
	return true, nil
}

func (r *fakeTaskRepo) UpdateProgress(dbc dbctx.Context, id uuid.UUID, progress int, stage string, description string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return false, nil
	}
	if t.Status == types.TaskStatusCompleted {
		return true, nil
	}
	if progress > t.Progress {
		t.Progress = progress
	}
	if stage != "" {
		t.CurrentStage = stage
	}
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *fakeTaskRepo) UpdateStage(dbc dbctx.Context, id uuid.UUID, stage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok && t.Status != types.TaskStatusCompleted {
		t.CurrentStage = stage
	}
	return nil
}

func (r *fakeTaskRepo) ForceProgressRewrite(dbc dbctx.Context, id uuid.UUID, progress int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Progress < 100 {
		return false, nil
	}
	t.Progress = progress
	r.forcedRewrites++
	return true, nil
}

func (r *fakeTaskRepo) SetMultiVideoResults(dbc dbctx.Context, id uuid.UUID, results datatypes.JSON, completedCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok {
		t.MultiVideoResults = results
		t.CompletedVideoCount = completedCount
	}
	return nil
}

type fakeSubTaskRepo struct {
	mu   sync.Mutex
	rows map[string]*types.SubVideoTask
}

func newFakeSubTaskRepo() *fakeSubTaskRepo {
	return &fakeSubTaskRepo{rows: map[string]*types.SubVideoTask{}}
}

func (r *fakeSubTaskRepo) CreateIfAbsent(dbc dbctx.Context, sub *types.SubVideoTask) (*types.SubVideoTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.rows[sub.SubTaskID]; ok {
		cp := *existing
		return &cp, nil
	}
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	cp := *sub
	r.rows[sub.SubTaskID] = &cp
	out := *sub
	return &out, nil
}

func (r *fakeSubTaskRepo) GetBySubTaskID(dbc dbctx.Context, subTaskID string) (*types.SubVideoTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[subTaskID]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (r *fakeSubTaskRepo) GetByParent(dbc dbctx.Context, parentTaskID uuid.UUID) ([]*types.SubVideoTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.SubVideoTask
	for _, row := range r.rows {
		if row.ParentTaskID == parentTaskID {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VideoIndex < out[j].VideoIndex })
	return out, nil
}

func (r *fakeSubTaskRepo) UpdateFields(dbc dbctx.Context, subTaskID string, updates map[string]any) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[subTaskID]
	if !ok {
		return false, nil
	}
	for k, v := range updates {
		switch k {
		case "status":
			row.Status = fmt.Sprint(v)
		case "progress":
			if p, ok := toInt(v); ok {
				row.Progress = p
			}
		case "error_message":
			row.ErrorMessage = fmt.Sprint(v)
		case "video_url":
			row.VideoURL = fmt.Sprint(v)
		case "thumbnail_url":
			row.ThumbnailURL = fmt.Sprint(v)
		case "duration":
			switch d := v.(type) {
			case float64:
				row.Duration = d
			case int:
				row.Duration = float64(d)
			}
		case "course_media_id":
			row.CourseMediaID = fmt.Sprint(v)
		case "script_id":
			if id, ok := v.(uuid.UUID); ok {
				row.ScriptID = &id
			}
		case "script_data":
			if raw, ok := v.(datatypes.JSON); ok {
				row.ScriptData = raw
			}
		case "completed_at":
			if ts, ok := v.(time.Time); ok {
				row.CompletedAt = &ts
			}
		}
	}
	row.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *fakeSubTaskRepo) MarkFailed(dbc dbctx.Context, subTaskID string, errMsg string) (bool, error) {
	return r.UpdateFields(dbc, subTaskID, map[string]any{
		"status":        types.SubTaskStatusFailed,
		"error_message": errMsg,
	})
}

func (r *fakeSubTaskRepo) FetchProcessing(dbc dbctx.Context, limit int) ([]*types.SubVideoTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.SubVideoTask
	for _, row := range r.rows {
		if row.Status == types.SubTaskStatusProcessing || row.Status == types.SubTaskStatusProcessingSubtitles {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// setUpdatedAt backdates a row for timeout tests.
func (r *fakeSubTaskRepo) setUpdatedAt(subTaskID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[subTaskID]; ok {
		row.UpdatedAt = at
	}
}

type fakeMediaItemRepo struct {
	mu   sync.Mutex
	rows map[string]*types.MediaItem // key: task_id|url
}

func newFakeMediaItemRepo() *fakeMediaItemRepo {
	return &fakeMediaItemRepo{rows: map[string]*types.MediaItem{}}
}

func mediaKey(taskID uuid.UUID, url string) string { return taskID.String() + "|" + url }

func (r *fakeMediaItemRepo) Upsert(dbc dbctx.Context, item *types.MediaItem) (*types.MediaItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := mediaKey(item.TaskID, item.OriginalURL)
	if existing, ok := r.rows[key]; ok {
		item.ID = existing.ID
	} else if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	cp := *item
	r.rows[key] = &cp
	out := *item
	return &out, nil
}

func (r *fakeMediaItemRepo) GetByTaskAndURL(dbc dbctx.Context, taskID uuid.UUID, originalURL string) (*types.MediaItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[mediaKey(taskID, originalURL)]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (r *fakeMediaItemRepo) GetByTask(dbc dbctx.Context, taskID uuid.UUID) ([]*types.MediaItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.MediaItem
	for _, row := range r.rows {
		if row.TaskID == taskID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeMediaItemRepo) CountByTask(dbc dbctx.Context, taskID uuid.UUID) (int64, error) {
	rows, _ := r.GetByTask(dbc, taskID)
	return int64(len(rows)), nil
}

type fakeAnalysisRepo struct {
	mu   sync.Mutex
	rows map[string]*types.MaterialAnalysis // key: task_id|url
}

func newFakeAnalysisRepo() *fakeAnalysisRepo {
	return &fakeAnalysisRepo{rows: map[string]*types.MaterialAnalysis{}}
}

func (r *fakeAnalysisRepo) Upsert(dbc dbctx.Context, analysis *types.MaterialAnalysis) (*types.MaterialAnalysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := mediaKey(analysis.TaskID, analysis.OriginalURL)
	if existing, ok := r.rows[key]; ok {
		analysis.ID = existing.ID
		// Conflict rule: completed never downgraded.
		if existing.Status == types.AnalysisStatusCompleted {
			analysis.Status = types.AnalysisStatusCompleted
		}
	} else if analysis.ID == uuid.Nil {
		analysis.ID = uuid.New()
	}
	cp := *analysis
	r.rows[key] = &cp
	out := *analysis
	return &out, nil
}

func (r *fakeAnalysisRepo) GetByTaskAndURL(dbc dbctx.Context, taskID uuid.UUID, originalURL string) (*types.MaterialAnalysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[mediaKey(taskID, originalURL)]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (r *fakeAnalysisRepo) GetByTask(dbc dbctx.Context, taskID uuid.UUID) ([]*types.MaterialAnalysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.MaterialAnalysis
	for _, row := range r.rows {
		if row.TaskID == taskID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeAnalysisRepo) GetCompletedByTask(dbc dbctx.Context, taskID uuid.UUID) ([]*types.MaterialAnalysis, error) {
	all, _ := r.GetByTask(dbc, taskID)
	var out []*types.MaterialAnalysis
	for _, row := range all {
		if row.Status == types.AnalysisStatusCompleted {
			out = append(out, row)
		}
	}
	return out, nil
}

type fakeScriptRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.ScriptContent
}

func newFakeScriptRepo() *fakeScriptRepo {
	return &fakeScriptRepo{rows: map[uuid.UUID]*types.ScriptContent{}}
}

func (r *fakeScriptRepo) Create(dbc dbctx.Context, script *types.ScriptContent) (*types.ScriptContent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if script.ID == uuid.Nil {
		script.ID = uuid.New()
	}
	cp := *script
	r.rows[script.ID] = &cp
	out := *script
	return &out, nil
}

func (r *fakeScriptRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ScriptContent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (r *fakeScriptRepo) GetBySubTaskID(dbc dbctx.Context, subTaskID string) (*types.ScriptContent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.SubTaskID == subTaskID {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeScriptRepo) GetByTask(dbc dbctx.Context, taskID uuid.UUID) ([]*types.ScriptContent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.ScriptContent
	for _, row := range r.rows {
		if row.TaskID == taskID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeScriptRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil
	}
	for k, v := range updates {
		switch k {
		case "generation_status":
			row.GenerationStatus = fmt.Sprint(v)
		case "narration":
			row.Narration = fmt.Sprint(v)
		case "description":
			row.Description = fmt.Sprint(v)
		case "error_message":
			row.ErrorMessage = fmt.Sprint(v)
		case "generation_prompt":
			row.GenerationPrompt = fmt.Sprint(v)
		case "ai_response":
			row.AIResponse = fmt.Sprint(v)
		case "word_count":
			if n, ok := toInt(v); ok {
				row.WordCount = n
			}
		case "scene_count":
			if n, ok := toInt(v); ok {
				row.SceneCount = n
			}
		case "material_count":
			if n, ok := toInt(v); ok {
				row.MaterialCount = n
			}
		case "estimated_duration":
			if d, ok := v.(float64); ok {
				row.EstimatedDuration = d
			}
		case "titles":
			if raw, ok := v.(datatypes.JSON); ok {
				row.Titles = raw
			}
		case "scenes":
			if raw, ok := v.(datatypes.JSON); ok {
				row.Scenes = raw
			}
		case "material_mapping":
			if raw, ok := v.(datatypes.JSON); ok {
				row.MaterialMapping = raw
			}
		case "tags":
			if raw, ok := v.(datatypes.JSON); ok {
				row.Tags = raw
			}
		case "generated_at":
			if ts, ok := v.(time.Time); ok {
				row.GeneratedAt = &ts
			}
		}
	}
	return nil
}

type fakePersonaRepo struct {
	rows map[uuid.UUID]*types.Persona
}

func newFakePersonaRepo() *fakePersonaRepo {
	return &fakePersonaRepo{rows: map[uuid.UUID]*types.Persona{}}
}

func (r *fakePersonaRepo) Create(dbc dbctx.Context, persona *types.Persona) (*types.Persona, error) {
	if persona.ID == uuid.Nil {
		persona.ID = uuid.New()
	}
	r.rows[persona.ID] = persona
	return persona, nil
}

func (r *fakePersonaRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Persona, error) {
	return r.rows[id], nil
}

func (r *fakePersonaRepo) ListPresets(dbc dbctx.Context) ([]*types.Persona, error) {
	return nil, nil
}

type fakeTemplateRepo struct{}

func (r *fakeTemplateRepo) GetByTypeAndStyle(dbc dbctx.Context, templateType, templateStyle string) ([]*types.PromptTemplate, error) {
	return nil, nil
}

type fakeJobRepo struct {
	mu       sync.Mutex
	enqueued []*types.JobRun
	failNext bool
}

func (r *fakeJobRepo) Enqueue(dbc dbctx.Context, job *types.JobRun) (*types.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext {
		r.failNext = false
		return nil, fmt.Errorf("enqueue unavailable")
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	r.enqueued = append(r.enqueued, job)
	return job, nil
}

func (r *fakeJobRepo) ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay, staleRunning time.Duration) (*types.JobRun, error) {
	return nil, nil
}
func (r *fakeJobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]any) error {
	return nil
}
func (r *fakeJobRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []string, updates map[string]any) (bool, error) {
	return true, nil
}
func (r *fakeJobRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error { return nil }
func (r *fakeJobRepo) ExistsRunnable(dbc dbctx.Context, jobType string) (bool, error) {
	return false, nil
}

// Client stubs.

type stubAI struct {
	mu            sync.Mutex
	visionOutput  string
	scriptOutput  string
	visionErr     error
	scriptErr     error
	visionCalls   int
	scriptCalls   int
	scriptPrompts []string
}

func (s *stubAI) AnalyzeImage(ctx context.Context, imageURL string, prompt string, model string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visionCalls++
	if s.visionErr != nil {
		return "", s.visionErr
	}
	return s.visionOutput, nil
}

func (s *stubAI) GenerateScript(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scriptCalls++
	s.scriptPrompts = append(s.scriptPrompts, prompt)
	if s.scriptErr != nil {
		return "", s.scriptErr
	}
	return s.scriptOutput, nil
}

type stubMerge struct {
	mu         sync.Mutex
	submitErr  error
	queryErr   error
	submits    []videomerge.SubmitRequest
	results    map[string]*videomerge.QueryResult
	nextCMID   int
}

func newStubMerge() *stubMerge {
	return &stubMerge{results: map[string]*videomerge.QueryResult{}}
}

func (s *stubMerge) Submit(ctx context.Context, req videomerge.SubmitRequest) (*videomerge.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	s.submits = append(s.submits, req)
	s.nextCMID++
	return &videomerge.SubmitResult{CourseMediaID: fmt.Sprintf("cm-%d", s.nextCMID)}, nil
}

func (s *stubMerge) Query(ctx context.Context, courseMediaID string) (*videomerge.QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	if res, ok := s.results[courseMediaID]; ok {
		return res, nil
	}
	return &videomerge.QueryResult{Status: videomerge.MergeStatusProcessing}, nil
}

type stubBucket struct {
	mu      sync.Mutex
	uploads []string
	host    string
}

func (s *stubBucket) UploadFile(ctx context.Context, localPath string, objectKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, objectKey)
	return "https://cdn.test/" + objectKey, nil
}

func (s *stubBucket) UploadReader(ctx context.Context, objectKey string, r io.Reader) (string, error) {
	return s.UploadFile(ctx, "", objectKey)
}

func (s *stubBucket) DownloadFile(ctx context.Context, objectKey string, localPath string) error {
	return nil
}
func (s *stubBucket) DeleteFile(ctx context.Context, objectKey string) error { return nil }
func (s *stubBucket) ListFiles(ctx context.Context, prefix string, max int) ([]string, error) {
	return nil, nil
}
func (s *stubBucket) FileExists(ctx context.Context, objectKey string) (bool, error) {
	return false, nil
}
func (s *stubBucket) GetPublicURL(objectKey string) string { return "https://cdn.test/" + objectKey }
func (s *stubBucket) IsStoreURL(url string) bool {
	if s.host == "" {
		return false
	}
	return strings.Contains(url, s.host)
}

type stubMediaTools struct {
	meta     *services.VideoMetadata
	probeErr error
	frames   []services.Keyframe
}

func (s *stubMediaTools) AssertReady(ctx context.Context) error { return nil }

func (s *stubMediaTools) ProbeVideo(ctx context.Context, source string) (*services.VideoMetadata, error) {
	if s.probeErr != nil {
		return nil, s.probeErr
	}
	if s.meta != nil {
		return s.meta, nil
	}
	return &services.VideoMetadata{Width: 1920, Height: 1080, Duration: 12.5, FPS: 30}, nil
}

func (s *stubMediaTools) ExtractKeyframes(ctx context.Context, source string, outDir string, numFrames int) ([]services.Keyframe, error) {
	if s.frames != nil {
		return s.frames, nil
	}
	return []services.Keyframe{
		{Timestamp: 3.1, FramePath: "/tmp/kf0.jpg"},
		{Timestamp: 6.2, FramePath: "/tmp/kf1.jpg"},
	}, nil
}

type nopNotifier struct{}

func (nopNotifier) TaskProgress(ctx context.Context, taskID string, stage string, progress int, message string) {
}
func (nopNotifier) TaskStatus(ctx context.Context, taskID string, status string, message string) {}
func (nopNotifier) SubTaskStatus(ctx context.Context, taskID string, subTaskID string, status string, progress int, message string) {
}

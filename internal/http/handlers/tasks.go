package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/solocore/textloom/internal/platform/dbctx"
	"github.com/solocore/textloom/internal/platform/envutil"
	"github.com/solocore/textloom/internal/platform/logger"
	"github.com/solocore/textloom/internal/repos"
	"github.com/solocore/textloom/internal/types"
)

// TaskHandler is the thin task API: it persists the task row, lays out
// the workspace, and enqueues the pipeline job. All processing happens in
// workers; reads compose straight from stored rows.
type TaskHandler struct {
	log         *logger.Logger
	taskRepo    repos.TaskRepo
	subTaskRepo repos.SubVideoTaskRepo
	jobRepo     repos.JobRunRepo
	workRoot    string
}

func NewTaskHandler(baseLog *logger.Logger, taskRepo repos.TaskRepo, subTaskRepo repos.SubVideoTaskRepo, jobRepo repos.JobRunRepo) *TaskHandler {
	return &TaskHandler{
		log:         baseLog.With("handler", "TaskHandler"),
		taskRepo:    taskRepo,
		subTaskRepo: subTaskRepo,
		jobRepo:     jobRepo,
		workRoot:    envutil.String("WORKSPACE_ROOT", "workspace"),
	}
}

type createTaskRequest struct {
	Title         string            `json:"title" binding:"required"`
	Description   string            `json:"description"`
	CreatorID     string            `json:"creator_id"`
	Manifest      string            `json:"manifest" binding:"required"` // assembled markdown of user URLs
	Mode          string            `json:"mode"`
	PersonaID     string            `json:"persona_id"`
	SubVideoCount int               `json:"sub_video_count"`
	MaterialsMeta map[string]string `json:"materials_meta"`
}

func (h *TaskHandler) Create(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.SubVideoCount < 1 {
		req.SubVideoCount = 1
	}
	if req.SubVideoCount > 5 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sub_video_count must be between 1 and 5"})
		return
	}
	if req.Mode == "" {
		req.Mode = "multi_scene"
	}

	var personaID *uuid.UUID
	if req.PersonaID != "" {
		id, err := uuid.Parse(req.PersonaID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid persona_id"})
			return
		}
		personaID = &id
	}

	taskID := uuid.New()
	workspaceDir := filepath.Join(h.workRoot, "task_"+taskID.String())
	sourceFile := filepath.Join(workspaceDir, "source_manifest.md")
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("create workspace: %v", err)})
		return
	}
	if err := os.WriteFile(sourceFile, []byte(req.Manifest), 0o644); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("write manifest: %v", err)})
		return
	}
	if len(req.MaterialsMeta) > 0 {
		raw, _ := json.Marshal(req.MaterialsMeta)
		if err := os.WriteFile(filepath.Join(workspaceDir, "materials_meta.json"), raw, 0o644); err != nil {
			h.log.Warn("materials_meta write failed", "task_id", taskID, "error", err)
		}
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	task, err := h.taskRepo.Create(dbc, &types.Task{
		ID:            taskID,
		Title:         req.Title,
		Description:   req.Description,
		CreatorID:     req.CreatorID,
		TaskType:      "text_to_video",
		Status:        types.TaskStatusPending,
		Mode:          req.Mode,
		PersonaID:     personaID,
		SubVideoCount: req.SubVideoCount,
		WorkspaceDir:  workspaceDir,
		SourceFile:    sourceFile,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	payload := map[string]any{
		"task_id":       taskID.String(),
		"source_file":   sourceFile,
		"workspace_dir": workspaceDir,
		"mode":          req.Mode,
		"sub_count":     req.SubVideoCount,
	}
	if personaID != nil {
		payload["persona_id"] = personaID.String()
	}
	raw, _ := json.Marshal(payload)
	if _, err := h.jobRepo.Enqueue(dbc, &types.JobRun{
		JobType:    types.JobTypeTextVideoPipeline,
		EntityType: "task",
		EntityID:   &taskID,
		Payload:    datatypes.JSON(raw),
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("enqueue pipeline job: %v", err)})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"task": task})
}

func (h *TaskHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	task, err := h.taskRepo.GetByID(dbc, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if task == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	subTasks, err := h.subTaskRepo.GetByParent(dbc, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task, "sub_tasks": subTasks})
}

func (h *TaskHandler) List(c *gin.Context) {
	limit := 20
	offset := 0
	if v := c.Query("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	if v := c.Query("offset"); v != "" {
		fmt.Sscanf(v, "%d", &offset)
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	tasks, err := h.taskRepo.List(dbc, c.Query("status"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// Cancel flips a non-terminal task to cancelled; the orchestrator stops
// at the next stage boundary. Sub tasks already submitted to the merge
// service continue and are reconciled to terminal states.
func (h *TaskHandler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	task, err := h.taskRepo.GetByID(dbc, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if task == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if types.IsTerminalTaskStatus(task.Status) {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("task is already %s", task.Status)})
		return
	}
	if _, err := h.taskRepo.UpdateStatus(dbc, id, types.TaskStatusCancelled, map[string]any{
		"error_message": "cancelled by user",
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": types.TaskStatusCancelled})
}

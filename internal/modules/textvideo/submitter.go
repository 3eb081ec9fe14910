package textvideo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/solocore/textloom/internal/clients/videomerge"
	"github.com/solocore/textloom/internal/platform/dbctx"
	"github.com/solocore/textloom/internal/platform/logger"
	"github.com/solocore/textloom/internal/repos"
	"github.com/solocore/textloom/internal/types"
)

// VideoSubmitter runs stage 5 submission: for every sub task with a
// generated script it hands narration, scenes and media URLs to the
// external merge service and records the returned course_media_id. No
// synchronous waiting happens here; the reconciler converges the rest.
type VideoSubmitter struct {
	log         *logger.Logger
	cfg         Config
	merge       videomerge.Client
	subTaskRepo repos.SubVideoTaskRepo
}

func NewVideoSubmitter(
	baseLog *logger.Logger,
	cfg Config,
	merge videomerge.Client,
	subTaskRepo repos.SubVideoTaskRepo,
) *VideoSubmitter {
	return &VideoSubmitter{
		log:         baseLog.With("component", "VideoSubmitter"),
		cfg:         cfg,
		merge:       merge,
		subTaskRepo: subTaskRepo,
	}
}

// SubmitResultRow summarizes one submission for the parent's multi-video
// results list.
type SubmitResultRow struct {
	SubTaskID     string `json:"sub_task_id"`
	SubTaskIndex  int    `json:"sub_task_index"`
	ScriptStyle   string `json:"script_style"`
	Success       bool   `json:"success"`
	Status        string `json:"status"`
	VideoURL      string `json:"video_url,omitempty"`
	ThumbnailURL  string `json:"thumbnail_url,omitempty"`
	Duration      float64 `json:"duration,omitempty"`
	CourseMediaID string `json:"course_media_id,omitempty"`
	Error         string `json:"error,omitempty"`
	GeneratedAt   string `json:"generated_at"`
}

// SubmitAll fans out merge submissions for the sub tasks that are ready:
// script data present and status processing. A submission failure marks
// only that sub task failed.
func (s *VideoSubmitter) SubmitAll(ctx context.Context, taskID uuid.UUID, title string, mode string, mediaItems []*types.MediaItem, subTaskIDs []string) []SubmitResultRow {
	dbc := dbctx.Context{Ctx: ctx}

	var ready []*types.SubVideoTask
	for _, subTaskID := range subTaskIDs {
		sub, err := s.subTaskRepo.GetBySubTaskID(dbc, subTaskID)
		if err != nil {
			s.log.Warn("sub task load failed", "sub_task_id", subTaskID, "error", err)
			continue
		}
		if sub == nil {
			continue
		}
		if len(sub.ScriptData) == 0 || sub.Status != types.SubTaskStatusProcessing {
			s.log.Warn("sub task not ready for submission, skipping",
				"sub_task_id", subTaskID,
				"status", sub.Status,
				"has_script", len(sub.ScriptData) > 0,
			)
			continue
		}
		ready = append(ready, sub)
	}
	if len(ready) == 0 {
		s.log.Warn("no sub tasks ready for video submission", "task_id", taskID)
		return nil
	}

	mediaURLs := make([]string, 0, len(mediaItems))
	for _, item := range mediaItems {
		if item.MediaType == types.MediaTypeAudio {
			continue
		}
		if item.CloudURL != "" {
			mediaURLs = append(mediaURLs, item.CloudURL)
		} else if item.OriginalURL != "" {
			mediaURLs = append(mediaURLs, item.OriginalURL)
		}
	}

	results := make([]SubmitResultRow, len(ready))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ScriptPoolSize)
	for i, sub := range ready {
		g.Go(func() error {
			row := s.submitOne(gctx, taskID, title, mode, mediaURLs, sub)
			mu.Lock()
			results[i] = row
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *VideoSubmitter) submitOne(ctx context.Context, taskID uuid.UUID, title string, mode string, mediaURLs []string, sub *types.SubVideoTask) SubmitResultRow {
	dbc := dbctx.Context{Ctx: ctx}
	row := SubmitResultRow{
		SubTaskID:    sub.SubTaskID,
		SubTaskIndex: sub.VideoIndex,
		ScriptStyle:  sub.ScriptStyle,
		GeneratedAt:  time.Now().UTC().Format(time.RFC3339),
	}

	var scriptData struct {
		Narration string  `json:"narration"`
		Scenes    []Scene `json:"scenes"`
	}
	if err := json.Unmarshal(sub.ScriptData, &scriptData); err != nil || scriptData.Narration == "" {
		msg := "sub task script data is empty or unreadable"
		if err != nil {
			msg = fmt.Sprintf("script data decode: %v", err)
		}
		s.failSubTask(dbc, sub.SubTaskID, msg)
		row.Success = false
		row.Status = types.SubTaskStatusFailed
		row.Error = msg
		return row
	}

	if _, err := s.subTaskRepo.UpdateFields(dbc, sub.SubTaskID, map[string]any{
		"status":   types.SubTaskStatusProcessing,
		"progress": 75,
	}); err != nil {
		s.log.Warn("pre-submit progress write failed", "sub_task_id", sub.SubTaskID, "error", err)
	}

	scenes := make([]videomerge.Scene, 0, len(scriptData.Scenes))
	for _, scene := range scriptData.Scenes {
		ms := videomerge.Scene{
			SceneID:   scene.SceneID,
			Timing:    scene.Timing,
			Narration: scene.Narration,
		}
		if scene.MaterialID != nil {
			ms.MaterialID = *scene.MaterialID
		}
		scenes = append(scenes, ms)
	}

	submitted, err := s.merge.Submit(ctx, videomerge.SubmitRequest{
		TaskID:    taskID.String(),
		Title:     title,
		Narration: scriptData.Narration,
		Scenes:    scenes,
		MediaURLs: mediaURLs,
		Mode:      mode,
	})
	if err != nil {
		s.failSubTask(dbc, sub.SubTaskID, fmt.Sprintf("merge submit: %v", err))
		row.Success = false
		row.Status = types.SubTaskStatusFailed
		row.Error = err.Error()
		return row
	}

	switch {
	case submitted.Status == "completed" && submitted.VideoURL != "":
		// The service finished synchronously; rare, but honored.
		now := time.Now().UTC()
		if _, err := s.subTaskRepo.UpdateFields(dbc, sub.SubTaskID, map[string]any{
			"status":          types.SubTaskStatusCompleted,
			"progress":        100,
			"video_url":       submitted.VideoURL,
			"thumbnail_url":   submitted.ThumbnailURL,
			"duration":        submitted.Duration,
			"course_media_id": submitted.CourseMediaID,
			"completed_at":    now,
		}); err != nil {
			s.log.Error("completed sub task write failed", "sub_task_id", sub.SubTaskID, "error", err)
		}
		row.Success = true
		row.Status = types.SubTaskStatusCompleted
		row.VideoURL = submitted.VideoURL
		row.ThumbnailURL = submitted.ThumbnailURL
		row.Duration = submitted.Duration
		row.CourseMediaID = submitted.CourseMediaID
	case submitted.CourseMediaID != "":
		if _, err := s.subTaskRepo.UpdateFields(dbc, sub.SubTaskID, map[string]any{
			"status":          types.SubTaskStatusProcessing,
			"progress":        80,
			"course_media_id": submitted.CourseMediaID,
		}); err != nil {
			s.log.Error("submitted sub task write failed", "sub_task_id", sub.SubTaskID, "error", err)
		}
		s.log.Info("merge submitted, awaiting reconciler",
			"sub_task_id", sub.SubTaskID,
			"course_media_id", submitted.CourseMediaID,
		)
		row.Success = true
		row.Status = types.SubTaskStatusProcessing
		row.CourseMediaID = submitted.CourseMediaID
	default:
		msg := fmt.Sprintf("merge accepted with inconsistent state: status=%s course_media_id=%s", submitted.Status, submitted.CourseMediaID)
		s.failSubTask(dbc, sub.SubTaskID, msg)
		row.Success = false
		row.Status = types.SubTaskStatusFailed
		row.Error = msg
	}
	return row
}

func (s *VideoSubmitter) failSubTask(dbc dbctx.Context, subTaskID string, msg string) {
	if _, err := s.subTaskRepo.UpdateFields(dbc, subTaskID, map[string]any{
		"status":        types.SubTaskStatusFailed,
		"error_message": msg,
		"progress":      0,
	}); err != nil {
		s.log.Error("sub task failure write error", "sub_task_id", subTaskID, "error", err)
	}
}

package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/solocore/textloom/internal/types"
)

func SeedTask(tb testing.TB, ctx context.Context, tx *gorm.DB, title string) *types.Task {
	tb.Helper()
	task := &types.Task{
		ID:            uuid.New(),
		Title:         title,
		TaskType:      "text_to_video",
		Status:        types.TaskStatusPending,
		SubVideoCount: 1,
	}
	if err := tx.WithContext(ctx).Create(task).Error; err != nil {
		tb.Fatalf("seed task: %v", err)
	}
	return task
}

func SeedSubVideoTask(tb testing.TB, ctx context.Context, tx *gorm.DB, parent *types.Task, index int, status string) *types.SubVideoTask {
	tb.Helper()
	sub := &types.SubVideoTask{
		ID:           uuid.New(),
		SubTaskID:    types.SubTaskIDFor(parent.ID, index),
		ParentTaskID: parent.ID,
		VideoIndex:   index,
		ScriptStyle:  types.ScriptStyleDefault,
		Status:       status,
	}
	if err := tx.WithContext(ctx).Create(sub).Error; err != nil {
		tb.Fatalf("seed sub video task: %v", err)
	}
	return sub
}

func SeedMediaItem(tb testing.TB, ctx context.Context, tx *gorm.DB, taskID uuid.UUID, url string) *types.MediaItem {
	tb.Helper()
	item := &types.MediaItem{
		ID:          uuid.New(),
		TaskID:      taskID,
		OriginalURL: url,
		MediaType:   types.MediaTypeImage,
		Filename:    "file.jpg",
	}
	if err := tx.WithContext(ctx).Create(item).Error; err != nil {
		tb.Fatalf("seed media item: %v", err)
	}
	return item
}

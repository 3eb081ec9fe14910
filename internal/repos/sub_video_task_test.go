package repos

import (
	"context"
	"testing"
	"time"

	"github.com/solocore/textloom/internal/platform/dbctx"
	"github.com/solocore/textloom/internal/repos/testutil"
	"github.com/solocore/textloom/internal/types"
)

func TestSubVideoTaskCreateIfAbsent(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewSubVideoTaskRepo(db, testutil.Logger(t))
	task := testutil.SeedTask(t, ctx, tx, "subtasks")

	subTaskID := types.SubTaskIDFor(task.ID, 1)
	first, err := repo.CreateIfAbsent(dbc, &types.SubVideoTask{
		SubTaskID:    subTaskID,
		ParentTaskID: task.ID,
		VideoIndex:   1,
		Status:       types.SubTaskStatusPending,
	})
	if err != nil {
		t.Fatalf("CreateIfAbsent: %v", err)
	}

	// Mutate, then re-create with the same natural key: the existing row
	// must survive untouched.
	if _, err := repo.UpdateFields(dbc, subTaskID, map[string]any{
		"status":   types.SubTaskStatusProcessing,
		"progress": 50,
	}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	second, err := repo.CreateIfAbsent(dbc, &types.SubVideoTask{
		SubTaskID:    subTaskID,
		ParentTaskID: task.ID,
		VideoIndex:   1,
		Status:       types.SubTaskStatusPending,
	})
	if err != nil {
		t.Fatalf("second CreateIfAbsent: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate row created: %s != %s", second.ID, first.ID)
	}
	if second.Status != types.SubTaskStatusProcessing || second.Progress != 50 {
		t.Fatalf("existing row overwritten: %+v", second)
	}
}

func TestSubVideoTaskFetchProcessingOrder(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewSubVideoTaskRepo(db, testutil.Logger(t))
	task := testutil.SeedTask(t, ctx, tx, "ordering")

	older := testutil.SeedSubVideoTask(t, ctx, tx, task, 1, types.SubTaskStatusProcessing)
	newer := testutil.SeedSubVideoTask(t, ctx, tx, task, 2, types.SubTaskStatusProcessingSubtitles)
	done := testutil.SeedSubVideoTask(t, ctx, tx, task, 3, types.SubTaskStatusCompleted)

	now := time.Now().UTC()
	if err := tx.Model(&types.SubVideoTask{}).Where("id = ?", older.ID).
		Update("updated_at", now.Add(-2*time.Hour)).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}
	if err := tx.Model(&types.SubVideoTask{}).Where("id = ?", newer.ID).
		Update("updated_at", now.Add(-1*time.Hour)).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}

	rows, err := repo.FetchProcessing(dbc, 10)
	if err != nil {
		t.Fatalf("FetchProcessing: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 (completed excluded)", len(rows))
	}
	if rows[0].ID != older.ID || rows[1].ID != newer.ID {
		t.Fatal("not ordered by updated_at ASC")
	}
	for _, row := range rows {
		if row.ID == done.ID {
			t.Fatal("terminal row selected")
		}
	}
}

package repos

import (
	"context"
	"testing"

	"github.com/solocore/textloom/internal/platform/dbctx"
	"github.com/solocore/textloom/internal/repos/testutil"
	"github.com/solocore/textloom/internal/types"
)

func TestMediaItemUpsertUnique(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewMediaItemRepo(db, testutil.Logger(t))
	task := testutil.SeedTask(t, ctx, tx, "media")
	url := "https://cdn.example/a.jpg"

	first, err := repo.Upsert(dbc, &types.MediaItem{
		TaskID:      task.ID,
		OriginalURL: url,
		MediaType:   types.MediaTypeImage,
		Filename:    "a.jpg",
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	second, err := repo.Upsert(dbc, &types.MediaItem{
		TaskID:      task.ID,
		OriginalURL: url,
		MediaType:   types.MediaTypeImage,
		Filename:    "a.jpg",
		Resolution:  "800x600",
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate row: %s != %s", second.ID, first.ID)
	}
	if second.Resolution != "800x600" {
		t.Fatalf("metadata not refreshed: %q", second.Resolution)
	}

	n, err := repo.CountByTask(dbc, task.ID)
	if err != nil {
		t.Fatalf("CountByTask: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}
}

package repos

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/solocore/textloom/internal/platform/dbctx"
	"github.com/solocore/textloom/internal/platform/logger"
	"github.com/solocore/textloom/internal/types"
)

type MediaItemRepo interface {
	// Upsert inserts the item or, when (task_id, original_url) already
	// exists, refreshes the mutable metadata on the existing row.
	Upsert(dbc dbctx.Context, item *types.MediaItem) (*types.MediaItem, error)
	GetByTaskAndURL(dbc dbctx.Context, taskID uuid.UUID, originalURL string) (*types.MediaItem, error)
	GetByTask(dbc dbctx.Context, taskID uuid.UUID) ([]*types.MediaItem, error)
	CountByTask(dbc dbctx.Context, taskID uuid.UUID) (int64, error)
}

type mediaItemRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMediaItemRepo(db *gorm.DB, baseLog *logger.Logger) MediaItemRepo {
	return &mediaItemRepo{db: db, log: baseLog.With("repo", "MediaItemRepo")}
}

func (r *mediaItemRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *mediaItemRepo) Upsert(dbc dbctx.Context, item *types.MediaItem) (*types.MediaItem, error) {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "task_id"}, {Name: "original_url"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"cloud_url", "local_path", "filename", "mime_type", "file_size",
				"resolution", "duration", "context_before", "caption", "context_after",
				"surrounding_paragraph", "position_in_content", "manual_description",
				"updated_at",
			}),
		}).
		Create(item).Error
	if err != nil {
		return nil, err
	}
	return r.GetByTaskAndURL(dbc, item.TaskID, item.OriginalURL)
}

func (r *mediaItemRepo) GetByTaskAndURL(dbc dbctx.Context, taskID uuid.UUID, originalURL string) (*types.MediaItem, error) {
	var item types.MediaItem
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("task_id = ? AND original_url = ?", taskID, originalURL).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *mediaItemRepo) GetByTask(dbc dbctx.Context, taskID uuid.UUID) ([]*types.MediaItem, error) {
	var out []*types.MediaItem
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("task_id = ?", taskID).
		Order("position_in_content ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *mediaItemRepo) CountByTask(dbc dbctx.Context, taskID uuid.UUID) (int64, error) {
	var n int64
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.MediaItem{}).
		Where("task_id = ?", taskID).
		Count(&n).Error
	return n, err
}

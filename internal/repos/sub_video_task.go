package repos

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/solocore/textloom/internal/platform/dbctx"
	"github.com/solocore/textloom/internal/platform/logger"
	"github.com/solocore/textloom/internal/types"
)

type SubVideoTaskRepo interface {
	// CreateIfAbsent inserts the row keyed by sub_task_id, leaving an
	// existing row untouched so pipeline re-runs are no-ops.
	CreateIfAbsent(dbc dbctx.Context, sub *types.SubVideoTask) (*types.SubVideoTask, error)
	GetBySubTaskID(dbc dbctx.Context, subTaskID string) (*types.SubVideoTask, error)
	GetByParent(dbc dbctx.Context, parentTaskID uuid.UUID) ([]*types.SubVideoTask, error)

	// UpdateFields applies a partial update to the row identified by
	// sub_task_id. Re-applying the same terminal update is a no-op.
	UpdateFields(dbc dbctx.Context, subTaskID string, updates map[string]any) (bool, error)
	MarkFailed(dbc dbctx.Context, subTaskID string, errMsg string) (bool, error)

	// FetchProcessing returns sub tasks in processing states ordered by
	// oldest updated_at first, bounded by limit. Used by the reconciler.
	FetchProcessing(dbc dbctx.Context, limit int) ([]*types.SubVideoTask, error)
}

type subVideoTaskRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSubVideoTaskRepo(db *gorm.DB, baseLog *logger.Logger) SubVideoTaskRepo {
	return &subVideoTaskRepo{db: db, log: baseLog.With("repo", "SubVideoTaskRepo")}
}

func (r *subVideoTaskRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *subVideoTaskRepo) CreateIfAbsent(dbc dbctx.Context, sub *types.SubVideoTask) (*types.SubVideoTask, error) {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "sub_task_id"}},
			DoNothing: true,
		}).
		Create(sub).Error
	if err != nil {
		return nil, err
	}
	return r.GetBySubTaskID(dbc, sub.SubTaskID)
}

func (r *subVideoTaskRepo) GetBySubTaskID(dbc dbctx.Context, subTaskID string) (*types.SubVideoTask, error) {
	var sub types.SubVideoTask
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("sub_task_id = ?", subTaskID).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subVideoTaskRepo) GetByParent(dbc dbctx.Context, parentTaskID uuid.UUID) ([]*types.SubVideoTask, error) {
	var out []*types.SubVideoTask
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("parent_task_id = ?", parentTaskID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *subVideoTaskRepo) UpdateFields(dbc dbctx.Context, subTaskID string, updates map[string]any) (bool, error) {
	if len(updates) == 0 {
		return false, nil
	}
	set := map[string]any{"updated_at": time.Now().UTC()}
	for k, v := range updates {
		set[k] = v
	}
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.SubVideoTask{}).
		Where("sub_task_id = ?", subTaskID).
		Updates(set)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *subVideoTaskRepo) MarkFailed(dbc dbctx.Context, subTaskID string, errMsg string) (bool, error) {
	return r.UpdateFields(dbc, subTaskID, map[string]any{
		"status":        types.SubTaskStatusFailed,
		"error_message": errMsg,
	})
}

func (r *subVideoTaskRepo) FetchProcessing(dbc dbctx.Context, limit int) ([]*types.SubVideoTask, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*types.SubVideoTask
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("status IN ?", []string{types.SubTaskStatusProcessing, types.SubTaskStatusProcessingSubtitles}).
		Order("updated_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

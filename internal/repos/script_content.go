package repos

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/solocore/textloom/internal/platform/dbctx"
	"github.com/solocore/textloom/internal/platform/logger"
	"github.com/solocore/textloom/internal/types"
)

type ScriptContentRepo interface {
	Create(dbc dbctx.Context, script *types.ScriptContent) (*types.ScriptContent, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ScriptContent, error)
	GetBySubTaskID(dbc dbctx.Context, subTaskID string) (*types.ScriptContent, error)
	GetByTask(dbc dbctx.Context, taskID uuid.UUID) ([]*types.ScriptContent, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]any) error
}

type scriptContentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewScriptContentRepo(db *gorm.DB, baseLog *logger.Logger) ScriptContentRepo {
	return &scriptContentRepo{db: db, log: baseLog.With("repo", "ScriptContentRepo")}
}

func (r *scriptContentRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *scriptContentRepo) Create(dbc dbctx.Context, script *types.ScriptContent) (*types.ScriptContent, error) {
	if script.ID == uuid.Nil {
		script.ID = uuid.New()
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(script).Error; err != nil {
		return nil, err
	}
	return script, nil
}

func (r *scriptContentRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ScriptContent, error) {
	var row types.ScriptContent
	err := r.handle(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *scriptContentRepo) GetBySubTaskID(dbc dbctx.Context, subTaskID string) (*types.ScriptContent, error) {
	var row types.ScriptContent
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("sub_task_id = ?", subTaskID).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *scriptContentRepo) GetByTask(dbc dbctx.Context, taskID uuid.UUID) ([]*types.ScriptContent, error) {
	var out []*types.ScriptContent
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("task_id = ?", taskID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *scriptContentRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	set := map[string]any{"updated_at": time.Now().UTC()}
	for k, v := range updates {
		set[k] = v
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.ScriptContent{}).
		Where("id = ?", id).
		Updates(set).Error
}

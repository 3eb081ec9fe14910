package repos

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/solocore/textloom/internal/platform/dbctx"
	"github.com/solocore/textloom/internal/platform/logger"
	"github.com/solocore/textloom/internal/types"
)

type TaskRepo interface {
	Create(dbc dbctx.Context, task *types.Task) (*types.Task, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Task, error)
	List(dbc dbctx.Context, status string, limit, offset int) ([]*types.Task, error)

	// UpdateStatus applies a guarded status write: the row is locked, a
	// completed task is never overwritten by a non-completed status, and
	// any progress in updates is clamped to max(current, proposed).
	UpdateStatus(dbc dbctx.Context, id uuid.UUID, status string, updates map[string]any) (bool, error)

	// UpdateProgress raises progress (never lowers it) and records the stage
	// plus a human description. Same terminal protection as UpdateStatus.
	UpdateProgress(dbc dbctx.Context, id uuid.UUID, progress int, stage string, description string) (bool, error)

	UpdateStage(dbc dbctx.Context, id uuid.UUID, stage string) error

	// ForceProgressRewrite is the single sanctioned downward write: it
	// lowers progress only when the stored value is already >= 100. It does
	// not look at sub tasks; the aggregator calls it only while non-terminal
	// sub tasks remain. All other writers go through
	// UpdateStatus/UpdateProgress.
	ForceProgressRewrite(dbc dbctx.Context, id uuid.UUID, progress int) (bool, error)

	SetMultiVideoResults(dbc dbctx.Context, id uuid.UUID, results datatypes.JSON, completedCount int) error
}

type taskRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskRepo(db *gorm.DB, baseLog *logger.Logger) TaskRepo {
	return &taskRepo{db: db, log: baseLog.With("repo", "TaskRepo")}
}

func (r *taskRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *taskRepo) Create(dbc dbctx.Context, task *types.Task) (*types.Task, error) {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

func (r *taskRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Task, error) {
	var task types.Task
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *taskRepo) List(dbc dbctx.Context, status string, limit, offset int) ([]*types.Task, error) {
	if limit <= 0 {
		limit = 20
	}
	q := r.handle(dbc).WithContext(dbc.Ctx).Model(&types.Task{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []*types.Task
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *taskRepo) UpdateStatus(dbc dbctx.Context, id uuid.UUID, status string, updates map[string]any) (bool, error) {
	applied := false
	err := r.handle(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		var current types.Task
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		// Terminal protection: completed stays completed. The write is
		// swallowed, not failed, so racing writers remain idempotent.
		if current.Status == types.TaskStatusCompleted && status != types.TaskStatusCompleted {
			r.log.Debug("Ignoring status write on completed task", "task_id", id, "status", status)
			applied = true
			return nil
		}

		set := map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}
		for k, v := range updates {
			set[k] = v
		}
		if p, ok := set["progress"]; ok && p != nil {
			if proposed, ok := toInt(p); ok {
				if proposed < current.Progress {
					proposed = current.Progress
				}
				set["progress"] = proposed
			}
		}

		res := tx.Model(&types.Task{}).Where("id = ?", id).Updates(set)
		if res.Error != nil {
			return res.Error
		}
		applied = res.RowsAffected > 0
		return nil
	})
	return applied, err
}

func (r *taskRepo) UpdateProgress(dbc dbctx.Context, id uuid.UUID, progress int, stage string, description string) (bool, error) {
	applied := false
	err := r.handle(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		var current types.Task
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if current.Status == types.TaskStatusCompleted {
			applied = true
			return nil
		}
		if progress < current.Progress {
			progress = current.Progress
		}
		set := map[string]any{
			"progress":   progress,
			"updated_at": time.Now().UTC(),
		}
		if stage != "" {
			set["current_stage"] = stage
		}
		if description != "" {
			set["description"] = description
		}
		res := tx.Model(&types.Task{}).Where("id = ?", id).Updates(set)
		if res.Error != nil {
			return res.Error
		}
		applied = res.RowsAffected > 0
		return nil
	})
	return applied, err
}

func (r *taskRepo) UpdateStage(dbc dbctx.Context, id uuid.UUID, stage string) error {
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.Task{}).
		Where("id = ? AND status NOT IN ?", id, []string{types.TaskStatusCompleted}).
		Updates(map[string]any{"current_stage": stage, "updated_at": time.Now().UTC()}).Error
}

func (r *taskRepo) ForceProgressRewrite(dbc dbctx.Context, id uuid.UUID, progress int) (bool, error) {
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.Task{}).
		Where("id = ? AND progress >= 100", id).
		Updates(map[string]any{"progress": progress, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		r.log.Warn("Forced downward progress rewrite", "task_id", id, "progress", progress)
	}
	return res.RowsAffected > 0, nil
}

func (r *taskRepo) SetMultiVideoResults(dbc dbctx.Context, id uuid.UUID, results datatypes.JSON, completedCount int) error {
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.Task{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"multi_video_results":   results,
			"completed_video_count": completedCount,
			"updated_at":            time.Now().UTC(),
		}).Error
}

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

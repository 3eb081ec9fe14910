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

type JobRunRepo interface {
	Enqueue(dbc dbctx.Context, job *types.JobRun) (*types.JobRun, error)

	// ClaimNextRunnable picks one runnable job and marks it running,
	// using FOR UPDATE SKIP LOCKED so concurrent workers never claim the
	// same row. Runnable means: queued, or failed with attempts left and
	// the retry delay elapsed, or running with a stale heartbeat.
	ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay, staleRunning time.Duration) (*types.JobRun, error)

	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]any) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []string, updates map[string]any) (bool, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error

	// ExistsRunnable reports whether a queued or running job of the given
	// type already exists; the scheduler uses it to avoid tick pileups.
	ExistsRunnable(dbc dbctx.Context, jobType string) (bool, error)
}

type jobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return &jobRunRepo{db: db, log: baseLog.With("repo", "JobRunRepo")}
}

func (r *jobRunRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *jobRunRepo) Enqueue(dbc dbctx.Context, job *types.JobRun) (*types.JobRun, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = types.JobStatusQueued
	}
	if job.Stage == "" {
		job.Stage = types.JobStatusQueued
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRunRepo) ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay, staleRunning time.Duration) (*types.JobRun, error) {
	now := time.Now().UTC()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)

	var claimed *types.JobRun
	err := r.handle(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		var job types.JobRun
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        (
          status = ?
          OR (
            status = ?
            AND attempts < ?
            AND (last_error_at IS NULL OR last_error_at < ?)
          )
          OR (
            status = ?
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
          )
        )
      `, types.JobStatusQueued, types.JobStatusFailed, maxAttempts, retryCutoff, types.JobStatusRunning, staleCutoff).
			Order("created_at ASC").
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		updates := map[string]any{
			"status":       types.JobStatusRunning,
			"stage":        "running",
			"attempts":     job.Attempts + 1,
			"locked_at":    now,
			"heartbeat_at": now,
			"updated_at":   now,
		}
		if err := tx.Model(&types.JobRun{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
			return err
		}
		job.Status = types.JobStatusRunning
		job.Attempts++
		job.LockedAt = &now
		job.HeartbeatAt = &now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRunRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	set := map[string]any{"updated_at": time.Now().UTC()}
	for k, v := range updates {
		set[k] = v
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.JobRun{}).
		Where("id = ?", id).
		Updates(set).Error
}

func (r *jobRunRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []string, updates map[string]any) (bool, error) {
	if len(updates) == 0 {
		return false, nil
	}
	set := map[string]any{"updated_at": time.Now().UTC()}
	for k, v := range updates {
		set[k] = v
	}
	q := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.JobRun{}).
		Where("id = ?", id)
	if len(disallowed) > 0 {
		q = q.Where("status NOT IN ?", disallowed)
	}
	res := q.Updates(set)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.JobRun{}).
		Where("id = ?", id).
		Updates(map[string]any{"heartbeat_at": now, "updated_at": now}).Error
}

func (r *jobRunRepo) ExistsRunnable(dbc dbctx.Context, jobType string) (bool, error) {
	var n int64
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.JobRun{}).
		Where("job_type = ? AND status IN ?", jobType, []string{types.JobStatusQueued, types.JobStatusRunning}).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

package jobs

import (
	"context"
	"time"

	"github.com/solocore/textloom/internal/platform/dbctx"
	"github.com/solocore/textloom/internal/platform/envutil"
	"github.com/solocore/textloom/internal/platform/logger"
	"github.com/solocore/textloom/internal/repos"
	"github.com/solocore/textloom/internal/types"
)

// Scheduler enqueues the periodic merge reconciliation job. A new tick is
// only queued when no reconcile run is already queued or running, so a
// slow pass never piles up behind itself. Delivery stays at-least-once;
// the reconciler is idempotent.
type Scheduler struct {
	log      *logger.Logger
	jobRepo  repos.JobRunRepo
	interval time.Duration
}

func NewScheduler(baseLog *logger.Logger, jobRepo repos.JobRunRepo) *Scheduler {
	return &Scheduler{
		log:      baseLog.With("component", "MaintenanceScheduler"),
		jobRepo:  jobRepo,
		interval: envutil.Duration("RECONCILE_INTERVAL", 30*time.Second),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.log.Info("Maintenance scheduler started", "interval", s.interval.String())
		for {
			select {
			case <-ctx.Done():
				s.log.Info("Maintenance scheduler stopped")
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

func (s *Scheduler) tick(ctx context.Context) {
	dbc := dbctx.Context{Ctx: ctx}
	exists, err := s.jobRepo.ExistsRunnable(dbc, types.JobTypeMergeReconcile)
	if err != nil {
		s.log.Warn("reconcile tick check failed", "error", err)
		return
	}
	if exists {
		return
	}
	if _, err := s.jobRepo.Enqueue(dbc, &types.JobRun{
		JobType: types.JobTypeMergeReconcile,
	}); err != nil {
		s.log.Warn("reconcile tick enqueue failed", "error", err)
	}
}

package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/solocore/textloom/internal/jobs/runtime"
	"github.com/solocore/textloom/internal/platform/dbctx"
	"github.com/solocore/textloom/internal/platform/envutil"
	"github.com/solocore/textloom/internal/platform/logger"
	"github.com/solocore/textloom/internal/repos"
)

/*
Worker is the execution engine for the SQL-backed job queue.

Responsibilities:
  - Poll job_runs for runnable jobs (via JobRunRepo.ClaimNextRunnable)
  - Claim a job with a DB-level lock/lease so only one worker runs it
  - Dispatch to the handler registered for its job_type
  - Wrap execution with heartbeats (stale-running detection), panic
    recovery (fail the job instead of crashing the worker), and a
    safety-net error -> Fail

The worker is infrastructure; all business logic lives in handlers that
interact only through runtime.Context. Delivery is at-least-once: a
worker that dies after the handler commits but before the job row flips
leaves a reclaimable run, and handlers stay idempotent through the
store's natural keys.

Retry semantics are durable: a failed job stays in the table with
attempts/last_error_at, and the claim query decides when it is runnable
again. Process restarts lose nothing.
*/
type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     repos.JobRunRepo
	registry *runtime.Registry
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo, registry *runtime.Registry) *Worker {
	return &Worker{
		db:       db,
		log:      baseLog.With("component", "JobWorker"),
		repo:     repo,
		registry: registry,
	}
}

// Start launches WORKER_CONCURRENCY (default 4) claim loops. The DB
// claim prevents double execution across goroutines and processes.
func (w *Worker) Start(ctx context.Context) {
	concurrency := envutil.Int("WORKER_CONCURRENCY", 4)
	if concurrency < 1 {
		concurrency = 1
	}
	w.log.Info("Starting job worker pool", "concurrency", concurrency)

	for i := 0; i < concurrency; i++ {
		workerID := i + 1
		go w.runLoop(ctx, workerID)
	}
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	maxAttempts := envutil.Int("JOB_MAX_ATTEMPTS", 5)
	retryDelay := envutil.Duration("JOB_RETRY_DELAY", 30*time.Second)
	staleRunning := envutil.Duration("JOB_STALE_RUNNING", 30*time.Minute)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			job, err := w.repo.ClaimNextRunnable(dbctx.Context{Ctx: ctx, Tx: w.db}, maxAttempts, retryDelay, staleRunning)
			if err != nil {
				w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
				continue
			}
			if job == nil {
				continue
			}

			jc := runtime.NewContext(ctx, w.db, job, w.repo)
			h, ok := w.registry.Get(job.JobType)
			if !ok {
				w.log.Warn("No handler registered for job_type",
					"worker_id", workerID,
					"job_type", job.JobType,
					"job_id", job.ID,
				)
				jc.Fail("dispatch", &missingHandlerError{JobType: job.JobType})
				continue
			}

			func() {
				stopHB := w.startHeartbeat(ctx, job.ID)
				defer stopHB()

				defer func() {
					if r := recover(); r != nil {
						w.log.Error("Job handler panic",
							"worker_id", workerID,
							"job_id", job.ID,
							"job_type", job.JobType,
							"panic", r,
						)
						jc.Fail("panic", &panicError{Val: r})
					}
				}()

				if runErr := h.Run(jc); runErr != nil {
					// Most handlers call jc.Fail themselves; safety net.
					jc.Fail("run", runErr)
				}
			}()
		}
	}
}

// startHeartbeat keeps long-running handlers from being reclaimed as
// stale. Returns a stop func that must be called.
func (w *Worker) startHeartbeat(ctx context.Context, jobID uuid.UUID) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(30 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if w == nil || w.repo == nil || w.db == nil || jobID == uuid.Nil {
					continue
				}
				_ = w.repo.Heartbeat(dbctx.Context{Ctx: ctx, Tx: w.db}, jobID)
			}
		}
	}()
	return func() { close(done) }
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string {
	return "no handler registered for job_type=" + e.JobType
}

// panicError deliberately avoids leaking panic internals into the job
// row; the real value is in worker logs.
type panicError struct{ Val any }

func (e *panicError) Error() string { return "panic: unexpected error" }

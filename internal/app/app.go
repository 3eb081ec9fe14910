package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"gorm.io/gorm"

	redisclient "github.com/solocore/textloom/internal/clients/redis"
	"github.com/solocore/textloom/internal/clients/openai"
	"github.com/solocore/textloom/internal/clients/videomerge"
	httphandlers "github.com/solocore/textloom/internal/http/handlers"
	"github.com/solocore/textloom/internal/jobs"
	reconcilejob "github.com/solocore/textloom/internal/jobs/pipeline/reconcile"
	subtitlesjob "github.com/solocore/textloom/internal/jobs/pipeline/subtitles"
	textvideojob "github.com/solocore/textloom/internal/jobs/pipeline/textvideo"
	"github.com/solocore/textloom/internal/jobs/runtime"
	"github.com/solocore/textloom/internal/jobs/worker"
	core "github.com/solocore/textloom/internal/modules/textvideo"
	"github.com/solocore/textloom/internal/observability"
	"github.com/solocore/textloom/internal/platform/db"
	"github.com/solocore/textloom/internal/platform/envutil"
	"github.com/solocore/textloom/internal/platform/logger"
	"github.com/solocore/textloom/internal/repos"
	"github.com/solocore/textloom/internal/server"
	"github.com/solocore/textloom/internal/services"
	"github.com/solocore/textloom/internal/types"
)

// App owns process-wide wiring: clients are constructed once at boot,
// shared by reference, and torn down on Close. Nothing re-creates a
// client per call.
type App struct {
	Log *logger.Logger
	DB  *gorm.DB

	router   *gin.Engine
	worker   *worker.Worker
	schedule *jobs.Scheduler
	bus      redisclient.TaskBus

	runCtx       context.Context
	cancel       context.CancelFunc
	otelShutdown func(context.Context) error
}

// New wires the application. Worker-side collaborators (AI client, merge
// client, object storage, media tools) are only required when the worker
// role is enabled.
func New(runWorker bool) (*App, error) {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	log, err := logger.New(envutil.String("APP_ENV", "dev"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	handle, err := db.Open(log)
	if err != nil {
		return nil, err
	}
	if envutil.Bool("DB_AUTO_MIGRATE", true) {
		if err := autoMigrate(handle); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{Log: log, DB: handle, runCtx: ctx, cancel: cancel}

	app.otelShutdown = observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "textloom",
		Environment: envutil.String("APP_ENV", "dev"),
		Version:     envutil.String("APP_VERSION", "dev"),
	})

	// Redis bus is optional; correctness never depends on it.
	if envutil.String("REDIS_ADDR", "") != "" {
		bus, err := redisclient.NewTaskBus(log)
		if err != nil {
			log.Warn("redis task bus unavailable, events disabled", "error", err)
		} else {
			app.bus = bus
		}
	}
	notifier := services.NewTaskNotifier(log, app.bus)

	taskRepo := repos.NewTaskRepo(handle, log)
	subTaskRepo := repos.NewSubVideoTaskRepo(handle, log)
	jobRepo := repos.NewJobRunRepo(handle, log)

	taskHandler := httphandlers.NewTaskHandler(log, taskRepo, subTaskRepo, jobRepo)
	healthHandler := httphandlers.NewHealthHandler(handle)
	app.router = server.New(taskHandler, healthHandler)

	if runWorker {
		mediaRepo := repos.NewMediaItemRepo(handle, log)
		analysisRepo := repos.NewMaterialAnalysisRepo(handle, log)
		scriptRepo := repos.NewScriptContentRepo(handle, log)
		personaRepo := repos.NewPersonaRepo(handle, log)
		templateRepo := repos.NewPromptTemplateRepo(handle, log)

		bucket, err := services.NewBucketService(log)
		if err != nil {
			return nil, err
		}
		mediaTools := services.NewMediaToolsService(log)
		if err := mediaTools.AssertReady(ctx); err != nil {
			log.Warn("media tools not fully available", "error", err)
		}
		aiClient, err := openai.NewClient(log)
		if err != nil {
			return nil, err
		}
		mergeClient, err := videomerge.NewClient(log)
		if err != nil {
			return nil, err
		}

		cfg := core.LoadConfig()
		processor := core.NewMaterialProcessor(log, cfg, bucket, mediaTools, mediaRepo)
		analyzer := core.NewMaterialAnalyzer(log, cfg, aiClient, bucket, mediaTools, analysisRepo)
		scripts := core.NewScriptGenerator(log, cfg, aiClient, scriptRepo, subTaskRepo, personaRepo, templateRepo)
		submitter := core.NewVideoSubmitter(log, cfg, mergeClient, subTaskRepo)
		aggregator := core.NewAggregator(log, taskRepo, subTaskRepo, notifier)
		orchestrator := core.NewOrchestrator(log, cfg, taskRepo, processor, analyzer, scripts, submitter, subTaskRepo, aggregator, notifier)
		reconciler := core.NewReconciler(log, cfg, mergeClient, subTaskRepo, jobRepo, aggregator)

		registry := runtime.NewRegistry()
		registry.Register(types.JobTypeTextVideoPipeline, textvideojob.NewHandler(log, orchestrator))
		registry.Register(types.JobTypeMergeReconcile, reconcilejob.NewHandler(log, reconciler))
		registry.Register(types.JobTypeSubtitlePostprocess, subtitlesjob.NewHandler(log, subTaskRepo, aggregator))

		app.worker = worker.NewWorker(handle, log, jobRepo, registry)
		app.schedule = jobs.NewScheduler(log, jobRepo)
	}

	return app, nil
}

// Start launches the background roles that were wired at construction.
func (a *App) Start() {
	if a.worker != nil {
		a.worker.Start(a.runCtx)
	}
	if a.schedule != nil {
		a.schedule.Start(a.runCtx)
	}
}

// Run serves the HTTP API; blocks until the listener stops.
func (a *App) Run(addr string) error {
	return a.router.Run(addr)
}

func (a *App) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.bus != nil {
		_ = a.bus.Close()
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

func autoMigrate(handle *gorm.DB) error {
	return handle.AutoMigrate(
		&types.Task{},
		&types.SubVideoTask{},
		&types.MediaItem{},
		&types.MaterialAnalysis{},
		&types.ScriptContent{},
		&types.Persona{},
		&types.PromptTemplate{},
		&types.JobRun{},
	)
}

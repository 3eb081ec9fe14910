package textvideo

import (
	"time"

	"github.com/solocore/textloom/internal/platform/envutil"
)

// Config carries the pipeline tuning knobs. Pool sizes are deliberately
// small: throughput is bounded by external AI/video services, not CPU.
type Config struct {
	// Bounded worker pools.
	DownloadPoolSize int // material fetches
	AnalysisPoolSize int // vision calls
	ScriptPoolSize   int // per-task LLM script calls

	// Material intake limits.
	MaxImages   int
	MaxVideos   int
	MaxFileSize int64 // bytes per downloaded media file

	// Vision analysis.
	AnalysisModel     string
	KeyframesPerVideo int

	// Reconciler.
	MaxConcurrentTasks     int
	MergeTimeout           time.Duration
	SubtitleTimeout        time.Duration
	DynamicSubtitleEnabled bool

	// Stage-2 abort threshold: strictly more than this failure rate
	// aborts the task.
	AnalysisFailureRateLimit float64
}

func LoadConfig() Config {
	return Config{
		DownloadPoolSize: envutil.Int("MAX_CONCURRENT_DOWNLOADS", 5),
		AnalysisPoolSize: envutil.Int("MAX_CONCURRENT_ANALYSIS", 4),
		ScriptPoolSize:   envutil.Int("PARALLEL_SCRIPT_JOBS", 3),

		MaxImages:   envutil.Int("MAX_IMAGES_PER_TASK", 20),
		MaxVideos:   envutil.Int("MAX_VIDEOS_PER_TASK", 5),
		MaxFileSize: envutil.Int64("MAX_MEDIA_FILE_SIZE", 200<<20),

		AnalysisModel:     envutil.String("ANALYSIS_MODEL", ""),
		KeyframesPerVideo: envutil.Int("KEYFRAMES_PER_VIDEO", 3),

		MaxConcurrentTasks:     envutil.Int("MAX_CONCURRENT_TASKS", 10),
		MergeTimeout:           envutil.Duration("MULTI_VIDEO_GENERATION_TIMEOUT", 30*time.Minute),
		SubtitleTimeout:        envutil.Duration("DYNAMIC_SUBTITLE_TIMEOUT", 600*time.Second),
		DynamicSubtitleEnabled: envutil.Bool("DYNAMIC_SUBTITLE_ENABLED", false),

		AnalysisFailureRateLimit: 0.9,
	}
}

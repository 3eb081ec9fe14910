package textvideo

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/solocore/textloom/internal/clients/openai"
	"github.com/solocore/textloom/internal/platform/dbctx"
	"github.com/solocore/textloom/internal/platform/logger"
	"github.com/solocore/textloom/internal/repos"
	"github.com/solocore/textloom/internal/services"
	"github.com/solocore/textloom/internal/types"
)

// AnalysisSummary aggregates stage-2 results. The orchestrator applies
// the >90% failure-rate abort on top of it.
type AnalysisSummary struct {
	TotalAnalyzed  int
	ImagesAnalyzed int
	VideosAnalyzed int
	FailedCount    int
}

func (s AnalysisSummary) FailureRate() float64 {
	if s.TotalAnalyzed == 0 {
		return 1.0
	}
	return float64(s.FailedCount) / float64(s.TotalAnalyzed)
}

// MaterialAnalyzer runs stage 2: AI-analyze each media item with a fixed
// worker pool, persist one MaterialAnalysis row per item keyed by
// (task_id, original_url). Audio items are skipped.
type MaterialAnalyzer struct {
	log          *logger.Logger
	cfg          Config
	ai           openai.Client
	bucket       services.BucketService
	mediaTools   services.MediaToolsService
	analysisRepo repos.MaterialAnalysisRepo
}

func NewMaterialAnalyzer(
	baseLog *logger.Logger,
	cfg Config,
	ai openai.Client,
	bucket services.BucketService,
	mediaTools services.MediaToolsService,
	analysisRepo repos.MaterialAnalysisRepo,
) *MaterialAnalyzer {
	return &MaterialAnalyzer{
		log:          baseLog.With("component", "MaterialAnalyzer"),
		cfg:          cfg,
		ai:           ai,
		bucket:       bucket,
		mediaTools:   mediaTools,
		analysisRepo: analysisRepo,
	}
}

// AnalyzeMaterials fans out over the media items with a bounded pool.
// Ordering is unspecified; results key by media item. Per-item failures
// are recorded as failed analysis rows and counted in the summary, never
// propagated as errors.
func (a *MaterialAnalyzer) AnalyzeMaterials(ctx context.Context, taskID uuid.UUID, items []*types.MediaItem, workspaceDir string) (AnalysisSummary, []*types.MaterialAnalysis, error) {
	analyzable := make([]*types.MediaItem, 0, len(items))
	for _, item := range items {
		if item.MediaType == types.MediaTypeImage || item.MediaType == types.MediaTypeVideo {
			analyzable = append(analyzable, item)
		}
	}

	var (
		mu      sync.Mutex
		summary = AnalysisSummary{TotalAnalyzed: len(analyzable)}
		results = make([]*types.MaterialAnalysis, 0, len(analyzable))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.AnalysisPoolSize)
	for _, item := range analyzable {
		g.Go(func() error {
			row, err := a.analyzeOne(gctx, taskID, item, workspaceDir)
			mu.Lock()
			defer mu.Unlock()
			if err != nil || row == nil || row.Status != types.AnalysisStatusCompleted {
				summary.FailedCount++
			} else if item.MediaType == types.MediaTypeImage {
				summary.ImagesAnalyzed++
			} else {
				summary.VideosAnalyzed++
			}
			if row != nil {
				results = append(results, row)
			}
			if err != nil {
				a.log.Warn("material analysis failed",
					"task_id", taskID,
					"url", item.OriginalURL,
					"media_type", item.MediaType,
					"error", err,
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, results, err
	}

	a.log.Info("stage 2 complete",
		"task_id", taskID,
		"total", summary.TotalAnalyzed,
		"images", summary.ImagesAnalyzed,
		"videos", summary.VideosAnalyzed,
		"failed", summary.FailedCount,
	)
	return summary, results, nil
}

func (a *MaterialAnalyzer) analyzeOne(ctx context.Context, taskID uuid.UUID, item *types.MediaItem, workspaceDir string) (*types.MaterialAnalysis, error) {
	switch item.MediaType {
	case types.MediaTypeImage:
		return a.analyzeImage(ctx, taskID, item)
	case types.MediaTypeVideo:
		return a.analyzeVideo(ctx, taskID, item, workspaceDir)
	}
	return nil, fmt.Errorf("unsupported media type %q", item.MediaType)
}

func (a *MaterialAnalyzer) analyzeImage(ctx context.Context, taskID uuid.UUID, item *types.MediaItem) (*types.MaterialAnalysis, error) {
	imageURL := item.CloudURL
	if imageURL == "" {
		imageURL = item.OriginalURL
	}
	materialID := item.ID.String()
	prompt := BuildVisionPrompt(item, materialID, item.Resolution, types.MediaTypeImage)

	raw, err := a.ai.AnalyzeImage(ctx, imageURL, prompt, a.cfg.AnalysisModel)
	if err != nil {
		return a.persistFailure(ctx, taskID, item, types.MediaTypeImage, raw, err)
	}
	return a.persistParsed(ctx, taskID, item, types.MediaTypeImage, raw, nil)
}

// analyzeVideo probes metadata, extracts up to three evenly spaced
// keyframes, uploads them, and analyzes the first keyframe as a proxy
// image. The audio track is not analyzed.
func (a *MaterialAnalyzer) analyzeVideo(ctx context.Context, taskID uuid.UUID, item *types.MediaItem, workspaceDir string) (*types.MaterialAnalysis, error) {
	source := item.LocalPath
	if source == "" {
		source = item.CloudURL
	}
	if source == "" {
		source = item.OriginalURL
	}

	meta, err := a.mediaTools.ProbeVideo(ctx, source)
	if err != nil {
		return a.persistFailure(ctx, taskID, item, types.MediaTypeVideo, "", fmt.Errorf("probe: %w", err))
	}
	item.Resolution = meta.Resolution()
	item.Duration = meta.Duration

	keyframeDir := filepath.Join(workspaceDir, "keyframes")
	frames, err := a.mediaTools.ExtractKeyframes(ctx, source, keyframeDir, a.cfg.KeyframesPerVideo)
	if err != nil || len(frames) == 0 {
		if err == nil {
			err = fmt.Errorf("no keyframes extracted")
		}
		return a.persistFailure(ctx, taskID, item, types.MediaTypeVideo, "", err)
	}

	for i := range frames {
		key := fmt.Sprintf("textloom/%s/keyframes/%s", taskID, filepath.Base(frames[i].FramePath))
		url, upErr := a.bucket.UploadFile(ctx, frames[i].FramePath, key)
		if upErr != nil {
			a.log.Warn("keyframe upload failed", "task_id", taskID, "frame", frames[i].FramePath, "error", upErr)
			continue
		}
		frames[i].FrameURL = url
	}

	first := frames[0]
	proxyURL := first.FrameURL
	if proxyURL == "" {
		return a.persistFailure(ctx, taskID, item, types.MediaTypeVideo, "", fmt.Errorf("first keyframe has no usable reference"))
	}

	materialID := item.ID.String()
	prompt := BuildVisionPrompt(item, materialID, item.Resolution, types.MediaTypeVideo)
	raw, err := a.ai.AnalyzeImage(ctx, proxyURL, prompt, a.cfg.AnalysisModel)
	if err != nil {
		return a.persistFailure(ctx, taskID, item, types.MediaTypeVideo, raw, err)
	}

	extra := map[string]any{"frames": frames, "fps": meta.FPS, "duration": meta.Duration}
	return a.persistParsed(ctx, taskID, item, types.MediaTypeVideo, raw, extra)
}

// persistParsed decodes the model output, applies field aliases, and
// upserts the analysis row. A parse failure or an empty description is a
// failed analysis, still persisted for audit.
func (a *MaterialAnalyzer) persistParsed(ctx context.Context, taskID uuid.UUID, item *types.MediaItem, fileType string, raw string, extra map[string]any) (*types.MaterialAnalysis, error) {
	parsed, err := ParseModelJSON(raw)
	if err != nil {
		return a.persistFailure(ctx, taskID, item, fileType, raw, fmt.Errorf("parse: %w", err))
	}
	applyFieldAliases(parsed)

	description := stringField(parsed, "description")
	if description == "" {
		return a.persistFailure(ctx, taskID, item, fileType, raw, fmt.Errorf("model returned empty description"))
	}

	now := time.Now().UTC()
	row := &types.MaterialAnalysis{
		TaskID:                taskID,
		MediaItemID:           &item.ID,
		OriginalURL:           item.OriginalURL,
		FileURL:               item.CloudURL,
		FileType:              fileType,
		Status:                types.AnalysisStatusCompleted,
		AIDescription:         description,
		ContextualDescription: stringField(parsed, "contextual_description"),
		ExtractedText:         stringField(parsed, "extracted_text_ocr"),
		KeyObjects:            mustJSON(stringSliceField(parsed, "tags")),
		UsageSuggestions:      mustJSON(stringSliceField(parsed, "suggested_narrative_functions")),
		QualityScore:          floatField(parsed, "quality_score"),
		QualityLevel:          stringField(parsed, "quality_level"),
		Resolution:            item.Resolution,
		Duration:              item.Duration,
		RawResponse:           raw,
		AnalyzedAt:            &now,
	}
	if extra != nil {
		if frames, ok := extra["frames"]; ok {
			row.KeyFrames = mustJSON(frames)
		}
		if fps, ok := extra["fps"].(float64); ok {
			row.FPS = fps
		}
	}
	return a.analysisRepo.Upsert(dbctx.Context{Ctx: ctx}, row)
}

func (a *MaterialAnalyzer) persistFailure(ctx context.Context, taskID uuid.UUID, item *types.MediaItem, fileType string, raw string, cause error) (*types.MaterialAnalysis, error) {
	row := &types.MaterialAnalysis{
		TaskID:       taskID,
		MediaItemID:  &item.ID,
		OriginalURL:  item.OriginalURL,
		FileURL:      item.CloudURL,
		FileType:     fileType,
		Status:       types.AnalysisStatusFailed,
		Resolution:   item.Resolution,
		Duration:     item.Duration,
		RawResponse:  raw,
		ErrorMessage: cause.Error(),
	}
	persisted, perr := a.analysisRepo.Upsert(dbctx.Context{Ctx: ctx}, row)
	if perr != nil {
		a.log.Error("failed analysis row persist error", "task_id", taskID, "url", item.OriginalURL, "error", perr)
		return nil, cause
	}
	return persisted, cause
}

func mustJSON(v any) datatypes.JSON {
	if v == nil {
		return datatypes.JSON([]byte("null"))
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte("null"))
	}
	return datatypes.JSON(raw)
}

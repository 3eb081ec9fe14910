package textvideo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	_ "golang.org/x/image/webp"

	"github.com/solocore/textloom/internal/platform/dbctx"
	"github.com/solocore/textloom/internal/platform/logger"
	"github.com/solocore/textloom/internal/repos"
	"github.com/solocore/textloom/internal/services"
	"github.com/solocore/textloom/internal/types"
)

// MaterialResult is the stage-1 output: the full manifest text and the
// persisted media item rows enriched with resolution/duration.
type MaterialResult struct {
	ExtractedContent string
	MediaItems       []*types.MediaItem
}

// MaterialProcessor runs stage 1: parse the manifest, acquire each media
// URL, probe metadata and register one MediaItem row per URL. Rows are
// keyed by (task_id, original_url) so pipeline re-runs are no-ops.
type MaterialProcessor struct {
	log        *logger.Logger
	cfg        Config
	bucket     services.BucketService
	mediaTools services.MediaToolsService
	mediaRepo  repos.MediaItemRepo
	httpClient *http.Client
}

func NewMaterialProcessor(
	baseLog *logger.Logger,
	cfg Config,
	bucket services.BucketService,
	mediaTools services.MediaToolsService,
	mediaRepo repos.MediaItemRepo,
) *MaterialProcessor {
	return &MaterialProcessor{
		log:        baseLog.With("component", "MaterialProcessor"),
		cfg:        cfg,
		bucket:     bucket,
		mediaTools: mediaTools,
		mediaRepo:  mediaRepo,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// ProcessMaterials reads the source manifest, extracts media references
// with sandwich context, acquires them with a bounded fetch pool, and
// persists one MediaItem per URL.
func (p *MaterialProcessor) ProcessMaterials(ctx context.Context, sourceFile string, taskID uuid.UUID, workspaceDir string) (*MaterialResult, error) {
	raw, err := os.ReadFile(sourceFile)
	if err != nil {
		return nil, &MaterialError{Msg: "read source file", Err: err}
	}
	content := string(raw)
	if err := ValidateManifest(content); err != nil {
		return nil, err
	}

	images, videos, audios := ExtractMediaRefs(content)
	if len(images) > p.cfg.MaxImages {
		p.log.Info("image count capped", "task_id", taskID, "found", len(images), "cap", p.cfg.MaxImages)
		images = images[:p.cfg.MaxImages]
	}
	if len(videos) > p.cfg.MaxVideos {
		p.log.Info("video count capped", "task_id", taskID, "found", len(videos), "cap", p.cfg.MaxVideos)
		videos = videos[:p.cfg.MaxVideos]
	}

	manualDescriptions := p.loadManualDescriptions(workspaceDir)

	refs := make([]MediaRef, 0, len(images)+len(videos)+len(audios))
	refs = append(refs, images...)
	refs = append(refs, videos...)
	refs = append(refs, audios...)

	items := make([]*types.MediaItem, len(refs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.DownloadPoolSize)
	for i, ref := range refs {
		g.Go(func() error {
			item, err := p.acquireOne(gctx, taskID, workspaceDir, ref, manualDescriptions)
			if err != nil {
				// One bad URL never fails the stage; log and move on.
				p.log.Warn("media acquisition failed",
					"task_id", taskID,
					"url", ref.URL,
					"error", err,
				)
				return nil
			}
			mu.Lock()
			items[i] = item
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &MaterialError{Msg: "material acquisition", Err: err}
	}

	persisted := make([]*types.MediaItem, 0, len(items))
	for _, item := range items {
		if item != nil {
			persisted = append(persisted, item)
		}
	}

	p.log.Info("stage 1 complete",
		"task_id", taskID,
		"images", len(images),
		"videos", len(videos),
		"audios", len(audios),
		"persisted", len(persisted),
	)
	return &MaterialResult{ExtractedContent: content, MediaItems: persisted}, nil
}

// loadManualDescriptions reads the optional materials_meta.json mapping
// URL to a manual description supplied by the submitter.
func (p *MaterialProcessor) loadManualDescriptions(workspaceDir string) map[string]string {
	metaPath := filepath.Join(workspaceDir, "materials_meta.json")
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		p.log.Warn("materials_meta.json unreadable (ignored)", "path", metaPath, "error", err)
		return nil
	}
	return m
}

func (p *MaterialProcessor) acquireOne(ctx context.Context, taskID uuid.UUID, workspaceDir string, ref MediaRef, manual map[string]string) (*types.MediaItem, error) {
	item := &types.MediaItem{
		TaskID:               taskID,
		OriginalURL:          ref.URL,
		MediaType:            ref.MediaType,
		Filename:             safeFilename(ref.URL),
		ContextBefore:        ref.ContextBefore,
		Caption:              ref.Caption,
		ContextAfter:         ref.ContextAfter,
		SurroundingParagraph: ref.SurroundingParagraph,
		PositionInContent:    ref.Position,
	}
	if manual != nil {
		item.ManualDescription = manual[ref.URL]
	}

	if p.bucket.IsStoreURL(ref.URL) {
		// Already inside our storage namespace: register only, no
		// download/re-upload round trip.
		item.CloudURL = ref.URL
		if ref.MediaType == types.MediaTypeVideo {
			if meta, err := p.mediaTools.ProbeVideo(ctx, ref.URL); err == nil {
				item.Resolution = meta.Resolution()
				item.Duration = meta.Duration
			} else {
				p.log.Warn("store-url video probe failed", "url", ref.URL, "error", err)
			}
		}
		return p.mediaRepo.Upsert(dbctx.Context{Ctx: ctx}, item)
	}

	localPath, mimeType, size, err := p.download(ctx, workspaceDir, ref)
	if err != nil {
		return nil, err
	}
	item.LocalPath = localPath
	item.MimeType = mimeType
	item.FileSize = size

	objectKey := fmt.Sprintf("textloom/%s/materials/%s", taskID, item.Filename)
	cloudURL, err := p.bucket.UploadFile(ctx, localPath, objectKey)
	if err != nil {
		return nil, fmt.Errorf("upload %q: %w", objectKey, err)
	}
	item.CloudURL = cloudURL

	switch ref.MediaType {
	case types.MediaTypeImage:
		if w, h, err := probeImageSize(localPath); err == nil {
			item.Resolution = fmt.Sprintf("%dx%d", w, h)
		} else {
			p.log.Warn("image probe failed", "url", ref.URL, "error", err)
		}
	case types.MediaTypeVideo:
		meta, err := p.mediaTools.ProbeVideo(ctx, localPath)
		if err != nil {
			// Secondary probe over the cloud URL.
			meta, err = p.mediaTools.ProbeVideo(ctx, cloudURL)
		}
		if err == nil {
			item.Resolution = meta.Resolution()
			item.Duration = meta.Duration
		} else {
			p.log.Warn("video probe failed", "url", ref.URL, "error", err)
		}
	}

	return p.mediaRepo.Upsert(dbctx.Context{Ctx: ctx}, item)
}

func (p *MaterialProcessor) download(ctx context.Context, workspaceDir string, ref MediaRef) (localPath string, mimeType string, size int64, err error) {
	subdir := "images"
	switch ref.MediaType {
	case types.MediaTypeVideo:
		subdir = "videos"
	case types.MediaTypeAudio:
		subdir = "audio"
	}
	dir := filepath.Join(workspaceDir, "materials", subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return "", "", 0, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", 0, fmt.Errorf("download %q: http %d", ref.URL, resp.StatusCode)
	}

	localPath = filepath.Join(dir, safeFilename(ref.URL))
	f, err := os.Create(localPath)
	if err != nil {
		return "", "", 0, err
	}
	defer f.Close()

	limited := io.LimitReader(resp.Body, p.cfg.MaxFileSize+1)
	size, err = io.Copy(f, limited)
	if err != nil {
		return "", "", 0, fmt.Errorf("download %q: %w", ref.URL, err)
	}
	if size > p.cfg.MaxFileSize {
		_ = os.Remove(localPath)
		return "", "", 0, fmt.Errorf("download %q: exceeds size cap %d", ref.URL, p.cfg.MaxFileSize)
	}

	mimeType = detectMimeType(localPath, ref.URL)
	return localPath, mimeType, size, nil
}

// detectMimeType sniffs magic bytes and falls back to the URL suffix.
func detectMimeType(localPath string, sourceURL string) string {
	f, err := os.Open(localPath)
	if err == nil {
		defer f.Close()
		buf := make([]byte, 512)
		n, _ := f.Read(buf)
		if n > 0 {
			detected := http.DetectContentType(buf[:n])
			if detected != "application/octet-stream" {
				return detected
			}
		}
	}
	switch strings.ToLower(path.Ext(urlPath(sourceURL))) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	}
	return "application/octet-stream"
}

func probeImageSize(localPath string) (int, int, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Path
}

var unsafeFilenameRe = strings.NewReplacer(
	" ", "_", "%", "_", "?", "_", "&", "_", "=", "_", "#", "_", ":", "_",
)

// safeFilename derives a stable filesystem/object name from a URL. When
// the URL path has no usable base name, a short content-free hash of the
// URL keeps names unique and deterministic.
func safeFilename(rawURL string) string {
	base := path.Base(urlPath(rawURL))
	base = unsafeFilenameRe.Replace(base)
	if base == "" || base == "." || base == "/" {
		sum := sha256.Sum256([]byte(rawURL))
		return "media_" + hex.EncodeToString(sum[:6])
	}
	if len(base) > 120 {
		base = base[len(base)-120:]
	}
	return base
}

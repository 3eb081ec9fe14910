package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/solocore/textloom/internal/platform/logger"
)

// VideoMetadata is the subset of ffprobe output the pipeline cares about.
type VideoMetadata struct {
	Width    int
	Height   int
	Duration float64
	FPS      float64
}

func (m *VideoMetadata) Resolution() string {
	return fmt.Sprintf("%dx%d", m.Width, m.Height)
}

// Keyframe is one still extracted from a video at a timestamp.
type Keyframe struct {
	Timestamp float64 `json:"timestamp"`
	FramePath string  `json:"frame_path,omitempty"`
	FrameURL  string  `json:"frame_url,omitempty"`
}

// MediaToolsService shells out to ffprobe/ffmpeg. Synchronous and
// deterministic; call from worker jobs, not request handlers.
//
// REQUIRED BINARIES in worker runtime: ffprobe, ffmpeg.
type MediaToolsService interface {
	AssertReady(ctx context.Context) error

	// ProbeVideo reads width/height/duration/fps from a local path or URL.
	ProbeVideo(ctx context.Context, source string) (*VideoMetadata, error)

	// ExtractKeyframes pulls up to numFrames stills at evenly spaced
	// timestamps into outDir.
	ExtractKeyframes(ctx context.Context, source string, outDir string, numFrames int) ([]Keyframe, error)
}

type mediaToolsService struct {
	log          *logger.Logger
	ffprobePath  string
	ffmpegPath   string
	probeTimeout time.Duration
}

func NewMediaToolsService(log *logger.Logger) MediaToolsService {
	return &mediaToolsService{
		log:          log.With("service", "MediaToolsService"),
		ffprobePath:  "ffprobe",
		ffmpegPath:   "ffmpeg",
		probeTimeout: 15 * time.Second,
	}
}

func (m *mediaToolsService) AssertReady(ctx context.Context) error {
	for _, bin := range []string{m.ffprobePath, m.ffmpegPath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("missing required binary %q in PATH: %w", bin, err)
		}
	}
	return nil
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		Duration     string `json:"duration"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (m *mediaToolsService) ProbeVideo(ctx context.Context, source string) (*VideoMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		source,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %q: %w", source, err)
	}

	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("ffprobe decode: %w", err)
	}

	meta := &VideoMetadata{}
	for _, s := range probe.Streams {
		if s.CodecType != "video" {
			continue
		}
		meta.Width = s.Width
		meta.Height = s.Height
		if d := parseFloat(probe.Format.Duration); d > 0 {
			meta.Duration = d
		} else {
			meta.Duration = parseFloat(s.Duration)
		}
		meta.FPS = parseFrameRate(s.AvgFrameRate)
		if meta.FPS == 0 {
			meta.FPS = parseFrameRate(s.RFrameRate)
		}
		break
	}
	if meta.Width == 0 || meta.Height == 0 {
		return nil, fmt.Errorf("ffprobe %q: no video stream dimensions", source)
	}
	return meta, nil
}

func (m *mediaToolsService) ExtractKeyframes(ctx context.Context, source string, outDir string, numFrames int) ([]Keyframe, error) {
	if numFrames <= 0 {
		numFrames = 3
	}
	meta, err := m.ProbeVideo(ctx, source)
	if err != nil {
		return nil, err
	}
	if meta.Duration <= 0 {
		return nil, fmt.Errorf("cannot extract keyframes: unknown duration for %q", source)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create keyframes dir: %w", err)
	}

	var frames []Keyframe
	for i := 1; i <= numFrames; i++ {
		ts := meta.Duration * float64(i) / float64(numFrames+1)
		outName := fmt.Sprintf("keyframe_%d_%d.jpg", i-1, int(ts*1000))
		outPath := filepath.Join(outDir, outName)

		frameCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		cmd := exec.CommandContext(frameCtx, m.ffmpegPath,
			"-ss", strconv.FormatFloat(ts, 'f', 3, 64),
			"-i", source,
			"-frames:v", "1",
			"-q:v", "2",
			"-y",
			outPath,
		)
		runErr := cmd.Run()
		cancel()
		if runErr != nil {
			m.log.Warn("keyframe extraction failed", "source", source, "timestamp", ts, "error", runErr)
			continue
		}
		if _, statErr := os.Stat(outPath); statErr != nil {
			continue
		}
		frames = append(frames, Keyframe{Timestamp: ts, FramePath: outPath})
	}
	return frames, nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// parseFrameRate parses ffprobe's "num/den" rate strings.
func parseFrameRate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "0/0" {
		return 0
	}
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 1 {
		return parseFloat(parts[0])
	}
	num := parseFloat(parts[0])
	den := parseFloat(parts[1])
	if den == 0 {
		return 0
	}
	return num / den
}

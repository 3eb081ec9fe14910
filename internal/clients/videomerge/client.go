package videomerge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/solocore/textloom/internal/platform/envutil"
	"github.com/solocore/textloom/internal/platform/logger"
)

// Merge result status codes reported by the external service.
const (
	MergeStatusProcessing = 1
	MergeStatusSuccess    = 2
	MergeStatusFailed     = 3
)

// Scene is one narration window bound to a single media URL.
type Scene struct {
	SceneID    int     `json:"scene_id"`
	Timing     string  `json:"timing"`
	Narration  string  `json:"narration"`
	MaterialID string  `json:"material_id,omitempty"`
	MediaURL   string  `json:"media_url,omitempty"`
	Duration   float64 `json:"duration,omitempty"`
}

// SubmitRequest carries everything the merge service needs to compose one
// video: the narration, the ordered scene list and the raw media URLs.
type SubmitRequest struct {
	TaskID    string   `json:"task_id"`
	Title     string   `json:"title"`
	Narration string   `json:"narration"`
	Scenes    []Scene  `json:"scenes"`
	MediaURLs []string `json:"media_urls"`
	Mode      string   `json:"mode,omitempty"`
}

type SubmitResult struct {
	CourseMediaID string `json:"course_media_id"`
	Status        string `json:"status"`
	VideoURL      string `json:"video_url,omitempty"`
	ThumbnailURL  string `json:"thumbnail_url,omitempty"`
	Duration      float64 `json:"duration,omitempty"`
}

type QueryResult struct {
	Status         int     `json:"status"` // 1 processing, 2 success, 3 failed
	MergeVideo     string  `json:"merge_video,omitempty"`
	SnapshotURL    string  `json:"snapshot_url,omitempty"`
	Duration       float64 `json:"duration,omitempty"`
	FailureReasons string  `json:"failure_reasons,omitempty"`
	SubtitlesURL   string  `json:"subtitles_url,omitempty"`
}

// Client talks to the external video merge service. Submission returns a
// course_media_id; the reconciler polls Query until a terminal status.
type Client interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	Query(ctx context.Context, courseMediaID string) (*QueryResult, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(log *logger.Logger) (Client, error) {
	baseURL := envutil.String("VIDEO_MERGE_BASE_URL", "")
	if baseURL == "" {
		return nil, fmt.Errorf("missing VIDEO_MERGE_BASE_URL")
	}
	return &client{
		log:        log.With("client", "VideoMergeClient"),
		baseURL:    baseURL,
		apiKey:     envutil.String("VIDEO_MERGE_API_KEY", ""),
		httpClient: &http.Client{Timeout: envutil.Duration("VIDEO_MERGE_TIMEOUT", 60*time.Second)},
	}, nil
}

func (c *client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	var out SubmitResult
	if err := c.post(ctx, "/api/v1/merge/submit", req, &out); err != nil {
		return nil, err
	}
	if out.CourseMediaID == "" && out.VideoURL == "" {
		return nil, fmt.Errorf("merge submit accepted without course_media_id")
	}
	return &out, nil
}

func (c *client) Query(ctx context.Context, courseMediaID string) (*QueryResult, error) {
	var out QueryResult
	path := fmt.Sprintf("/api/v1/merge/status?course_media_id=%s", courseMediaID)
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) post(ctx context.Context, path string, body any, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, out)
}

func (c *client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.send(req, out)
}

func (c *client) send(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("video merge http %d: %s", resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("video merge decode error: %w; raw=%s", err, string(raw))
	}
	return nil
}

package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/solocore/textloom/internal/platform/envutil"
	"github.com/solocore/textloom/internal/platform/logger"
)

// Client is a thin forwarder over an OpenAI-compatible chat completion
// endpoint. It never constructs prompt content; callers hand it the full
// prompt and it handles transport, retries and response extraction.
type Client interface {
	// AnalyzeImage sends one prompt plus one image URL to the vision model
	// and returns the raw text of the first choice.
	AnalyzeImage(ctx context.Context, imageURL string, prompt string, model string) (string, error)
	// GenerateScript sends a plain chat completion to the script model and
	// returns the raw text of the first choice.
	GenerateScript(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	visionModel string
	scriptModel string
	httpClient *http.Client
	maxRetries int
}

func NewClient(log *logger.Logger) (Client, error) {
	apiKey := envutil.String("OPENAI_API_KEY", "")
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	timeout := envutil.Duration("OPENAI_TIMEOUT", 180*time.Second)
	return &client{
		log:         log.With("client", "OpenAIClient"),
		baseURL:     envutil.String("OPENAI_BASE_URL", "https://api.openai.com"),
		apiKey:      apiKey,
		visionModel: envutil.String("OPENAI_VISION_MODEL", "gpt-4o"),
		scriptModel: envutil.String("OPENAI_SCRIPT_MODEL", "gpt-4o"),
		httpClient:  &http.Client{Timeout: timeout},
		maxRetries:  envutil.Int("OPENAI_MAX_RETRIES", 3),
	}, nil
}

type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func isRetryableHTTP(code int) bool {
	if code == 408 || code == 429 {
		return true
	}
	return code >= 500 && code <= 599
}

func isRetryableErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var hErr *httpError
	if errors.As(err, &hErr) {
		return isRetryableHTTP(hErr.StatusCode)
	}
	return false
}

func jitterSleep(base time.Duration) time.Duration {
	// +/- 20%
	if base <= 0 {
		return 0
	}
	j := 0.2
	delta := base.Seconds() * j
	low := base.Seconds() - delta
	high := base.Seconds() + delta
	if low < 0 {
		low = 0
	}
	v := low + rand.Float64()*(high-low)
	return time.Duration(v * float64(time.Second))
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type contentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

func (c *client) AnalyzeImage(ctx context.Context, imageURL string, prompt string, model string) (string, error) {
	if model == "" {
		model = c.visionModel
	}
	img := &struct {
		URL string `json:"url"`
	}{URL: imageURL}
	req := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: prompt},
					{Type: "image_url", ImageURL: img},
				},
			},
		},
		MaxTokens:   envutil.Int("OPENAI_VISION_MAX_TOKENS", 2000),
		Temperature: 0.2,
	}
	return c.complete(ctx, req)
}

func (c *client) GenerateScript(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 8000
	}
	req := chatRequest{
		Model: c.scriptModel,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	return c.complete(ctx, req)
}

func (c *client) complete(ctx context.Context, req chatRequest) (string, error) {
	var out chatResponse
	if err := c.do(ctx, http.MethodPost, "/v1/chat/completions", req, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices")
	}
	return out.Choices[0].Message.Content, nil
}

func (c *client) doOnce(ctx context.Context, method, path string, body any) ([]byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return raw, &httpError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	// exponential backoff: 1s, 2s, 4s ...
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("openai decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}
		if !isRetryableErr(err) {
			return err
		}
		if attempt == c.maxRetries {
			return err
		}
		c.log.Warn("OpenAI call failed, retrying",
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitterSleep(backoff)):
		}
		backoff *= 2
	}
	return nil
}

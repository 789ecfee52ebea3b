package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/reelsmith/reelsmith-agent/internal/logging"
)

const maxErrorBody = 4096

// ErrSubmissionRejected means the service answered without a job id.
var ErrSubmissionRejected = errors.New("submission rejected")

// APIError is a non-2xx answer from the generation service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("generation service: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx) and rate limiting.
// Other client errors (4xx) are considered permanent.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsRetryable reports whether err is worth another attempt. Transport errors
// are retryable; API errors decide for themselves.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	return err != nil && !errors.Is(err, ErrSubmissionRejected)
}

// Client is an HTTP client for the generation service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) SubmitImages(ctx context.Context, req ImageJobRequest) (string, error) {
	return c.submit(ctx, "/api/images/generate", req)
}

func (c *Client) ImageStatus(ctx context.Context, jobID string) (JobStatus, error) {
	return c.status(ctx, "/api/images/status/", jobID)
}

func (c *Client) SubmitInterpolation(ctx context.Context, req InterpolationRequest) (string, error) {
	return c.submit(ctx, "/api/videos/interpolate", req)
}

func (c *Client) InterpolationStatus(ctx context.Context, jobID string) (JobStatus, error) {
	return c.status(ctx, "/api/videos/interpolate/status/", jobID)
}

func (c *Client) SubmitSceneVideos(ctx context.Context, req SceneVideoRequest) (string, error) {
	return c.submit(ctx, "/api/videos/scenes", req)
}

func (c *Client) SceneVideoStatus(ctx context.Context, jobID string) (JobStatus, error) {
	return c.status(ctx, "/api/videos/scenes/status/", jobID)
}

// Combine joins clips into one export. It is a single request/response.
func (c *Client) Combine(ctx context.Context, req CombineRequest) (string, error) {
	var resp CombineResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/videos/combine", req, &resp); err != nil {
		return "", err
	}
	if !resp.Success || resp.CombinedVideoURL == "" {
		msg := resp.Error
		if msg == "" {
			msg = "no combined video returned"
		}
		return "", fmt.Errorf("%w: %s", ErrSubmissionRejected, msg)
	}
	return resp.CombinedVideoURL, nil
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.doJSON(ctx, http.MethodGet, "/api/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) submit(ctx context.Context, path string, payload any) (string, error) {
	var resp SubmitResponse
	if err := c.doJSON(ctx, http.MethodPost, path, payload, &resp); err != nil {
		return "", err
	}
	if !resp.Success || resp.JobID == "" {
		msg := resp.Error
		if msg == "" {
			msg = "no job id returned"
		}
		return "", fmt.Errorf("%w: %s", ErrSubmissionRejected, msg)
	}
	c.logger.Info("job submitted", "path", path, "job_id", resp.JobID)
	return resp.JobID, nil
}

func (c *Client) status(ctx context.Context, prefix, jobID string) (JobStatus, error) {
	var st JobStatus
	err := c.doJSON(ctx, http.MethodGet, prefix+url.PathEscape(jobID), nil, &st)
	return st, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug("generation request", "method", method, "url", logging.SanitizeURL(req.URL.String()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

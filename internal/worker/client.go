// Package worker is the HTTP client for the external generation engine. The
// engine is opaque: jobs go out as a single POST and results come back later
// through the callback endpoint.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nandanakrishna556/gictor-server/internal/domain"
	"github.com/nandanakrishna556/gictor-server/internal/validate"
)

// Options configures the worker client.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client submits generation jobs to the external engine.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient creates a worker client. When no HTTP client is supplied one is
// built with the configured timeout (default 30s).
func NewClient(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{
		httpClient: client,
		baseURL:    base,
		apiKey:     strings.TrimSpace(opts.APIKey),
	}
}

// Job is the submission sent to the engine. The engine echoes RequestID (and
// PipelineID/Stage for pipeline work) back in its callback.
type Job struct {
	RequestID  string           `json:"request_id"`
	UserID     string           `json:"user_id"`
	Kind       domain.Kind      `json:"type"`
	PipelineID string           `json:"pipeline_id,omitempty"`
	Stage      string           `json:"stage,omitempty"`
	Payload    validate.Payload `json:"payload"`
}

type submitResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Submit forwards one job. It returns domain.ErrWorkerTimeout when the call
// exceeds its deadline and domain.ErrWorkerUnavailable for transport errors
// and non-2xx responses; both mean the job was not accepted and credit must
// be compensated by the caller.
func (c *Client) Submit(ctx context.Context, job Job) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: worker base url not configured", domain.ErrWorkerUnavailable)
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("worker: encode job: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("worker: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %v", domain.ErrWorkerTimeout, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrWorkerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: worker returned %d: %s", domain.ErrWorkerUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// A 2xx with an unreadable body still means the engine took the job.
		return nil
	}
	if !out.Success && out.Error != "" {
		return fmt.Errorf("%w: worker rejected job: %s", domain.ErrWorkerUnavailable, out.Error)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

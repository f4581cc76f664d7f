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

	"applytrack/internal/services"
)

// HTTPDoer describes the HTTP client used by the worker client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Health is the worker's /health response.
type Health struct {
	Status  string         `json:"status"`
	Version string         `json:"version,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Healthy reports whether the worker declared itself usable.
func (h Health) Healthy() bool {
	switch strings.ToLower(strings.TrimSpace(h.Status)) {
	case "ok", "healthy", "ready":
		return true
	default:
		return false
	}
}

// MaintenanceResult is the worker's answer to a maintenance trigger.
type MaintenanceResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Client calls the worker API.
type Client struct {
	baseURL string
	timeout time.Duration
	client  HTTPDoer
}

// NewClient builds a worker client. client may be nil.
func NewClient(baseURL string, timeout time.Duration, client HTTPDoer) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		timeout: timeout,
		client:  client,
	}
}

// BaseURL returns the configured worker URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health fetches the worker health document.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var health Health
	err := c.do(ctx, http.MethodGet, "/health", "health check", &health)
	return health, err
}

// TriggerMaintenance asks the worker to run its maintenance pass.
func (c *Client) TriggerMaintenance(ctx context.Context) (MaintenanceResult, error) {
	var result MaintenanceResult
	if err := c.do(ctx, http.MethodPost, "/maintenance", "trigger maintenance", &result); err != nil {
		return result, err
	}
	if !result.Success {
		message := result.Message
		if message == "" {
			message = "worker reported maintenance failure"
		}
		return result, services.Wrap(services.ErrExternalTool, "worker", "trigger maintenance", message, nil)
	}
	return result, nil
}

// MaintenanceStats returns the worker's maintenance statistics as reported.
func (c *Client) MaintenanceStats(ctx context.Context) (map[string]any, error) {
	stats := make(map[string]any)
	err := c.do(ctx, http.MethodGet, "/maintenance/stats", "maintenance stats", &stats)
	return stats, err
}

func (c *Client) do(ctx context.Context, method, path, operation string, out any) error {
	if c.baseURL == "" {
		return services.Wrap(services.ErrConfiguration, "worker", operation, "worker url is not configured", nil)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	var body io.Reader
	if method == http.MethodPost {
		body = bytes.NewReader([]byte("{}"))
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build worker request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "worker", operation, "request timed out", err)
		}
		return services.Wrap(services.ErrTransient, "worker", operation, "request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return services.Wrap(services.ErrTransient, "worker", operation, "read response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return services.Wrap(services.ErrTransient, "worker", operation,
			fmt.Sprintf("worker returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))), nil)
	}
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return services.Wrap(services.ErrExternalTool, "worker", operation, "decode response", err)
	}
	return nil
}

package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const sinkHTTP = "http"

// HTTPConfig holds configuration for the status callback
type HTTPConfig struct {
	BaseURL string
	// APIKey is sent as X-Internal-API-Key when set
	APIKey  string
	Timeout time.Duration
	// RateLimit caps outgoing calls per second, 0 disables the limit
	RateLimit float64
}

// HTTPReporter posts statuses to {base}/jobs/{id}/status
type HTTPReporter struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

type statusRequest struct {
	Status       string  `json:"status"`
	ErrorMessage string  `json:"error_message,omitempty"`
	StartedAt    *string `json:"started_at,omitempty"`
	CompletedAt  *string `json:"completed_at,omitempty"`
}

// NewHTTPReporter creates an HTTPReporter
func NewHTTPReporter(cfg *HTTPConfig, logger *slog.Logger) *HTTPReporter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := &HTTPReporter{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return r
}

// Report implements Reporter. Non-2xx responses are errors; nothing is retried.
func (r *HTTPReporter) Report(ctx context.Context, update Update) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return r.fail(update, fmt.Errorf("rate limiter: %w", err))
		}
	}

	body, err := json.Marshal(statusRequest{
		Status:       update.Status,
		ErrorMessage: update.ErrorMessage,
		StartedAt:    formatTime(update.StartedAt),
		CompletedAt:  formatTime(update.CompletedAt),
	})
	if err != nil {
		return r.fail(update, fmt.Errorf("failed to marshal status update: %w", err))
	}

	endpoint := fmt.Sprintf("%s/jobs/%s/status", r.baseURL, url.PathEscape(update.JobID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return r.fail(update, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return r.fail(update, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return r.fail(update, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	r.logger.Debug("Job status reported",
		slog.String("job_id", update.JobID),
		slog.String("status", update.Status),
	)
	return nil
}

func (r *HTTPReporter) fail(update Update, err error) error {
	return &ReportingError{Sink: sinkHTTP, JobID: update.JobID, Err: err}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

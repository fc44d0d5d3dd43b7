// Package executor provides the processing callback shipped with the worker
// service: it hands each job to the HTTP service that does the real work.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/media-queue/internal/queue"
)

// ErrNoEndpoint is returned for a job type without a configured endpoint
var ErrNoEndpoint = errors.New("no endpoint configured for job type")

// Config holds executor configuration
type Config struct {
	// Endpoints maps a job type to the URL its jobs are POSTed to
	Endpoints map[string]string
	APIKey    string
	// Timeout caps a single call; zero leaves it to the caller's context
	Timeout time.Duration
}

// HTTPExecutor posts the job's wire form to the endpoint for its type
type HTTPExecutor struct {
	endpoints map[string]string
	apiKey    string
	client    *http.Client
	logger    *slog.Logger
}

// New creates an HTTPExecutor
func New(cfg *Config, logger *slog.Logger) *HTTPExecutor {
	return &HTTPExecutor{
		endpoints: cfg.Endpoints,
		apiKey:    cfg.APIKey,
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    logger,
	}
}

// JobTypes lists the job types with an endpoint
func (e *HTTPExecutor) JobTypes() []string {
	types := make([]string, 0, len(e.endpoints))
	for jobType := range e.endpoints {
		types = append(types, jobType)
	}
	return types
}

// Execute processes one job. Any response outside 2xx fails the attempt.
func (e *HTTPExecutor) Execute(ctx context.Context, job *queue.Job) error {
	endpoint, ok := e.endpoints[job.JobType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoEndpoint, job.JobType)
	}

	body, err := queue.Encode(job)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte(body)))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Job-ID", job.ID)
	if e.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", e.apiKey)
	}

	e.logger.Debug("Executing job",
		slog.String("job_id", job.ID),
		slog.String("job_type", job.JobType),
		slog.String("endpoint", endpoint),
	)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", job.JobType, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s call failed with status %d: %s", job.JobType, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

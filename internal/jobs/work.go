package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// WorkHandlerFunc adapts a plain function to the WorkHandler interface.
type WorkHandlerFunc func(ctx context.Context, job *ScheduledJob) (*WorkResult, error)

// Execute calls the wrapped function.
func (f WorkHandlerFunc) Execute(ctx context.Context, job *ScheduledJob) (*WorkResult, error) {
	return f(ctx, job)
}

// workTarget is the portion of a job's config the HTTP handler understands.
type workTarget struct {
	URL     string          `json:"url"`
	Method  string          `json:"method"`
	Payload json.RawMessage `json:"payload"`
}

// HTTPWorkHandler executes a run by calling the endpoint named in the
// job's config. The job config must carry at least {"url": "..."};
// method defaults to POST and payload defaults to a description of the
// job being run. A job with no url configured succeeds with a logged
// no-op, so jobs can be registered ahead of their downstream service.
type HTTPWorkHandler struct {
	httpClient *http.Client
}

// NewHTTPWorkHandler creates the handler with the given per-run timeout.
func NewHTTPWorkHandler(timeout time.Duration) *HTTPWorkHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPWorkHandler{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Execute dispatches the job to its configured endpoint and records the
// response body as run output. Endpoints must tolerate re-delivery: a
// retried occurrence arrives with the same job id and schedule.
func (h *HTTPWorkHandler) Execute(ctx context.Context, job *ScheduledJob) (*WorkResult, error) {
	var target workTarget
	if len(job.Config) > 0 {
		if err := json.Unmarshal(job.Config, &target); err != nil {
			return nil, fmt.Errorf("parsing job config: %w", err)
		}
	}

	if target.URL == "" {
		log.Info().
			Str("job_id", job.ID).
			Str("name", job.Name).
			Msg("Job has no work endpoint configured, recording no-op run")
		return &WorkResult{Summary: "no work endpoint configured"}, nil
	}

	method := target.Method
	if method == "" {
		method = http.MethodPost
	}

	payload := target.Payload
	if len(payload) == 0 {
		body, err := json.Marshal(map[string]string{
			"job_id":     job.ID,
			"project_id": job.ProjectID,
			"name":       job.Name,
		})
		if err != nil {
			return nil, fmt.Errorf("encoding dispatch payload: %w", err)
		}
		payload = body
	}

	req, err := http.NewRequestWithContext(ctx, method, target.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building work request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "cadenza-scheduler/1.0")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling work endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("work endpoint returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	result := &WorkResult{Summary: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, target.URL)}
	if json.Valid(body) {
		result.Output = body
	}
	return result, nil
}

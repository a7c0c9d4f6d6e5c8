package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/cadenza-io/cadenza/internal/config"
	"github.com/cadenza-io/cadenza/internal/metrics"
)

// WebhookNotifier delivers failure events to an operator-facing webhook.
// Deliveries over the configured rate are dropped rather than queued.
type WebhookNotifier struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewWebhookNotifier creates a notifier from the alerts configuration.
func NewWebhookNotifier(cfg *config.AlertsConfig) *WebhookNotifier {
	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &WebhookNotifier{
		url:     cfg.WebhookURL,
		timeout: cfg.Timeout,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(limit, burst),
	}
}

// JobFailed posts the event to the webhook. Failures are logged and
// dropped; nothing propagates back to the state machine.
func (n *WebhookNotifier) JobFailed(event FailureEvent) {
	if !n.limiter.Allow() {
		metrics.RecordAlertDelivery("dropped")
		log.Warn().
			Str("job_id", event.ScheduledJobID).
			Str("run_id", event.JobRunID).
			Msg("Alert rate limit exceeded, dropping notification")
		return
	}

	if err := n.deliver(event); err != nil {
		metrics.RecordAlertDelivery("failed")
		log.Error().
			Err(err).
			Str("job_id", event.ScheduledJobID).
			Str("run_id", event.JobRunID).
			Bool("dead_lettered", event.DeadLettered).
			Msg("Alert delivery failed")
		return
	}

	metrics.RecordAlertDelivery("delivered")
	log.Debug().
		Str("job_id", event.ScheduledJobID).
		Str("run_id", event.JobRunID).
		Bool("dead_lettered", event.DeadLettered).
		Msg("Alert delivered")
}

func (n *WebhookNotifier) deliver(event FailureEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned HTTP %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// LogNotifier records failure events in the log only; used when no
// webhook URL is configured.
type LogNotifier struct{}

// JobFailed logs the event.
func (LogNotifier) JobFailed(event FailureEvent) {
	log.Warn().
		Str("owner_id", event.OwnerID).
		Str("project_id", event.ProjectID).
		Str("job_id", event.ScheduledJobID).
		Str("run_id", event.JobRunID).
		Int("consecutive_failures", event.ConsecutiveFailures).
		Bool("dead_lettered", event.DeadLettered).
		Time("finished_at", event.FinishedAt).
		Msg("Job run failed")
}

// FromConfig picks the webhook notifier when a URL is configured, the
// log-only notifier otherwise.
func FromConfig(cfg *config.AlertsConfig) Notifier {
	if cfg.WebhookURL == "" {
		return LogNotifier{}
	}
	return NewWebhookNotifier(cfg)
}

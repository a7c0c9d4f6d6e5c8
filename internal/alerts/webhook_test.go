package alerts

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenza-io/cadenza/internal/config"
)

func testEvent() FailureEvent {
	return FailureEvent{
		OwnerID:             "owner-1",
		ProjectID:           "proj-1",
		ScheduledJobID:      "job-1",
		JobRunID:            "run-1",
		ConsecutiveFailures: 2,
		DeadLettered:        false,
		FinishedAt:          time.Date(2025, 6, 1, 6, 35, 0, 0, time.UTC),
	}
}

func TestWebhookNotifierDelivers(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(&config.AlertsConfig{
		WebhookURL: srv.URL,
		Timeout:    5 * time.Second,
	})

	n.JobFailed(testEvent())

	assert.Equal(t, "application/json", gotContentType)
	var delivered FailureEvent
	require.NoError(t, json.Unmarshal(gotBody, &delivered))
	assert.Equal(t, "job-1", delivered.ScheduledJobID)
	assert.Equal(t, 2, delivered.ConsecutiveFailures)
}

func TestWebhookNotifierSwallowsDeliveryErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(&config.AlertsConfig{
		WebhookURL: srv.URL,
		Timeout:    5 * time.Second,
	})

	// Must not panic or propagate anything.
	n.JobFailed(testEvent())
}

func TestWebhookNotifierUnreachableEndpoint(t *testing.T) {
	n := NewWebhookNotifier(&config.AlertsConfig{
		WebhookURL: "http://127.0.0.1:1/alerts",
		Timeout:    500 * time.Millisecond,
	})

	n.JobFailed(testEvent())
}

func TestWebhookNotifierRateLimitDrops(t *testing.T) {
	var received atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(&config.AlertsConfig{
		WebhookURL:    srv.URL,
		Timeout:       5 * time.Second,
		RatePerSecond: 0.001,
		Burst:         2,
	})

	for i := 0; i < 10; i++ {
		n.JobFailed(testEvent())
	}

	// The burst allows two deliveries; the rest are dropped, never queued.
	assert.Equal(t, int64(2), received.Load())
}

func TestFromConfig(t *testing.T) {
	n := FromConfig(&config.AlertsConfig{})
	assert.IsType(t, LogNotifier{}, n)

	n = FromConfig(&config.AlertsConfig{WebhookURL: "https://hooks.internal/cadenza"})
	assert.IsType(t, &WebhookNotifier{}, n)
}

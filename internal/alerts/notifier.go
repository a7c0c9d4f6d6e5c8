// Package alerts notifies operators of job failures and dead-letter
// transitions. Delivery is strictly best-effort: every error is logged and
// swallowed here, so a broken alert channel can never roll back or retry
// an already-committed run outcome. Notifier deliberately returns nothing.
package alerts

import (
	"time"
)

// FailureEvent describes a failed or dead-lettered run.
type FailureEvent struct {
	OwnerID             string    `json:"owner_id"`
	ProjectID           string    `json:"project_id"`
	ScheduledJobID      string    `json:"scheduled_job_id"`
	JobRunID            string    `json:"job_run_id"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	DeadLettered        bool      `json:"dead_lettered"`
	FinishedAt          time.Time `json:"finished_at"`
}

// Notifier receives failure events. Implementations must not block the
// caller beyond their own delivery timeout and must not return errors;
// alerting is observability, not correctness.
type Notifier interface {
	JobFailed(event FailureEvent)
}

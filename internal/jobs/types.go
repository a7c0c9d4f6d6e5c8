// Package jobs implements the recurring-job scheduling core: the claim
// protocol that gives one worker at-most-once rights to a due occurrence,
// the run-outcome state machine, and the dead-letter recovery operations.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cadenza-io/cadenza/internal/schedule"
)

// JobStatus is the lifecycle status of a scheduled job.
type JobStatus string

const (
	// StatusActive means the job is schedulable and has a next run.
	StatusActive JobStatus = "active"
	// StatusPaused means the job is kept but never selected as due.
	StatusPaused JobStatus = "paused"
	// StatusDeadLetter means retries were exhausted; an operator must
	// requeue the job before it runs again.
	StatusDeadLetter JobStatus = "dead_letter"
)

// CatchUpMode governs which reference instant the next occurrence is
// computed from when a claim services an occurrence.
type CatchUpMode string

const (
	// SkipMissed schedules the next real occurrence from "now",
	// silently dropping anything missed in between.
	SkipMissed CatchUpMode = "skip_missed"
	// ReplayMissed schedules from the serviced occurrence's original
	// instant, so a backlog of missed occurrences is worked through.
	ReplayMissed CatchUpMode = "replay_missed"
)

// RunTrigger distinguishes operator-initiated runs from scheduled ones.
type RunTrigger string

const (
	TriggerManual    RunTrigger = "manual"
	TriggerScheduled RunTrigger = "scheduled"
)

// RunStatus is the state of one execution attempt.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// Project is the tenant anchor a job belongs to. Its timezone is the
// fallback when a job carries no zone of its own.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Timezone  string    `json:"timezone"`
	CreatedAt time.Time `json:"created_at"`
}

// ScheduledJob is a recurring job definition together with its live
// scheduling and health state.
type ScheduledJob struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	OwnerID   string `json:"owner_id"`
	Name      string `json:"name"`

	Cadence            schedule.Cadence         `json:"cadence"`
	DayOfWeek          *int                     `json:"day_of_week,omitempty"` // 0 = Sunday; set iff weekly
	RunAtHour          int                      `json:"run_at_hour"`
	RunAtMinute        int                      `json:"run_at_minute"`
	Timezone           string                   `json:"timezone,omitempty"`
	DSTAmbiguousPolicy schedule.AmbiguousPolicy `json:"dst_ambiguous_policy"`
	DSTInvalidPolicy   schedule.InvalidPolicy   `json:"dst_invalid_policy"`

	Status      JobStatus   `json:"status"`
	NextRunAt   *time.Time  `json:"next_run_at,omitempty"`
	CatchUpMode CatchUpMode `json:"catch_up_mode"`

	RetryMaxAttempts       int `json:"retry_max_attempts"`
	RetryBackoffSeconds    int `json:"retry_backoff_seconds"`
	RetryMaxBackoffSeconds int `json:"retry_max_backoff_seconds"`

	// Retry cursor: all set while a scheduled occurrence is mid-retry,
	// all nil otherwise.
	RetryScheduledFor *time.Time `json:"retry_scheduled_for,omitempty"`
	RetryAttempt      *int       `json:"retry_attempt,omitempty"`
	RetryFromRunID    *string    `json:"retry_from_run_id,omitempty"`

	SuccessCount        int        `json:"success_count"`
	FailureCount        int        `json:"failure_count"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           *string    `json:"last_error,omitempty"`
	LastRunAt           *time.Time `json:"last_run_at,omitempty"`
	LastRunStatus       *string    `json:"last_run_status,omitempty"`
	LastRunID           *string    `json:"last_run_id,omitempty"`

	DeadLetteredAt           *time.Time `json:"dead_lettered_at,omitempty"`
	DeadLetterAcknowledgedAt *time.Time `json:"dead_letter_acknowledged_at,omitempty"`
	DeadLetterAcknowledgedBy *string    `json:"dead_letter_acknowledged_by,omitempty"`

	// Config is opaque to the scheduler; only the work handler reads it.
	Config json.RawMessage `json:"config,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Spec builds the calculator input for this job in the given location.
func (j *ScheduledJob) Spec(loc *time.Location) schedule.Spec {
	spec := schedule.Spec{
		Cadence:   j.Cadence,
		Hour:      j.RunAtHour,
		Minute:    j.RunAtMinute,
		Location:  loc,
		Ambiguous: j.DSTAmbiguousPolicy,
		Invalid:   j.DSTInvalidPolicy,
	}
	if j.DayOfWeek != nil {
		spec.DayOfWeek = *j.DayOfWeek
	}
	return spec
}

// JobRun is one execution attempt of a job.
type JobRun struct {
	ID             string     `json:"id"`
	ScheduledJobID *string    `json:"scheduled_job_id,omitempty"`
	Trigger        RunTrigger `json:"trigger"`
	Status         RunStatus  `json:"status"`

	// Occurrence identity, scheduled runs only.
	ScheduledFor   *time.Time `json:"scheduled_for,omitempty"`
	AttemptNumber  int        `json:"attempt_number"`
	MaxAttempts    int        `json:"max_attempts"`
	RetryOfRunID   *string    `json:"retry_of_run_id,omitempty"`
	IdempotencyKey *string    `json:"idempotency_key,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Output              json.RawMessage `json:"output,omitempty"`
	OutputSummary       *string         `json:"output_summary,omitempty"`
	Error               *string         `json:"error,omitempty"`
	RetryBackoffSeconds *int            `json:"retry_backoff_seconds,omitempty"`
	NextRetryAt         *time.Time      `json:"next_retry_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IdempotencyKey is the deterministic occurrence identity of a scheduled
// run attempt. Its uniqueness constraint is the second line of defense
// against double-claiming behind the conditional-update protocol.
func IdempotencyKey(jobID string, scheduledFor time.Time, attempt int) string {
	return fmt.Sprintf("%s:%s:%d", jobID, scheduledFor.UTC().Format(time.RFC3339), attempt)
}

// WorkResult is what a work handler produces on success.
type WorkResult struct {
	Output  json.RawMessage
	Summary string
}

// WorkHandler performs the actual analytics computation for a claimed run.
// The scheduler gives at-least-once semantics: a handler may be re-invoked
// for the same occurrence after a failure, so it must tolerate retries.
type WorkHandler interface {
	Execute(ctx context.Context, job *ScheduledJob) (*WorkResult, error)
}

var (
	// ErrNotFound is returned when a job, run, or project does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotClaimed reports a lost claim race or a job that is no longer
	// due or active. It is expected control flow, not a failure.
	ErrNotClaimed = errors.New("occurrence not claimed")

	// ErrNotDeadLettered is returned when a dead-letter operation targets
	// a job that was never dead-lettered.
	ErrNotDeadLettered = errors.New("job is not dead-lettered")
)

// ValidationError rejects a bad job definition before any state exists.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

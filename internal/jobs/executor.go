package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cadenza-io/cadenza/internal/alerts"
	"github.com/cadenza-io/cadenza/internal/database"
	"github.com/cadenza-io/cadenza/internal/metrics"
	"github.com/cadenza-io/cadenza/internal/schedule"
)

// Executor drives a claimed run through the outcome state machine:
// RUNNING -> SUCCESS, RUNNING -> FAILED with a scheduled retry, or
// RUNNING -> FAILED terminally (dead-lettering the job when a scheduled
// occurrence exhausts its attempts).
type Executor struct {
	db       *database.DB
	store    *Store
	resolver *schedule.Resolver
	notifier alerts.Notifier
	handler  WorkHandler

	// nowFunc is swapped in tests to pin outcome timestamps.
	nowFunc func() time.Time
}

// NewExecutor creates an executor that runs work through handler.
func NewExecutor(db *database.DB, store *Store, resolver *schedule.Resolver, notifier alerts.Notifier, handler WorkHandler) *Executor {
	return &Executor{
		db:       db,
		store:    store,
		resolver: resolver,
		notifier: notifier,
		handler:  handler,
		nowFunc:  func() time.Time { return time.Now().UTC() },
	}
}

// Execute invokes the work handler for a claimed run and persists the
// outcome together with the job's health counters in one transaction.
// The returned run reflects its terminal state. An error return means the
// outcome could not be persisted, never that the work itself failed.
func (e *Executor) Execute(ctx context.Context, claim *Claim) (*JobRun, error) {
	run := claim.Run

	result, workErr := e.invoke(ctx, claim.Job)
	finishedAt := e.nowFunc()

	var event *alerts.FailureEvent
	err := e.db.Transaction(ctx, func(tx *database.Tx) error {
		// Re-read the job: the claim snapshot predates the cursor
		// advance, and counters may have moved under a manual trigger.
		job, err := e.store.getJob(ctx, tx, claim.Job.ID)
		if err != nil {
			return err
		}

		if workErr == nil {
			e.applySuccess(ctx, tx, job, run, result, finishedAt)
			return e.persist(ctx, tx, job, run)
		}

		deadLettered := e.applyFailure(ctx, tx, job, run, workErr, finishedAt)
		if err := e.persist(ctx, tx, job, run); err != nil {
			return err
		}
		event = &alerts.FailureEvent{
			OwnerID:             job.OwnerID,
			ProjectID:           job.ProjectID,
			ScheduledJobID:      job.ID,
			JobRunID:            run.ID,
			ConsecutiveFailures: job.ConsecutiveFailures,
			DeadLettered:        deadLettered,
			FinishedAt:          finishedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordRun(string(run.Trigger), string(run.Status))

	// Outside the transaction boundary: a failed notification must never
	// unwind the committed state transition.
	if event != nil {
		if event.DeadLettered {
			metrics.RecordDeadLetter()
		}
		e.notifier.JobFailed(*event)
	}

	return run, nil
}

// invoke shields the state machine from a panicking work handler.
func (e *Executor) invoke(ctx context.Context, job *ScheduledJob) (result *WorkResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = fmt.Errorf("work handler panicked: %v", p)
		}
	}()
	return e.handler.Execute(ctx, job)
}

func (e *Executor) applySuccess(ctx context.Context, tx *database.Tx, job *ScheduledJob, run *JobRun, result *WorkResult, finishedAt time.Time) {
	run.Status = RunStatusSuccess
	run.FinishedAt = &finishedAt
	if result != nil {
		run.Output = result.Output
		if result.Summary != "" {
			summary := result.Summary
			run.OutputSummary = &summary
		}
	}

	status := string(RunStatusSuccess)
	job.SuccessCount++
	job.ConsecutiveFailures = 0
	job.LastError = nil
	job.LastRunStatus = &status
	job.LastRunID = &run.ID
	job.LastRunAt = &run.StartedAt
	job.RetryScheduledFor = nil
	job.RetryAttempt = nil
	job.RetryFromRunID = nil

	// Scheduled runs had their cursor advanced at claim time. A manual
	// trigger bypassed the claimer, so its success recomputes the cursor.
	if run.Trigger == TriggerManual && job.Status == StatusActive {
		e.recomputeNextRun(ctx, tx, job, finishedAt)
	}
}

// applyFailure mutates job and run for the failure outcome and reports
// whether the job was dead-lettered.
func (e *Executor) applyFailure(ctx context.Context, tx *database.Tx, job *ScheduledJob, run *JobRun, workErr error, finishedAt time.Time) bool {
	errMsg := workErr.Error()
	status := string(RunStatusFailed)

	run.Status = RunStatusFailed
	run.FinishedAt = &finishedAt
	run.Error = &errMsg

	job.FailureCount++
	job.ConsecutiveFailures++
	job.LastError = &errMsg
	job.LastRunStatus = &status
	job.LastRunID = &run.ID
	job.LastRunAt = &run.StartedAt

	retryable := run.Trigger == TriggerScheduled &&
		run.ScheduledFor != nil &&
		run.AttemptNumber < run.MaxAttempts &&
		job.Status == StatusActive

	if retryable {
		backoff := schedule.Backoff(
			time.Duration(job.RetryBackoffSeconds)*time.Second,
			time.Duration(job.RetryMaxBackoffSeconds)*time.Second,
			run.AttemptNumber,
		)
		nextRetryAt := finishedAt.Add(backoff)
		backoffSecs := int(backoff / time.Second)
		nextAttempt := run.AttemptNumber + 1

		run.RetryBackoffSeconds = &backoffSecs
		run.NextRetryAt = &nextRetryAt

		// The retry becomes "due" at the retry instant: the ordinary
		// claim path will pick it up, cursor first.
		job.RetryScheduledFor = run.ScheduledFor
		job.RetryAttempt = &nextAttempt
		job.RetryFromRunID = &run.ID
		job.NextRunAt = &nextRetryAt

		log.Info().
			Str("job_id", job.ID).
			Str("run_id", run.ID).
			Int("attempt", run.AttemptNumber).
			Dur("backoff", backoff).
			Msg("Run failed, retry scheduled")
		return false
	}

	// Terminal failure. Only an exhausted attempt budget dead-letters;
	// a run that lost its retry eligibility because an operator paused
	// the job mid-run fails terminally without touching the pause.
	if run.Trigger == TriggerScheduled && run.ScheduledFor != nil {
		if run.AttemptNumber >= run.MaxAttempts {
			job.Status = StatusDeadLetter
			job.DeadLetteredAt = &finishedAt
			job.NextRunAt = nil
			job.RetryScheduledFor = nil
			job.RetryAttempt = nil
			job.RetryFromRunID = nil

			log.Warn().
				Str("job_id", job.ID).
				Str("run_id", run.ID).
				Int("attempts", run.AttemptNumber).
				Msg("Retries exhausted, job dead-lettered")
			return true
		}

		log.Info().
			Str("job_id", job.ID).
			Str("run_id", run.ID).
			Str("status", string(job.Status)).
			Int("attempt", run.AttemptNumber).
			Msg("Run failed on a job that is no longer active, not retrying")
		return false
	}

	// Manual failure: the job keeps its status; an active job keeps
	// running on its normal cycle.
	if job.Status == StatusActive {
		e.recomputeNextRun(ctx, tx, job, finishedAt)
	}
	return false
}

func (e *Executor) recomputeNextRun(ctx context.Context, tx *database.Tx, job *ScheduledJob, from time.Time) {
	projectTZ := e.store.projectTimezone(ctx, tx, job.ProjectID)
	loc := e.resolver.Resolve(job.Timezone, projectTZ)

	next, err := schedule.NextRun(job.Spec(loc), from)
	if err != nil {
		// Leave the existing cursor in place rather than wedging the job.
		log.Error().
			Err(err).
			Str("job_id", job.ID).
			Msg("Failed to recompute next run after manual trigger")
		return
	}
	job.NextRunAt = &next
}

func (e *Executor) persist(ctx context.Context, tx *database.Tx, job *ScheduledJob, run *JobRun) error {
	if err := e.store.updateRun(ctx, tx, run); err != nil {
		return err
	}
	if err := e.store.updateJob(ctx, tx, job); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Job deleted mid-run; the run row still records the outcome.
			return nil
		}
		return err
	}
	return nil
}

package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cadenza-io/cadenza/internal/database"
	"github.com/cadenza-io/cadenza/internal/schedule"
)

// Claimer grants at-most-one worker the right to execute a due occurrence.
// Correctness rests on the store's conditional update, not on any
// in-process lock: any number of workers may race on the same job and
// exactly one claim per occurrence succeeds.
type Claimer struct {
	db       *database.DB
	store    *Store
	resolver *schedule.Resolver
}

// NewClaimer creates a claimer over the given store.
func NewClaimer(db *database.DB, store *Store, resolver *schedule.Resolver) *Claimer {
	return &Claimer{db: db, store: store, resolver: resolver}
}

// Claim is a successfully claimed occurrence: the job snapshot as read
// before the cursor was advanced, plus the freshly created running run.
type Claim struct {
	Job *ScheduledJob
	Run *JobRun
}

// Claim attempts to claim the job's current due occurrence. It returns
// ErrNotClaimed when another worker won the race, the job is not due, or
// the job is not active; those are expected outcomes, not failures.
//
// The whole protocol runs in one transaction: read the job, recompute the
// next cycle's run instant, conditionally advance the cursor, and insert
// the run row whose idempotency key backs the conditional update up.
func (c *Claimer) Claim(ctx context.Context, jobID string, now time.Time) (*Claim, error) {
	var claim *Claim

	err := c.db.Transaction(ctx, func(tx *database.Tx) error {
		job, err := c.store.getJob(ctx, tx, jobID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrNotClaimed
			}
			return err
		}

		if job.Status != StatusActive || job.NextRunAt == nil || job.NextRunAt.After(now) {
			return ErrNotClaimed
		}

		// The occurrence being serviced: a pending retry takes precedence
		// over a fresh cycle.
		scheduledFor := *job.NextRunAt
		attempt := 1
		if job.RetryScheduledFor != nil && job.RetryAttempt != nil {
			scheduledFor = *job.RetryScheduledFor
			attempt = *job.RetryAttempt
		}

		projectTZ := c.store.projectTimezone(ctx, tx, job.ProjectID)
		loc := c.resolver.Resolve(job.Timezone, projectTZ)

		reference := now
		if job.CatchUpMode == ReplayMissed {
			reference = scheduledFor
		} else if scheduledFor.Before(now) {
			log.Debug().
				Str("job_id", job.ID).
				Time("scheduled_for", scheduledFor).
				Time("reference", now).
				Msg("Skipping missed occurrences, scheduling from now")
		}

		nextRunAt, err := schedule.NextRun(job.Spec(loc), reference)
		if err != nil {
			// Misconfigured schedule or zone-database defect. Fatal for
			// this claim, surfaced to the caller, never silently eaten.
			return fmt.Errorf("computing next run for job %s: %w", job.ID, err)
		}

		runID := uuid.New().String()
		claimed, err := c.store.claimUpdate(ctx, tx, job, nextRunAt, now, runID)
		if err != nil {
			return err
		}
		if !claimed {
			return ErrNotClaimed
		}

		key := IdempotencyKey(job.ID, scheduledFor, attempt)
		run := &JobRun{
			ID:             runID,
			ScheduledJobID: &job.ID,
			Trigger:        TriggerScheduled,
			Status:         RunStatusRunning,
			ScheduledFor:   &scheduledFor,
			AttemptNumber:  attempt,
			MaxAttempts:    job.RetryMaxAttempts,
			RetryOfRunID:   job.RetryFromRunID,
			IdempotencyKey: &key,
			StartedAt:      now,
		}
		if err := c.store.insertRun(ctx, tx, run); err != nil {
			if database.IsUniqueError(err) {
				// The conditional update should have excluded this race;
				// the unique key is the backstop. Still just "not claimed".
				return ErrNotClaimed
			}
			return err
		}

		claim = &Claim{Job: job, Run: run}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("job_id", claim.Job.ID).
		Str("run_id", claim.Run.ID).
		Time("scheduled_for", *claim.Run.ScheduledFor).
		Int("attempt", claim.Run.AttemptNumber).
		Msg("Claimed occurrence")

	return claim, nil
}

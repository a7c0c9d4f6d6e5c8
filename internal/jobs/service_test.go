package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenza-io/cadenza/internal/schedule"
)

func validCreateParams(projectID string) CreateJobParams {
	return CreateJobParams{
		ProjectID:              projectID,
		OwnerID:                "owner-1",
		Name:                   "weekly-digest",
		Cadence:                "weekly",
		DayOfWeek:              intp(1),
		Hour:                   9,
		Minute:                 0,
		Timezone:               "America/New_York",
		RetryMaxAttempts:       3,
		RetryBackoffSeconds:    60,
		RetryMaxBackoffSeconds: 900,
	}
}

func intp(i int) *int { return &i }

func TestServiceCreateComputesFirstRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	params := validCreateParams(f.project.ID)
	// Saturday 2025-06-07 12:00 UTC; the next Monday 09:00 New York is
	// 2025-06-09 13:00 UTC.
	start := time.Date(2025, 6, 7, 12, 0, 0, 0, time.UTC)
	params.StartAt = &start

	job, err := f.service.Create(ctx, params)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, StatusActive, job.Status)
	assert.Equal(t, schedule.EarlierOffset, job.DSTAmbiguousPolicy)
	assert.Equal(t, schedule.ShiftForward, job.DSTInvalidPolicy)
	assert.Equal(t, SkipMissed, job.CatchUpMode)
	require.NotNil(t, job.NextRunAt)
	assert.True(t, job.NextRunAt.Equal(time.Date(2025, 6, 9, 13, 0, 0, 0, time.UTC)),
		"got %v", job.NextRunAt)

	got, err := f.service.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "weekly-digest", got.Name)
}

func TestServiceCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*CreateJobParams)
		field  string
	}{
		{"missing name", func(p *CreateJobParams) { p.Name = "" }, "name"},
		{"bad cadence", func(p *CreateJobParams) { p.Cadence = "hourly" }, "cadence"},
		{"weekly without day", func(p *CreateJobParams) { p.DayOfWeek = nil }, "day_of_week"},
		{"day out of range", func(p *CreateJobParams) { p.DayOfWeek = intp(7) }, "day_of_week"},
		{"daily with day", func(p *CreateJobParams) {
			p.Cadence = "daily"
		}, "day_of_week"},
		{"hour out of range", func(p *CreateJobParams) { p.Hour = 24 }, "run_at_hour"},
		{"minute out of range", func(p *CreateJobParams) { p.Minute = 60 }, "run_at_minute"},
		{"unknown zone", func(p *CreateJobParams) { p.Timezone = "Mars/Olympus" }, "timezone"},
		{"bad ambiguous policy", func(p *CreateJobParams) { p.DSTAmbiguousPolicy = "flip_coin" }, "dst_ambiguous_policy"},
		{"bad invalid policy", func(p *CreateJobParams) { p.DSTInvalidPolicy = "explode" }, "dst_invalid_policy"},
		{"bad catch-up mode", func(p *CreateJobParams) { p.CatchUpMode = "time_travel" }, "catch_up_mode"},
		{"zero attempts", func(p *CreateJobParams) { p.RetryMaxAttempts = -1 }, "retry_max_attempts"},
		{"ceiling under base", func(p *CreateJobParams) { p.RetryMaxBackoffSeconds = 30 }, "retry_max_backoff_seconds"},
		{"bad config", func(p *CreateJobParams) { p.Config = []byte("{not json") }, "config"},
		{"unknown project", func(p *CreateJobParams) { p.ProjectID = "ghost" }, "project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := validCreateParams(f.project.ID)
			tt.mutate(&params)

			_, err := f.service.Create(ctx, params)
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestServiceUpdateScheduleChangeRecomputes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	due := time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC)
	job := baseJob(f.project.ID, due)
	attempt := 2
	fromRun := "run-0"
	job.RetryScheduledFor = &due
	job.RetryAttempt = &attempt
	job.RetryFromRunID = &fromRun
	require.NoError(t, f.store.CreateJob(ctx, job))

	hour := 8
	updated, err := f.service.Update(ctx, job.ID, UpdateJobParams{Hour: &hour})
	require.NoError(t, err)

	assert.Equal(t, 8, updated.RunAtHour)
	require.NotNil(t, updated.NextRunAt)
	assert.Equal(t, 8, updated.NextRunAt.UTC().Hour())
	assert.True(t, updated.NextRunAt.After(time.Now().UTC()))
	assert.Nil(t, updated.RetryScheduledFor, "a schedule change abandons the retry cursor")
	assert.Nil(t, updated.RetryAttempt)
	assert.Nil(t, updated.RetryFromRunID)
}

func TestServiceUpdateNonScheduleFieldKeepsCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	due := time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC)
	job := baseJob(f.project.ID, due)
	require.NoError(t, f.store.CreateJob(ctx, job))

	name := "renamed"
	updated, err := f.service.Update(ctx, job.ID, UpdateJobParams{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.Equal(due), "a rename must not move the cursor")
}

func TestServicePauseAndResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	due := time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC)
	job := baseJob(f.project.ID, due)
	attempt := 2
	job.RetryScheduledFor = &due
	job.RetryAttempt = &attempt
	require.NoError(t, f.store.CreateJob(ctx, job))

	paused, err := f.service.Pause(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)
	assert.Nil(t, paused.NextRunAt)
	assert.Nil(t, paused.RetryScheduledFor, "pausing drops any pending retry")

	// Pausing again is a no-op.
	again, err := f.service.Pause(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, again.Status)

	resumed, err := f.service.Resume(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, resumed.Status)
	require.NotNil(t, resumed.NextRunAt)
	assert.True(t, resumed.NextRunAt.After(time.Now().UTC()),
		"resume starts a fresh cycle, not the missed one")
}

func TestServiceTriggerManual(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	future := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	job := baseJob(f.project.ID, future)
	require.NoError(t, f.store.CreateJob(ctx, job))

	run, err := f.service.TriggerManual(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, TriggerManual, run.Trigger)
	assert.Equal(t, RunStatusSuccess, run.Status)
	assert.Equal(t, 1, run.AttemptNumber)
	assert.Equal(t, 1, run.MaxAttempts)
	assert.Nil(t, run.ScheduledFor)
	assert.Nil(t, run.IdempotencyKey)

	got, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SuccessCount)
	require.NotNil(t, got.NextRunAt)
}

func TestServiceTriggerManualFailureNeverRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.handler.fn = func(ctx context.Context, job *ScheduledJob) (*WorkResult, error) {
		return nil, assert.AnError
	}

	future := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	job := baseJob(f.project.ID, future)
	require.NoError(t, f.store.CreateJob(ctx, job))

	run, err := f.service.TriggerManual(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, run.Status)
	assert.Nil(t, run.NextRetryAt)

	got, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status, "a manual failure never dead-letters")
	assert.Nil(t, got.RetryScheduledFor)
	assert.Equal(t, 1, got.FailureCount)
}

func TestServiceDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := baseJob(f.project.ID, time.Now().UTC())
	require.NoError(t, f.store.CreateJob(ctx, job))

	require.NoError(t, f.service.Delete(ctx, job.ID))
	_, err := f.service.Get(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.service.Delete(ctx, job.ID), ErrNotFound)
}

func TestServiceUpdateWeeklyToDailyDropsDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.service.Create(ctx, validCreateParams(f.project.ID))
	require.NoError(t, err)
	require.NotNil(t, job.DayOfWeek)

	cadence := "daily"
	updated, err := f.service.Update(ctx, job.ID, UpdateJobParams{Cadence: &cadence})
	require.NoError(t, err)

	assert.Equal(t, schedule.CadenceDaily, updated.Cadence)
	assert.Nil(t, updated.DayOfWeek, "the stale weekly day must not survive a switch to daily")
	require.NotNil(t, updated.NextRunAt)

	// An explicit day alongside the cadence change still gets validated.
	cadence = "daily"
	_, err = f.service.Update(ctx, job.ID, UpdateJobParams{Cadence: &cadence, DayOfWeek: intp(2)})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "day_of_week", verr.Field)
}

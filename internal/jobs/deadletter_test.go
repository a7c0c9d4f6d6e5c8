package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDeadLetteredJob(t *testing.T, f *fixture) *ScheduledJob {
	t.Helper()

	deadAt := time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC)
	errMsg := "warehouse unreachable"
	job := baseJob(f.project.ID, deadAt)
	job.Status = StatusDeadLetter
	job.NextRunAt = nil
	job.DeadLetteredAt = &deadAt
	job.FailureCount = 3
	job.ConsecutiveFailures = 3
	job.LastError = &errMsg
	require.NoError(t, f.store.CreateJob(context.Background(), job))
	return job
}

func TestAcknowledge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := seedDeadLetteredJob(t, f)

	acked, err := f.service.Acknowledge(ctx, job.ID, "oncall@cadenza.io")
	require.NoError(t, err)
	require.NotNil(t, acked.DeadLetterAcknowledgedAt)
	require.NotNil(t, acked.DeadLetterAcknowledgedBy)
	assert.Equal(t, "oncall@cadenza.io", *acked.DeadLetterAcknowledgedBy)
	assert.Equal(t, StatusDeadLetter, acked.Status, "acknowledging does not reactivate")

	firstAck := *acked.DeadLetterAcknowledgedAt

	// Re-acknowledging keeps the original record.
	again, err := f.service.Acknowledge(ctx, job.ID, "someone-else")
	require.NoError(t, err)
	require.NotNil(t, again.DeadLetterAcknowledgedAt)
	assert.True(t, again.DeadLetterAcknowledgedAt.Equal(firstAck))
	assert.Equal(t, "oncall@cadenza.io", *again.DeadLetterAcknowledgedBy)
}

func TestAcknowledgeNotDeadLettered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := baseJob(f.project.ID, time.Now().UTC())
	require.NoError(t, f.store.CreateJob(ctx, job))

	_, err := f.service.Acknowledge(ctx, job.ID, "oncall")
	assert.ErrorIs(t, err, ErrNotDeadLettered)
}

func TestRequeueRestoresScheduling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := seedDeadLetteredJob(t, f)

	_, err := f.service.Acknowledge(ctx, job.ID, "oncall")
	require.NoError(t, err)

	requeued, err := f.service.Requeue(ctx, job.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, requeued.Status)
	require.NotNil(t, requeued.NextRunAt)
	assert.True(t, requeued.NextRunAt.After(time.Now().UTC()),
		"requeue schedules forward, not the exhausted occurrence")
	assert.Equal(t, 0, requeued.ConsecutiveFailures)
	assert.Equal(t, 3, requeued.FailureCount, "lifetime counters survive a requeue")
	assert.Nil(t, requeued.DeadLetteredAt)
	assert.Nil(t, requeued.DeadLetterAcknowledgedAt)
	assert.Nil(t, requeued.DeadLetterAcknowledgedBy)
	assert.Nil(t, requeued.RetryScheduledFor)

	// Requeueing an active job is a no-op.
	again, err := f.service.Requeue(ctx, job.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, again.Status)
}

func TestRequeueFromExplicitInstant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := seedDeadLetteredJob(t, f)

	// Anchoring the requeue at a fixed instant pins the recomputed run.
	from := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	requeued, err := f.service.Requeue(ctx, job.ID, &from)
	require.NoError(t, err)
	require.NotNil(t, requeued.NextRunAt)
	assert.True(t, requeued.NextRunAt.Equal(time.Date(2025, 7, 2, 6, 30, 0, 0, time.UTC)),
		"got %v", requeued.NextRunAt)
}

func TestRequeuePausedJobRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := baseJob(f.project.ID, time.Now().UTC())
	job.Status = StatusPaused
	job.NextRunAt = nil
	require.NoError(t, f.store.CreateJob(ctx, job))

	_, err := f.service.Requeue(ctx, job.ID, nil)
	assert.ErrorIs(t, err, ErrNotDeadLettered)
}

func TestRetryNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := seedDeadLetteredJob(t, f)

	run, err := f.service.RetryNow(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, TriggerManual, run.Trigger)
	assert.Equal(t, RunStatusSuccess, run.Status)

	got, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, 1, got.SuccessCount)
}

func TestBulkOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dead1 := seedDeadLetteredJob(t, f)
	dead2 := seedDeadLetteredJob(t, f)
	healthy := baseJob(f.project.ID, time.Now().UTC())
	require.NoError(t, f.store.CreateJob(ctx, healthy))

	result := f.service.AcknowledgeAll(ctx, []string{dead1.ID, dead2.ID, healthy.ID, "missing"}, "oncall")
	assert.ElementsMatch(t, []string{dead1.ID, dead2.ID}, result.Succeeded)
	assert.Len(t, result.Failed, 2)
	assert.Contains(t, result.Failed, healthy.ID)
	assert.Contains(t, result.Failed, "missing")

	result = f.service.RequeueAll(ctx, []string{dead1.ID, dead2.ID, "missing"})
	assert.ElementsMatch(t, []string{dead1.ID, dead2.ID}, result.Succeeded)
	assert.Len(t, result.Failed, 1)

	for _, id := range []string{dead1.ID, dead2.ID} {
		got, err := f.store.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusActive, got.Status)
	}
}

package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenza-io/cadenza/internal/alerts"
	"github.com/cadenza-io/cadenza/internal/config"
	"github.com/cadenza-io/cadenza/internal/database"
	"github.com/cadenza-io/cadenza/internal/jobs"
	"github.com/cadenza-io/cadenza/internal/schedule"
)

type noopHandler struct{}

func (noopHandler) Execute(ctx context.Context, job *jobs.ScheduledJob) (*jobs.WorkResult, error) {
	return &jobs.WorkResult{Summary: "ok"}, nil
}

func setup(t *testing.T) (*database.DB, *jobs.Store, *jobs.Processor) {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "worker_test.db"),
		WALMode:      true,
		ForeignKeys:  true,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
	db, err := database.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := jobs.NewStore(db)
	resolver := schedule.NewResolver()
	claimer := jobs.NewClaimer(db, store, resolver)
	executor := jobs.NewExecutor(db, store, resolver, alerts.LogNotifier{}, noopHandler{})
	return db, store, jobs.NewProcessor(store, claimer, executor)
}

func seedDueJob(t *testing.T, store *jobs.Store) *jobs.ScheduledJob {
	t.Helper()
	ctx := context.Background()

	project := &jobs.Project{Name: "analytics", Timezone: "UTC"}
	require.NoError(t, store.UpsertProject(ctx, project))

	due := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)
	job := &jobs.ScheduledJob{
		ProjectID:              project.ID,
		OwnerID:                "owner-1",
		Name:                   "nightly-report",
		Cadence:                schedule.CadenceDaily,
		RunAtHour:              6,
		RunAtMinute:            30,
		Timezone:               "UTC",
		DSTAmbiguousPolicy:     schedule.EarlierOffset,
		DSTInvalidPolicy:       schedule.ShiftForward,
		Status:                 jobs.StatusActive,
		NextRunAt:              &due,
		CatchUpMode:            jobs.SkipMissed,
		RetryMaxAttempts:       3,
		RetryBackoffSeconds:    60,
		RetryMaxBackoffSeconds: 900,
	}
	require.NoError(t, store.CreateJob(ctx, job))
	return job
}

func TestWorkerTickExecutesDueJob(t *testing.T) {
	db, store, processor := setup(t)
	job := seedDueJob(t, store)

	w := New(processor, db, &config.SchedulerConfig{PollInterval: time.Second, BatchLimit: 5})
	result, err := w.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Runs, 1)
	assert.Equal(t, jobs.RunStatusSuccess, result.Runs[0].Status)
	assert.Equal(t, 0, result.RemainingDue)

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SuccessCount)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(time.Now().UTC()))
}

func TestWorkerPollLoop(t *testing.T) {
	db, store, processor := setup(t)
	job := seedDueJob(t, store)

	w := New(processor, db, &config.SchedulerConfig{PollInterval: 20 * time.Millisecond, BatchLimit: 5})
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool {
		got, err := store.GetJob(context.Background(), job.ID)
		return err == nil && got.SuccessCount == 1
	}, 3*time.Second, 25*time.Millisecond)
}

func TestWorkerStopIsIdempotentWait(t *testing.T) {
	db, _, processor := setup(t)

	w := New(processor, db, &config.SchedulerConfig{PollInterval: 10 * time.Millisecond, BatchLimit: 1})
	w.Start()
	w.Stop()
}

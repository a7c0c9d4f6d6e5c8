package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cadenza-io/cadenza/internal/database"
	"github.com/cadenza-io/cadenza/internal/schedule"
)

// Store handles database operations for projects, jobs, and runs.
type Store struct {
	db *database.DB
}

// NewStore creates a new job store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// querier abstracts *database.DB and *database.Tx so reads and writes can
// run either standalone or inside a claim/outcome transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const jobColumns = `id, project_id, owner_id, name,
	cadence, day_of_week, run_at_hour, run_at_minute, timezone,
	dst_ambiguous_policy, dst_invalid_policy,
	status, next_run_at, catch_up_mode,
	retry_max_attempts, retry_backoff_seconds, retry_max_backoff_seconds,
	retry_scheduled_for, retry_attempt, retry_from_run_id,
	success_count, failure_count, consecutive_failures,
	last_error, last_run_at, last_run_status, last_run_id,
	dead_lettered_at, dead_letter_acknowledged_at, dead_letter_acknowledged_by,
	config, created_at, updated_at`

const runColumns = `id, scheduled_job_id, trigger_type, status,
	scheduled_for, attempt_number, max_attempts, retry_of_run_id, idempotency_key,
	started_at, finished_at,
	output, output_summary, error, retry_backoff_seconds, next_retry_at,
	created_at`

// UpsertProject creates or updates a project record.
func (s *Store) UpsertProject(ctx context.Context, p *Project) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Timezone == "" {
		p.Timezone = "UTC"
	}

	query := `
		INSERT INTO projects (id, name, timezone, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			timezone = excluded.timezone
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.Name, p.Timezone, database.FormatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("upserting project: %w", database.ClassifyError(err))
	}
	return nil
}

// GetProject retrieves a project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, timezone, created_at FROM projects WHERE id = ?`, id)

	var p Project
	var createdAt string
	if err := row.Scan(&p.ID, &p.Name, &p.Timezone, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting project: %w", err)
	}

	t, err := database.ParseTime(createdAt)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = t
	return &p, nil
}

// projectTimezone returns the project's zone, or "" when the project is
// unknown; the resolver's fallback chain absorbs the miss.
func (s *Store) projectTimezone(ctx context.Context, q querier, projectID string) string {
	var tz string
	err := q.QueryRowContext(ctx,
		`SELECT timezone FROM projects WHERE id = ?`, projectID).Scan(&tz)
	if err != nil {
		return ""
	}
	return tz
}

// CreateJob inserts a new scheduled job.
func (s *Store) CreateJob(ctx context.Context, job *ScheduledJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if len(job.Config) == 0 {
		job.Config = []byte("{}")
	}

	query := `
		INSERT INTO scheduled_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		job.ID, job.ProjectID, job.OwnerID, job.Name,
		string(job.Cadence), nullInt(job.DayOfWeek), job.RunAtHour, job.RunAtMinute, job.Timezone,
		string(job.DSTAmbiguousPolicy), string(job.DSTInvalidPolicy),
		string(job.Status), database.NullTime(job.NextRunAt), string(job.CatchUpMode),
		job.RetryMaxAttempts, job.RetryBackoffSeconds, job.RetryMaxBackoffSeconds,
		database.NullTime(job.RetryScheduledFor), nullInt(job.RetryAttempt), nullString(job.RetryFromRunID),
		job.SuccessCount, job.FailureCount, job.ConsecutiveFailures,
		nullString(job.LastError), database.NullTime(job.LastRunAt), nullString(job.LastRunStatus), nullString(job.LastRunID),
		database.NullTime(job.DeadLetteredAt), database.NullTime(job.DeadLetterAcknowledgedAt), nullString(job.DeadLetterAcknowledgedBy),
		string(job.Config), database.FormatTime(job.CreatedAt), database.FormatTime(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting job: %w", database.ClassifyError(err))
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*ScheduledJob, error) {
	return s.getJob(ctx, s.db, id)
}

func (s *Store) getJob(ctx context.Context, q querier, id string) (*ScheduledJob, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return job, nil
}

// ListFilter narrows ListJobs results.
type ListFilter struct {
	ProjectID string
	Status    JobStatus
}

// ListJobs retrieves jobs matching the filter, oldest first.
func (s *Store) ListJobs(ctx context.Context, filter ListFilter) ([]*ScheduledJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs`
	var conds []string
	var args []any
	if filter.ProjectID != "" {
		conds = append(conds, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// UpdateJob persists the full mutable state of a job.
func (s *Store) UpdateJob(ctx context.Context, job *ScheduledJob) error {
	return s.updateJob(ctx, s.db, job)
}

func (s *Store) updateJob(ctx context.Context, q querier, job *ScheduledJob) error {
	job.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE scheduled_jobs SET
			project_id = ?, owner_id = ?, name = ?,
			cadence = ?, day_of_week = ?, run_at_hour = ?, run_at_minute = ?, timezone = ?,
			dst_ambiguous_policy = ?, dst_invalid_policy = ?,
			status = ?, next_run_at = ?, catch_up_mode = ?,
			retry_max_attempts = ?, retry_backoff_seconds = ?, retry_max_backoff_seconds = ?,
			retry_scheduled_for = ?, retry_attempt = ?, retry_from_run_id = ?,
			success_count = ?, failure_count = ?, consecutive_failures = ?,
			last_error = ?, last_run_at = ?, last_run_status = ?, last_run_id = ?,
			dead_lettered_at = ?, dead_letter_acknowledged_at = ?, dead_letter_acknowledged_by = ?,
			config = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := q.ExecContext(ctx, query,
		job.ProjectID, job.OwnerID, job.Name,
		string(job.Cadence), nullInt(job.DayOfWeek), job.RunAtHour, job.RunAtMinute, job.Timezone,
		string(job.DSTAmbiguousPolicy), string(job.DSTInvalidPolicy),
		string(job.Status), database.NullTime(job.NextRunAt), string(job.CatchUpMode),
		job.RetryMaxAttempts, job.RetryBackoffSeconds, job.RetryMaxBackoffSeconds,
		database.NullTime(job.RetryScheduledFor), nullInt(job.RetryAttempt), nullString(job.RetryFromRunID),
		job.SuccessCount, job.FailureCount, job.ConsecutiveFailures,
		nullString(job.LastError), database.NullTime(job.LastRunAt), nullString(job.LastRunStatus), nullString(job.LastRunID),
		database.NullTime(job.DeadLetteredAt), database.NullTime(job.DeadLetterAcknowledgedAt), nullString(job.DeadLetterAcknowledgedBy),
		string(job.Config), database.FormatTime(job.UpdatedAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("updating job: %w", database.ClassifyError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", job.ID, ErrNotFound)
	}
	return nil
}

// DeleteJob removes a job definition. Its runs are kept for audit.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting job: %w", database.ClassifyError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// OldestDue returns the single oldest due active job whose id is not in
// the excluded set, or ErrNotFound when nothing is due.
func (s *Store) OldestDue(ctx context.Context, now time.Time, excluded []string) (*ScheduledJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM scheduled_jobs
		WHERE status = ?
		  AND next_run_at IS NOT NULL
		  AND next_run_at <= ?
	`
	args := []any{string(StatusActive), database.FormatTime(now)}
	if len(excluded) > 0 {
		query += ` AND id NOT IN (?` + strings.Repeat(", ?", len(excluded)-1) + `)`
		for _, id := range excluded {
			args = append(args, id)
		}
	}
	query += ` ORDER BY next_run_at ASC, created_at ASC LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, args...)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("selecting oldest due job: %w", err)
	}
	return job, nil
}

// CountDue returns how many active jobs are currently due.
func (s *Store) CountDue(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM scheduled_jobs
		WHERE status = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
	`, string(StatusActive), database.FormatTime(now)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting due jobs: %w", err)
	}
	return count, nil
}

// claimUpdate is the compare-and-swap at the heart of the claim protocol:
// the update succeeds only if every watched scheduling field still holds
// the value read at the start of the claim. Zero affected rows means
// another worker already claimed this occurrence.
func (s *Store) claimUpdate(ctx context.Context, q querier, snapshot *ScheduledJob, nextRunAt, now time.Time, runID string) (bool, error) {
	query := `
		UPDATE scheduled_jobs SET
			next_run_at = ?,
			last_run_at = ?,
			last_run_status = ?,
			last_run_id = ?,
			updated_at = ?
		WHERE id = ?
		  AND status = ?
		  AND next_run_at = ?
		  AND retry_scheduled_for IS ?
		  AND retry_attempt IS ?
		  AND retry_from_run_id IS ?
	`
	res, err := q.ExecContext(ctx, query,
		database.FormatTime(nextRunAt),
		database.FormatTime(now),
		string(RunStatusRunning),
		runID,
		database.Now(),
		snapshot.ID,
		string(StatusActive),
		database.NullTime(snapshot.NextRunAt),
		database.NullTime(snapshot.RetryScheduledFor),
		nullInt(snapshot.RetryAttempt),
		nullString(snapshot.RetryFromRunID),
	)
	if err != nil {
		return false, fmt.Errorf("claim update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim update: %w", err)
	}
	return n == 1, nil
}

// InsertRun persists a new run row.
func (s *Store) InsertRun(ctx context.Context, run *JobRun) error {
	return s.insertRun(ctx, s.db, run)
}

func (s *Store) insertRun(ctx context.Context, q querier, run *JobRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO job_runs (` + runColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		run.ID, nullString(run.ScheduledJobID), string(run.Trigger), string(run.Status),
		database.NullTime(run.ScheduledFor), run.AttemptNumber, run.MaxAttempts,
		nullString(run.RetryOfRunID), nullString(run.IdempotencyKey),
		database.FormatTime(run.StartedAt), database.NullTime(run.FinishedAt),
		nullBytes(run.Output), nullString(run.OutputSummary), nullString(run.Error),
		nullInt(run.RetryBackoffSeconds), database.NullTime(run.NextRetryAt),
		database.FormatTime(run.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", database.ClassifyError(err))
	}
	return nil
}

func (s *Store) updateRun(ctx context.Context, q querier, run *JobRun) error {
	query := `
		UPDATE job_runs SET
			status = ?, finished_at = ?,
			output = ?, output_summary = ?, error = ?,
			retry_backoff_seconds = ?, next_retry_at = ?
		WHERE id = ?
	`
	_, err := q.ExecContext(ctx, query,
		string(run.Status), database.NullTime(run.FinishedAt),
		nullBytes(run.Output), nullString(run.OutputSummary), nullString(run.Error),
		nullInt(run.RetryBackoffSeconds), database.NullTime(run.NextRetryAt),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*JobRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM job_runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs for a job, newest first.
func (s *Store) ListRuns(ctx context.Context, jobID string, limit int) ([]*JobRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM job_runs
		WHERE scheduled_job_id = ?
		ORDER BY started_at DESC, created_at DESC
		LIMIT ?
	`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*JobRun
	for rows.Next() {
		run, err := scanRunRows(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*ScheduledJob, error) {
	var job ScheduledJob
	var cadence, ambiguous, invalid, status, catchUp, config string
	var dayOfWeek, retryAttempt sql.NullInt64
	var nextRunAt, retryScheduledFor, lastRunAt sql.NullString
	var deadLetteredAt, deadLetterAckAt sql.NullString
	var retryFromRunID, lastError, lastRunStatus, lastRunID, deadLetterAckBy sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&job.ID, &job.ProjectID, &job.OwnerID, &job.Name,
		&cadence, &dayOfWeek, &job.RunAtHour, &job.RunAtMinute, &job.Timezone,
		&ambiguous, &invalid,
		&status, &nextRunAt, &catchUp,
		&job.RetryMaxAttempts, &job.RetryBackoffSeconds, &job.RetryMaxBackoffSeconds,
		&retryScheduledFor, &retryAttempt, &retryFromRunID,
		&job.SuccessCount, &job.FailureCount, &job.ConsecutiveFailures,
		&lastError, &lastRunAt, &lastRunStatus, &lastRunID,
		&deadLetteredAt, &deadLetterAckAt, &deadLetterAckBy,
		&config, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Cadence = schedule.Cadence(cadence)
	job.DSTAmbiguousPolicy = schedule.AmbiguousPolicy(ambiguous)
	job.DSTInvalidPolicy = schedule.InvalidPolicy(invalid)
	job.Status = JobStatus(status)
	job.CatchUpMode = CatchUpMode(catchUp)
	job.Config = []byte(config)

	job.DayOfWeek = intPtr(dayOfWeek)
	job.RetryAttempt = intPtr(retryAttempt)
	job.RetryFromRunID = strPtr(retryFromRunID)
	job.LastError = strPtr(lastError)
	job.LastRunStatus = strPtr(lastRunStatus)
	job.LastRunID = strPtr(lastRunID)
	job.DeadLetterAcknowledgedBy = strPtr(deadLetterAckBy)

	for _, field := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{nextRunAt, &job.NextRunAt},
		{retryScheduledFor, &job.RetryScheduledFor},
		{lastRunAt, &job.LastRunAt},
		{deadLetteredAt, &job.DeadLetteredAt},
		{deadLetterAckAt, &job.DeadLetterAcknowledgedAt},
	} {
		t, err := database.ParseNullTime(field.src)
		if err != nil {
			return nil, err
		}
		*field.dst = t
	}

	if job.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}

	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*ScheduledJob, error) {
	var jobs []*ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating job rows: %w", err)
	}
	return jobs, nil
}

func scanRun(row rowScanner) (*JobRun, error) {
	var run JobRun
	var trigger, status string
	var scheduledJobID, retryOfRunID, idempotencyKey sql.NullString
	var scheduledFor, finishedAt, nextRetryAt sql.NullString
	var output, outputSummary, runError sql.NullString
	var retryBackoff sql.NullInt64
	var startedAt, createdAt string

	err := row.Scan(
		&run.ID, &scheduledJobID, &trigger, &status,
		&scheduledFor, &run.AttemptNumber, &run.MaxAttempts,
		&retryOfRunID, &idempotencyKey,
		&startedAt, &finishedAt,
		&output, &outputSummary, &runError,
		&retryBackoff, &nextRetryAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	run.Trigger = RunTrigger(trigger)
	run.Status = RunStatus(status)
	run.ScheduledJobID = strPtr(scheduledJobID)
	run.RetryOfRunID = strPtr(retryOfRunID)
	run.IdempotencyKey = strPtr(idempotencyKey)
	run.OutputSummary = strPtr(outputSummary)
	run.Error = strPtr(runError)
	run.RetryBackoffSeconds = intPtr(retryBackoff)
	if output.Valid {
		run.Output = []byte(output.String)
	}

	for _, field := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{scheduledFor, &run.ScheduledFor},
		{finishedAt, &run.FinishedAt},
		{nextRetryAt, &run.NextRetryAt},
	} {
		t, err := database.ParseNullTime(field.src)
		if err != nil {
			return nil, err
		}
		*field.dst = t
	}

	if run.StartedAt, err = database.ParseTime(startedAt); err != nil {
		return nil, err
	}
	if run.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}

	return &run, nil
}

func scanRunRows(rows *sql.Rows) (*JobRun, error) {
	run, err := scanRun(rows)
	if err != nil {
		return nil, fmt.Errorf("scanning run row: %w", err)
	}
	return run, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullBytes(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func strPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func intPtr(i sql.NullInt64) *int {
	if !i.Valid {
		return nil
	}
	v := int(i.Int64)
	return &v
}

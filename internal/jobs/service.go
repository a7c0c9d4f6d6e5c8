package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cadenza-io/cadenza/internal/database"
	"github.com/cadenza-io/cadenza/internal/schedule"
)

// Service is the administrative surface over job definitions: create,
// list, edit, pause/resume, manual triggering, and dead-letter recovery.
// It carries no scheduling invariants of its own; it validates input and
// delegates to the calculator, claimer, and executor.
type Service struct {
	db       *database.DB
	store    *Store
	resolver *schedule.Resolver
	executor *Executor
}

// NewService wires the admin surface.
func NewService(db *database.DB, store *Store, resolver *schedule.Resolver, executor *Executor) *Service {
	return &Service{db: db, store: store, resolver: resolver, executor: executor}
}

// Store exposes the underlying store for read-only callers.
func (s *Service) Store() *Store {
	return s.store
}

// CreateJobParams is a new job definition as supplied by a caller.
type CreateJobParams struct {
	ProjectID string          `json:"project_id"`
	OwnerID   string          `json:"owner_id"`
	Name      string          `json:"name"`
	Cadence   string          `json:"cadence"`
	DayOfWeek *int            `json:"day_of_week"`
	Hour      int             `json:"run_at_hour"`
	Minute    int             `json:"run_at_minute"`
	Timezone  string          `json:"timezone"`

	DSTAmbiguousPolicy string `json:"dst_ambiguous_policy"`
	DSTInvalidPolicy   string `json:"dst_invalid_policy"`
	CatchUpMode        string `json:"catch_up_mode"`

	RetryMaxAttempts       int `json:"retry_max_attempts"`
	RetryBackoffSeconds    int `json:"retry_backoff_seconds"`
	RetryMaxBackoffSeconds int `json:"retry_max_backoff_seconds"`

	Config json.RawMessage `json:"config"`

	// StartAt anchors the first run computation; zero means "now".
	StartAt *time.Time `json:"start_at"`
}

// Create validates and persists a new active job with its first run
// instant computed.
func (s *Service) Create(ctx context.Context, params CreateJobParams) (*ScheduledJob, error) {
	job := &ScheduledJob{
		ProjectID:              params.ProjectID,
		OwnerID:                params.OwnerID,
		Name:                   params.Name,
		Cadence:                schedule.Cadence(params.Cadence),
		DayOfWeek:              params.DayOfWeek,
		RunAtHour:              params.Hour,
		RunAtMinute:            params.Minute,
		Timezone:               params.Timezone,
		DSTAmbiguousPolicy:     schedule.AmbiguousPolicy(defaultString(params.DSTAmbiguousPolicy, string(schedule.EarlierOffset))),
		DSTInvalidPolicy:       schedule.InvalidPolicy(defaultString(params.DSTInvalidPolicy, string(schedule.ShiftForward))),
		Status:                 StatusActive,
		CatchUpMode:            CatchUpMode(defaultString(params.CatchUpMode, string(SkipMissed))),
		RetryMaxAttempts:       params.RetryMaxAttempts,
		RetryBackoffSeconds:    params.RetryBackoffSeconds,
		RetryMaxBackoffSeconds: params.RetryMaxBackoffSeconds,
		Config:                 params.Config,
	}
	if job.RetryMaxAttempts == 0 {
		job.RetryMaxAttempts = 1
	}

	if err := s.validateDefinition(ctx, job); err != nil {
		return nil, err
	}

	startAt := time.Now().UTC()
	if params.StartAt != nil {
		startAt = params.StartAt.UTC()
	}
	next, err := s.computeNextRun(ctx, job, startAt)
	if err != nil {
		return nil, err
	}
	job.NextRunAt = &next

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	log.Info().
		Str("job_id", job.ID).
		Str("project_id", job.ProjectID).
		Str("name", job.Name).
		Time("next_run_at", next).
		Msg("Job created")

	return job, nil
}

// UpdateJobParams carries the mutable definition fields; nil leaves a
// field unchanged.
type UpdateJobParams struct {
	Name      *string `json:"name"`
	Cadence   *string `json:"cadence"`
	DayOfWeek *int    `json:"day_of_week"`
	Hour      *int    `json:"run_at_hour"`
	Minute    *int    `json:"run_at_minute"`
	Timezone  *string `json:"timezone"`

	DSTAmbiguousPolicy *string `json:"dst_ambiguous_policy"`
	DSTInvalidPolicy   *string `json:"dst_invalid_policy"`
	CatchUpMode        *string `json:"catch_up_mode"`

	RetryMaxAttempts       *int `json:"retry_max_attempts"`
	RetryBackoffSeconds    *int `json:"retry_backoff_seconds"`
	RetryMaxBackoffSeconds *int `json:"retry_max_backoff_seconds"`

	Config json.RawMessage `json:"config"`
}

// Update applies a partial definition change and, when the schedule shape
// changed on an active job, recomputes the next run from now.
func (s *Service) Update(ctx context.Context, jobID string, params UpdateJobParams) (*ScheduledJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	scheduleChanged := false
	if params.Name != nil {
		job.Name = *params.Name
	}
	if params.Cadence != nil {
		job.Cadence = schedule.Cadence(*params.Cadence)
		// Daily has no day component; dropping a stale weekly day here
		// keeps "switch to daily" a one-field patch.
		if job.Cadence == schedule.CadenceDaily && params.DayOfWeek == nil {
			job.DayOfWeek = nil
		}
		scheduleChanged = true
	}
	if params.DayOfWeek != nil {
		job.DayOfWeek = params.DayOfWeek
		scheduleChanged = true
	}
	if params.Hour != nil {
		job.RunAtHour = *params.Hour
		scheduleChanged = true
	}
	if params.Minute != nil {
		job.RunAtMinute = *params.Minute
		scheduleChanged = true
	}
	if params.Timezone != nil {
		job.Timezone = *params.Timezone
		scheduleChanged = true
	}
	if params.DSTAmbiguousPolicy != nil {
		job.DSTAmbiguousPolicy = schedule.AmbiguousPolicy(*params.DSTAmbiguousPolicy)
		scheduleChanged = true
	}
	if params.DSTInvalidPolicy != nil {
		job.DSTInvalidPolicy = schedule.InvalidPolicy(*params.DSTInvalidPolicy)
		scheduleChanged = true
	}
	if params.CatchUpMode != nil {
		job.CatchUpMode = CatchUpMode(*params.CatchUpMode)
	}
	if params.RetryMaxAttempts != nil {
		job.RetryMaxAttempts = *params.RetryMaxAttempts
	}
	if params.RetryBackoffSeconds != nil {
		job.RetryBackoffSeconds = *params.RetryBackoffSeconds
	}
	if params.RetryMaxBackoffSeconds != nil {
		job.RetryMaxBackoffSeconds = *params.RetryMaxBackoffSeconds
	}
	if params.Config != nil {
		job.Config = params.Config
	}

	if err := s.validateDefinition(ctx, job); err != nil {
		return nil, err
	}

	if scheduleChanged && job.Status == StatusActive {
		next, err := s.computeNextRun(ctx, job, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		job.NextRunAt = &next
		// A schedule change abandons any in-flight retry cursor; the
		// occurrence it pointed at no longer exists on the new schedule.
		job.RetryScheduledFor = nil
		job.RetryAttempt = nil
		job.RetryFromRunID = nil
	}

	if err := s.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Get retrieves a job by ID.
func (s *Service) Get(ctx context.Context, jobID string) (*ScheduledJob, error) {
	return s.store.GetJob(ctx, jobID)
}

// List retrieves jobs matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*ScheduledJob, error) {
	return s.store.ListJobs(ctx, filter)
}

// Delete removes a job definition.
func (s *Service) Delete(ctx context.Context, jobID string) error {
	return s.store.DeleteJob(ctx, jobID)
}

// ListRuns retrieves recent runs for a job.
func (s *Service) ListRuns(ctx context.Context, jobID string, limit int) ([]*JobRun, error) {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.store.ListRuns(ctx, jobID, limit)
}

// Pause stops scheduling without losing the definition. Any in-flight
// retry cursor is dropped; resuming starts a fresh cycle.
func (s *Service) Pause(ctx context.Context, jobID string) (*ScheduledJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == StatusPaused {
		return job, nil
	}
	if job.Status == StatusDeadLetter {
		return nil, fmt.Errorf("job %s is dead-lettered; requeue it instead", jobID)
	}

	job.Status = StatusPaused
	job.NextRunAt = nil
	job.RetryScheduledFor = nil
	job.RetryAttempt = nil
	job.RetryFromRunID = nil

	if err := s.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Resume reactivates a paused job with a freshly computed next run.
func (s *Service) Resume(ctx context.Context, jobID string) (*ScheduledJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == StatusActive {
		return job, nil
	}
	if job.Status == StatusDeadLetter {
		return nil, fmt.Errorf("job %s is dead-lettered; requeue it instead", jobID)
	}

	next, err := s.computeNextRun(ctx, job, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	job.Status = StatusActive
	job.NextRunAt = &next

	if err := s.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// TriggerManual performs an operator-initiated run immediately. Manual
// runs bypass the claimer (there is no concurrent "due" race on an
// operator action), always have a single attempt, and never retry.
func (s *Service) TriggerManual(ctx context.Context, jobID string) (*JobRun, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	run := &JobRun{
		ScheduledJobID: &job.ID,
		Trigger:        TriggerManual,
		Status:         RunStatusRunning,
		AttemptNumber:  1,
		MaxAttempts:    1,
		StartedAt:      now,
	}
	if err := s.store.InsertRun(ctx, run); err != nil {
		return nil, err
	}

	return s.executor.Execute(ctx, &Claim{Job: job, Run: run})
}

func (s *Service) computeNextRun(ctx context.Context, job *ScheduledJob, from time.Time) (time.Time, error) {
	projectTZ := s.store.projectTimezone(ctx, s.db, job.ProjectID)
	loc := s.resolver.Resolve(job.Timezone, projectTZ)

	next, err := schedule.NextRun(job.Spec(loc), from)
	if err != nil {
		return time.Time{}, fmt.Errorf("computing next run: %w", err)
	}
	return next, nil
}

func (s *Service) validateDefinition(ctx context.Context, job *ScheduledJob) error {
	if job.Name == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if job.ProjectID == "" {
		return &ValidationError{Field: "project_id", Message: "is required"}
	}
	if !job.Cadence.Valid() {
		return &ValidationError{Field: "cadence", Message: fmt.Sprintf("must be %q or %q", schedule.CadenceDaily, schedule.CadenceWeekly)}
	}
	if job.Cadence == schedule.CadenceWeekly {
		if job.DayOfWeek == nil {
			return &ValidationError{Field: "day_of_week", Message: "is required for weekly cadence"}
		}
		if *job.DayOfWeek < 0 || *job.DayOfWeek > 6 {
			return &ValidationError{Field: "day_of_week", Message: "must be between 0 (Sunday) and 6"}
		}
	} else if job.DayOfWeek != nil {
		return &ValidationError{Field: "day_of_week", Message: "must be unset for daily cadence"}
	}
	if job.RunAtHour < 0 || job.RunAtHour > 23 {
		return &ValidationError{Field: "run_at_hour", Message: "must be between 0 and 23"}
	}
	if job.RunAtMinute < 0 || job.RunAtMinute > 59 {
		return &ValidationError{Field: "run_at_minute", Message: "must be between 0 and 59"}
	}
	if !job.DSTAmbiguousPolicy.Valid() {
		return &ValidationError{Field: "dst_ambiguous_policy", Message: fmt.Sprintf("must be %q or %q", schedule.EarlierOffset, schedule.LaterOffset)}
	}
	if !job.DSTInvalidPolicy.Valid() {
		return &ValidationError{Field: "dst_invalid_policy", Message: fmt.Sprintf("must be %q or %q", schedule.ShiftForward, schedule.SkipDay)}
	}
	if job.CatchUpMode != SkipMissed && job.CatchUpMode != ReplayMissed {
		return &ValidationError{Field: "catch_up_mode", Message: fmt.Sprintf("must be %q or %q", SkipMissed, ReplayMissed)}
	}
	if job.RetryMaxAttempts < 1 {
		return &ValidationError{Field: "retry_max_attempts", Message: "must be at least 1"}
	}
	if job.RetryBackoffSeconds < 0 {
		return &ValidationError{Field: "retry_backoff_seconds", Message: "must be non-negative"}
	}
	if job.RetryMaxBackoffSeconds < job.RetryBackoffSeconds {
		return &ValidationError{Field: "retry_max_backoff_seconds", Message: "must be at least retry_backoff_seconds"}
	}

	// A job zone must be valid or absent: silent fallback is for claim
	// time, not for admission.
	if job.Timezone != "" {
		if _, err := s.resolver.Load(job.Timezone); err != nil {
			return &ValidationError{Field: "timezone", Message: fmt.Sprintf("unknown IANA zone %q", job.Timezone)}
		}
	}
	if len(job.Config) > 0 && !json.Valid(job.Config) {
		return &ValidationError{Field: "config", Message: "must be valid JSON"}
	}

	if _, err := s.store.GetProject(ctx, job.ProjectID); err != nil {
		return &ValidationError{Field: "project_id", Message: "unknown project"}
	}
	return nil
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

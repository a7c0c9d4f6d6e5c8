package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Acknowledge records that an operator has seen a dead-lettered job.
// Acknowledging does not reactivate anything; it is bookkeeping for
// triage. Re-acknowledging keeps the original timestamp.
func (s *Service) Acknowledge(ctx context.Context, jobID, acknowledgedBy string) (*ScheduledJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.DeadLetteredAt == nil {
		return nil, ErrNotDeadLettered
	}
	if job.DeadLetterAcknowledgedAt != nil {
		return job, nil
	}

	now := time.Now().UTC()
	job.DeadLetterAcknowledgedAt = &now
	if acknowledgedBy != "" {
		job.DeadLetterAcknowledgedBy = &acknowledgedBy
	}

	if err := s.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Requeue returns a dead-lettered job to active scheduling with a fresh
// health slate. The next run is computed from `from` (nil means now);
// the occurrence that exhausted its retries is not replayed. Requeueing
// an already-active job is a no-op.
func (s *Service) Requeue(ctx context.Context, jobID string, from *time.Time) (*ScheduledJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == StatusActive {
		return job, nil
	}
	if job.Status != StatusDeadLetter {
		return nil, ErrNotDeadLettered
	}

	reference := time.Now().UTC()
	if from != nil {
		reference = from.UTC()
	}
	next, err := s.computeNextRun(ctx, job, reference)
	if err != nil {
		return nil, err
	}

	job.Status = StatusActive
	job.NextRunAt = &next
	job.ConsecutiveFailures = 0
	job.DeadLetteredAt = nil
	job.DeadLetterAcknowledgedAt = nil
	job.DeadLetterAcknowledgedBy = nil
	job.RetryScheduledFor = nil
	job.RetryAttempt = nil
	job.RetryFromRunID = nil

	if err := s.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	log.Info().
		Str("job_id", job.ID).
		Time("next_run_at", next).
		Msg("Dead-lettered job requeued")

	return job, nil
}

// RetryNow requeues a dead-lettered job and immediately executes one
// manual attempt, so an operator can verify a fix without waiting for
// the next scheduled occurrence.
func (s *Service) RetryNow(ctx context.Context, jobID string) (*JobRun, error) {
	if _, err := s.Requeue(ctx, jobID, nil); err != nil {
		return nil, err
	}
	return s.TriggerManual(ctx, jobID)
}

// BulkResult reports the per-job outcome of a bulk dead-letter operation.
type BulkResult struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// AcknowledgeAll acknowledges every listed job, continuing past
// individual failures.
func (s *Service) AcknowledgeAll(ctx context.Context, jobIDs []string, acknowledgedBy string) *BulkResult {
	result := &BulkResult{}
	for _, id := range jobIDs {
		if _, err := s.Acknowledge(ctx, id, acknowledgedBy); err != nil {
			if result.Failed == nil {
				result.Failed = make(map[string]string)
			}
			result.Failed[id] = err.Error()
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result
}

// RequeueAll requeues every listed job, continuing past individual
// failures.
func (s *Service) RequeueAll(ctx context.Context, jobIDs []string) *BulkResult {
	result := &BulkResult{}
	for _, id := range jobIDs {
		if _, err := s.Requeue(ctx, id, nil); err != nil {
			if result.Failed == nil {
				result.Failed = make(map[string]string)
			}
			result.Failed[id] = err.Error()
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result
}

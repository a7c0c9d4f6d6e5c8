package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// claimStreakFactor bounds how many consecutive lost claims a batch
// tolerates before giving up, proportional to the batch limit. Under
// heavy worker contention this keeps one ProcessDue call from spinning
// through an unbounded candidate list.
const claimStreakFactor = 2

// Processor is the orchestration loop: it repeatedly claims and executes
// the oldest due occurrence until the batch fills, the due set drains, or
// claim contention wins.
type Processor struct {
	store    *Store
	claimer  *Claimer
	executor *Executor
}

// NewProcessor wires the loop over its collaborators.
func NewProcessor(store *Store, claimer *Claimer, executor *Executor) *Processor {
	return &Processor{store: store, claimer: claimer, executor: executor}
}

// BatchResult reports what one ProcessDue call accomplished.
type BatchResult struct {
	Runs         []*JobRun `json:"runs"`
	RemainingDue int       `json:"remaining_due"`
}

// ProcessDue claims and executes due occurrences one at a time, fully
// finishing each before considering the next; a slow work handler simply
// delays this worker's subsequent claims. A candidate that loses its
// claim race is not retried within the same call.
func (p *Processor) ProcessDue(ctx context.Context, now time.Time, batchLimit int) (*BatchResult, error) {
	if batchLimit < 1 {
		batchLimit = 1
	}
	maxStreak := claimStreakFactor * batchLimit

	attempted := make(map[string]struct{})
	var excluded []string
	runs := make([]*JobRun, 0, batchLimit)
	streak := 0

	for len(runs) < batchLimit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		job, err := p.store.OldestDue(ctx, now, excluded)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}

		if _, seen := attempted[job.ID]; !seen {
			attempted[job.ID] = struct{}{}
			excluded = append(excluded, job.ID)
		}

		claim, err := p.claimer.Claim(ctx, job.ID, now)
		if errors.Is(err, ErrNotClaimed) {
			streak++
			if streak >= maxStreak {
				log.Debug().
					Int("streak", streak).
					Int("completed", len(runs)).
					Msg("Aborting batch after consecutive lost claims")
				break
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		streak = 0

		run, err := p.executor.Execute(ctx, claim)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	remaining, err := p.store.CountDue(ctx, now)
	if err != nil {
		return nil, err
	}

	return &BatchResult{Runs: runs, RemainingDue: remaining}, nil
}

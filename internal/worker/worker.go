// Package worker runs the background poll loop that drives due-job
// processing. Any number of workers may point at the same database; the
// claim protocol in the jobs package keeps them from stepping on each
// other.
package worker

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cadenza-io/cadenza/internal/config"
	"github.com/cadenza-io/cadenza/internal/database"
	"github.com/cadenza-io/cadenza/internal/jobs"
	"github.com/cadenza-io/cadenza/internal/metrics"
)

// Worker polls for due jobs on a fixed interval and hands each batch to
// the processor.
type Worker struct {
	processor *jobs.Processor
	db        *database.DB
	interval  time.Duration
	batch     int
	id        string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a worker from the scheduler configuration.
func New(processor *jobs.Processor, db *database.DB, cfg *config.SchedulerConfig) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}
	batch := cfg.BatchLimit
	if batch < 1 {
		batch = config.DefaultBatchLimit
	}
	id := cfg.WorkerID
	if id == "" {
		if host, err := os.Hostname(); err == nil {
			id = host
		} else {
			id = "cadenza-worker"
		}
	}

	return &Worker{
		processor: processor,
		db:        db,
		interval:  interval,
		batch:     batch,
		id:        id,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins background processing.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.pollLoop(w.ctx)

	log.Info().
		Str("worker_id", w.id).
		Dur("poll_interval", w.interval).
		Int("batch_limit", w.batch).
		Msg("Worker started")
}

// Stop cancels the loop and waits for an in-flight tick to finish.
func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
	log.Info().Str("worker_id", w.id).Msg("Worker stopped")
}

func (w *Worker) pollLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// Tick processes one batch immediately, outside the ticker cadence. The
// process-due endpoint and tests use it directly.
func (w *Worker) Tick(ctx context.Context) (*jobs.BatchResult, error) {
	return w.processor.ProcessDue(ctx, time.Now().UTC(), w.batch)
}

func (w *Worker) tick(ctx context.Context) {
	started := time.Now()
	result, err := w.Tick(ctx)
	elapsed := time.Since(started)

	stats := w.db.Stats()
	metrics.UpdateDBStats(stats.OpenConnections, stats.InUse, stats.Idle)

	if err != nil {
		metrics.RecordTick("error", elapsed)
		if ctx.Err() != nil {
			return
		}
		log.Error().
			Err(err).
			Str("worker_id", w.id).
			Msg("Failed to process due jobs")
		return
	}

	metrics.RecordTick("ok", elapsed)
	metrics.UpdateDueJobs(result.RemainingDue)

	if len(result.Runs) > 0 {
		log.Info().
			Str("worker_id", w.id).
			Int("executed", len(result.Runs)).
			Int("remaining_due", result.RemainingDue).
			Dur("elapsed", elapsed).
			Msg("Processed due jobs")
	}
}

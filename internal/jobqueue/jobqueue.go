// Package jobqueue runs a generic poll-lease-handle loop over the job queue
// persisted by internal/store, the same ticker-goroutine-plus-stop-channel
// shape the archive's interval sync uses for its own background work.
package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mbrichman/scry/internal/scrytype"
	"github.com/mbrichman/scry/internal/store"
)

// Handler processes one leased job. A returned error marks the job failed
// and, while attempts remain, requeues it after an exponential backoff.
type Handler func(ctx context.Context, job scrytype.Job) error

// BatchHandler processes a batch of leased jobs in one call, returning one
// error per job in the same order (nil marks that job completed).
type BatchHandler func(ctx context.Context, jobs []scrytype.Job) []error

// Options configures a Worker.
type Options struct {
	Kinds            []string
	PollInterval     time.Duration
	LeaseDuration    time.Duration
	ReclaimInterval  time.Duration
	Owner            string
	ConcurrentLeases int

	// BatchSize bounds how many jobs a single BatchHandler call receives.
	// Only meaningful for a Worker built with NewBatch; defaults to 16.
	BatchSize int

	// HeartbeatInterval controls how often in-flight jobs get their lease
	// extended via JobRepo.Heartbeat. Defaults to LeaseDuration/2.
	HeartbeatInterval time.Duration
}

// Worker polls the job queue on a ticker, dispatching leased jobs to a
// Handler (or batches of jobs to a BatchHandler) and periodically reclaiming
// leases abandoned by a crashed worker.
type Worker struct {
	repo         *store.JobRepo
	opts         Options
	handler      Handler
	batchHandler BatchHandler
	log          zerolog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func withDefaults(opts Options) Options {
	if opts.Owner == "" {
		opts.Owner = "worker-" + time.Now().Format("20060102T150405.000000000")
	}
	if opts.ReclaimInterval <= 0 {
		opts.ReclaimInterval = opts.PollInterval * 10
	}
	if opts.ConcurrentLeases <= 0 {
		opts.ConcurrentLeases = 1
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = opts.LeaseDuration / 2
	}
	return opts
}

// New builds a Worker bound to repo, dispatching one job at a time to
// handler. opts.Kinds, PollInterval, and LeaseDuration must be set; Owner
// defaults to a process-unique string if empty, ReclaimInterval defaults to
// 10x PollInterval, ConcurrentLeases defaults to 1.
func New(repo *store.JobRepo, opts Options, handler Handler, log zerolog.Logger) *Worker {
	return &Worker{
		repo:    repo,
		opts:    withDefaults(opts),
		handler: handler,
		log:     log,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// NewBatch builds a Worker that dequeues up to opts.BatchSize jobs at a time
// and dispatches them together to batchHandler, the shape spec'd for the
// embedding worker's "single batched call to the Embedder" loop. Up to
// ConcurrentLeases batches run at once.
func NewBatch(repo *store.JobRepo, opts Options, batchHandler BatchHandler, log zerolog.Logger) *Worker {
	return &Worker{
		repo:         repo,
		opts:         withDefaults(opts),
		batchHandler: batchHandler,
		log:          log,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start launches the poll loop in a goroutine. Call Stop to shut it down.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop signals the poll loop to exit and blocks until it does. Safe to call
// multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	<-w.doneCh
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)

	pollTicker := time.NewTicker(w.opts.PollInterval)
	defer pollTicker.Stop()
	reclaimTicker := time.NewTicker(w.opts.ReclaimInterval)
	defer reclaimTicker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-reclaimTicker.C:
			if n, err := w.repo.ReclaimExpiredLeases(ctx); err != nil {
				w.log.Warn().Err(err).Msg("reclaim expired job leases failed")
			} else if n > 0 {
				w.log.Info().Int("count", n).Msg("reclaimed expired job leases")
			}
		case <-pollTicker.C:
			if w.batchHandler != nil {
				w.drainBatches(ctx)
			} else {
				w.drainAvailable(ctx)
			}
		}
	}
}

// drainAvailable dequeues and handles jobs until the queue reports nothing
// left to claim, bounded by ConcurrentLeases in-flight at once.
func (w *Worker) drainAvailable(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(w.opts.ConcurrentLeases)

	for {
		select {
		case <-w.stopCh:
			g.Wait()
			return
		case <-ctx.Done():
			g.Wait()
			return
		default:
		}

		job, ok, err := w.repo.DequeueNext(ctx, w.opts.Kinds, w.opts.LeaseDuration, w.opts.Owner)
		if err != nil {
			w.log.Warn().Err(err).Msg("dequeue job failed")
			break
		}
		if !ok {
			break
		}

		g.Go(func() error {
			w.handle(ctx, job)
			return nil
		})
	}
	g.Wait()
}

func (w *Worker) handle(ctx context.Context, job scrytype.Job) {
	stopHeartbeat := w.startHeartbeat(ctx, []scrytype.Job{job})
	err := w.handler(ctx, job)
	stopHeartbeat()

	if err == nil {
		if err := w.repo.MarkCompleted(ctx, job.ID); err != nil {
			w.log.Warn().Err(err).Str("job_id", job.ID).Msg("mark job completed failed")
		}
		return
	}

	w.log.Warn().Err(err).Str("job_id", job.ID).Str("kind", job.Kind).Msg("job handler failed")
	if markErr := w.repo.MarkFailed(ctx, job.ID, err.Error(), true); markErr != nil {
		w.log.Warn().Err(markErr).Str("job_id", job.ID).Msg("mark job failed failed")
	}
}

// drainBatches dequeues up to BatchSize jobs at a time and hands each batch
// to batchHandler, bounded by ConcurrentLeases batches in flight at once.
func (w *Worker) drainBatches(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(w.opts.ConcurrentLeases)

	for {
		select {
		case <-w.stopCh:
			g.Wait()
			return
		case <-ctx.Done():
			g.Wait()
			return
		default:
		}

		batch := w.dequeueBatch(ctx)
		if len(batch) == 0 {
			break
		}

		g.Go(func() error {
			w.handleBatch(ctx, batch)
			return nil
		})
	}
	g.Wait()
}

// dequeueBatch claims up to BatchSize jobs, stopping early once the queue
// has nothing left to claim.
func (w *Worker) dequeueBatch(ctx context.Context) []scrytype.Job {
	batch := make([]scrytype.Job, 0, w.opts.BatchSize)
	for len(batch) < w.opts.BatchSize {
		job, ok, err := w.repo.DequeueNext(ctx, w.opts.Kinds, w.opts.LeaseDuration, w.opts.Owner)
		if err != nil {
			w.log.Warn().Err(err).Msg("dequeue job failed")
			break
		}
		if !ok {
			break
		}
		batch = append(batch, job)
	}
	return batch
}

func (w *Worker) handleBatch(ctx context.Context, jobs []scrytype.Job) {
	stopHeartbeat := w.startHeartbeat(ctx, jobs)
	errs := w.batchHandler(ctx, jobs)
	stopHeartbeat()

	if len(errs) != len(jobs) {
		w.log.Error().Int("jobs", len(jobs)).Int("results", len(errs)).Msg("batch handler returned mismatched result count")
		return
	}

	for i, job := range jobs {
		if errs[i] == nil {
			if err := w.repo.MarkCompleted(ctx, job.ID); err != nil {
				w.log.Warn().Err(err).Str("job_id", job.ID).Msg("mark job completed failed")
			}
			continue
		}
		w.log.Warn().Err(errs[i]).Str("job_id", job.ID).Str("kind", job.Kind).Msg("job handler failed")
		if markErr := w.repo.MarkFailed(ctx, job.ID, errs[i].Error(), true); markErr != nil {
			w.log.Warn().Err(markErr).Str("job_id", job.ID).Msg("mark job failed failed")
		}
	}
}

// startHeartbeat extends the lease of every job in jobs on a tick of
// HeartbeatInterval, for as long as the batch/job is still being processed.
// The returned func stops the ticker; callers must call it once handling
// finishes.
func (w *Worker) startHeartbeat(ctx context.Context, jobs []scrytype.Job) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(w.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				for _, job := range jobs {
					if err := w.repo.Heartbeat(ctx, job.ID, w.opts.Owner, w.opts.LeaseDuration); err != nil {
						w.log.Warn().Err(err).Str("job_id", job.ID).Msg("heartbeat failed")
					}
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

// Package embedworker drains "generate_embedding" jobs from the queue,
// computing and persisting one vector per message via a configured
// embedding provider. Jobs are dequeued and embedded in batches so a single
// provider call amortizes over many messages instead of one round trip per
// message.
package embedworker

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/mbrichman/scry/internal/embedding"
	"github.com/mbrichman/scry/internal/jobqueue"
	"github.com/mbrichman/scry/internal/scrytype"
	"github.com/mbrichman/scry/internal/store"
)

const JobKindGenerateEmbedding = "generate_embedding"

var retryableErrorRE = regexp.MustCompile(`(?i)(rate[_ ]limit|too many requests|429|resource has been exhausted|5\d\d|timeout|connection reset)`)

// Options configures the worker loop.
type Options struct {
	PollInterval     time.Duration
	LeaseDuration    time.Duration
	ConcurrentLeases int
	Owner            string
	QueryTimeout     time.Duration

	// BatchSize bounds how many jobs are dequeued and embedded in a single
	// Embedder call. Defaults to 16.
	BatchSize int
}

// Worker consumes embedding jobs and writes vectors into the embedding
// repository.
type Worker struct {
	inner *jobqueue.Worker
}

// New builds a Worker bound to uow's Jobs and Embeddings repositories,
// using provider to compute vectors. Each poll dequeues up to BatchSize jobs
// and issues one provider.EmbedBatch call for their contents.
func New(uow *store.UnitOfWork, provider *embedding.Provider, opts Options, log zerolog.Logger) *Worker {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 60 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}

	batchHandler := func(ctx context.Context, jobs []scrytype.Job) []error {
		errs := make([]error, len(jobs))
		payloads := make([]scrytype.EmbeddingJobPayload, len(jobs))

		var contentIdx []int
		var contents []string

		for i, job := range jobs {
			var payload scrytype.EmbeddingJobPayload
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				errs[i] = fmt.Errorf("decode embedding job payload: %w", err)
				continue
			}
			payloads[i] = payload
			if payload.Content == "" {
				continue
			}
			contentIdx = append(contentIdx, i)
			contents = append(contents, payload.Content)
		}

		if len(contents) == 0 {
			return errs
		}

		qctx, cancel := context.WithTimeout(ctx, opts.QueryTimeout)
		defer cancel()
		vectors, err := provider.EmbedBatch(qctx, contents)
		if err != nil {
			if !retryableErrorRE.MatchString(err.Error()) {
				log.Error().Err(err).Int("batch_size", len(contents)).Msg("embedding provider returned a permanent error")
			}
			for _, i := range contentIdx {
				errs[i] = err
			}
			return errs
		}
		if len(vectors) != len(contents) {
			batchErr := fmt.Errorf("embedding provider returned %d vectors for %d inputs", len(vectors), len(contents))
			for _, i := range contentIdx {
				errs[i] = batchErr
			}
			return errs
		}

		for n, i := range contentIdx {
			payload := payloads[i]
			model := payload.Model
			if model == "" {
				model = provider.Model()
			}
			if err := uow.Embeddings.UpsertForMessage(ctx, payload.MessageID, model, vectors[n]); err != nil {
				errs[i] = fmt.Errorf("persist embedding for message %s: %w", payload.MessageID, err)
			}
		}
		return errs
	}

	inner := jobqueue.NewBatch(uow.Jobs, jobqueue.Options{
		Kinds:            []string{JobKindGenerateEmbedding},
		PollInterval:     opts.PollInterval,
		LeaseDuration:    opts.LeaseDuration,
		ConcurrentLeases: opts.ConcurrentLeases,
		Owner:            opts.Owner,
		BatchSize:        opts.BatchSize,
	}, batchHandler, log)

	return &Worker{inner: inner}
}

// Start launches the poll loop.
func (w *Worker) Start(ctx context.Context) { w.inner.Start(ctx) }

// Stop blocks until the poll loop exits.
func (w *Worker) Stop() { w.inner.Stop() }

// Enqueue queues a job to embed one message's content.
func Enqueue(ctx context.Context, repo *store.JobRepo, jobID string, payload scrytype.EmbeddingJobPayload, maxAttempts int) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal embedding job payload: %w", err)
	}
	return repo.Enqueue(ctx, jobID, JobKindGenerateEmbedding, raw, maxAttempts)
}

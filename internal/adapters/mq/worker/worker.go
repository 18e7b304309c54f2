// Package worker runs provider fetch jobs on a bounded pool of workers.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/popscore/internal/adapters/mq/queue"
	"github.com/okian/popscore/internal/domain/model"
	"github.com/okian/popscore/pkg/logger"
	"github.com/okian/popscore/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerCount = 4
)

// Fetcher performs one provider call.
type Fetcher interface {
	Fetch(ctx context.Context, terms []string) (model.Payload, error)
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Result is the outcome of one job. A failed fetch still carries the
// payload the fetcher returned with its error.
type Result struct {
	Job     queue.Job
	Payload model.Payload
	Err     error
	Latency time.Duration
	// Done is false when the pool stopped before the job ran.
	Done bool
}

// InMemoryWorker pulls jobs off a queue and writes each result into the
// slot of its job index.
type InMemoryWorker struct {
	queue   Queue
	fetcher Fetcher
	name    string
	logger  logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, fetcher Fetcher, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:   q,
		fetcher: fetcher,
		name:    "worker", // default name
		logger:  logger.Get().Named("worker"),
	}

	// Apply all options
	for _, opt := range opts {
		opt(w)
	}

	// Set up logger with worker name if not already set
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}

	return w
}

// Run processes jobs until the queue is drained or ctx is canceled.
// results must have a slot for every job index.
func (w *InMemoryWorker) Run(ctx context.Context, results []Result) error {
	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-jobs:
			if !ok {
				return ctx.Err()
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if job.Index < 0 || job.Index >= len(results) {
				return fmt.Errorf("%s: job index %d out of range", w.name, job.Index)
			}
			results[job.Index] = w.process(ctx, job)
		}
	}
}

func (w *InMemoryWorker) process(ctx context.Context, job queue.Job) Result {
	start := time.Now()
	payload, err := w.fetcher.Fetch(ctx, job.Terms)
	latency := time.Since(start)
	metrics.RecordWorkerProcessingLatency(float64(latency.Milliseconds()))

	if err != nil {
		metrics.RecordWorkerError()
		w.logger.Warn(ctx, "fetch failed",
			logger.String("entity", job.EntityID),
			logger.Error(err),
		)
	}
	return Result{Job: job, Payload: payload, Err: err, Latency: latency, Done: true}
}

// Pool fans a batch of jobs out to a fixed number of workers.
type Pool struct {
	size    int
	fetcher Fetcher
	logger  logger.Logger
}

// NewPool creates a new worker pool.
func NewPool(workerCount int, fetcher Fetcher) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}
	return &Pool{
		size:    workerCount,
		fetcher: fetcher,
		logger:  logger.Get().Named("worker-pool"),
	}
}

// Run enqueues jobs in order, lets the workers drain the queue and
// returns one result per job in the same order. Per-job failures are
// reported in the results; the error is only set when ctx ended first.
func (p *Pool) Run(ctx context.Context, jobs []queue.Job) ([]Result, error) {
	results := make([]Result, len(jobs))
	if len(jobs) == 0 {
		return results, nil
	}

	q := queue.NewInMemoryQueue(queue.WithCapacity(len(jobs)))
	for i, job := range jobs {
		job.Index = i
		if !q.Enqueue(ctx, job) {
			_ = q.Close()
			return results, fmt.Errorf("enqueue job %d: %w", i, context.Cause(ctx))
		}
	}
	_ = q.Close()

	workers := min(p.size, len(jobs))
	metrics.UpdateWorkerActiveCount(workers)
	defer metrics.UpdateWorkerActiveCount(0)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		w := NewInMemoryWorker(q, p.fetcher, WithName("worker-"+strconv.Itoa(i)))
		g.Go(func() error {
			return w.Run(gctx, results)
		})
	}
	if err := g.Wait(); err != nil {
		p.logger.Warn(ctx, "worker pool stopped early", logger.Error(err))
		return results, err
	}
	return results, nil
}

// Package worker warms the score pool from queued prefetch requests.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/credscore/internal/adapters/mq/queue"
	"github.com/okian/credscore/pkg/logger"
	"github.com/okian/credscore/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	poolShutdownTimeout     = 30 * time.Second
)

// Fetcher resolves a subject's score, caching it on success.
type Fetcher interface {
	Fetch(ctx context.Context, subject string) (int, error)
}

// Releaser forgets a subject once its prefetch has finished.
type Releaser interface {
	Unrecord(ctx context.Context, subject string)
}

// Queue defines how workers receive requests.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Request
}

// Counters tracks prefetch outcomes.
type Counters struct {
	processed atomic.Int64
	failed    atomic.Int64
}

// Processed returns the number of completed prefetches, successful or not.
func (c *Counters) Processed() int64 { return c.processed.Load() }

// Failed returns the number of prefetches whose fetch failed.
func (c *Counters) Failed() int64 { return c.failed.Load() }

// InMemoryWorker processes prefetch requests.
type InMemoryWorker struct {
	queue    Queue
	fetcher  Fetcher
	releaser Releaser
	name     string
	counters *Counters

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, fetcher Fetcher, releaser Releaser, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		fetcher:  fetcher,
		releaser: releaser,
		name:     "worker",
		counters: &Counters{},
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run processes requests until ctx is done, Shutdown is called, or the
// queue is closed and drained.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	// Stops the dequeue goroutine when the worker exits first.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	requests := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case r, ok := <-requests:
			if !ok {
				return
			}
			if err := w.process(ctx, r); err != nil {
				w.logger.Warn(ctx, "prefetch failed", logger.Error(err))
			}
		}
	}
}

// Shutdown stops the worker and waits for the current request to finish.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} {
	return w.done
}

func (w *InMemoryWorker) process(ctx context.Context, r queue.Request) error {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
		w.counters.processed.Add(1)
	}()
	// The subject can be queued again whether or not this attempt succeeds;
	// a success is served from the pool from now on.
	defer w.releaser.Unrecord(ctx, r.Subject)

	score, err := w.fetcher.Fetch(ctx, r.Subject)
	if err != nil {
		w.counters.failed.Add(1)
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "fetch_error")
		return fmt.Errorf("prefetch %s (request %s): %w", r.Subject, r.ID, err)
	}

	w.logger.Debug(ctx, "prefetched score",
		logger.String("subject", r.Subject),
		logger.String("request_id", r.ID),
		logger.Int("score", score),
	)
	return nil
}

// Pool manages multiple workers sharing one queue.
type Pool struct {
	workers  []*InMemoryWorker
	queue    Queue
	counters *Counters
	logger   logger.Logger
}

// NewPool creates a worker pool. A workerCount below 1 selects a default
// based on the number of CPUs.
func NewPool(workerCount int, q Queue, fetcher Fetcher, releaser Releaser) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	p := &Pool{
		workers:  make([]*InMemoryWorker, workerCount),
		queue:    q,
		counters: &Counters{},
		logger:   logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		p.workers[i] = NewInMemoryWorker(q, fetcher, releaser,
			WithName("worker-"+strconv.Itoa(i)),
			WithCounters(p.counters),
		)
	}

	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Counters returns the pool's shared outcome counters.
func (p *Pool) Counters() *Counters {
	return p.counters
}

// Shutdown closes the queue, stops every worker and waits for them.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}
	for _, w := range p.workers {
		close(w.shutdown)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut int
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			timedOut++
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerCount(0)
	if timedOut > 0 {
		return fmt.Errorf("%d workers did not stop: %w", timedOut, shutdownCtx.Err())
	}
	return nil
}

// Package service wires the score pool and its collaborators into the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	prefetchqueue "github.com/okian/credscore/internal/adapters/mq/queue"
	workerpool "github.com/okian/credscore/internal/adapters/mq/worker"
	"github.com/okian/credscore/internal/adapters/repository"
	"github.com/okian/credscore/internal/adapters/scoreapi"
	"github.com/okian/credscore/internal/domain/annotate"
	"github.com/okian/credscore/internal/domain/dedupe"
	"github.com/okian/credscore/internal/domain/model"
	"github.com/okian/credscore/internal/domain/pool"
	"github.com/okian/credscore/internal/domain/scoring"
	"github.com/okian/credscore/pkg/logger"
	"github.com/okian/credscore/pkg/metrics"
)

const (
	stopTimeout     = 10 * time.Second
	upstreamSimName = "simulated"
)

// Prefetch outcomes, also used as metric labels.
const (
	outcomeAccepted = "accepted"
	outcomeCached   = "cached"
	outcomePending  = "pending"
	outcomeRejected = "rejected"
	outcomeInvalid  = "invalid"
)

// countingFetcher counts upstream calls made on behalf of the pool.
type countingFetcher struct {
	inner pool.Fetcher
	calls atomic.Int64
}

func (c *countingFetcher) FetchScore(ctx context.Context, subject string) (int, error) {
	c.calls.Add(1)
	return c.inner.FetchScore(ctx, subject)
}

// Service implements the API dependencies for the credibility score system.
type Service struct {
	mu sync.RWMutex

	// Core components
	pool       *pool.Pool
	upstream   *countingFetcher
	ranking    *repository.TreapStore
	detach     func()
	deduper    dedupe.Deduper
	queue      *prefetchqueue.InMemoryQueue
	workerPool *workerpool.Pool
	annotator  *annotate.Annotator

	// Configuration
	fetcher             pool.Fetcher
	upstreamURL         string
	upstreamTimeout     time.Duration
	fetchTimeout        time.Duration
	workerCount         int
	queueSize           int
	dedupeSize          int
	simMinLatency       time.Duration
	simMaxLatency       time.Duration
	simMinScore         int
	simMaxScore         int
	simFailureRate      float64
	annotateConcurrency int
	neutralScore        int
	thresholds          model.TierThresholds

	// State
	started bool

	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		upstreamTimeout:     5 * time.Second,
		fetchTimeout:        10 * time.Second,
		workerCount:         runtime.NumCPU() * 2,
		queueSize:           10000,
		dedupeSize:          50000,
		simMinLatency:       80 * time.Millisecond,
		simMaxLatency:       150 * time.Millisecond,
		simMinScore:         0,
		simMaxScore:         3000,
		annotateConcurrency: 8,
		neutralScore:        1000,
		thresholds:          model.TierThresholds{Untrusted: 800, Trusted: 1500},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds and starts the service components. The score pool survives
// Stop, so a restarted service keeps its resolved scores.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting credscore service...")

	if s.pool == nil {
		fetcher, err := s.buildFetcher()
		if err != nil {
			return fmt.Errorf("build fetcher: %w", err)
		}
		s.upstream = &countingFetcher{inner: fetcher}
		s.pool = pool.New(s.upstream,
			pool.WithFetchTimeout(s.fetchTimeout),
			pool.WithLogger(s.logger.Named("pool")),
		)
	}

	s.ranking = repository.NewTreapStore(repository.WithLogger(s.logger.Named("ranking")))
	s.detach = s.ranking.Attach(s.pool)
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = prefetchqueue.NewInMemoryQueue(prefetchqueue.WithCapacity(s.queueSize))
	s.workerPool = workerpool.NewPool(s.workerCount, s.queue, s.pool, s.deduper)
	s.workerPool.Start(context.WithoutCancel(ctx))
	s.annotator = annotate.New(s.pool,
		annotate.WithConcurrency(s.annotateConcurrency),
		annotate.WithNeutralScore(s.neutralScore),
		annotate.WithThresholds(s.thresholds),
		annotate.WithLogger(s.logger.Named("annotate")),
	)

	s.started = true
	s.logger.Info(ctx, "credscore service started",
		logger.String("upstream", s.upstreamName()),
		logger.Int("workers", s.workerPool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Duration("fetchTimeout", s.fetchTimeout),
	)
	return nil
}

func (s *Service) buildFetcher() (pool.Fetcher, error) {
	if s.fetcher != nil {
		return s.fetcher, nil
	}
	if s.upstreamURL != "" {
		client, err := scoreapi.New(s.upstreamURL, scoreapi.WithTimeout(s.upstreamTimeout))
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	return scoring.NewScorer(
		scoring.WithLatencyRange(s.simMinLatency, s.simMaxLatency),
		scoring.WithScoreRange(s.simMinScore, s.simMaxScore),
		scoring.WithFailureRate(s.simFailureRate),
		scoring.WithSeed(time.Now().UnixNano()),
	), nil
}

func (s *Service) upstreamName() string {
	switch {
	case s.fetcher != nil:
		return "custom"
	case s.upstreamURL != "":
		return s.upstreamURL
	default:
		return upstreamSimName
	}
}

// Stop gracefully shuts down the prefetch pipeline and the ranking view.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	s.logger.Info(ctx, "stopping credscore service...")

	if err := s.workerPool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "prefetch workers did not stop cleanly", logger.Error(err))
	}
	if s.detach != nil {
		s.detach()
		s.detach = nil
	}

	s.started = false
	s.logger.Info(ctx, "credscore service stopped")
}

// running returns the pool, or ErrNotStarted.
func (s *Service) running() (*pool.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.pool, nil
}

// Score returns subject's credibility score through the pool.
func (s *Service) Score(ctx context.Context, subject string) (int, error) {
	p, err := s.running()
	if err != nil {
		return 0, err
	}
	normalized, ok := model.NormalizeSubject(subject)
	if !ok {
		return 0, fmt.Errorf("%w: %w", model.ErrInvalidSubject, pool.ErrEmptySubject)
	}
	return p.Fetch(ctx, normalized)
}

// Snapshot returns every resolved score.
func (s *Service) Snapshot() pool.Snapshot {
	p, err := s.running()
	if err != nil {
		return pool.Snapshot{}
	}
	return p.Snapshot()
}

// Subscribe registers fn for snapshot changes.
func (s *Service) Subscribe(fn pool.Listener) (cancel func(), err error) {
	p, err := s.running()
	if err != nil {
		return nil, err
	}
	return p.Listen(fn), nil
}

// Prefetch queues lookups for subjects that are neither cached nor pending.
func (s *Service) Prefetch(ctx context.Context, subjects []string) (model.PrefetchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return model.PrefetchResult{}, ErrNotStarted
	}

	var res model.PrefetchResult
	for _, raw := range subjects {
		outcome := s.prefetchOne(ctx, raw)
		metrics.RecordPrefetchOutcome(outcome)
		switch outcome {
		case outcomeAccepted:
			res.Accepted++
		case outcomeCached:
			res.Cached++
		case outcomePending:
			res.Pending++
		case outcomeRejected:
			res.Rejected++
		default:
			res.Invalid++
		}
	}
	return res, nil
}

// prefetchOne must be called with s.mu held for reading.
func (s *Service) prefetchOne(ctx context.Context, raw string) string {
	subject, ok := model.NormalizeSubject(raw)
	if !ok {
		return outcomeInvalid
	}
	if _, cached := s.pool.Peek(subject); cached {
		return outcomeCached
	}
	if s.deduper.SeenAndRecord(ctx, subject) {
		return outcomePending
	}
	req := model.PrefetchRequest{ID: uuid.NewString(), Subject: subject, RequestedAt: time.Now()}
	if !s.queue.Enqueue(ctx, req) {
		s.deduper.Unrecord(ctx, subject)
		return outcomeRejected
	}
	return outcomeAccepted
}

// Annotate extracts the subjects of an HTML document and returns their badges.
func (s *Service) Annotate(ctx context.Context, document io.Reader) ([]model.Badge, error) {
	s.mu.RLock()
	a, started := s.annotator, s.started
	s.mu.RUnlock()
	if !started {
		return nil, ErrNotStarted
	}
	return a.AnnotateHTML(ctx, document)
}

// TopN returns the top N ranked subjects.
func (s *Service) TopN(ctx context.Context, n int) ([]model.Entry, error) {
	ranking, err := s.rankingStore()
	if err != nil {
		return nil, err
	}
	return ranking.TopN(ctx, n)
}

// Rank returns the rank and score for subject.
func (s *Service) Rank(ctx context.Context, subject string) (model.Entry, error) {
	ranking, err := s.rankingStore()
	if err != nil {
		return model.Entry{}, err
	}
	normalized, ok := model.NormalizeSubject(subject)
	if !ok {
		return model.Entry{}, fmt.Errorf("%w: %q", model.ErrInvalidSubject, subject)
	}
	return ranking.Rank(ctx, normalized)
}

func (s *Service) rankingStore() (*repository.TreapStore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.ranking, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]any{
		"started":      s.started,
		"upstream":     s.upstreamName(),
		"workerCount":  s.workerCount,
		"queueSize":    s.queueSize,
		"dedupeSize":   s.dedupeSize,
		"fetchTimeout": s.fetchTimeout.String(),
	}
	if s.pool != nil {
		stats["cachedSubjects"] = s.pool.Len()
		stats["listeners"] = s.pool.Listeners()
		stats["upstreamFetches"] = s.upstream.calls.Load()
	}
	if s.started {
		queueLen := s.queue.Len(ctx)
		stats["queueLength"] = queueLen
		stats["pendingPrefetches"] = s.deduper.Size()
		stats["rankedSubjects"] = s.ranking.Count(ctx)
		stats["prefetchProcessed"] = s.workerPool.Counters().Processed()
		stats["prefetchFailed"] = s.workerPool.Counters().Failed()
		stats["workerCount"] = s.workerPool.Size()

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateWorkerCount(s.workerPool.Size())
	}
	return stats
}

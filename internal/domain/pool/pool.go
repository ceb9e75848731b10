// Package pool implements the credibility-score pooling cache.
//
// A Pool resolves a subject's score at most once at a time: the first caller
// to miss the cache starts the upstream fetch, every caller that arrives while
// it is running waits on the same result, and once it succeeds the score is
// served from memory for the life of the Pool. Each successful resolution
// publishes the full score snapshot to every registered listener.
package pool

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/okian/credscore/pkg/logger"
	"github.com/okian/credscore/pkg/metrics"
)

// Fetcher retrieves a subject's score from the external scoring service.
type Fetcher interface {
	FetchScore(ctx context.Context, subject string) (int, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, subject string) (int, error)

// FetchScore calls f.
func (f FetcherFunc) FetchScore(ctx context.Context, subject string) (int, error) {
	return f(ctx, subject)
}

// Snapshot maps subjects to resolved scores. Listeners receive their own copy.
type Snapshot map[string]int

// Listener is invoked with the full snapshot after every resolution.
//
// Listeners run synchronously on the goroutine that completed the fetch, one
// publication at a time, so they must return quickly and must not call Fetch
// for a subject that is not yet cached: that fetch would wait for the
// publication it is running inside. Start such fetches on a new goroutine.
type Listener func(Snapshot)

// Pool de-duplicates score lookups and republishes resolved scores.
type Pool struct {
	fetcher      Fetcher
	fetchTimeout time.Duration
	logger       logger.Logger

	group singleflight.Group

	mu        sync.RWMutex
	scores    map[string]int
	listeners map[string]Listener

	// publishMu orders writes and their publication so listeners never see
	// an older snapshot after a newer one.
	publishMu sync.Mutex
}

// New constructs a Pool around fetcher.
func New(fetcher Fetcher, opts ...Option) *Pool {
	p := &Pool{
		fetcher:   fetcher,
		scores:    make(map[string]int),
		listeners: make(map[string]Listener),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Named("pool")
	}
	return p
}

// Fetch returns subject's score.
//
// A cached score is returned immediately. Otherwise the call joins the fetch
// already in flight for subject, or starts one. ctx bounds only this caller's
// wait: cancelling it does not abort the shared fetch, which keeps running for
// the other callers and still populates the cache.
func (p *Pool) Fetch(ctx context.Context, subject string) (int, error) {
	if strings.TrimSpace(subject) == "" {
		return 0, ErrEmptySubject
	}
	if score, ok := p.Peek(subject); ok {
		metrics.RecordPoolHit()
		return score, nil
	}

	// The fetch must outlive the caller that happened to start it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(subject, func() (any, error) {
		return p.resolve(fetchCtx, subject)
	})

	select {
	case res := <-ch:
		if res.Shared {
			metrics.RecordPoolSharedWait()
		}
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int), nil
	case <-ctx.Done():
		return 0, fmt.Errorf("wait for score of %q: %w", subject, ctx.Err())
	}
}

// resolve runs inside the single flight for subject.
func (p *Pool) resolve(ctx context.Context, subject string) (int, error) {
	// A previous flight may have stored the score between the caller's cache
	// check and this flight starting.
	if score, ok := p.Peek(subject); ok {
		return score, nil
	}

	if p.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.fetchTimeout)
		defer cancel()
	}

	metrics.AddPoolInFlight(1)
	start := time.Now()
	score, err := p.fetcher.FetchScore(ctx, subject)
	elapsed := time.Since(start)
	metrics.AddPoolInFlight(-1)
	metrics.RecordPoolFetch(float64(elapsed.Milliseconds()))

	if err != nil {
		metrics.RecordPoolFetchError()
		p.logger.Warn(ctx, "score fetch failed",
			logger.String("subject", subject),
			logger.Duration("elapsed", elapsed),
			logger.Error(err),
		)
		return 0, fmt.Errorf("%w: %s: %w", ErrFetchFailed, subject, err)
	}

	p.store(subject, score)
	p.logger.Debug(ctx, "score resolved",
		logger.String("subject", subject),
		logger.Int("score", score),
		logger.Duration("elapsed", elapsed),
	)
	return score, nil
}

// store records score and publishes the resulting snapshot.
func (p *Pool) store(subject string, score int) {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	p.mu.Lock()
	p.scores[subject] = score
	snap := Snapshot(maps.Clone(p.scores))
	listeners := make([]Listener, 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	cached := len(p.scores)
	p.mu.Unlock()

	metrics.UpdatePoolCached(cached)
	for _, l := range listeners {
		l(maps.Clone(snap))
		metrics.RecordPoolNotification()
	}
}

// Peek returns the cached score for subject without fetching.
func (p *Pool) Peek(subject string) (int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	score, ok := p.scores[subject]
	return score, ok
}

// Snapshot returns a copy of every resolved score.
func (p *Pool) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot(maps.Clone(p.scores))
}

// Len returns the number of resolved subjects.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.scores)
}

// Listen registers fn for snapshot notifications. The returned function
// unregisters it and may be called more than once.
func (p *Pool) Listen(fn Listener) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	id := uuid.NewString()

	p.mu.Lock()
	p.listeners[id] = fn
	count := len(p.listeners)
	p.mu.Unlock()
	metrics.UpdatePoolListeners(count)

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			count := len(p.listeners)
			p.mu.Unlock()
			metrics.UpdatePoolListeners(count)
		})
	}
}

// Listeners returns the number of registered listeners.
func (p *Pool) Listeners() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.listeners)
}

// Package scoring provides a simulated scoring service used when no upstream
// scoring API is configured.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Default scoring configuration constants.
const (
	defaultMinLatency = 80 * time.Millisecond
	defaultMaxLatency = 150 * time.Millisecond
	defaultMinScore   = 0
	defaultMaxScore   = 3000
	defaultRandomSeed = 42
)

// ErrSimulatedFailure is returned for the configured fraction of calls.
var ErrSimulatedFailure = errors.New("simulated scoring failure")

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithLatencyRange sets the simulated latency range.
func WithLatencyRange(minLatency, maxLatency time.Duration) Option {
	return func(s *Scorer) {
		if minLatency >= 0 && maxLatency >= minLatency {
			s.minLatency = minLatency
			s.maxLatency = maxLatency
		}
	}
}

// WithScoreRange sets the inclusive range scores are mapped into.
func WithScoreRange(minScore, maxScore int) Option {
	return func(s *Scorer) {
		if maxScore >= minScore {
			s.minScore = minScore
			s.maxScore = maxScore
		}
	}
}

// WithFailureRate makes the given fraction of calls fail with ErrSimulatedFailure.
func WithFailureRate(rate float64) Option {
	return func(s *Scorer) {
		if rate >= 0 && rate <= 1 {
			s.failureRate = rate
		}
	}
}

// WithSeed seeds the latency and failure generator.
func WithSeed(seed int64) Option {
	return func(s *Scorer) {
		s.rng = rand.New(rand.NewSource(seed)) //nolint:gosec // simulation only
	}
}

// Scorer answers score lookups like the remote scoring API would: after a
// random delay, with a score that is stable per subject.
type Scorer struct {
	minLatency  time.Duration
	maxLatency  time.Duration
	minScore    int
	maxScore    int
	failureRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewScorer creates a simulated scorer with configuration options.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{
		minLatency: defaultMinLatency,
		maxLatency: defaultMaxLatency,
		minScore:   defaultMinScore,
		maxScore:   defaultMaxScore,
		rng:        rand.New(rand.NewSource(defaultRandomSeed)), //nolint:gosec // deterministic seed for reproducible testing
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchScore returns the simulated score for subject, honoring ctx for cancellation.
func (s *Scorer) FetchScore(ctx context.Context, subject string) (int, error) {
	latency, fail := s.draw()
	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("context cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context cancelled: %w", err)
	}

	if fail {
		return 0, fmt.Errorf("%w: %s", ErrSimulatedFailure, subject)
	}
	return s.ScoreOf(subject), nil
}

// ScoreOf returns the deterministic score for subject without delay.
func (s *Scorer) ScoreOf(subject string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(subject)))
	span := uint64(s.maxScore-s.minScore) + 1
	return s.minScore + int(h.Sum64()%span)
}

func (s *Scorer) draw() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latency := s.minLatency
	if spread := s.maxLatency - s.minLatency; spread > 0 {
		latency += time.Duration(s.rng.Int63n(int64(spread)))
	}
	fail := s.failureRate > 0 && s.rng.Float64() < s.failureRate
	return latency, fail
}

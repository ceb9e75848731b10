package service

import (
	"time"

	"github.com/okian/credscore/internal/domain/model"
	"github.com/okian/credscore/internal/domain/pool"
	"github.com/okian/credscore/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of prefetch workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the prefetch queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many pending prefetch subjects are tracked.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithUpstream points the service at a remote scoring API instead of the
// simulated scorer.
func WithUpstream(baseURL string, timeout time.Duration) Option {
	return func(s *Service) {
		s.upstreamURL = baseURL
		if timeout > 0 {
			s.upstreamTimeout = timeout
		}
	}
}

// WithFetcher sets the upstream fetcher directly, bypassing WithUpstream
// and the simulated scorer.
func WithFetcher(f pool.Fetcher) Option {
	return func(s *Service) {
		s.fetcher = f
	}
}

// WithFetchTimeout bounds each shared upstream fetch. Zero means unbounded.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.fetchTimeout = d
		}
	}
}

// WithSimulatedLatency sets the simulated scorer's latency range.
func WithSimulatedLatency(minLatency, maxLatency time.Duration) Option {
	return func(s *Service) {
		if minLatency >= 0 && maxLatency >= minLatency {
			s.simMinLatency = minLatency
			s.simMaxLatency = maxLatency
		}
	}
}

// WithSimulatedScoreRange sets the simulated scorer's score range.
func WithSimulatedScoreRange(minScore, maxScore int) Option {
	return func(s *Service) {
		if maxScore >= minScore {
			s.simMinScore = minScore
			s.simMaxScore = maxScore
		}
	}
}

// WithSimulatedFailureRate sets the fraction of simulated lookups that fail.
func WithSimulatedFailureRate(rate float64) Option {
	return func(s *Service) {
		if rate >= 0 && rate <= 1 {
			s.simFailureRate = rate
		}
	}
}

// WithAnnotateConcurrency bounds concurrent lookups per annotation request.
func WithAnnotateConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.annotateConcurrency = n
		}
	}
}

// WithNeutralScore sets the badge score used when a lookup fails.
func WithNeutralScore(score int) Option {
	return func(s *Service) {
		s.neutralScore = score
	}
}

// WithTierThresholds sets the badge tier boundaries.
func WithTierThresholds(t model.TierThresholds) Option {
	return func(s *Service) {
		if t.Trusted >= t.Untrusted {
			s.thresholds = t
		}
	}
}

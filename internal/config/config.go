// Package config defines service configuration structures and loading hooks.
//
// Values are layered: defaults from New, then an optional YAML file named by
// CREDSCORE_CONFIG, then CREDSCORE_* environment variables.
package config

import (
	"fmt"
	"runtime"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// UpstreamBaseURL points at the external scoring API. Empty selects the
	// built-in simulated scorer.
	UpstreamBaseURL string `koanf:"upstream_base_url"`

	// UpstreamTimeoutMS bounds a single HTTP call to the scoring API.
	UpstreamTimeoutMS int `koanf:"upstream_timeout_ms"`

	// FetchTimeoutMS bounds a pooled fetch regardless of how many callers wait
	// on it. Zero disables the bound.
	FetchTimeoutMS int `koanf:"fetch_timeout_ms"`

	// RequestTimeoutMS bounds how long an HTTP caller waits for a score.
	RequestTimeoutMS int `koanf:"request_timeout_ms"`

	// PrefetchQueueSize bounds the in-memory prefetch queue.
	PrefetchQueueSize int `koanf:"prefetch_queue_size"`

	// WorkerCount sets the number of prefetch workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize caps the number of subjects with a pending prefetch.
	DedupeSize int `koanf:"dedupe_size"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// AnnotateConcurrency bounds parallel lookups for one annotation request.
	AnnotateConcurrency int `koanf:"annotate_concurrency"`

	// NeutralScore is shown when a subject's score cannot be fetched.
	NeutralScore int `koanf:"neutral_score"`

	// UntrustedThreshold and TrustedThreshold split scores into tiers.
	UntrustedThreshold int `koanf:"untrusted_threshold"`
	TrustedThreshold   int `koanf:"trusted_threshold"`

	// Simulated scorer knobs, used only when UpstreamBaseURL is empty.
	SimulatedLatencyMinMS int     `koanf:"simulated_latency_min_ms"`
	SimulatedLatencyMaxMS int     `koanf:"simulated_latency_max_ms"`
	SimulatedScoreMin     int     `koanf:"simulated_score_min"`
	SimulatedScoreMax     int     `koanf:"simulated_score_max"`
	SimulatedFailureRate  float64 `koanf:"simulated_failure_rate"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		Addr:                  ":9080",
		UpstreamTimeoutMS:     5_000,
		FetchTimeoutMS:        10_000,
		RequestTimeoutMS:      15_000,
		PrefetchQueueSize:     10_000,
		WorkerCount:           runtime.NumCPU() * 2,
		DedupeSize:            50_000,
		MaxLeaderboardLimit:   100,
		AnnotateConcurrency:   8,
		NeutralScore:          1000,
		UntrustedThreshold:    800,
		TrustedThreshold:      1500,
		SimulatedLatencyMinMS: 80,
		SimulatedLatencyMaxMS: 150,
		SimulatedScoreMin:     0,
		SimulatedScoreMax:     3000,
	}
}

// Validate reports the first inconsistent setting, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.FetchTimeoutMS < 0:
		return fmt.Errorf("%w: fetch_timeout_ms must not be negative", ErrInvalidConfig)
	case c.UpstreamTimeoutMS <= 0:
		return fmt.Errorf("%w: upstream_timeout_ms must be positive", ErrInvalidConfig)
	case c.RequestTimeoutMS <= 0:
		return fmt.Errorf("%w: request_timeout_ms must be positive", ErrInvalidConfig)
	case c.PrefetchQueueSize <= 0:
		return fmt.Errorf("%w: prefetch_queue_size must be positive", ErrInvalidConfig)
	case c.WorkerCount <= 0:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.DedupeSize <= 0:
		return fmt.Errorf("%w: dedupe_size must be positive", ErrInvalidConfig)
	case c.MaxLeaderboardLimit <= 0:
		return fmt.Errorf("%w: max_leaderboard_limit must be positive", ErrInvalidConfig)
	case c.AnnotateConcurrency <= 0:
		return fmt.Errorf("%w: annotate_concurrency must be positive", ErrInvalidConfig)
	case c.SimulatedLatencyMinMS < 0 || c.SimulatedLatencyMinMS > c.SimulatedLatencyMaxMS:
		return fmt.Errorf("%w: simulated latency range must satisfy 0 <= min <= max", ErrInvalidConfig)
	case c.UntrustedThreshold > c.TrustedThreshold:
		return fmt.Errorf("%w: untrusted_threshold must not exceed trusted_threshold", ErrInvalidConfig)
	case c.SimulatedScoreMin > c.SimulatedScoreMax:
		return fmt.Errorf("%w: simulated_score_min must not exceed simulated_score_max", ErrInvalidConfig)
	case c.SimulatedFailureRate < 0 || c.SimulatedFailureRate > 1:
		return fmt.Errorf("%w: simulated_failure_rate must be within [0,1]", ErrInvalidConfig)
	}
	return nil
}

// Millis converts a millisecond setting to a time.Duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

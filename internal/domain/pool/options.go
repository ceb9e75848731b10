package pool

import (
	"time"

	"github.com/okian/credscore/pkg/logger"
)

// Option applies a configuration option to the Pool.
type Option func(*Pool)

// WithFetchTimeout bounds each upstream fetch. Zero or negative leaves it unbounded.
func WithFetchTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.fetchTimeout = d
		}
	}
}

// WithLogger sets a custom logger for the pool.
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

package api

import (
	"time"

	"github.com/okian/credscore/pkg/logger"
)

type config struct {
	maxLimit       int
	requestTimeout time.Duration
	logger         logger.Logger
}

// Option configures a Server.
type Option func(*config)

// WithMaxLeaderboardLimit caps the limit accepted by GET /leaderboard.
func WithMaxLeaderboardLimit(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxLimit = n
		}
	}
}

// WithRequestTimeout bounds how long a caller waits for a score or an
// annotation before getting 504.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithLogger sets the logger used by long-lived handlers.
func WithLogger(l logger.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

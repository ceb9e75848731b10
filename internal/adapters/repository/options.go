package repository

import "github.com/okian/credscore/pkg/logger"

// Option applies a configuration option to the TreapStore.
type Option func(*TreapStore)

// WithLogger sets the store's logger.
func WithLogger(l logger.Logger) Option {
	return func(s *TreapStore) {
		if l != nil {
			s.logger = l
		}
	}
}

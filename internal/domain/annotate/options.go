package annotate

import (
	"github.com/okian/credscore/internal/domain/model"
	"github.com/okian/credscore/pkg/logger"
)

// Option configures an Annotator.
type Option func(*Annotator)

// WithConcurrency bounds the number of lookups in flight per call.
func WithConcurrency(n int) Option {
	return func(a *Annotator) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithNeutralScore sets the score used when a lookup fails.
func WithNeutralScore(score int) Option {
	return func(a *Annotator) {
		a.neutralScore = score
	}
}

// WithThresholds sets the tier boundaries.
func WithThresholds(t model.TierThresholds) Option {
	return func(a *Annotator) {
		if t.Trusted >= t.Untrusted {
			a.thresholds = t
		}
	}
}

// WithLogger sets the annotator's logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Annotator) {
		if l != nil {
			a.logger = l
		}
	}
}

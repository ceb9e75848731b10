// Package annotate finds the subjects mentioned in a document and turns them
// into credibility badges.
package annotate

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/okian/credscore/internal/domain/model"
	"github.com/okian/credscore/pkg/logger"
	"github.com/okian/credscore/pkg/metrics"
)

const (
	defaultConcurrency       = 8
	defaultNeutralScore      = 1000
	defaultUntrustedBoundary = 800
	defaultTrustedBoundary   = 1500
)

// Fetcher resolves a subject's score.
type Fetcher interface {
	Fetch(ctx context.Context, subject string) (int, error)
}

// Annotator resolves badges for subjects through a Fetcher.
type Annotator struct {
	fetcher      Fetcher
	concurrency  int
	neutralScore int
	thresholds   model.TierThresholds
	logger       logger.Logger
}

// New returns an Annotator backed by fetcher.
func New(fetcher Fetcher, opts ...Option) *Annotator {
	a := &Annotator{
		fetcher:      fetcher,
		concurrency:  defaultConcurrency,
		neutralScore: defaultNeutralScore,
		thresholds: model.TierThresholds{
			Untrusted: defaultUntrustedBoundary,
			Trusted:   defaultTrustedBoundary,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logger.Named("annotate")
	}
	return a
}

// Annotate returns one badge per subject, in input order. A subject whose
// lookup fails gets the neutral score with Fallback set; only cancellation of
// ctx fails the call as a whole.
func (a *Annotator) Annotate(ctx context.Context, subjects []string) ([]model.Badge, error) {
	badges := make([]model.Badge, len(subjects))
	fallbacks := make([]bool, len(subjects))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, subject := range subjects {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			score, err := a.fetcher.Fetch(gctx, subject)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				a.logger.Debug(gctx, "badge falls back to neutral score",
					logger.String("subject", subject),
					logger.Error(err),
				)
				score = a.neutralScore
				fallbacks[i] = true
			}
			badges[i] = model.Badge{
				Subject:  subject,
				Kind:     model.KindOf(subject),
				Score:    score,
				Tier:     a.thresholds.Classify(score),
				Fallback: fallbacks[i],
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("annotate %d subjects: %w", len(subjects), err)
	}

	failed := 0
	for _, f := range fallbacks {
		if f {
			failed++
		}
	}
	metrics.RecordAnnotation(len(subjects), failed)
	return badges, nil
}

// AnnotateHTML extracts the subjects from an HTML document and annotates them.
func (a *Annotator) AnnotateHTML(ctx context.Context, r io.Reader) ([]model.Badge, error) {
	subjects, err := Extract(r)
	if err != nil {
		return nil, err
	}
	return a.Annotate(ctx, subjects)
}

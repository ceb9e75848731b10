// Package repository keeps a ranked view of resolved credibility scores.
package repository

import (
	"context"

	"github.com/okian/credscore/internal/domain/model"
)

// Entry represents a ranking row.
type Entry = model.Entry

// Store provides read access to the ranking state.
type Store interface {
	// Rank returns the current dense rank and score for a subject.
	// Returns ErrNotFound if the subject has no resolved score.
	Rank(ctx context.Context, subject string) (Entry, error)

	// TopN returns the top-N entries ordered by score desc, subject asc.
	TopN(ctx context.Context, n int) ([]Entry, error)

	// Count returns the number of ranked subjects.
	Count(ctx context.Context) int
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/credscore/internal/adapters/scoreapi"
	"github.com/okian/credscore/internal/domain/model"
)

const (
	subjectPrefix    = "p"
	subjectIDLength  = 12
	resolvePoll      = 100 * time.Millisecond
	backpressureWait = 200 * time.Millisecond
)

var (
	errNotResolved    = errors.New("subjects not resolved in time")
	errBoardUnordered = errors.New("leaderboard not ordered")
)

// LoadCmd prefetches a batch of fresh subjects, waits for the server to
// resolve them and checks the leaderboard it builds from them.
type LoadCmd struct {
	Subjects int           `help:"Number of fresh subjects to prefetch." default:"500"`
	Batch    int           `help:"Subjects per prefetch request." default:"100"`
	Workers  int           `help:"Concurrent prefetch requests." default:"4"`
	Retries  int           `help:"Attempts per batch while the server pushes back." default:"20"`
	Wait     time.Duration `help:"How long to wait for every subject to resolve." default:"30s"`
	Top      int           `help:"Leaderboard entries to verify and print." default:"10"`
}

type loadStats struct {
	submitted    int
	accepted     int
	cached       int
	pending      int
	backpressure int
}

// Run executes the load command.
func (c *LoadCmd) Run(ctx context.Context, g *Globals, out io.Writer) error {
	if c.Subjects < 1 || c.Batch < 1 || c.Workers < 1 || c.Top < 1 {
		return errors.New("load: --subjects, --batch, --workers and --top must be positive")
	}
	client, err := g.client()
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if _, err := client.Stats(ctx); err != nil {
		return fmt.Errorf("load: server health check failed: %w", err)
	}

	start := time.Now()
	subjects := generateSubjects(c.Subjects)
	stats, err := c.submit(ctx, client, subjects)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	submitted := time.Since(start)

	snapshot, err := c.awaitResolved(ctx, client, subjects)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	resolved := time.Since(start)

	board, err := client.Leaderboard(ctx, c.Top)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if err := verifyLeaderboard(snapshot, board); err != nil {
		return fmt.Errorf("load: %w", err)
	}

	fmt.Fprintf(out, "subjects:      %d\n", stats.submitted)
	fmt.Fprintf(out, "accepted:      %d\n", stats.accepted)
	fmt.Fprintf(out, "cached:        %d\n", stats.cached)
	fmt.Fprintf(out, "pending:       %d\n", stats.pending)
	fmt.Fprintf(out, "backpressure:  %d\n", stats.backpressure)
	fmt.Fprintf(out, "submitted in:  %s\n", submitted.Round(time.Millisecond))
	fmt.Fprintf(out, "resolved in:   %s\n", resolved.Round(time.Millisecond))
	fmt.Fprintf(out, "leaderboard:\n")
	for _, e := range board {
		fmt.Fprintf(out, "  %3d. %-16s %d\n", e.Rank, e.Subject, e.Score)
	}
	return nil
}

// generateSubjects returns n distinct handles nobody has looked up yet.
func generateSubjects(n int) []string {
	out := make([]string, n)
	for i := range out {
		id := strings.ReplaceAll(uuid.NewString(), "-", "")
		out[i] = subjectPrefix + id[:subjectIDLength]
	}
	return out
}

// submit prefetches subjects in batches, retrying a batch while the server
// applies backpressure. Resubmitting is safe: known subjects come back as
// cached or pending.
func (c *LoadCmd) submit(ctx context.Context, client *scoreapi.Client, subjects []string) (loadStats, error) {
	batches := (len(subjects) + c.Batch - 1) / c.Batch
	results := make([]model.PrefetchResult, batches)
	pushbacks := make([]int, batches)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(c.Workers)
	for i := range batches {
		batch := subjects[i*c.Batch : min((i+1)*c.Batch, len(subjects))]
		eg.Go(func() error {
			for attempt := 0; ; attempt++ {
				res, err := client.Prefetch(ctx, batch)
				switch {
				case errors.Is(err, scoreapi.ErrBackpressure) || (err == nil && res.Rejected > 0):
					pushbacks[i]++
					if attempt+1 >= c.Retries {
						return fmt.Errorf("batch %d: %w", i, scoreapi.ErrBackpressure)
					}
				case err != nil:
					return fmt.Errorf("batch %d: %w", i, err)
				default:
					results[i] = res
					return nil
				}
				select {
				case <-time.After(backpressureWait):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		})
	}
	if err := eg.Wait(); err != nil {
		return loadStats{}, err
	}

	stats := loadStats{submitted: len(subjects)}
	for i, r := range results {
		stats.accepted += r.Accepted
		stats.cached += r.Cached
		stats.pending += r.Pending
		stats.backpressure += pushbacks[i]
	}
	return stats, nil
}

// awaitResolved polls the server's scores until every subject is present.
func (c *LoadCmd) awaitResolved(ctx context.Context, client *scoreapi.Client, subjects []string) (map[string]int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Wait)
	defer cancel()

	ticker := time.NewTicker(resolvePoll)
	defer ticker.Stop()
	for {
		snapshot, err := client.Scores(ctx)
		if err == nil && containsAll(snapshot, subjects) {
			return snapshot, nil
		}
		select {
		case <-ctx.Done():
			missing := 0
			for _, s := range subjects {
				if _, ok := snapshot[s]; !ok {
					missing++
				}
			}
			return nil, fmt.Errorf("%d of %d %w", missing, len(subjects), errNotResolved)
		case <-ticker.C:
		}
	}
}

func containsAll(snapshot map[string]int, subjects []string) bool {
	for _, s := range subjects {
		if _, ok := snapshot[s]; !ok {
			return false
		}
	}
	return true
}

// verifyLeaderboard checks that board is the dense-ranked head of snapshot.
func verifyLeaderboard(snapshot map[string]int, board []model.Entry) error {
	if len(board) == 0 {
		return fmt.Errorf("%w: empty", errBoardUnordered)
	}
	best := board[0].Score
	for _, score := range snapshot {
		best = max(best, score)
	}
	if board[0].Score != best || board[0].Rank != 1 {
		return fmt.Errorf("%w: top entry %s scores %d at rank %d, best score is %d",
			errBoardUnordered, board[0].Subject, board[0].Score, board[0].Rank, best)
	}
	for i := 1; i < len(board); i++ {
		prev, cur := board[i-1], board[i]
		switch {
		case cur.Score > prev.Score:
			return fmt.Errorf("%w: entry %d scores above entry %d", errBoardUnordered, i, i-1)
		case cur.Score == prev.Score && cur.Rank != prev.Rank:
			return fmt.Errorf("%w: tied entries %d and %d have different ranks", errBoardUnordered, i-1, i)
		case cur.Score < prev.Score && cur.Rank != prev.Rank+1:
			return fmt.Errorf("%w: entry %d has rank %d after rank %d", errBoardUnordered, i, cur.Rank, prev.Rank)
		}
		if got, ok := snapshot[cur.Subject]; ok && got != cur.Score {
			return fmt.Errorf("%w: %s scores %d on the board and %d in the cache",
				errBoardUnordered, cur.Subject, cur.Score, got)
		}
	}
	return nil
}

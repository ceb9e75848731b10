package repository

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okian/credscore/internal/domain/pool"
	"github.com/okian/credscore/pkg/logger"
	"github.com/okian/credscore/pkg/metrics"
)

// Treap-based, in-memory Store implementation fed by pool snapshots.
//
// Ordering: score DESC, then subject ASC (deterministic). "less" means ranks
// earlier, so in-order traversal yields the ranking from best to worst.

type node struct {
	id    string
	score int
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aScore, aID) should appear before (bScore, bID).
func less(aScore int, aID string, bScore int, bID string) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, score int) *node {
	if n == nil {
		return &node{id: id, score: score, prio: rand.Uint64(), size: 1} //nolint:gosec // balancing only
	}
	if less(score, id, n.score, n.id) {
		n.left = insert(n.left, id, score)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, score)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, score int) *node {
	if n == nil {
		return nil
	}
	switch {
	case score == n.score && id == n.id:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, score)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, score)
		}
	case less(score, id, n.score, n.id):
		n.left = deleteNode(n.left, id, score)
	default:
		n.right = deleteNode(n.right, id, score)
	}
	fix(n)
	return n
}

// collectTopN appends up to limit entries in rank order.
func collectTopN(n *node, limit int, out *[]Entry) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, Entry{Subject: n.id, Score: n.score})
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, out)
	}
}

// TreapStore mirrors the pool's scores into a ranked index.
type TreapStore struct {
	mu      sync.RWMutex
	root    *node
	byID    map[string]int
	version uint64 // bumped under mu by every write that changes the index
	logger  logger.Logger

	// ranked caches dense rank entries built at a given version.
	rankMu sync.Mutex
	ranked *rankTable
}

type rankTable struct {
	version uint64
	entries map[string]Entry
}

// NewTreapStore constructs an empty store.
func NewTreapStore(opts ...Option) *TreapStore {
	s := &TreapStore{byID: make(map[string]int)}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("repository")
	}
	return s
}

// Source publishes score snapshots.
type Source interface {
	Listen(fn pool.Listener) (cancel func())
}

// Attach subscribes the store to src and seeds it with src's current scores
// when src can report them. The returned function detaches the store.
func (s *TreapStore) Attach(src Source) (detach func()) {
	cancel := src.Listen(s.Apply)
	if snap, ok := src.(interface{ Snapshot() pool.Snapshot }); ok {
		s.Apply(snap.Snapshot())
	}
	return cancel
}

// Apply merges a snapshot into the index. It is a pool.Listener.
func (s *TreapStore) Apply(snap pool.Snapshot) {
	start := time.Now()
	changed := 0

	s.mu.Lock()
	for id, score := range snap {
		old, ok := s.byID[id]
		if ok && old == score {
			continue
		}
		if ok {
			s.root = deleteNode(s.root, id, old)
		}
		s.byID[id] = score
		s.root = insert(s.root, id, score)
		changed++
	}
	if changed > 0 {
		s.version++
	}
	count := len(s.byID)
	s.mu.Unlock()

	if changed == 0 {
		return
	}

	metrics.UpdateRankingSubjects(count)
	s.logger.Debug(context.Background(), "ranking updated",
		logger.Int("changed", changed),
		logger.Int("subjects", count),
		logger.Duration("elapsed", time.Since(start)),
	)
}

// Rank returns the dense rank and score for subject. Both come from the same
// version of the index.
func (s *TreapStore) Rank(_ context.Context, subject string) (Entry, error) {
	entry, ok := s.ranks().entries[subject]
	if !ok {
		metrics.RecordRankingQuery("rank", "not_found")
		return Entry{}, ErrNotFound
	}
	metrics.RecordRankingQuery("rank", "ok")
	return entry, nil
}

// ranks returns the rank table for the current version, rebuilding it when a
// write has moved the version on.
func (s *TreapStore) ranks() *rankTable {
	s.rankMu.Lock()
	defer s.rankMu.Unlock()
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ranked != nil && s.ranked.version == s.version {
		return s.ranked
	}
	all := make([]Entry, 0, len(s.byID))
	collectTopN(s.root, len(s.byID), &all)
	assignDenseRanks(all)

	table := &rankTable{version: s.version, entries: make(map[string]Entry, len(all))}
	for _, e := range all {
		table.entries[e.Subject] = e
	}
	s.ranked = table
	return table
}

// TopN returns the top n entries ordered by score desc.
func (s *TreapStore) TopN(_ context.Context, n int) ([]Entry, error) {
	if n < 1 {
		metrics.RecordRankingQuery("top", "invalid_limit")
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	out := make([]Entry, 0, min(n, len(s.byID)))
	collectTopN(s.root, n, &out)
	s.mu.RUnlock()

	// A prefix of the global order carries the same dense ranks.
	assignDenseRanks(out)
	metrics.RecordRankingQuery("top", "ok")
	return out, nil
}

// Count returns the number of ranked subjects.
func (s *TreapStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// assignDenseRanks ranks entries already in order: equal scores share a rank
// and the next distinct score gets the following rank.
func assignDenseRanks(entries []Entry) {
	rank := 0
	for i := range entries {
		if i == 0 || entries[i].Score != entries[i-1].Score {
			rank++
		}
		entries[i].Rank = rank
	}
}

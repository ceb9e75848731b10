// Package dedupe tracks subjects with a prefetch already pending.
package dedupe

import (
	"container/list"
	"context"
	"sync"

	"github.com/okian/credscore/pkg/metrics"
)

const defaultMaxSize = 50000

// Deduper records subjects so each is queued for prefetch at most once.
type Deduper interface {
	// SeenAndRecord atomically checks whether subject is pending and records it
	// if not. Returns true if it was already pending.
	SeenAndRecord(ctx context.Context, subject string) bool

	// Unrecord forgets subject so it can be prefetched again.
	Unrecord(ctx context.Context, subject string)

	Size() int64
}

// inMemoryDeduper keeps pending subjects in insertion order. In bounded mode
// the oldest entry is evicted when the set is full; maxSize <= 0 is unbounded.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // front is oldest
	maxSize int
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		seen:    make(map[string]*list.Element),
		order:   list.New(),
		maxSize: defaultMaxSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SeenAndRecord atomically checks if subject is pending and records it if not.
func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, subject string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[subject]; ok {
		return true
	}
	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}
	d.seen[subject] = d.order.PushBack(subject)
	metrics.UpdateDedupePending(int64(len(d.seen)))
	return false
}

// Unrecord removes subject, allowing it to be queued again.
func (d *inMemoryDeduper) Unrecord(_ context.Context, subject string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.seen[subject]; ok {
		d.order.Remove(el)
		delete(d.seen, subject)
		metrics.UpdateDedupePending(int64(len(d.seen)))
	}
}

// evictOldest must be called with d.mu held.
func (d *inMemoryDeduper) evictOldest() {
	front := d.order.Front()
	if front == nil {
		return
	}
	d.order.Remove(front)
	delete(d.seen, front.Value.(string))
}

// Size returns the number of pending subjects.
func (d *inMemoryDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}

package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/okian/credscore/internal/adapters/mq/queue"
	"github.com/okian/credscore/internal/adapters/mq/worker"
	"github.com/okian/credscore/internal/domain/dedupe"
	"github.com/okian/credscore/internal/domain/model"
	logging "github.com/okian/credscore/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	if err := logging.Init(); err != nil {
		panic(err)
	}
	goleak.VerifyTestMain(m)
}

// mockFetcher records every fetch and signals completion.
type mockFetcher struct {
	mu      sync.Mutex
	fetched []string
	errs    map[string]error
	done    chan string
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{errs: make(map[string]error), done: make(chan string, 100)}
}

func (f *mockFetcher) Fetch(_ context.Context, subject string) (int, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, subject)
	err := f.errs[subject]
	f.mu.Unlock()
	defer func() { f.done <- subject }()
	if err != nil {
		return 0, err
	}
	return len(subject) * 100, nil
}

func (f *mockFetcher) setError(subject string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[subject] = err
}

func (f *mockFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

func waitFor(ch <-chan string, n int) bool {
	timeout := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-timeout:
			return false
		}
	}
	return true
}

// waitUntil polls cond until it holds or a second passes.
func waitUntil(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func enqueue(ctx context.Context, q *queue.InMemoryQueue, d dedupe.Deduper, subject string) {
	d.SeenAndRecord(ctx, subject)
	q.Enqueue(ctx, model.PrefetchRequest{ID: "req-" + subject, Subject: subject, RequestedAt: time.Now()})
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker reading from a queue", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q := queue.NewInMemoryQueue(queue.WithCapacity(10))
		d := dedupe.NewInMemoryDeduper()
		fetcher := newMockFetcher()
		counters := &worker.Counters{}
		w := worker.NewInMemoryWorker(q, fetcher, d, worker.WithName("test-worker"), worker.WithCounters(counters))
		go w.Run(ctx)

		convey.Convey("When a subject is queued", func() {
			enqueue(ctx, q, d, "alice")

			convey.Convey("Then it is fetched and released", func() {
				convey.So(waitFor(fetcher.done, 1), convey.ShouldBeTrue)
				convey.So(waitUntil(func() bool { return d.Size() == 0 }), convey.ShouldBeTrue)
				convey.So(waitUntil(func() bool { return counters.Processed() == 1 }), convey.ShouldBeTrue)
				convey.So(counters.Failed(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When the fetch fails", func() {
			fetcher.setError("bob", errors.New("upstream down"))
			enqueue(ctx, q, d, "bob")

			convey.Convey("Then the failure is counted and the subject released for retry", func() {
				convey.So(waitFor(fetcher.done, 1), convey.ShouldBeTrue)
				convey.So(waitUntil(func() bool { return counters.Failed() == 1 }), convey.ShouldBeTrue)
				convey.So(waitUntil(func() bool { return d.Size() == 0 }), convey.ShouldBeTrue)
				convey.So(d.SeenAndRecord(ctx, "bob"), convey.ShouldBeFalse)
			})
		})

		convey.Convey("When the worker is shut down", func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
			defer shutdownCancel()
			err := w.Shutdown(shutdownCtx)

			convey.Convey("Then Run returns", func() {
				convey.So(err, convey.ShouldBeNil)
				select {
				case <-w.Done():
				default:
					convey.So("worker still running", convey.ShouldBeEmpty)
				}
			})
		})
	})

	convey.Convey("Given a worker whose context is cancelled", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		q := queue.NewInMemoryQueue()
		w := worker.NewInMemoryWorker(q, newMockFetcher(), dedupe.NewInMemoryDeduper())
		go w.Run(ctx)
		cancel()

		convey.Convey("Then it stops", func() {
			select {
			case <-w.Done():
			case <-time.After(time.Second):
				convey.So("worker still running", convey.ShouldBeEmpty)
			}
		})
	})

	convey.Convey("Given a worker whose shutdown outlives the caller", t, func() {
		q := queue.NewInMemoryQueue()
		w := worker.NewInMemoryWorker(q, newMockFetcher(), dedupe.NewInMemoryDeduper())
		expired, cancel := context.WithCancel(context.Background())
		cancel()

		convey.Convey("Then Shutdown reports the timeout when Run never started", func() {
			err := w.Shutdown(expired)
			convey.So(errors.Is(err, context.Canceled), convey.ShouldBeTrue)
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool of four workers", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q := queue.NewInMemoryQueue(queue.WithCapacity(100))
		d := dedupe.NewInMemoryDeduper()
		fetcher := newMockFetcher()
		p := worker.NewPool(4, q, fetcher, d)
		p.Start(ctx)

		convey.So(p.Size(), convey.ShouldEqual, 4)

		convey.Convey("When many subjects are queued", func() {
			for i := 0; i < 50; i++ {
				enqueue(ctx, q, d, fmt.Sprintf("user%d", i))
			}

			convey.Convey("Then each is fetched once", func() {
				convey.So(waitFor(fetcher.done, 50), convey.ShouldBeTrue)
				convey.So(fetcher.count(), convey.ShouldEqual, 50)
				convey.So(waitUntil(func() bool { return p.Counters().Processed() == 50 }), convey.ShouldBeTrue)
			})

			convey.Convey("And shutdown stops every worker", func() {
				convey.So(waitFor(fetcher.done, 50), convey.ShouldBeTrue)
				convey.So(p.Shutdown(context.Background()), convey.ShouldBeNil)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the pool is shut down immediately", func() {
			err := p.Shutdown(context.Background())

			convey.Convey("Then it returns cleanly", func() {
				convey.So(err, convey.ShouldBeNil)
			})
		})
	})

	convey.Convey("Given a pool with no worker count", t, func() {
		p := worker.NewPool(0, queue.NewInMemoryQueue(), newMockFetcher(), dedupe.NewInMemoryDeduper())

		convey.Convey("Then a CPU-based default is used", func() {
			convey.So(p.Size(), convey.ShouldBeGreaterThan, 0)
		})
	})
}

package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/credscore/internal/adapters/repository"
	service "github.com/okian/credscore/internal/app"
	"github.com/okian/credscore/internal/domain/model"
	"github.com/okian/credscore/internal/domain/pool"
	"github.com/okian/credscore/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// stubFetcher answers from a fixed table after an optional delay.
type stubFetcher struct {
	mu     sync.Mutex
	scores map[string]int
	fail   map[string]bool
	delay  time.Duration
	calls  atomic.Int64
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		scores: map[string]int{"alice": 1800, "bob": 640, "carol": 1200},
		fail:   map[string]bool{},
	}
}

func (f *stubFetcher) FetchScore(ctx context.Context, subject string) (int, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[subject] {
		return 0, errors.New("upstream unavailable")
	}
	return f.scores[subject], nil
}

func startService(fetcher pool.Fetcher, opts ...service.Option) *service.Service {
	opts = append([]service.Option{
		service.WithFetcher(fetcher),
		service.WithWorkerCount(2),
	}, opts...)
	svc := service.New(opts...)
	So(svc.Start(context.Background()), ShouldBeNil)
	return svc
}

func waitUntil(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New(service.WithFetcher(newStubFetcher()))

		Convey("When it has not been started", func() {
			_, scoreErr := svc.Score(context.Background(), "alice")
			_, prefetchErr := svc.Prefetch(context.Background(), []string{"alice"})
			_, topErr := svc.TopN(context.Background(), 10)
			_, subErr := svc.Subscribe(func(pool.Snapshot) {})

			Convey("Then operations report it", func() {
				So(errors.Is(scoreErr, service.ErrNotStarted), ShouldBeTrue)
				So(errors.Is(prefetchErr, service.ErrNotStarted), ShouldBeTrue)
				So(errors.Is(topErr, service.ErrNotStarted), ShouldBeTrue)
				So(errors.Is(subErr, service.ErrNotStarted), ShouldBeTrue)
				So(errors.Is(scoreErr, model.ErrUnavailable), ShouldBeTrue)
				So(svc.GetStats()["started"], ShouldEqual, false)
				So(svc.Snapshot(), ShouldBeEmpty)
			})
		})

		Convey("When started twice and stopped twice", func() {
			So(svc.Start(context.Background()), ShouldBeNil)
			So(svc.Start(context.Background()), ShouldBeNil)
			So(svc.GetStats()["started"], ShouldEqual, true)
			svc.Stop()
			svc.Stop()

			Convey("Then it is stopped", func() {
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})

		Convey("When restarted after resolving a score", func() {
			So(svc.Start(context.Background()), ShouldBeNil)
			_, err := svc.Score(context.Background(), "alice")
			So(err, ShouldBeNil)
			svc.Stop()
			So(svc.Start(context.Background()), ShouldBeNil)
			defer svc.Stop()

			Convey("Then resolved scores survive and are ranked again", func() {
				So(svc.Snapshot(), ShouldResemble, pool.Snapshot{"alice": 1800})
				entry, err := svc.Rank(context.Background(), "alice")
				So(err, ShouldBeNil)
				So(entry.Rank, ShouldEqual, 1)
			})
		})
	})

	Convey("Given a service with an invalid upstream URL", t, func() {
		svc := service.New(service.WithUpstream("not a url", time.Second))

		Convey("Then Start fails", func() {
			So(svc.Start(context.Background()), ShouldNotBeNil)
		})
	})
}

func TestService_Score(t *testing.T) {
	Convey("Given a started service", t, func() {
		fetcher := newStubFetcher()
		fetcher.delay = 50 * time.Millisecond
		svc := startService(fetcher)
		defer svc.Stop()

		Convey("When many callers ask for the same subject in different spellings", func() {
			var wg sync.WaitGroup
			scores := make([]int, 6)
			for i, raw := range []string{"alice", "@alice", "Alice", " alice ", "@ALICE", "alice"} {
				wg.Add(1)
				go func(i int, raw string) {
					defer wg.Done()
					scores[i], _ = svc.Score(context.Background(), raw)
				}(i, raw)
			}
			wg.Wait()

			Convey("Then one upstream fetch serves them all", func() {
				So(fetcher.calls.Load(), ShouldEqual, 1)
				for _, s := range scores {
					So(s, ShouldEqual, 1800)
				}
				So(svc.GetStats()["upstreamFetches"], ShouldEqual, int64(1))
			})
		})

		Convey("When the subject is blank", func() {
			_, err := svc.Score(context.Background(), " @ ")

			Convey("Then it is rejected", func() {
				So(errors.Is(err, model.ErrInvalidSubject), ShouldBeTrue)
				So(errors.Is(err, pool.ErrEmptySubject), ShouldBeTrue)
			})
		})

		Convey("When the upstream fails", func() {
			fetcher.mu.Lock()
			fetcher.fail["bob"] = true
			fetcher.mu.Unlock()
			_, err := svc.Score(context.Background(), "bob")

			Convey("Then the pool's failure is returned", func() {
				So(errors.Is(err, pool.ErrFetchFailed), ShouldBeTrue)
			})
		})
	})
}

func TestService_Subscribe(t *testing.T) {
	Convey("Given a subscriber", t, func() {
		svc := startService(newStubFetcher())
		defer svc.Stop()

		var mu sync.Mutex
		var got []pool.Snapshot
		cancel, err := svc.Subscribe(func(s pool.Snapshot) {
			mu.Lock()
			got = append(got, s)
			mu.Unlock()
		})
		So(err, ShouldBeNil)

		Convey("When two subjects resolve", func() {
			_, _ = svc.Score(context.Background(), "alice")
			_, _ = svc.Score(context.Background(), "bob")
			cancel()
			_, _ = svc.Score(context.Background(), "carol")

			Convey("Then it sees a growing snapshot until it cancels", func() {
				mu.Lock()
				defer mu.Unlock()
				So(got, ShouldResemble, []pool.Snapshot{
					{"alice": 1800},
					{"alice": 1800, "bob": 640},
				})
			})
		})
	})
}

func TestService_Prefetch(t *testing.T) {
	Convey("Given a started service", t, func() {
		fetcher := newStubFetcher()
		fetcher.delay = 50 * time.Millisecond
		svc := startService(fetcher)
		defer svc.Stop()

		_, err := svc.Score(context.Background(), "alice")
		So(err, ShouldBeNil)

		Convey("When a mixed batch is prefetched", func() {
			res, err := svc.Prefetch(context.Background(), []string{"alice", "bob", "@bob", "", "carol"})

			Convey("Then each subject is classified", func() {
				So(err, ShouldBeNil)
				So(res, ShouldResemble, model.PrefetchResult{Accepted: 2, Cached: 1, Pending: 1, Invalid: 1})
			})

			Convey("And the workers warm the cache", func() {
				So(waitUntil(func() bool { return len(svc.Snapshot()) == 3 }), ShouldBeTrue)
				So(waitUntil(func() bool {
					stats := svc.GetStats()
					return stats["pendingPrefetches"] == int64(0) && stats["prefetchProcessed"] == int64(2)
				}), ShouldBeTrue)
			})
		})
	})

	Convey("Given a service with a one-slot queue and a slow upstream", t, func() {
		fetcher := newStubFetcher()
		fetcher.delay = 200 * time.Millisecond
		svc := startService(fetcher, service.WithQueueSize(1), service.WithWorkerCount(1))
		defer svc.Stop()

		Convey("When more subjects arrive than the queue can take", func() {
			res, err := svc.Prefetch(context.Background(), []string{"s1", "s2", "s3", "s4", "s5"})

			Convey("Then the overflow is rejected and can be retried", func() {
				So(err, ShouldBeNil)
				So(res.Rejected, ShouldBeGreaterThan, 0)
				So(res.Accepted+res.Rejected, ShouldEqual, 5)
				So(svc.GetStats()["pendingPrefetches"], ShouldEqual, int64(res.Accepted))
			})
		})
	})
}

func TestService_RankingAndAnnotation(t *testing.T) {
	Convey("Given a service with resolved scores", t, func() {
		fetcher := newStubFetcher()
		fetcher.mu.Lock()
		fetcher.fail["mallory"] = true
		fetcher.mu.Unlock()
		svc := startService(fetcher)
		defer svc.Stop()
		for _, s := range []string{"alice", "bob", "carol"} {
			_, err := svc.Score(context.Background(), s)
			So(err, ShouldBeNil)
		}

		Convey("When the leaderboard is read", func() {
			entries, err := svc.TopN(context.Background(), 2)

			Convey("Then it is ordered by score", func() {
				So(err, ShouldBeNil)
				So(entries, ShouldResemble, []model.Entry{
					{Rank: 1, Subject: "alice", Score: 1800},
					{Rank: 2, Subject: "carol", Score: 1200},
				})
			})
		})

		Convey("When a rank is looked up", func() {
			entry, err := svc.Rank(context.Background(), "@Bob")
			_, missing := svc.Rank(context.Background(), "nobody")
			_, invalid := svc.Rank(context.Background(), "")

			Convey("Then subjects are normalized and unknown ones reported", func() {
				So(err, ShouldBeNil)
				So(entry, ShouldResemble, model.Entry{Rank: 3, Subject: "bob", Score: 640})
				So(errors.Is(missing, repository.ErrNotFound), ShouldBeTrue)
				So(errors.Is(invalid, model.ErrInvalidSubject), ShouldBeTrue)
			})
		})

		Convey("When a document is annotated", func() {
			doc := `<div><a href="https://x.com/alice">@alice</a> replied to @mallory</div>`
			badges, err := svc.Annotate(context.Background(), strings.NewReader(doc))

			Convey("Then known subjects get their tier and failures fall back", func() {
				So(err, ShouldBeNil)
				So(badges, ShouldResemble, []model.Badge{
					{Subject: "alice", Kind: model.KindHandle, Score: 1800, Tier: model.TierTrusted},
					{Subject: "mallory", Kind: model.KindHandle, Score: 1000, Tier: model.TierNeutral, Fallback: true},
				})
			})
		})

		Convey("When stats are read", func() {
			stats := svc.GetStats()

			Convey("Then they describe the running service", func() {
				So(stats["started"], ShouldEqual, true)
				So(stats["upstream"], ShouldEqual, "custom")
				So(stats["cachedSubjects"], ShouldEqual, 3)
				So(stats["rankedSubjects"], ShouldEqual, 3)
				So(stats["workerCount"], ShouldEqual, 2)
			})
		})
	})
}

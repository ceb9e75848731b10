package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/okian/credscore/internal/adapters/http/api"
	app "github.com/okian/credscore/internal/app"
	"github.com/okian/credscore/internal/config"
	"github.com/okian/credscore/pkg/logger"
	"github.com/okian/credscore/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestMainFunction(t *testing.T) {
	convey.Convey("Given the main application", t, func() {
		convey.Convey("When testing configuration loading", func() {
			t.Setenv("CREDSCORE_ADDR", ":8080")
			t.Setenv("CREDSCORE_PREFETCH_QUEUE_SIZE", "1000")
			t.Setenv("CREDSCORE_WORKER_COUNT", "4")

			convey.Convey("Then configuration should be loadable", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.PrefetchQueueSize, convey.ShouldEqual, 1000)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When the service is built from configuration", func() {
			cfg := config.New()
			cfg.WorkerCount = 3
			cfg.PrefetchQueueSize = 50
			cfg.SimulatedLatencyMinMS = 1
			cfg.SimulatedLatencyMaxMS = 2
			cfg.SimulatedScoreMin = 10
			cfg.SimulatedScoreMax = 20
			svc := app.New(serviceOptions(cfg, logger.Get())...)
			convey.So(svc.Start(context.Background()), convey.ShouldBeNil)
			defer svc.Stop()

			convey.Convey("Then the options take effect", func() {
				stats := svc.GetStats()
				convey.So(stats["workerCount"], convey.ShouldEqual, 3)
				convey.So(stats["queueSize"], convey.ShouldEqual, 50)
				convey.So(stats["upstream"], convey.ShouldEqual, "simulated")

				score, err := svc.Score(context.Background(), "alice")
				convey.So(err, convey.ShouldBeNil)
				convey.So(score, convey.ShouldBeBetweenOrEqual, 10, 20)
			})
		})

		convey.Convey("When an upstream URL is configured", func() {
			cfg := config.New()
			cfg.UpstreamBaseURL = "http://scores.internal"
			svc := app.New(serviceOptions(cfg, logger.Get())...)

			convey.Convey("Then the service uses it", func() {
				convey.So(svc.GetStats()["upstream"], convey.ShouldEqual, "http://scores.internal")
			})
		})
	})
}

func TestHTTPServer(t *testing.T) {
	convey.Convey("Given an HTTP server built from configuration", t, func() {
		ctx := context.Background()
		cfg := config.New()
		cfg.RequestTimeoutMS = 2000
		svc := app.New(serviceOptions(cfg, logger.Get())...)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		srv := newHTTPServer(ctx, cfg, svc, logger.Get())

		convey.Convey("Then it listens on the configured address", func() {
			convey.So(srv.Addr, convey.ShouldEqual, cfg.Addr)
			convey.So(srv.WriteTimeout, convey.ShouldEqual, 2*time.Second+writeTimeoutSlack)
		})

		convey.Convey("Then an unset request timeout still leaves room for a 504", func() {
			for _, ms := range []int{0, -1} {
				cfg.RequestTimeoutMS = ms
				unset := newHTTPServer(ctx, cfg, svc, logger.Get())
				convey.So(unset.WriteTimeout, convey.ShouldEqual, api.DefaultRequestTimeout+writeTimeoutSlack)
			}
		})

		convey.Convey("Then the landing page, docs and API routes are registered", func() {
			for _, path := range []string{"/", "/openapi.yaml", "/api-docs", "/stats", "/scores", "/healthz"} {
				rec := httptest.NewRecorder()
				srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
				convey.So(rec.Code, convey.ShouldEqual, http.StatusOK)
			}
		})
	})
}

func TestMainApplicationComponents(t *testing.T) {
	convey.Convey("Given main application components", t, func() {
		convey.Convey("When testing system metrics updater", func() {
			convey.Convey("Then it returns once the context ends", func() {
				ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
				defer cancel()

				convey.So(func() {
					startSystemMetricsUpdater(ctx)
				}, convey.ShouldNotPanic)
			})
		})

		convey.Convey("When testing service metrics updater", func() {
			svc := app.New()

			convey.Convey("Then it returns once the context ends", func() {
				ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
				defer cancel()

				convey.So(func() {
					startServiceMetricsUpdater(ctx, svc)
				}, convey.ShouldNotPanic)
			})
		})

		convey.Convey("When testing metrics updates", func() {
			convey.Convey("Then they do not panic on a stopped service", func() {
				convey.So(updateSystemMetrics, convey.ShouldNotPanic)
				convey.So(func() { updateServiceMetrics(app.New()) }, convey.ShouldNotPanic)
			})
		})

		convey.Convey("When testing metrics manager creation", func() {
			convey.Convey("Then it works with a private registry", func() {
				manager := metrics.NewManager(metrics.WithPrometheusRegistry(prometheus.NewRegistry()))
				convey.So(manager, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestMainApplicationErrorHandling(t *testing.T) {
	convey.Convey("Given main application error handling", t, func() {
		convey.Convey("When testing invalid configuration", func() {
			t.Setenv("CREDSCORE_ADDR", "")

			convey.Convey("Then configuration loading should fail", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When testing service creation with invalid options", func() {
			convey.Convey("Then service should handle invalid options gracefully", func() {
				svc := app.New(
					app.WithWorkerCount(0),
					app.WithQueueSize(0),
					app.WithDedupeSize(0),
				)
				convey.So(svc, convey.ShouldNotBeNil)
			})
		})
	})
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/credscore/internal/adapters/http/api"
	"github.com/okian/credscore/internal/adapters/http/site"
	"github.com/okian/credscore/internal/adapters/http/swagger"
	app "github.com/okian/credscore/internal/app"
	"github.com/okian/credscore/internal/config"
	"github.com/okian/credscore/internal/domain/model"
	"github.com/okian/credscore/pkg/logger"
	"github.com/okian/credscore/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeoutSlack         = 5 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	loggerInstance := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	svc := app.New(serviceOptions(cfg, loggerInstance)...)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	srv := newHTTPServer(ctx, cfg, svc, loggerInstance)

	serveErr := make(chan error, 1)
	go func() {
		loggerInstance.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}
	loggerInstance.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		loggerInstance.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	loggerInstance.Info(ctx, "server stopped")
	return nil
}

// serviceOptions translates configuration into service options.
func serviceOptions(cfg *config.Config, l logger.Logger) []app.Option {
	opts := []app.Option{
		app.WithLogger(l),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.PrefetchQueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithFetchTimeout(config.Millis(cfg.FetchTimeoutMS)),
		app.WithAnnotateConcurrency(cfg.AnnotateConcurrency),
		app.WithNeutralScore(cfg.NeutralScore),
		app.WithTierThresholds(model.TierThresholds{
			Untrusted: cfg.UntrustedThreshold,
			Trusted:   cfg.TrustedThreshold,
		}),
		app.WithSimulatedLatency(config.Millis(cfg.SimulatedLatencyMinMS), config.Millis(cfg.SimulatedLatencyMaxMS)),
		app.WithSimulatedScoreRange(cfg.SimulatedScoreMin, cfg.SimulatedScoreMax),
		app.WithSimulatedFailureRate(cfg.SimulatedFailureRate),
	}
	if cfg.UpstreamBaseURL != "" {
		opts = append(opts, app.WithUpstream(cfg.UpstreamBaseURL, config.Millis(cfg.UpstreamTimeoutMS)))
	}
	return opts
}

// newHTTPServer registers the landing page, docs and API routes and returns a server for cfg.Addr.
func newHTTPServer(ctx context.Context, cfg *config.Config, svc *app.Service, l logger.Logger) *http.Server {
	mux := http.NewServeMux()
	site.Register(ctx, mux)
	swagger.Register(ctx, mux)

	apiServer := api.NewServer(svc, svc,
		api.WithMaxLeaderboardLimit(cfg.MaxLeaderboardLimit),
		api.WithRequestTimeout(config.Millis(cfg.RequestTimeoutMS)),
		api.WithLogger(l.Named("api")),
	)
	apiServer.Register(ctx, mux)

	return &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
		// A 504 must still be writable after the request timeout fires.
		ReadTimeout:       readTimeout,
		WriteTimeout:      apiServer.RequestTimeout() + writeTimeoutSlack,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics refreshes gauges that only change through traffic.
func updateServiceMetrics(svc *app.Service) {
	stats := svc.GetStats()

	if cached, ok := stats["cachedSubjects"].(int); ok {
		metrics.UpdatePoolCached(cached)
	}
	if listeners, ok := stats["listeners"].(int); ok {
		metrics.UpdatePoolListeners(listeners)
	}
	if ranked, ok := stats["rankedSubjects"].(int); ok {
		metrics.UpdateRankingSubjects(ranked)
	}
	if pending, ok := stats["pendingPrefetches"].(int64); ok {
		metrics.UpdateDedupePending(pending)
	}
}

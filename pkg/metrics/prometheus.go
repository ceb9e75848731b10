package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector credscore exports.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Pool
	poolHits          prometheus.Counter
	poolSharedWaits   prometheus.Counter
	poolFetches       prometheus.Counter
	poolFetchErrors   prometheus.Counter
	poolFetchLatency  prometheus.Histogram
	poolInFlight      prometheus.Gauge
	poolCached        prometheus.Gauge
	poolListeners     prometheus.Gauge
	poolNotifications prometheus.Counter

	// Prefetch pipeline
	prefetchOutcomes     *prometheus.CounterVec
	queueSize            prometheus.Gauge
	queueCapacity        prometheus.Gauge
	queueEnqueued        prometheus.Counter
	queueDequeued        prometheus.Counter
	queueEnqueueErrors   *prometheus.CounterVec
	workerCount          prometheus.Gauge
	workerLatency        prometheus.Histogram
	workerErrors         prometheus.Counter
	dedupePendingSubject prometheus.Gauge

	// Annotation
	annotateSubjects  prometheus.Counter
	annotateFallbacks prometheus.Counter

	// Ranking
	rankingSubjects prometheus.Gauge
	rankingQueries  *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorsByEndpoint    *prometheus.CounterVec
	errorsByComponent   *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // process-wide metrics manager

// customRegistry keeps Go runtime collectors out of the exposition.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // process-wide registry

func init() { //nolint:gochecknoinits // metrics must exist before any component records
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "credscore",
		subsystem:        "",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(auto promauto.Factory, name, help string) prometheus.Counter {
	return auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) gauge(auto promauto.Factory, name, help string) prometheus.Gauge {
	return auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(auto promauto.Factory, name, help string, buckets []float64) prometheus.Histogram {
	return auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: buckets,
	})
}

func (m *Manager) counterVec(auto promauto.Factory, name, help string, labels ...string) *prometheus.CounterVec {
	return auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place declares every collector
	auto := promauto.With(m.registry)

	m.poolHits = m.counter(auto, "pool_cache_hits_total", "Lookups answered from the resolved score cache")
	m.poolSharedWaits = m.counter(auto, "pool_shared_waits_total", "Lookups answered by a fetch shared with other concurrent callers")
	m.poolFetches = m.counter(auto, "pool_fetches_total", "Upstream score fetches started")
	m.poolFetchErrors = m.counter(auto, "pool_fetch_errors_total", "Upstream score fetches that failed")
	m.poolFetchLatency = m.histogram(auto, "pool_fetch_latency_milliseconds", "Upstream score fetch latency in milliseconds", m.histogramBuckets)
	m.poolInFlight = m.gauge(auto, "pool_inflight_fetches", "Upstream score fetches currently in flight")
	m.poolCached = m.gauge(auto, "pool_cached_subjects", "Subjects with a resolved score")
	m.poolListeners = m.gauge(auto, "pool_listeners", "Registered snapshot listeners")
	m.poolNotifications = m.counter(auto, "pool_notifications_total", "Snapshots published to listeners")

	m.prefetchOutcomes = m.counterVec(auto, "prefetch_requests_total", "Prefetch subjects by outcome", "outcome")
	m.queueSize = m.gauge(auto, "queue_size", "Prefetch requests waiting in the queue")
	m.queueCapacity = m.gauge(auto, "queue_capacity", "Maximum prefetch queue capacity")
	m.queueEnqueued = m.counter(auto, "queue_enqueue_total", "Prefetch requests enqueued")
	m.queueDequeued = m.counter(auto, "queue_dequeue_total", "Prefetch requests dequeued")
	m.queueEnqueueErrors = m.counterVec(auto, "queue_enqueue_errors_total", "Rejected prefetch enqueues by reason", "reason")
	m.workerCount = m.gauge(auto, "worker_count", "Prefetch workers running")
	m.workerLatency = m.histogram(auto, "worker_processing_latency_milliseconds", "Prefetch request processing latency in milliseconds", m.histogramBuckets)
	m.workerErrors = m.counter(auto, "worker_errors_total", "Prefetch requests that failed")
	m.dedupePendingSubject = m.gauge(auto, "dedupe_pending_subjects", "Subjects with a pending prefetch")

	m.annotateSubjects = m.counter(auto, "annotate_subjects_total", "Subjects annotated from HTML documents")
	m.annotateFallbacks = m.counter(auto, "annotate_fallbacks_total", "Annotations that fell back to the neutral score")

	m.rankingSubjects = m.gauge(auto, "ranking_subjects", "Subjects indexed by the ranking view")
	m.rankingQueries = m.counterVec(auto, "ranking_queries_total", "Ranking queries by kind and result", "kind", "result")

	m.httpRequests = m.counterVec(auto, "http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name:    "http_request_duration_milliseconds",
		Help:    "HTTP request duration in milliseconds",
		Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})
	m.errorsByEndpoint = m.counterVec(auto, "errors_by_endpoint_total", "HTTP errors by endpoint", "endpoint", "method", "error_type")
	m.errorsByComponent = m.counterVec(auto, "errors_by_component_total", "Errors by component", "component", "error_type")

	m.systemMemoryUsage = m.gauge(auto, "system_memory_usage_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge(auto, "system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram(auto, "system_gc_pause_time_milliseconds", "Average GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordPoolHit counts a lookup served from cache.
func RecordPoolHit() { globalManager.poolHits.Inc() }

// RecordPoolSharedWait counts a lookup that joined an in-flight fetch.
func RecordPoolSharedWait() { globalManager.poolSharedWaits.Inc() }

// RecordPoolFetch counts an upstream fetch and its latency.
func RecordPoolFetch(latencyMs float64) {
	globalManager.poolFetches.Inc()
	globalManager.poolFetchLatency.Observe(latencyMs)
}

// RecordPoolFetchError counts a failed upstream fetch.
func RecordPoolFetchError() {
	globalManager.poolFetchErrors.Inc()
	globalManager.errorsByComponent.WithLabelValues("pool", "fetch_failed").Inc()
}

// AddPoolInFlight moves the in-flight gauge by delta.
func AddPoolInFlight(delta int) { globalManager.poolInFlight.Add(float64(delta)) }

// UpdatePoolCached sets the number of resolved subjects.
func UpdatePoolCached(count int) { globalManager.poolCached.Set(float64(count)) }

// UpdatePoolListeners sets the number of registered listeners.
func UpdatePoolListeners(count int) { globalManager.poolListeners.Set(float64(count)) }

// RecordPoolNotification counts one published snapshot.
func RecordPoolNotification() { globalManager.poolNotifications.Inc() }

// RecordPrefetchOutcome counts a prefetch subject by outcome
// (accepted, cached, pending, rejected, invalid).
func RecordPrefetchOutcome(outcome string) {
	globalManager.prefetchOutcomes.WithLabelValues(outcome).Inc()
}

// UpdateQueueSize sets the current prefetch queue length.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the prefetch queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// RecordQueueEnqueue counts an accepted enqueue.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueDequeue counts a dequeue.
func RecordQueueDequeue() { globalManager.queueDequeued.Inc() }

// RecordQueueEnqueueError counts a rejected enqueue.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
	globalManager.errorsByComponent.WithLabelValues("queue", reason).Inc()
}

// UpdateWorkerCount sets the number of prefetch workers.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordWorkerProcessingLatency observes one prefetch request.
func RecordWorkerProcessingLatency(latencyMs float64) { globalManager.workerLatency.Observe(latencyMs) }

// RecordWorkerError counts a failed prefetch.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
	globalManager.errorsByComponent.WithLabelValues("worker", "prefetch_failed").Inc()
}

// UpdateDedupePending sets the number of subjects with a pending prefetch.
func UpdateDedupePending(count int64) { globalManager.dedupePendingSubject.Set(float64(count)) }

// RecordAnnotation counts annotated subjects and how many used the fallback.
func RecordAnnotation(subjects, fallbacks int) {
	globalManager.annotateSubjects.Add(float64(subjects))
	globalManager.annotateFallbacks.Add(float64(fallbacks))
}

// UpdateRankingSubjects sets the number of subjects in the ranking view.
func UpdateRankingSubjects(count int) { globalManager.rankingSubjects.Set(float64(count)) }

// RecordRankingQuery counts a ranking read.
func RecordRankingQuery(kind, result string) {
	globalManager.rankingQueries.WithLabelValues(kind, result).Inc()
}

// RecordHTTPRequest counts an HTTP request and observes its duration.
func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByEndpoint counts an HTTP error response.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorByComponent counts an error attributed to a component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets heap bytes allocated.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime observes the average GC pause.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the registry backing /healthz.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

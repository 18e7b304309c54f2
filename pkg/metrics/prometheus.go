// Package metrics provides Prometheus metrics for the popscore pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the pipeline.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Provider Metrics - external signal sources
	providerRequests     *prometheus.CounterVec
	providerLatency      *prometheus.HistogramVec
	providerRateLimited  *prometheus.CounterVec
	providerRateWait     *prometheus.HistogramVec
	providerBreakerState *prometheus.GaugeVec

	// Collector Metrics
	collectorEntities   *prometheus.CounterVec
	collectorRuns       *prometheus.CounterVec
	checkpointStatus    *prometheus.GaugeVec
	checkpointMergedLen *prometheus.GaugeVec

	// Aggregator Metrics
	aggregateRecordsRead   prometheus.Counter
	aggregateBucketsWrite  *prometheus.CounterVec
	aggregateSkippedFolded prometheus.Counter

	// Ranker Metrics
	rankSnapshots *prometheus.CounterVec
	rankEntries   prometheus.Gauge

	// Store Metrics
	storeLatency   *prometheus.HistogramVec
	storeConflicts *prometheus.CounterVec

	// Queue Metrics
	queueCapacity prometheus.Gauge
	queueSize     prometheus.Gauge
	queueEnqueue  prometheus.Counter
	queueDequeue  prometheus.Counter

	// Worker Metrics
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpErrors          *prometheus.CounterVec

	// System Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "popscore",
		subsystem:        "pipeline",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) gauge(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) histogram(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	// Ensure metrics are registered on the configured registry (custom by default)
	auto := promauto.With(m.registry)

	m.providerRequests = auto.NewCounterVec(
		m.counter("provider_requests_total", "Provider calls by provider and outcome"),
		[]string{"provider", "outcome"},
	)
	m.providerLatency = auto.NewHistogramVec(
		m.histogram("provider_latency_milliseconds", "Provider call latency in milliseconds"),
		[]string{"provider"},
	)
	m.providerRateLimited = auto.NewCounterVec(
		m.counter("provider_rate_limited_total", "Responses that reported quota exhaustion or throttling"),
		[]string{"provider"},
	)
	m.providerRateWait = auto.NewHistogramVec(
		m.histogram("provider_rate_wait_milliseconds", "Time spent waiting on limiter or provider reset"),
		[]string{"provider"},
	)
	m.providerBreakerState = auto.NewGaugeVec(
		m.gauge("provider_circuit_breaker_state", "Circuit breaker state (0=closed, 1=half-open, 2=open)"),
		[]string{"provider"},
	)

	m.collectorEntities = auto.NewCounterVec(
		m.counter("collector_entities_total", "Entities written by the collector by outcome"),
		[]string{"provider", "outcome"},
	)
	m.collectorRuns = auto.NewCounterVec(
		m.counter("collector_runs_total", "Collector invocations by provider and result"),
		[]string{"provider", "result"},
	)
	m.checkpointStatus = auto.NewGaugeVec(
		m.gauge("checkpoint_status", "Last observed checkpoint status (0=not started, 1=in progress, 2=completed)"),
		[]string{"provider"},
	)
	m.checkpointMergedLen = auto.NewGaugeVec(
		m.gauge("checkpoint_merged_entities", "Number of merged entities in the last observed checkpoint"),
		[]string{"provider"},
	)

	m.aggregateRecordsRead = auto.NewCounter(
		m.counter("aggregate_records_read_total", "Daily records read by the aggregator"),
	)
	m.aggregateBucketsWrite = auto.NewCounterVec(
		m.counter("aggregate_buckets_written_total", "Aggregate buckets written by resolution"),
		[]string{"resolution"},
	)
	m.aggregateSkippedFolded = auto.NewCounter(
		m.counter("aggregate_contributions_skipped_total", "Contributions skipped because the record was already folded"),
	)

	m.rankSnapshots = auto.NewCounterVec(
		m.counter("rank_snapshots_total", "Rank snapshot requests by result"),
		[]string{"result"},
	)
	m.rankEntries = auto.NewGauge(
		m.gauge("rank_entries", "Entries in the last created rank snapshot"),
	)

	m.storeLatency = auto.NewHistogramVec(
		m.histogram("store_operation_latency_milliseconds", "Store operation latency in milliseconds"),
		[]string{"table", "operation"},
	)
	m.storeConflicts = auto.NewCounterVec(
		m.counter("store_conflict_retries_total", "Transaction conflicts retried as a fresh read-merge-write"),
		[]string{"table"},
	)

	m.queueCapacity = auto.NewGauge(m.gauge("queue_capacity", "Maximum queue capacity"))
	m.queueSize = auto.NewGauge(m.gauge("queue_size", "Current number of queued fetch jobs"))
	m.queueEnqueue = auto.NewCounter(m.counter("queue_enqueue_total", "Total number of jobs enqueued"))
	m.queueDequeue = auto.NewCounter(m.counter("queue_dequeue_total", "Total number of jobs dequeued"))

	m.workerActiveCount = auto.NewGauge(m.gauge("worker_active_count", "Number of active workers"))
	m.workerProcessingLatency = auto.NewHistogram(
		m.histogram("worker_processing_latency_milliseconds", "Worker job latency in milliseconds"),
	)
	m.workerErrors = auto.NewCounter(m.counter("worker_errors_total", "Total number of failed worker jobs"))

	m.httpRequests = auto.NewCounterVec(
		m.counter("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogram("http_request_duration_milliseconds", "HTTP request duration in milliseconds"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpErrors = auto.NewCounterVec(
		m.counter("http_errors_total", "HTTP error responses by endpoint, method, type and severity"),
		[]string{"endpoint", "method", "error_type", "severity"},
	)

	m.systemMemoryUsage = auto.NewGauge(m.gauge("system_memory_usage_bytes", "Allocated heap memory in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gauge("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(
		m.histogram("system_gc_pause_milliseconds", "Average GC pause time in milliseconds"),
	)
}

// Provider Metrics Functions.

// RecordProviderRequest counts a provider call with its outcome.
func RecordProviderRequest(provider, outcome string, latencyMs float64) {
	globalManager.providerRequests.WithLabelValues(provider, outcome).Inc()
	globalManager.providerLatency.WithLabelValues(provider).Observe(latencyMs)
}

// RecordProviderRateLimited counts a throttled response.
func RecordProviderRateLimited(provider string) {
	globalManager.providerRateLimited.WithLabelValues(provider).Inc()
}

// RecordProviderRateWait records time spent blocked before a call.
func RecordProviderRateWait(provider string, waitMs float64) {
	globalManager.providerRateWait.WithLabelValues(provider).Observe(waitMs)
}

// UpdateProviderBreakerState sets the breaker state gauge.
func UpdateProviderBreakerState(provider string, state int) {
	globalManager.providerBreakerState.WithLabelValues(provider).Set(float64(state))
}

// Collector Metrics Functions.

// RecordCollectorEntity counts a collector write by outcome
// (fresh, copied, placeholder, failed, kept).
func RecordCollectorEntity(provider, outcome string) {
	globalManager.collectorEntities.WithLabelValues(provider, outcome).Inc()
}

// RecordCollectorRun counts a collector invocation.
func RecordCollectorRun(provider, result string) {
	globalManager.collectorRuns.WithLabelValues(provider, result).Inc()
}

// UpdateCheckpoint mirrors the state of a checkpoint.
func UpdateCheckpoint(provider string, status, merged int) {
	globalManager.checkpointStatus.WithLabelValues(provider).Set(float64(status))
	globalManager.checkpointMergedLen.WithLabelValues(provider).Set(float64(merged))
}

// Aggregator Metrics Functions.

// RecordAggregateRecordsRead adds to the records read counter.
func RecordAggregateRecordsRead(n int) {
	globalManager.aggregateRecordsRead.Add(float64(n))
}

// RecordAggregateBucketWritten counts a bucket upsert.
func RecordAggregateBucketWritten(resolution string) {
	globalManager.aggregateBucketsWrite.WithLabelValues(resolution).Inc()
}

// RecordAggregateSkipped adds to the already-folded counter.
func RecordAggregateSkipped(n int) {
	globalManager.aggregateSkippedFolded.Add(float64(n))
}

// Ranker Metrics Functions.

// RecordRankSnapshot counts a snapshot request (created, existing, fallback, synthesized).
func RecordRankSnapshot(result string, entries int) {
	globalManager.rankSnapshots.WithLabelValues(result).Inc()
	if result == "created" {
		globalManager.rankEntries.Set(float64(entries))
	}
}

// Store Metrics Functions.

// RecordStoreLatency records a store operation latency.
func RecordStoreLatency(table, operation string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(table, operation).Observe(latencyMs)
}

// RecordStoreConflict counts a retried transaction conflict.
func RecordStoreConflict(table string) {
	globalManager.storeConflicts.WithLabelValues(table).Inc()
}

// Queue Metrics Functions.

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueue.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeue.Inc()
}

// Worker Metrics Functions.

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordHTTPError counts an error response.
func RecordHTTPError(endpoint, method, errorType, severity string) {
	globalManager.httpErrors.WithLabelValues(endpoint, method, errorType, severity).Inc()
}

// System Metrics Functions.

// UpdateSystemMemoryUsage sets the allocated heap size.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records the average GC pause.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

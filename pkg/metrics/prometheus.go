// Package metrics provides Prometheus metrics for the kickoff prediction engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector exported by the engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Prediction path
	predictions       *prometheus.CounterVec
	predictionErrors  *prometheus.CounterVec
	predictionLatency prometheus.Histogram
	cacheRequests     *prometheus.CounterVec

	// Training and registry
	trainingDuration   *prometheus.HistogramVec
	leagueAccuracy     *prometheus.GaugeVec
	registryLeagues    prometheus.Gauge
	registryGeneration prometheus.Gauge
	corpusMatches      prometheus.Gauge
	corpusTeams        prometheus.Gauge

	// Retrain pipeline
	pipelineRuns        *prometheus.CounterVec
	pipelineDuration    prometheus.Histogram
	pipelineLastSuccess prometheus.Gauge
	pipelineAvgAccuracy prometheus.Gauge
	retrainTriggers     *prometheus.CounterVec
	retrainQueueDepth   prometheus.Gauge

	// Upstream downloads
	downloads       *prometheus.CounterVec
	downloadLatency prometheus.Histogram

	// Prediction journal
	journalRecorded   prometheus.Counter
	journalReconciled prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec
	errorsByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager. Collectors register on the
// configured registry, prometheus.DefaultRegisterer unless overridden.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "kickoff",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // flat list of collectors
	latencyMs := []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

	m.predictions = m.counterVec("predictions_total",
		"Predictions served, by predicted outcome", "outcome")
	m.predictionErrors = m.counterVec("prediction_errors_total",
		"Prediction failures, by error kind", "kind")
	m.predictionLatency = m.histogram("prediction_latency_milliseconds",
		"End-to-end prediction latency including lazy training", latencyMs)
	m.cacheRequests = m.counterVec("prediction_cache_requests_total",
		"Prediction cache lookups, by result", "result")

	m.trainingDuration = m.histogramVec("training_duration_seconds",
		"Time to engineer features and fit one league model", m.histogramBuckets, "league", "trigger")
	m.leagueAccuracy = m.gaugeVec("league_accuracy_ratio",
		"Held-out accuracy of the current model per league", "league")
	m.registryLeagues = m.gauge("registry_leagues",
		"Number of leagues with a trained model in the registry")
	m.registryGeneration = m.gauge("registry_generation",
		"Generation counter of the published registry snapshot")
	m.corpusMatches = m.gauge("corpus_matches",
		"Number of match records in the published corpus")
	m.corpusTeams = m.gauge("corpus_teams",
		"Number of distinct teams in the published corpus")

	m.pipelineRuns = m.counterVec("pipeline_runs_total",
		"Retrain pipeline runs, by terminal state", "state")
	m.pipelineDuration = m.histogram("pipeline_duration_seconds",
		"Wall time of a retrain pipeline run", []float64{1, 5, 10, 30, 60, 120, 300, 600})
	m.pipelineLastSuccess = m.gauge("pipeline_last_success_timestamp_seconds",
		"Unix time of the last successful retrain")
	m.pipelineAvgAccuracy = m.gauge("pipeline_average_accuracy_ratio",
		"Average held-out accuracy recorded by the last successful retrain")
	m.retrainTriggers = m.counterVec("retrain_triggers_total",
		"Retrain triggers, by source and whether they were accepted", "source", "accepted")
	m.retrainQueueDepth = m.gauge("retrain_queue_depth",
		"Pending retrain triggers")

	m.downloads = m.counterVec("upstream_downloads_total",
		"Upstream file downloads, by file and result", "file", "result")
	m.downloadLatency = m.histogram("upstream_download_latency_milliseconds",
		"Latency of a single upstream file download", latencyMs)

	m.journalRecorded = m.counter("journal_predictions_recorded_total",
		"Predictions written to the journal")
	m.journalReconciled = m.counter("journal_predictions_reconciled_total",
		"Journal predictions reconciled against a played match")

	m.httpRequests = m.counterVec("http_requests_total",
		"Total number of HTTP requests", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", latencyMs, "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_by_component_total",
		"Errors by component and type", "component", "error_type")
	m.errorsByEndpoint = m.counterVec("errors_by_endpoint_total",
		"HTTP errors by endpoint, method and type", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap memory in use")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250})
}

// RecordPrediction counts a served prediction and its latency.
func RecordPrediction(outcome string, latencyMs float64) {
	globalManager.predictions.WithLabelValues(outcome).Inc()
	globalManager.predictionLatency.Observe(latencyMs)
}

// RecordPredictionError counts a failed prediction by error kind.
func RecordPredictionError(kind string) {
	globalManager.predictionErrors.WithLabelValues(kind).Inc()
}

// RecordCacheResult counts a prediction cache lookup: hit, miss or error.
func RecordCacheResult(result string) {
	globalManager.cacheRequests.WithLabelValues(result).Inc()
}

// RecordTraining records one league fit. trigger is "lazy" or "pipeline".
func RecordTraining(league, trigger string, seconds, accuracy float64) {
	globalManager.trainingDuration.WithLabelValues(league, trigger).Observe(seconds)
	globalManager.leagueAccuracy.WithLabelValues(league).Set(accuracy)
}

// UpdateRegistry publishes registry gauges after a snapshot change.
func UpdateRegistry(generation uint64, leagues int) {
	globalManager.registryGeneration.Set(float64(generation))
	globalManager.registryLeagues.Set(float64(leagues))
}

// UpdateCorpus publishes corpus size gauges.
func UpdateCorpus(matches, teams int) {
	globalManager.corpusMatches.Set(float64(matches))
	globalManager.corpusTeams.Set(float64(teams))
}

// RecordPipelineRun counts a finished pipeline run.
func RecordPipelineRun(state string, seconds float64) {
	globalManager.pipelineRuns.WithLabelValues(state).Inc()
	globalManager.pipelineDuration.Observe(seconds)
}

// RecordPipelineSuccess stores the outcome of a successful retrain.
func RecordPipelineSuccess(unix int64, avgAccuracy float64) {
	globalManager.pipelineLastSuccess.Set(float64(unix))
	globalManager.pipelineAvgAccuracy.Set(avgAccuracy)
}

// RecordRetrainTrigger counts a retrain trigger from source.
func RecordRetrainTrigger(source string, accepted bool) {
	a := "false"
	if accepted {
		a = "true"
	}
	globalManager.retrainTriggers.WithLabelValues(source, a).Inc()
}

// UpdateRetrainQueueDepth sets the number of pending triggers.
func UpdateRetrainQueueDepth(depth int) {
	globalManager.retrainQueueDepth.Set(float64(depth))
}

// RecordDownload counts an upstream download: ok, http_error, breaker_open or io_error.
func RecordDownload(file, result string, latencyMs float64) {
	globalManager.downloads.WithLabelValues(file, result).Inc()
	globalManager.downloadLatency.Observe(latencyMs)
}

// RecordJournalWrite counts a prediction written to the journal.
func RecordJournalWrite() {
	globalManager.journalRecorded.Inc()
}

// RecordJournalReconciled counts reconciled journal entries.
func RecordJournalReconciled(n int) {
	globalManager.journalReconciled.Add(float64(n))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an HTTP error with endpoint, method and type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets heap memory in use.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	CacheErrorsTotal *prometheus.CounterVec

	// Event tracking metrics
	EventsTrackedTotal  *prometheus.CounterVec
	EventBatchChunks    prometheus.Counter
	EventInsertDuration prometheus.Histogram

	// Report pipeline metrics
	ReportRunsTotal     *prometheus.CounterVec
	ReportRunDuration   prometheus.Histogram
	QueueJobsEnqueued   *prometheus.CounterVec
	QueueJobRetries     *prometheus.CounterVec
	QueueDepth          prometheus.Gauge

	// Insight metrics
	PredictionsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsedeck_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulsedeck_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsedeck_cache_hits_total",
				Help: "Total cache hits by layer",
			},
			[]string{"layer"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsedeck_cache_misses_total",
				Help: "Total cache misses by layer",
			},
			[]string{"layer"},
		),
		CacheErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsedeck_cache_errors_total",
				Help: "Total cache backend errors by operation (absorbed, not returned)",
			},
			[]string{"operation"},
		),
		EventsTrackedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsedeck_events_tracked_total",
				Help: "Total analytics events tracked",
			},
			[]string{"event_type"},
		),
		EventBatchChunks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pulsedeck_event_batch_chunks_total",
				Help: "Total physical writes performed for batched event inserts",
			},
		),
		EventInsertDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pulsedeck_event_insert_duration_seconds",
				Help:    "Event insert duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		ReportRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsedeck_report_runs_total",
				Help: "Total report runs by terminal status",
			},
			[]string{"status"},
		),
		ReportRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pulsedeck_report_run_duration_seconds",
				Help:    "Report generation duration in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		QueueJobsEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsedeck_queue_jobs_enqueued_total",
				Help: "Total jobs enqueued by job name",
			},
			[]string{"job"},
		),
		QueueJobRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsedeck_queue_job_retries_total",
				Help: "Total job retry attempts by job name",
			},
			[]string{"job"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pulsedeck_queue_depth",
				Help: "Current number of jobs waiting in the queue",
			},
		),
		PredictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsedeck_predictions_total",
				Help: "Total prediction provider calls by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheErrorsTotal,
		m.EventsTrackedTotal,
		m.EventBatchChunks,
		m.EventInsertDuration,
		m.ReportRunsTotal,
		m.ReportRunDuration,
		m.QueueJobsEnqueued,
		m.QueueJobRetries,
		m.QueueDepth,
		m.PredictionsTotal,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status code for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// HTTPMiddleware instruments HTTP handlers with request metrics
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		path := r.URL.Path
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

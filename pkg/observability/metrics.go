package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Auth metrics
	AuthAttemptsTotal *prometheus.CounterVec
	ActiveSessions    prometheus.Gauge

	// Media metrics
	MediaJobsTotal   *prometheus.CounterVec
	MediaJobDuration *prometheus.HistogramVec
	MediaQueueDepth  prometheus.Gauge
	UploadBytesTotal prometheus.Counter

	// Blob storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Notification metrics
	NotificationDeliveriesTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with registry.
// A nil registry creates a fresh one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lightbox_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lightbox_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		AuthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lightbox_auth_attempts_total",
				Help: "Authentication attempts by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lightbox_active_sessions",
			Help: "Number of unexpired sessions at the last purge",
		}),
		MediaJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lightbox_media_jobs_total",
				Help: "Media processing jobs by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		MediaJobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lightbox_media_job_duration_seconds",
				Help:    "Media processing duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"kind"},
		),
		MediaQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lightbox_media_queue_depth",
			Help: "Media jobs waiting for a worker",
		}),
		UploadBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lightbox_upload_bytes_total",
			Help: "Bytes received through uploads",
		}),
		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lightbox_storage_operations_total",
				Help: "Blob storage operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lightbox_storage_operation_duration_seconds",
				Help:    "Blob storage operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),
		NotificationDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lightbox_notification_deliveries_total",
				Help: "Notification deliveries by channel and outcome",
			},
			[]string{"channel", "outcome"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lightbox_cache_hits_total",
				Help: "Cache hits by cache name",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lightbox_cache_misses_total",
				Help: "Cache misses by cache name",
			},
			[]string{"cache"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthAttemptsTotal,
		m.ActiveSessions,
		m.MediaJobsTotal,
		m.MediaJobDuration,
		m.MediaQueueDepth,
		m.UploadBytesTotal,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.NotificationDeliveriesTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry the metrics were registered with
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAuthAttempt counts a login/MFA/passkey attempt. Safe on a nil receiver.
func (m *Metrics) RecordAuthAttempt(method, outcome string) {
	if m == nil {
		return
	}
	m.AuthAttemptsTotal.WithLabelValues(method, outcome).Inc()
}

// RecordMediaJob records one finished media job
func (m *Metrics) RecordMediaJob(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.MediaJobsTotal.WithLabelValues(kind, outcome).Inc()
	m.MediaJobDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordStorageOperation records one blob store call
func (m *Metrics) RecordStorageOperation(operation, backend string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StorageOperationsTotal.WithLabelValues(operation, backend, status).Inc()
	m.StorageOperationDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// RecordNotification records a delivery attempt on a channel
func (m *Metrics) RecordNotification(channel string, err error) {
	if m == nil {
		return
	}
	outcome := "delivered"
	if err != nil {
		outcome = "failed"
	}
	m.NotificationDeliveriesTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordCache records a cache lookup
func (m *Metrics) RecordCache(cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// HTTPMiddleware records request counts and latency keyed by the mux route template
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

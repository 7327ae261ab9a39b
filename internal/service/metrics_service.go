package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appErrors "github.com/noah-isme/fileshare-api/pkg/errors"
)

// MetricsService owns the Prometheus registry and the collectors recorded
// by middleware and services.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	cacheLatency    prometheus.Histogram
	sharingOps      *prometheus.CounterVec
	notifyFailures  *prometheus.CounterVec
	blobReleases    *prometheus.CounterVec
	uploadBytes     prometheus.Histogram
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Cache lookups by result",
		}, []string{"result"}),
		cacheLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_latency_seconds",
			Help:    "Latency for cache operations",
			Buckets: prometheus.DefBuckets,
		}),
		sharingOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sharing_operations_total",
			Help: "File operations by name and outcome",
		}, []string{"operation", "outcome"}),
		notifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_failures_total",
			Help: "Notifications that could not be persisted",
		}, []string{"type"}),
		blobReleases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blob_releases_total",
			Help: "Blob release attempts by outcome",
		}, []string{"outcome"}),
		uploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "upload_size_bytes",
			Help:    "Size of uploaded and replaced content",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),
	}

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(m.requestDuration, m.requestTotal, m.cacheLookups, m.cacheLatency,
		m.sharingOps, m.notifyFailures, m.blobReleases, m.uploadBytes, goroutines)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a lookup and its latency.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
	m.cacheLatency.Observe(duration.Seconds())
}

// RecordSharingOperation counts a file operation; a nil err is "ok",
// otherwise the error code is used as the outcome.
func (m *MetricsService) RecordSharingOperation(operation string, err error) {
	if m == nil {
		return
	}
	m.sharingOps.WithLabelValues(operation, outcomeOf(err)).Inc()
}

// RecordNotificationFailure counts a notification that was not stored.
func (m *MetricsService) RecordNotificationFailure(kind string) {
	if m == nil {
		return
	}
	m.notifyFailures.WithLabelValues(kind).Inc()
}

// RecordBlobRelease counts a blob release attempt.
func (m *MetricsService) RecordBlobRelease(outcome string) {
	if m == nil {
		return
	}
	m.blobReleases.WithLabelValues(outcome).Inc()
}

// ObserveUpload records the size of stored content.
func (m *MetricsService) ObserveUpload(size int64) {
	if m == nil {
		return
	}
	m.uploadBytes.Observe(float64(size))
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return appErrors.FromError(err).Code
}

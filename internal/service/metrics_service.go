package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/lms-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry           *prometheus.Registry
	handler            http.Handler
	requestDuration    *prometheus.HistogramVec
	requestTotal       *prometheus.CounterVec
	cacheLatency       prometheus.Observer
	cacheWrite         prometheus.Observer
	cacheHitRatio      prometheus.Gauge
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	lessonCompletions  prometheus.Counter
	certificatesIssued prometheus.Counter
	syncFailures       prometheus.Counter
	dispatchFailures   *prometheus.CounterVec
	loginThrottled     prometheus.Counter

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	lessonCount          uint64
	certificateCount     uint64
	syncFailureCount     uint64
	dispatchFailureCount uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	lessonCompletions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lms_lesson_completions_total",
		Help: "Lesson completion events, including repeats",
	})

	certificatesIssued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lms_certificates_issued_total",
		Help: "Certificates issued on course completion",
	})

	syncFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lms_organization_sync_failures_total",
		Help: "Member updates that failed during organization sync",
	})

	dispatchFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lms_dispatch_failures_total",
		Help: "Notification and email jobs dropped after retries",
	}, []string{"type"})

	loginThrottled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lms_login_throttled_total",
		Help: "Login attempts rejected by the rate limiter",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		lessonCompletions, certificatesIssued, syncFailures, dispatchFailures, loginThrottled, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:           registry,
		handler:            handler,
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		cacheLatency:       cacheLatency,
		cacheWrite:         cacheWrite,
		cacheHitRatio:      cacheHitRatio,
		cacheHits:          cacheHits,
		cacheMisses:        cacheMisses,
		lessonCompletions:  lessonCompletions,
		certificatesIssued: certificatesIssued,
		syncFailures:       syncFailures,
		dispatchFailures:   dispatchFailures,
		loginThrottled:     loginThrottled,
	}
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

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordLessonCompletion counts a completion event and, when issued, a certificate.
func (m *MetricsService) RecordLessonCompletion(certificateIssued bool) {
	if m == nil {
		return
	}
	m.lessonCompletions.Inc()
	atomic.AddUint64(&m.lessonCount, 1)
	if certificateIssued {
		m.RecordCertificateIssued()
	}
}

// RecordCertificateIssued counts a newly issued certificate.
func (m *MetricsService) RecordCertificateIssued() {
	if m == nil {
		return
	}
	m.certificatesIssued.Inc()
	atomic.AddUint64(&m.certificateCount, 1)
}

// RecordSyncFailures counts failed member updates of an organization sync.
func (m *MetricsService) RecordSyncFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.syncFailures.Add(float64(n))
	atomic.AddUint64(&m.syncFailureCount, uint64(n))
}

// RecordDispatchFailure counts a notification or email job given up on.
func (m *MetricsService) RecordDispatchFailure(jobType string) {
	if m == nil {
		return
	}
	m.dispatchFailures.WithLabelValues(jobType).Inc()
	atomic.AddUint64(&m.dispatchFailureCount, 1)
}

// RecordLoginThrottled counts a rejected login attempt.
func (m *MetricsService) RecordLoginThrottled() {
	if m == nil {
		return
	}
	m.loginThrottled.Inc()
}

// Snapshot returns aggregated metrics suitable for the admin metrics endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if totalLookups := hits + misses; totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		LessonCompletions:        atomic.LoadUint64(&m.lessonCount),
		CertificatesIssued:       atomic.LoadUint64(&m.certificateCount),
		SyncFailures:             atomic.LoadUint64(&m.syncFailureCount),
		DispatchFailures:         atomic.LoadUint64(&m.dispatchFailureCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}

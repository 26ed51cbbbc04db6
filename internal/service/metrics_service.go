package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/wa-attendance-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	dbQueryDuration *prometheus.HistogramVec
	aiRequests      *prometheus.CounterVec
	aiDuration      *prometheus.HistogramVec
	inbound         *prometheus.CounterVec
	recordsWritten  *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	dbQueryCount         uint64
	dbQueryDurationTotal uint64
	inboundCount         uint64
	aiCount              uint64
	aiFailureCount       uint64

	mu            sync.Mutex
	recordsByKind map[string]uint64
	queueDepth    func() int
}

// NewMetricsService registers core and attendance-specific Prometheus collectors.
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

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	aiRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_requests_total",
		Help: "Calls made to the language model",
	}, []string{"kind", "outcome"})

	aiDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ai_request_duration_seconds",
		Help:    "Latency of language model calls",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"kind"})

	inbound := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inbound_messages_total",
		Help: "WhatsApp messages processed by type and outcome",
	}, []string{"type", "outcome"})

	recordsWritten := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_records_written_total",
		Help: "Attendance records written by status",
	}, []string{"status"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		dbQueryDuration, aiRequests, aiDuration, inbound, recordsWritten, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		dbQueryDuration: dbQueryDuration,
		aiRequests:      aiRequests,
		aiDuration:      aiDuration,
		inbound:         inbound,
		recordsWritten:  recordsWritten,
		recordsByKind:   make(map[string]uint64),
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

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
	atomic.AddUint64(&m.dbQueryCount, 1)
	atomic.AddUint64(&m.dbQueryDurationTotal, uint64(duration.Nanoseconds()))
}

// ObserveAICall records one language model call. kind is "attendance" or "schedule".
func (m *MetricsService) ObserveAICall(kind string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		atomic.AddUint64(&m.aiFailureCount, 1)
	}
	m.aiRequests.WithLabelValues(kind, outcome).Inc()
	m.aiDuration.WithLabelValues(kind).Observe(duration.Seconds())
	atomic.AddUint64(&m.aiCount, 1)
}

// RecordInbound counts a processed WhatsApp message.
func (m *MetricsService) RecordInbound(messageType, outcome string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(messageType, outcome).Inc()
	atomic.AddUint64(&m.inboundCount, 1)
}

// RecordAttendanceWrites counts attendance rows written per status.
func (m *MetricsService) RecordAttendanceWrites(status models.AttendanceStatus, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsWritten.WithLabelValues(string(status)).Add(float64(n))
	m.mu.Lock()
	m.recordsByKind[string(status)] += uint64(n)
	m.mu.Unlock()
}

// TrackQueueDepth exports the number of inbound jobs waiting for a worker.
func (m *MetricsService) TrackQueueDepth(depth func() int) {
	if m == nil || depth == nil {
		return
	}
	m.mu.Lock()
	first := m.queueDepth == nil
	m.queueDepth = depth
	m.mu.Unlock()
	if first {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "inbound_queue_depth",
			Help: "Inbound jobs waiting for a worker",
		}, func() float64 {
			return float64(m.pendingJobs())
		}))
	}
}

func (m *MetricsService) pendingJobs() int {
	m.mu.Lock()
	depth := m.queueDepth
	m.mu.Unlock()
	if depth == nil {
		return 0
	}
	return depth()
}

// Snapshot returns aggregated metrics suitable for the system metrics endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	dbCount := atomic.LoadUint64(&m.dbQueryCount)
	dbDuration := atomic.LoadUint64(&m.dbQueryDurationTotal)

	var cacheRatio float64
	if totalLookups := hits + misses; totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	var avgDBMs float64
	if dbCount > 0 {
		avgDBMs = float64(dbDuration) / float64(dbCount) / float64(time.Millisecond)
	}

	m.mu.Lock()
	written := make(map[string]uint64, len(m.recordsByKind))
	for k, v := range m.recordsByKind {
		written[k] = v
	}
	m.mu.Unlock()

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		DBQueryCount:             dbCount,
		AverageDBQueryDurationMs: avgDBMs,
		InboundMessages:          atomic.LoadUint64(&m.inboundCount),
		AICalls:                  atomic.LoadUint64(&m.aiCount),
		AIFailures:               atomic.LoadUint64(&m.aiFailureCount),
		RecordsWritten:           written,
		QueueDepth:               m.pendingJobs(),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}

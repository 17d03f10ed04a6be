package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation. It also satisfies
// the lock and broadcast observer interfaces.
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
	lockAttempts    *prometheus.CounterVec
	lockKeys        *prometheus.HistogramVec
	locksHeld       prometheus.Gauge
	eventsPublished *prometheus.CounterVec
	sessionsDropped *prometheus.CounterVec
	sessions        prometheus.Gauge
	mutations       *prometheus.CounterVec

	cacheHitCount  uint64
	cacheMissCount uint64
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

	lockAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lock_attempts_total",
		Help: "Lock batch attempts by result",
	}, []string{"result"})

	lockKeys := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lock_batch_keys",
		Help:    "Number of keys per lock batch",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
	}, []string{"result"})

	locksHeld := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "locks_held",
		Help: "Number of resource keys currently locked",
	})

	eventsPublished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_events_total",
		Help: "Events published on the broadcast bus by kind",
	}, []string{"kind"})

	sessionsDropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_subscribers_dropped_total",
		Help: "Subscriptions closed by the bus by reason",
	}, []string{"reason"})

	sessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sessions_connected",
		Help: "Number of connected event stream sessions",
	})

	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schedule_mutations_total",
		Help: "Schedule mutations by operation and result",
	}, []string{"operation", "result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		lockAttempts, lockKeys, locksHeld, eventsPublished, sessionsDropped, sessions, mutations, goroutines)

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
		lockAttempts:    lockAttempts,
		lockKeys:        lockKeys,
		locksHeld:       locksHeld,
		eventsPublished: eventsPublished,
		sessionsDropped: sessionsDropped,
		sessions:        sessions,
		mutations:       mutations,
	}
}

// Registry exposes the underlying registry so callers can add collectors.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// LockAttempt implements lock.Observer.
func (m *MetricsService) LockAttempt(result string, keys int) {
	if m == nil {
		return
	}
	m.lockAttempts.WithLabelValues(result).Inc()
	m.lockKeys.WithLabelValues(result).Observe(float64(keys))
}

// LocksHeld implements lock.Observer.
func (m *MetricsService) LocksHeld(n int) {
	if m == nil {
		return
	}
	m.locksHeld.Set(float64(n))
}

// EventPublished implements broadcast.Observer.
func (m *MetricsService) EventPublished(kind string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(kind).Inc()
}

// SubscriberDropped implements broadcast.Observer.
func (m *MetricsService) SubscriberDropped(reason string) {
	if m == nil {
		return
	}
	m.sessionsDropped.WithLabelValues(reason).Inc()
}

// SubscribersChanged implements broadcast.Observer.
func (m *MetricsService) SubscribersChanged(count int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(count))
}

// ObserveMutation counts a schedule mutation outcome.
func (m *MetricsService) ObserveMutation(operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.mutations.WithLabelValues(operation, result).Inc()
}

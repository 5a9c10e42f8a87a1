package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-points-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	cacheLatency    prometheus.Histogram

	pointsAwarded    *prometheus.CounterVec
	pointsCapped     *prometheus.CounterVec
	limitRejections  *prometheus.CounterVec
	reversals        prometheus.Counter
	dispatchAttempts *prometheus.CounterVec
	deadLetters      *prometheus.CounterVec
	applyDuration    *prometheus.HistogramVec
}

// NewMetricsService registers the HTTP and ledger collectors on a private registry.
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
			Name: "points_policy_cache_lookups_total",
			Help: "Policy cache lookups by result",
		}, []string{"result"}),
		cacheLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "points_policy_cache_latency_seconds",
			Help:    "Latency for policy cache operations",
			Buckets: prometheus.DefBuckets,
		}),
		pointsAwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "points_awarded_total",
			Help: "Effective points credited by source",
		}, []string{"source"}),
		pointsCapped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "points_capped_total",
			Help: "Awards reduced by a limit window",
		}, []string{"window"}),
		limitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "points_limit_rejections_total",
			Help: "Awards rejected because a window was exhausted",
		}, []string{"window"}),
		reversals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "points_reversals_total",
			Help: "Ledger entries reversed",
		}),
		dispatchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "points_dispatch_attempts_total",
			Help: "Collaborator award attempts by outcome",
		}, []string{"outcome"}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "points_dead_letters_total",
			Help: "Awards written to the dead-letter sink",
		}, []string{"collaborator"}),
		applyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "points_apply_duration_seconds",
			Help:    "Duration of ledger transactions",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(m.requestDuration, m.requestTotal, m.cacheLookups, m.cacheLatency,
		m.pointsAwarded, m.pointsCapped, m.limitRejections, m.reversals, m.dispatchAttempts,
		m.deadLetters, m.applyDuration, goroutines)
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
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a policy cache hit or miss.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// ObserveApply records a completed ledger transaction.
func (m *MetricsService) ObserveApply(kind models.TransactionKind, source models.PointSource, effective int, duration time.Duration) {
	if m == nil {
		return
	}
	m.applyDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
	if effective > 0 && kind != models.KindSpent {
		m.pointsAwarded.WithLabelValues(string(source)).Add(float64(effective))
	}
}

// RecordCapped counts an award clamped by window.
func (m *MetricsService) RecordCapped(window models.LimitWindow) {
	if m == nil {
		return
	}
	m.pointsCapped.WithLabelValues(string(window)).Inc()
}

// RecordLimitRejection counts an award rejected by window.
func (m *MetricsService) RecordLimitRejection(window models.LimitWindow) {
	if m == nil {
		return
	}
	m.limitRejections.WithLabelValues(string(window)).Inc()
}

// RecordReversal counts a reversal.
func (m *MetricsService) RecordReversal() {
	if m == nil {
		return
	}
	m.reversals.Inc()
}

// RecordDispatchAttempt counts a dispatcher attempt by outcome (success, retry, rejected, exhausted, open).
func (m *MetricsService) RecordDispatchAttempt(outcome string) {
	if m == nil {
		return
	}
	m.dispatchAttempts.WithLabelValues(outcome).Inc()
}

// RecordDeadLetter counts a dead letter written for collaborator.
func (m *MetricsService) RecordDeadLetter(collaborator string) {
	if m == nil {
		return
	}
	m.deadLetters.WithLabelValues(collaborator).Inc()
}

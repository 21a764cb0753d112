package metrics

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/alecgard/pantry/internal/quota"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for the pantry service.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Quota metrics.
	QuotaDecisionsTotal *prometheus.CounterVec
	StoreErrorsTotal    *prometheus.CounterVec
	StoreConflictsTotal *prometheus.CounterVec

	// Burst limiter.
	RateLimitRejectionsTotal *prometheus.CounterVec

	// Event collector metrics.
	CollectorBufferSize    prometheus.Gauge
	CollectorFlushesTotal  *prometheus.CounterVec
	CollectorFlushDuration prometheus.Histogram
	CollectorEventsTotal   prometheus.Counter

	// Recipe generator metrics.
	GeneratorRequestsTotal *prometheus.CounterVec
	GeneratorDuration      prometheus.Histogram

	// Auth metrics.
	AuthFailuresTotal  *prometheus.CounterVec
	AuthSuccessesTotal *prometheus.CounterVec

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pantry_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"kind", "method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pantry_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "method", "path_pattern"}),

		HTTPResponseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pantry_http_response_size_bytes",
			Help:    "HTTP response size in bytes.",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		}, []string{"kind", "method", "path_pattern"}),

		QuotaDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pantry_quota_decisions_total",
			Help: "Total number of quota tracker decisions.",
		}, []string{"op", "kind", "plan", "outcome"}),

		StoreErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pantry_quota_store_errors_total",
			Help: "Total number of quota operations that failed on a backing store.",
		}, []string{"op"}),

		StoreConflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pantry_quota_store_conflicts_total",
			Help: "Total number of quota operations that exhausted their version-conflict retries.",
		}, []string{"op"}),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pantry_ratelimit_rejections_total",
			Help: "Total number of burst limiter rejections.",
		}, []string{"scope"}),

		CollectorBufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pantry_collector_buffer_size",
			Help: "Current number of buffered quota events.",
		}),

		CollectorFlushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pantry_collector_flushes_total",
			Help: "Total number of collector flushes.",
		}, []string{"status"}),

		CollectorFlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pantry_collector_flush_duration_seconds",
			Help:    "Duration of collector flush operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		CollectorEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pantry_collector_events_total",
			Help: "Total number of quota events recorded.",
		}),

		GeneratorRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pantry_generator_requests_total",
			Help: "Total number of recipe generator calls.",
		}, []string{"status"}),

		GeneratorDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pantry_generator_duration_seconds",
			Help:    "Recipe generator call duration in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		}),

		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pantry_auth_failures_total",
			Help: "Total number of authentication failures.",
		}, []string{"auth_type"}),

		AuthSuccessesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pantry_auth_successes_total",
			Help: "Total number of successful authentications.",
		}, []string{"auth_type"}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pantry_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.QuotaDecisionsTotal,
		m.StoreErrorsTotal,
		m.StoreConflictsTotal,
		m.RateLimitRejectionsTotal,
		m.CollectorBufferSize,
		m.CollectorFlushesTotal,
		m.CollectorFlushDuration,
		m.CollectorEventsTotal,
		m.GeneratorRequestsTotal,
		m.GeneratorDuration,
		m.AuthFailuresTotal,
		m.AuthSuccessesTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// Observe implements quota.Observer.
func (m *Metrics) Observe(_ context.Context, d quota.Decision) {
	plan := string(d.Plan)
	if plan == "" {
		plan = "none"
	}
	m.QuotaDecisionsTotal.WithLabelValues(d.Op, string(d.Kind), plan, string(d.Outcome)).Inc()

	if d.Outcome == quota.OutcomeStoreError {
		m.StoreErrorsTotal.WithLabelValues(d.Op).Inc()
		if errors.Is(d.Err, quota.ErrConflict) {
			m.StoreConflictsTotal.WithLabelValues(d.Op).Inc()
		}
	}
}

// ObserveHTTPRequest records one served HTTP request.
func (m *Metrics) ObserveHTTPRequest(kind, method, pattern string, status int, d time.Duration, size int) {
	m.HTTPRequestsTotal.WithLabelValues(kind, method, pattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(kind, method, pattern).Observe(d.Seconds())
	m.HTTPResponseSize.WithLabelValues(kind, method, pattern).Observe(float64(size))
}

// SetCollectorBufferSize sets the collector buffer gauge.
func (m *Metrics) SetCollectorBufferSize(n int) {
	m.CollectorBufferSize.Set(float64(n))
}

// ObserveCollectorFlush records one collector flush.
func (m *Metrics) ObserveCollectorFlush(_ int, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.CollectorFlushesTotal.WithLabelValues(status).Inc()
	m.CollectorFlushDuration.Observe(d.Seconds())
}

// IncCollectorEvents increments the recorded events counter.
func (m *Metrics) IncCollectorEvents() {
	m.CollectorEventsTotal.Inc()
}

// ObserveGeneration records one recipe generator call.
func (m *Metrics) ObserveGeneration(d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.GeneratorRequestsTotal.WithLabelValues(status).Inc()
	m.GeneratorDuration.Observe(d.Seconds())
}

// IncAuthFailure increments the auth failure counter for the given auth type.
func (m *Metrics) IncAuthFailure(authType string) {
	m.AuthFailuresTotal.WithLabelValues(authType).Inc()
}

// IncAuthSuccess increments the auth success counter for the given auth type.
func (m *Metrics) IncAuthSuccess(authType string) {
	m.AuthSuccessesTotal.WithLabelValues(authType).Inc()
}

// IncRateLimitRejection increments the burst limiter rejection counter.
func (m *Metrics) IncRateLimitRejection(scope string) {
	m.RateLimitRejectionsTotal.WithLabelValues(scope).Inc()
}

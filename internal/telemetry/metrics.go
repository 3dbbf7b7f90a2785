// Package telemetry provides observability primitives for the gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	RateLimitRejects *prometheus.CounterVec
	TokensProcessed       *prometheus.CounterVec
	CircuitBreakerState   *prometheus.GaugeVec   // labels: provider (value encodes the state)
	CircuitBreakerRejects *prometheus.CounterVec  // labels: provider

	ExtractionDuration  *prometheus.HistogramVec // labels: kind
	ExtractionFailures  *prometheus.CounterVec   // labels: kind
	ExtractionQueueFull prometheus.Counter
	RouterFallbacks     *prometheus.CounterVec // labels: reason
	RouterTierRelaxed   prometheus.Counter
	UpstreamLatency     *prometheus.HistogramVec // labels: provider
	CacheDegraded       prometheus.Counter
}

// cacheDegradeInc increments CacheDegraded (no-op on a nil Metrics). It backs
// cacheDegradeAdapter.Inc, which satisfies internal/cache.DegradeCounter so the
// Tiered cache can report remote-tier degradation without importing prometheus directly.
func (m *Metrics) cacheDegradeInc() {
	if m != nil {
		m.CacheDegraded.Inc()
	}
}

// CacheDegradeCounter exposes the CacheDegraded counter through the small
// Inc()-only interface internal/cache.Tiered expects.
func (m *Metrics) CacheDegradeCounter() interface{ Inc() } {
	return cacheDegradeAdapter{m}
}

type cacheDegradeAdapter struct{ m *Metrics }

func (a cacheDegradeAdapter) Inc() { a.m.cacheDegradeInc() }

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autopicker",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "autopicker",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "autopicker",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autopicker",
			Name:      "cache_hits_total",
			Help:      "Total response cache hits.",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autopicker",
			Name:      "cache_misses_total",
			Help:      "Total response cache misses.",
		}),

		RateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autopicker",
			Name:      "ratelimit_rejects_total",
			Help:      "Total rate limit rejections.",
		}, []string{"type"}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autopicker",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed.",
		}, []string{"model", "type"}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "autopicker",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per provider (0=closed, 1=open, 2=half_open).",
		}, []string{"provider"}),

		CircuitBreakerRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autopicker",
			Name:      "circuit_breaker_rejects_total",
			Help:      "Total requests rejected by circuit breaker.",
		}, []string{"provider"}),

		ExtractionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "autopicker",
			Name:      "extraction_duration_seconds",
			Help:      "Content extraction duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		ExtractionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autopicker",
			Name:      "extraction_failures_total",
			Help:      "Total content extraction failures.",
		}, []string{"kind"}),

		ExtractionQueueFull: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autopicker",
			Name:      "extraction_queue_full_total",
			Help:      "Total extraction jobs rejected because the worker pool queue was full.",
		}),

		RouterFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autopicker",
			Name:      "router_fallbacks_total",
			Help:      "Total times the model router selected a fallback model tag.",
		}, []string{"reason"}),

		RouterTierRelaxed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autopicker",
			Name:      "router_tier_relaxed_total",
			Help:      "Total times the model router relaxed its pricing-tier filter to find a candidate.",
		}),

		UpstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "autopicker",
			Name:      "upstream_latency_seconds",
			Help:      "Upstream provider response latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),

		CacheDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autopicker",
			Name:      "cache_degraded_total",
			Help:      "Total times the tiered cache degraded to local-only because the remote tier was unreachable.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.CacheHits,
		m.CacheMisses,
		m.RateLimitRejects,
		m.TokensProcessed,
		m.CircuitBreakerState,
		m.CircuitBreakerRejects,
		m.ExtractionDuration,
		m.ExtractionFailures,
		m.ExtractionQueueFull,
		m.RouterFallbacks,
		m.RouterTierRelaxed,
		m.UpstreamLatency,
		m.CacheDegraded,
	)

	return m
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "vocabcache"
)

// LatencyBuckets covers fast cache hits through slow LLM generations (in seconds).
var LatencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	1.0, 2.0, 5.0, 10.0, 20.0, 30.0, 60.0,
}

// =============================================================================
// Cache Metrics
// =============================================================================

var (
	// CacheHits counts cache hits.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total cache hits",
		},
		[]string{"service"},
	)

	// CacheMisses counts cache misses.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total cache misses",
		},
		[]string{"service"},
	)

	// CacheStoreSkipped counts generated results that were not written to the cache.
	CacheStoreSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_store_skipped_total",
			Help:      "Generated results not stored in the cache",
		},
		[]string{"service", "reason"}, // reason: backend, too_large, encode
	)

	// CacheEvictions counts keys removed by explicit clear requests.
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Keys removed by explicit cache clears",
		},
		[]string{"service"},
	)

	// CacheBackend reports which backend was selected at startup (1 for the active kind).
	CacheBackend = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_backend",
			Help:      "Selected cache backend kind (1 = active)",
		},
		[]string{"kind"},
	)
)

// =============================================================================
// Generation Metrics
// =============================================================================

var (
	// GenerationLatency tracks calls to the underlying generators.
	GenerationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_latency_seconds",
			Help:      "Latency of underlying generator calls in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"service", "status"}, // status: success, error
	)

	// GenerationsCoalesced counts callers that shared another caller's in-flight generation.
	GenerationsCoalesced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_coalesced_total",
			Help:      "Cache misses served by an already in-flight generation",
		},
		[]string{"service"},
	)

	// UpstreamCircuitState is 0 closed, 1 open, 2 half-open.
	UpstreamCircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_circuit_state",
			Help:      "Circuit breaker state per upstream service",
		},
		[]string{"service"},
	)

	// UpstreamRejected counts calls refused while a circuit was open.
	UpstreamRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_rejected_total",
			Help:      "Upstream calls rejected by an open circuit breaker",
		},
		[]string{"service"},
	)
)

// =============================================================================
// HTTP Metrics
// =============================================================================

var (
	// RequestsTotal counts HTTP requests by route and status.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		},
		[]string{"route", "status_code"},
	)

	// RequestLatency tracks HTTP request latency.
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_latency_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"route"},
	)
)

// SetBackendKind marks kind as the active backend.
func SetBackendKind(active string, kinds ...string) {
	for _, k := range kinds {
		CacheBackend.WithLabelValues(k).Set(0)
	}
	CacheBackend.WithLabelValues(active).Set(1)
}

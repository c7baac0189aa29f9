// Package metrics holds the Prometheus collectors shared by the service.
// Collectors register with the default registry on import.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// MindmapsGenerated counts graphs built, by layout and outline kind.
	MindmapsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindforge_mindmaps_generated_total",
			Help: "Total number of mindmap graphs built",
		},
		[]string{"layout", "kind"},
	)

	// OutlineParses counts adapter runs by resulting outline kind
	// ("json", "bullets", "empty").
	OutlineParses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindforge_outline_parses_total",
			Help: "Total number of model responses parsed into outlines",
		},
		[]string{"kind"},
	)

	// LLMRequests counts upstream model calls by provider and status code.
	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindforge_llm_requests_total",
			Help: "Total number of LLM API requests",
		},
		[]string{"provider", "status"},
	)

	// LLMLatency observes upstream model call latency.
	LLMLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mindforge_llm_request_duration_seconds",
			Help:    "LLM API request latency",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"provider"},
	)

	// RelayRetries counts model-loading retries performed by the relay.
	RelayRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mindforge_relay_retries_total",
			Help: "Total number of relay retries after a model-loading response",
		},
	)

	// BreakerState tracks the relay circuit breaker (0 closed, 1 half-open, 2 open).
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mindforge_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
		[]string{"name"},
	)

	// CacheLookups counts completion cache lookups by backend and result.
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindforge_cache_lookups_total",
			Help: "Total number of completion cache lookups",
		},
		[]string{"backend", "result"},
	)

	// HTTPRequests counts API requests by route pattern, method and status.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindforge_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"route", "method", "status"},
	)
)

func init() {
	prometheus.MustRegister(MindmapsGenerated)
	prometheus.MustRegister(OutlineParses)
	prometheus.MustRegister(LLMRequests)
	prometheus.MustRegister(LLMLatency)
	prometheus.MustRegister(RelayRetries)
	prometheus.MustRegister(BreakerState)
	prometheus.MustRegister(CacheLookups)
	prometheus.MustRegister(HTTPRequests)
}

// ObserveLLM records one upstream call. status is the HTTP status code, or 0
// when the request never got a response.
func ObserveLLM(provider string, status int, elapsed time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	LLMRequests.WithLabelValues(provider, label).Inc()
	LLMLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// CacheResult records a cache hit or miss.
func CacheResult(backend string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(backend, result).Inc()
}

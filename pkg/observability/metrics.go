// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the modelgate gateway.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgate_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelgate_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method"},
	)

	// ProviderRequestsTotal counts requests sent to backend LLM providers.
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgate_provider_requests_total",
			Help: "Provider requests",
		},
		[]string{"provider", "status"},
	)

	// ProviderLatency records backend provider latency in seconds.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelgate_provider_latency_seconds",
			Help:    "Provider latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider"},
	)

	// ProviderTokensTotal counts tokens processed by direction (input/output).
	ProviderTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgate_provider_tokens_total",
			Help: "Token count",
		},
		[]string{"provider", "direction"},
	)

	// FailoversTotal counts failover attempts by the provider that failed
	// and the provider that eventually served the request ("none" when all
	// candidates failed).
	FailoversTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgate_failovers_total",
			Help: "Failover attempts",
		},
		[]string{"failed", "recovered_by"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modelgate_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
	)

	// UsageWriteFailuresTotal counts stats bucket writes that failed and
	// were swallowed. Request serving continues; the bucket undercounts.
	UsageWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modelgate_usage_write_failures_total",
			Help: "Failed usage bucket writes",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ProviderRequestsTotal,
		ProviderLatency,
		ProviderTokensTotal,
		FailoversTotal,
		RateLimitRejectedTotal,
		UsageWriteFailuresTotal,
	)
}

// RecordProviderCall seeds the provider counters and latency histogram for
// one connector invocation.
func RecordProviderCall(provider string, success bool, latencySeconds float64, promptTokens, completionTokens int) {
	status := "ok"
	if !success {
		status = "error"
	}
	ProviderRequestsTotal.WithLabelValues(provider, status).Inc()
	ProviderLatency.WithLabelValues(provider).Observe(latencySeconds)
	if promptTokens > 0 {
		ProviderTokensTotal.WithLabelValues(provider, "input").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		ProviderTokensTotal.WithLabelValues(provider, "output").Add(float64(completionTokens))
	}
}

// Package metrics holds the Prometheus collectors shared by the adapters and
// services.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	upstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "productcache_upstream_requests_total",
			Help: "Signed product API requests by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)
	upstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "productcache_upstream_request_duration_seconds",
			Help:    "Latency of product API requests, excluding throttle wait.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		},
		[]string{"operation"},
	)
	throttleWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "productcache_throttle_wait_seconds",
			Help:    "Time spent waiting for the shared request throttle.",
			Buckets: []float64{0, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)
	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "productcache_cache_lookups_total",
			Help: "Cache lookups by result (mirror_hit, store_hit, miss).",
		},
		[]string{"result"},
	)
	refreshRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "productcache_refresh_runs_total",
			Help: "Background refresh runs by outcome.",
		},
		[]string{"outcome"},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "productcache_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "productcache_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 15},
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		upstreamRequestsTotal,
		upstreamRequestDuration,
		throttleWaitDuration,
		cacheLookupsTotal,
		refreshRunsTotal,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

// RecordUpstream records one product API request.
func RecordUpstream(operation, outcome string, duration time.Duration) {
	upstreamRequestsTotal.WithLabelValues(operation, outcome).Inc()
	upstreamRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordThrottleWait records how long a caller was held by the throttle.
func RecordThrottleWait(d time.Duration) {
	throttleWaitDuration.Observe(d.Seconds())
}

// RecordCacheLookup records a cache lookup result.
func RecordCacheLookup(result string) {
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordRefreshRun records the outcome of a background refresh run.
func RecordRefreshRun(outcome string) {
	refreshRunsTotal.WithLabelValues(outcome).Inc()
}

// RecordRequest records an HTTP request served by the API.
func RecordRequest(method, route string, statusCode int, duration time.Duration) {
	status := classifyStatus(statusCode)
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

func classifyStatus(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500 && statusCode < 600:
		return "5xx"
	}
	return "unknown"
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

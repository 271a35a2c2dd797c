// Package metrics holds the Prometheus collectors fed by the resolver and the endpoint
// cache, and the switch that turns collection on or off for the whole process.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// upstreamAttemptsTotal counts every call made to a candidate URL.
	upstreamAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowproxy_upstream_attempts_total",
			Help: "Total upstream candidate attempts by operation and result",
		},
		[]string{"operation", "result"}, // success, not_found_page, rejected, transport_error
	)

	upstreamAttemptDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowproxy_upstream_attempt_duration_seconds",
			Help:    "Duration of single upstream candidate attempts in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 90},
		},
		[]string{"operation"},
	)

	// resolutionsTotal counts finished candidate resolutions.
	resolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowproxy_resolutions_total",
			Help: "Total candidate resolutions by operation, outcome and source",
		},
		[]string{"operation", "outcome", "source"}, // source: cache or traversal
	)

	endpointCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowproxy_endpoint_cache_lookups_total",
			Help: "Endpoint cache lookups by operation and result",
		},
		[]string{"operation", "result"}, // hit, miss, expired
	)

	endpointCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowproxy_endpoint_cache_size",
			Help: "Current number of entries in the endpoint cache",
		},
	)

	registered atomic.Bool
	enabled    atomic.Bool
)

// SetEnabled toggles collection.
func SetEnabled(on bool) {
	enabled.Store(on)
}

// Enabled reports whether collection is on.
func Enabled() bool {
	return enabled.Load()
}

// Register adds the collectors to the default registry. Repeated calls are no-ops.
func Register() {
	if !registered.CompareAndSwap(false, true) {
		return
	}
	prometheus.MustRegister(
		upstreamAttemptsTotal,
		upstreamAttemptDurationSeconds,
		resolutionsTotal,
		endpointCacheLookupsTotal,
		endpointCacheSize,
	)
}

// RecordUpstreamAttempt records one candidate call.
func RecordUpstreamAttempt(operation, result string, d time.Duration) {
	if !Enabled() {
		return
	}
	upstreamAttemptsTotal.WithLabelValues(operation, result).Inc()
	upstreamAttemptDurationSeconds.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordResolution records the final result of a candidate resolution.
func RecordResolution(operation, outcome string, fromCache bool) {
	if !Enabled() {
		return
	}
	source := "traversal"
	if fromCache {
		source = "cache"
	}
	resolutionsTotal.WithLabelValues(operation, outcome, source).Inc()
}

// RecordEndpointCacheLookup records a cache lookup result: hit, miss or expired.
func RecordEndpointCacheLookup(operation, result string) {
	if !Enabled() {
		return
	}
	endpointCacheLookupsTotal.WithLabelValues(operation, result).Inc()
}

// SetEndpointCacheSize sets the current endpoint cache size gauge.
func SetEndpointCacheSize(size int) {
	if !Enabled() {
		return
	}
	endpointCacheSize.Set(float64(size))
}

// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Acquisition metrics
	providerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_analysis_provider_requests_total",
			Help: "Provider fetch attempts by outcome",
		},
		[]string{"provider", "outcome"},
	)

	providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "market_analysis_provider_latency_seconds",
			Help:    "Provider fetch latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	cacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_analysis_cache_events_total",
			Help: "OHLC cache lookups by result",
		},
		[]string{"result"},
	)

	rateLimitDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_analysis_rate_limit_denials_total",
			Help: "Provider skips due to the hourly window",
		},
		[]string{"provider"},
	)

	// Pipeline metrics
	analysisRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_analysis_requests_total",
			Help: "Analysis requests by outcome",
		},
		[]string{"outcome"},
	)

	scanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "market_analysis_scan_duration_seconds",
			Help:    "Opportunity scan wall time",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	backtestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "market_analysis_backtest_duration_seconds",
			Help:    "Backtest run wall time",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
	)

	signalsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_analysis_signals_detected_total",
			Help: "Entry signals detected by direction",
		},
		[]string{"direction"},
	)

	engineEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_analysis_engine_events_total",
			Help: "Lifecycle events published on the internal bus",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(providerRequests)
	prometheus.MustRegister(providerLatency)
	prometheus.MustRegister(cacheEvents)
	prometheus.MustRegister(rateLimitDenials)
	prometheus.MustRegister(analysisRequests)
	prometheus.MustRegister(scanDuration)
	prometheus.MustRegister(backtestDuration)
	prometheus.MustRegister(signalsDetected)
	prometheus.MustRegister(engineEvents)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordProviderRequest records one provider attempt.
func RecordProviderRequest(provider, outcome string, seconds float64) {
	providerRequests.WithLabelValues(provider, outcome).Inc()
	providerLatency.WithLabelValues(provider).Observe(seconds)
}

// RecordCacheHit records a cache hit.
func RecordCacheHit() {
	cacheEvents.WithLabelValues("hit").Inc()
}

// RecordCacheMiss records a cache miss.
func RecordCacheMiss() {
	cacheEvents.WithLabelValues("miss").Inc()
}

// RecordRateLimitDenial records a provider skipped by the hourly window.
func RecordRateLimitDenial(provider string) {
	rateLimitDenials.WithLabelValues(provider).Inc()
}

// RecordAnalysis records one analysis request outcome.
func RecordAnalysis(outcome string) {
	analysisRequests.WithLabelValues(outcome).Inc()
}

// ObserveScanDuration records an opportunity scan wall time.
func ObserveScanDuration(seconds float64) {
	scanDuration.Observe(seconds)
}

// ObserveBacktestDuration records a backtest wall time.
func ObserveBacktestDuration(seconds float64) {
	backtestDuration.Observe(seconds)
}

// RecordSignal records one detected entry signal.
func RecordSignal(direction string) {
	signalsDetected.WithLabelValues(direction).Inc()
}

// RecordEngineEvent counts one bus event by type.
func RecordEngineEvent(eventType string) {
	engineEvents.WithLabelValues(eventType).Inc()
}

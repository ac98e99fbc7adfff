// Package metrics exposes Prometheus instrumentation for the scan pipeline,
// the TI store and the feed syncer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "urlwarden",
			Name:      "scans_total",
			Help:      "Completed scans by risk level",
		},
		[]string{"risk_level"},
	)

	ScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "urlwarden",
			Name:      "scan_duration_seconds",
			Help:      "End-to-end scan duration",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		},
	)

	AnalyzerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "urlwarden",
			Name:      "analyzer_duration_seconds",
			Help:      "Per-category analyzer duration",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 3},
		},
		[]string{"category"},
	)

	AnalyzerSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "urlwarden",
			Name:      "analyzer_skipped_total",
			Help:      "Analyzers skipped by category and reason",
		},
		[]string{"category", "reason"},
	)

	TICacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "urlwarden",
			Name:      "ti_query_cache_hits_total",
			Help:      "Threat-intel query cache hits",
		},
	)

	TICacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "urlwarden",
			Name:      "ti_query_cache_misses_total",
			Help:      "Threat-intel query cache misses",
		},
	)

	VerdictCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "urlwarden",
			Name:      "verdict_cache_hits_total",
			Help:      "Scan verdict cache hits",
		},
	)

	VerdictCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "urlwarden",
			Name:      "verdict_cache_misses_total",
			Help:      "Scan verdict cache misses",
		},
	)

	IndicatorsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "urlwarden",
			Name:      "indicators_active",
			Help:      "Active threat indicators by type",
		},
		[]string{"type"},
	)

	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "urlwarden",
			Name:      "sync_runs_total",
			Help:      "Feed sync runs by source and status",
		},
		[]string{"source", "status"},
	)

	SyncIndicatorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "urlwarden",
			Name:      "sync_indicators_total",
			Help:      "Indicators written during sync by operation",
		},
		[]string{"source", "op"},
	)

	CollectorFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "urlwarden",
			Name:      "collector_failures_total",
			Help:      "Evidence collector failures",
		},
		[]string{"collector"},
	)
)

func init() {
	prometheus.MustRegister(
		ScansTotal,
		ScanDuration,
		AnalyzerDuration,
		AnalyzerSkipped,
		TICacheHits,
		TICacheMisses,
		VerdictCacheHits,
		VerdictCacheMisses,
		IndicatorsActive,
		SyncRunsTotal,
		SyncIndicatorsTotal,
		CollectorFailures,
	)
}

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

package caselex

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetricsCollector exports engine metrics to a Prometheus
// registry.
type PrometheusMetricsCollector struct {
	searches        *prometheus.CounterVec
	searchDuration  prometheus.Histogram
	partialSearches prometheus.Counter
	publishes       *prometheus.CounterVec
	bundleOps       *prometheus.CounterVec
}

// NewPrometheusMetricsCollector registers the engine's metrics on reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewPrometheusMetricsCollector(reg prometheus.Registerer) *PrometheusMetricsCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetricsCollector{
		searches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caselex",
			Name:      "searches_total",
			Help:      "Searches by outcome.",
		}, []string{"outcome"}),
		searchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "caselex",
			Name:      "search_duration_seconds",
			Help:      "Search latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		partialSearches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "caselex",
			Name:      "partial_searches_total",
			Help:      "Searches that returned deadline-bounded partial results.",
		}),
		publishes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caselex",
			Name:      "snapshot_publishes_total",
			Help:      "Snapshot publish attempts by outcome.",
		}, []string{"outcome"}),
		bundleOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caselex",
			Name:      "bundle_operations_total",
			Help:      "Bundle saves and loads by operation and outcome.",
		}, []string{"op", "outcome"}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordSearch implements MetricsCollector.
func (p *PrometheusMetricsCollector) RecordSearch(limit int, duration time.Duration, partial bool, err error) {
	p.searches.WithLabelValues(outcome(err)).Inc()
	p.searchDuration.Observe(duration.Seconds())
	if partial {
		p.partialSearches.Inc()
	}
}

// RecordPublish implements MetricsCollector.
func (p *PrometheusMetricsCollector) RecordPublish(duration time.Duration, err error) {
	p.publishes.WithLabelValues(outcome(err)).Inc()
}

// RecordBundleSave implements MetricsCollector.
func (p *PrometheusMetricsCollector) RecordBundleSave(duration time.Duration, err error) {
	p.bundleOps.WithLabelValues("save", outcome(err)).Inc()
}

// RecordBundleLoad implements MetricsCollector.
func (p *PrometheusMetricsCollector) RecordBundleLoad(duration time.Duration, err error) {
	p.bundleOps.WithLabelValues("load", outcome(err)).Inc()
}

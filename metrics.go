package caselex

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational
// metrics. Implement it to integrate with monitoring systems; see
// PrometheusMetricsCollector for a ready-made Prometheus binding.
type MetricsCollector interface {
	// RecordSearch is called after each search. limit is the
	// requested result cap, partial marks a deadline-bounded result,
	// err is nil on success.
	RecordSearch(limit int, duration time.Duration, partial bool, err error)

	// RecordPublish is called after each publish attempt.
	RecordPublish(duration time.Duration, err error)

	// RecordBundleSave is called after saving a bundle to a store.
	RecordBundleSave(duration time.Duration, err error)

	// RecordBundleLoad is called after loading a bundle from a store.
	RecordBundleLoad(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordSearch(int, time.Duration, bool, error) {}
func (NoopMetricsCollector) RecordPublish(time.Duration, error)           {}
func (NoopMetricsCollector) RecordBundleSave(time.Duration, error)        {}
func (NoopMetricsCollector) RecordBundleLoad(time.Duration, error)        {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and tests without external dependencies.
type BasicMetricsCollector struct {
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchPartial    atomic.Int64
	SearchTotalNanos atomic.Int64
	PublishCount     atomic.Int64
	PublishErrors    atomic.Int64
	BundleSaves      atomic.Int64
	BundleSaveErrors atomic.Int64
	BundleLoads      atomic.Int64
	BundleLoadErrors atomic.Int64
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(limit int, duration time.Duration, partial bool, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if partial {
		b.SearchPartial.Add(1)
	}
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordPublish implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPublish(duration time.Duration, err error) {
	b.PublishCount.Add(1)
	if err != nil {
		b.PublishErrors.Add(1)
	}
}

// RecordBundleSave implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBundleSave(duration time.Duration, err error) {
	b.BundleSaves.Add(1)
	if err != nil {
		b.BundleSaveErrors.Add(1)
	}
}

// RecordBundleLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBundleLoad(duration time.Duration, err error) {
	b.BundleLoads.Add(1)
	if err != nil {
		b.BundleLoadErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		SearchCount:      b.SearchCount.Load(),
		SearchErrors:     b.SearchErrors.Load(),
		SearchPartial:    b.SearchPartial.Load(),
		SearchAvgNanos:   b.searchAvgNanos(),
		PublishCount:     b.PublishCount.Load(),
		PublishErrors:    b.PublishErrors.Load(),
		BundleSaves:      b.BundleSaves.Load(),
		BundleSaveErrors: b.BundleSaveErrors.Load(),
		BundleLoads:      b.BundleLoads.Load(),
		BundleLoadErrors: b.BundleLoadErrors.Load(),
	}
}

func (b *BasicMetricsCollector) searchAvgNanos() int64 {
	count := b.SearchCount.Load()
	if count == 0 {
		return 0
	}
	return b.SearchTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	SearchCount      int64
	SearchErrors     int64
	SearchPartial    int64
	SearchAvgNanos   int64
	PublishCount     int64
	PublishErrors    int64
	BundleSaves      int64
	BundleSaveErrors int64
	BundleLoads      int64
	BundleLoadErrors int64
}

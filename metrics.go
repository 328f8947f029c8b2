package kymflow

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordAddImage is called after each image ingestion.
	// duration is the total time taken, err is nil if successful.
	RecordAddImage(duration time.Duration, err error)

	// RecordDeleteImage is called after each image deletion.
	RecordDeleteImage(duration time.Duration, err error)

	// RecordRefresh is called after each folder refresh.
	// scanned is the number of source files examined, ingested the number
	// actually loaded.
	RecordRefresh(scanned, ingested int, duration time.Duration)

	// RecordUpdateIndex is called after each index update run.
	// updated is the number of records reprocessed.
	RecordUpdateIndex(updated, total int, duration time.Duration, err error)

	// RecordRebuildManifest is called after each manifest rebuild.
	RecordRebuildManifest(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAddImage(time.Duration, error)              {}
func (NoopMetricsCollector) RecordDeleteImage(time.Duration, error)           {}
func (NoopMetricsCollector) RecordRefresh(int, int, time.Duration)            {}
func (NoopMetricsCollector) RecordUpdateIndex(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordRebuildManifest(time.Duration, error)       {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AddImageCount         atomic.Int64
	AddImageErrors        atomic.Int64
	AddImageTotalNanos    atomic.Int64
	DeleteImageCount      atomic.Int64
	DeleteImageErrors     atomic.Int64
	RefreshCount          atomic.Int64
	RefreshScanned        atomic.Int64
	RefreshIngested       atomic.Int64
	UpdateIndexCount      atomic.Int64
	UpdateIndexErrors     atomic.Int64
	UpdateIndexUpdated    atomic.Int64
	UpdateIndexTotalNanos atomic.Int64
	RebuildCount          atomic.Int64
	RebuildErrors         atomic.Int64
}

// RecordAddImage implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAddImage(duration time.Duration, err error) {
	b.AddImageCount.Add(1)
	b.AddImageTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AddImageErrors.Add(1)
	}
}

// RecordDeleteImage implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDeleteImage(duration time.Duration, err error) {
	b.DeleteImageCount.Add(1)
	if err != nil {
		b.DeleteImageErrors.Add(1)
	}
}

// RecordRefresh implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRefresh(scanned, ingested int, duration time.Duration) {
	b.RefreshCount.Add(1)
	b.RefreshScanned.Add(int64(scanned))
	b.RefreshIngested.Add(int64(ingested))
}

// RecordUpdateIndex implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpdateIndex(updated, total int, duration time.Duration, err error) {
	b.UpdateIndexCount.Add(1)
	b.UpdateIndexUpdated.Add(int64(updated))
	b.UpdateIndexTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.UpdateIndexErrors.Add(1)
	}
}

// RecordRebuildManifest implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRebuildManifest(duration time.Duration, err error) {
	b.RebuildCount.Add(1)
	if err != nil {
		b.RebuildErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AddImageCount:      b.AddImageCount.Load(),
		AddImageErrors:     b.AddImageErrors.Load(),
		AddImageAvgNanos:   b.getAvgAddImageNanos(),
		DeleteImageCount:   b.DeleteImageCount.Load(),
		DeleteImageErrors:  b.DeleteImageErrors.Load(),
		RefreshCount:       b.RefreshCount.Load(),
		RefreshScanned:     b.RefreshScanned.Load(),
		RefreshIngested:    b.RefreshIngested.Load(),
		UpdateIndexCount:   b.UpdateIndexCount.Load(),
		UpdateIndexErrors:  b.UpdateIndexErrors.Load(),
		UpdateIndexUpdated: b.UpdateIndexUpdated.Load(),
		RebuildCount:       b.RebuildCount.Load(),
		RebuildErrors:      b.RebuildErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgAddImageNanos() int64 {
	count := b.AddImageCount.Load()
	if count == 0 {
		return 0
	}
	return b.AddImageTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AddImageCount      int64
	AddImageErrors     int64
	AddImageAvgNanos   int64
	DeleteImageCount   int64
	DeleteImageErrors  int64
	RefreshCount       int64
	RefreshScanned     int64
	RefreshIngested    int64
	UpdateIndexCount   int64
	UpdateIndexErrors  int64
	UpdateIndexUpdated int64
	RebuildCount       int64
	RebuildErrors      int64
}

package kymflow

import (
	"log/slog"

	"github.com/mapmanager/kymflow-sub000/array"
	"github.com/mapmanager/kymflow-sub000/internal/ratelimit"
)

type options struct {
	compression         array.Compression
	readOnly            bool
	requireGroups       []string
	includeAnalysisKeys bool
	limits              ratelimit.Config
	metricsCollector    MetricsCollector
	logger              *Logger
}

// Option configures DB constructor/open behavior.
//
// Today options primarily exist to avoid exploding the API surface
// (e.g. compression-specific constructor variants).
type Option func(*options)

// WithCompression configures the compression applied to newly written array
// blobs. Existing blobs are decoded by their header regardless.
func WithCompression(c array.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithReadOnly opens the dataset read-only: every mutating operation fails
// with ErrReadOnly before touching storage.
func WithReadOnly() Option {
	return func(o *options) {
		o.readOnly = true
	}
}

// WithRequireGroups lists top-level groups that must exist when opening.
// Opening fails with a schema validation error if any is missing.
func WithRequireGroups(groups ...string) Option {
	return func(o *options) {
		o.requireGroups = groups
	}
}

// WithAnalysisKeys includes per-record artifact names in manifest entries.
// Rebuilds get slower but the manifest becomes queryable by analysis key.
func WithAnalysisKeys() Option {
	return func(o *options) {
		o.includeAnalysisKeys = true
	}
}

// WithIngestLimits bounds bulk operations (folder ingestion, export).
// maxConcurrent caps in-flight blob operations; ioBytesPerSec throttles
// payload throughput. Zero disables the respective limit.
func WithIngestLimits(maxConcurrent int, ioBytesPerSec int) Option {
	return func(o *options) {
		o.limits = ratelimit.Config{
			MaxConcurrent:      int64(maxConcurrent),
			IOLimitBytesPerSec: int64(ioBytesPerSec),
		}
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &kymflow.BasicMetricsCollector{}
//	db, _ := kymflow.OpenPath(ctx, dir, kymflow.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := kymflow.NewJSONLogger(slog.LevelInfo)
//	db, _ := kymflow.OpenPath(ctx, dir, kymflow.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}

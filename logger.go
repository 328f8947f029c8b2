package kymflow

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with kymflow-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithImageID adds an image_id field to the logger.
func (l *Logger) WithImageID(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("image_id", id),
	}
}

// WithIndexer adds an indexer field to the logger.
func (l *Logger) WithIndexer(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("indexer", name),
	}
}

// WithTable adds a table field to the logger.
func (l *Logger) WithTable(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("table", name),
	}
}

// LogAddImage logs an image ingestion.
func (l *Logger) LogAddImage(ctx context.Context, id string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "add image failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "add image completed",
			"image_id", id,
		)
	}
}

// LogDeleteImage logs an image deletion.
func (l *Logger) LogDeleteImage(ctx context.Context, id string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete image failed",
			"image_id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete image completed",
			"image_id", id,
		)
	}
}

// LogRefresh logs a folder refresh.
func (l *Logger) LogRefresh(ctx context.Context, scanned, ingested int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "refresh failed",
			"scanned", scanned,
			"ingested", ingested,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "refresh completed",
			"scanned", scanned,
			"ingested", ingested,
		)
	}
}

// LogUpdateIndex logs an index update run.
func (l *Logger) LogUpdateIndex(ctx context.Context, indexer string, updated, total int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "update index failed",
			"indexer", indexer,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "update index completed",
			"indexer", indexer,
			"updated", updated,
			"total_images", total,
		)
	}
}

// LogRebuildManifest logs a manifest rebuild.
func (l *Logger) LogRebuildManifest(ctx context.Context, images int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "manifest rebuild failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "manifest rebuilt",
			"images", images,
		)
	}
}

// LogExport logs a dataset export.
func (l *Logger) LogExport(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "export failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "export completed")
	}
}

package caselex

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with caselex-specific helpers, keeping
// field names consistent across the engine.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// If handler is nil, uses a default text handler to stderr.
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
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// LogSearch logs one search against a pinned snapshot version.
func (l *Logger) LogSearch(ctx context.Context, version uint64, terms, hits int, partial bool, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"version", version,
			"terms", terms,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "search completed",
		"version", version,
		"terms", terms,
		"hits", hits,
		"partial", partial,
		"duration", duration,
	)
}

// LogPublish logs a snapshot publish attempt.
func (l *Logger) LogPublish(ctx context.Context, version uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "publish rejected",
			"version", version,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot published",
			"version", version,
		)
	}
}

// LogBundle logs a bundle save or load.
func (l *Logger) LogBundle(ctx context.Context, op, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "bundle "+op+" failed",
			"bundle", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "bundle "+op+" completed",
			"bundle", name,
		)
	}
}

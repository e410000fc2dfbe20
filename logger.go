package govern

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/govern/retry"
)

// Logger wraps slog.Logger with governor-specific helpers.
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

// NewJSONLogger creates a Logger that outputs JSON-formatted logs to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	}))
}

// ParseLevel converts "debug", "info", "warn" or "error" to a slog.Level.
// Unknown values yield slog.LevelInfo.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// WithTool adds a tool field to the logger.
func (l *Logger) WithTool(tool string) *Logger {
	return &Logger{
		Logger: l.Logger.With("tool", tool),
	}
}

// LogStart logs an admitted conversion.
func (l *Logger) LogStart(ctx context.Context, tool, id string, fileSize int64) {
	l.InfoContext(ctx, "starting conversion",
		"tool", tool,
		"id", id,
		"file_size", fileSize,
	)
}

// LogRejection logs a call refused before it started.
func (l *Logger) LogRejection(ctx context.Context, rej *RejectionError) {
	l.WarnContext(ctx, "conversion rejected",
		"tool", rej.Tool,
		"reason", string(rej.Reason),
		"retry_after", rej.RetryAfter,
		"error", rej.Unwrap(),
	)
}

// LogRetry logs an attempt that is about to be retried.
func (l *Logger) LogRetry(ctx context.Context, tool string, a retry.Attempt) {
	l.WarnContext(ctx, "retrying conversion",
		"tool", tool,
		"attempt", a.Number,
		"delay", a.Delay,
		"error", a.Err,
	)
}

// LogOutcome logs the end of an admitted conversion. The raw cause is only
// ever written here.
func (l *Logger) LogOutcome(ctx context.Context, tool, id string, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "conversion failed",
			"tool", tool,
			"id", id,
			"duration_ms", duration.Milliseconds(),
			"class", retry.Classify(err).String(),
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "conversion successful",
			"tool", tool,
			"id", id,
			"duration_ms", duration.Milliseconds(),
		)
	}
}

// LogOverRelease logs a slot released more often than taken.
func (l *Logger) LogOverRelease(ctx context.Context, tool string, err error) {
	l.ErrorContext(ctx, "resource released without active conversion",
		"tool", tool,
		"error", err,
	)
}

// LogCircuitOpened logs a circuit transitioning to open.
func (l *Logger) LogCircuitOpened(ctx context.Context, tool string, cooldown time.Duration) {
	l.WarnContext(ctx, "circuit opened",
		"tool", tool,
		"cooldown", cooldown,
	)
}

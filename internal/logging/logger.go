// Package logging configures log/slog for the importer.
//
// HTTP handlers get loggers carrying chi's request id; background work
// (import jobs, webhook deliveries) gets loggers carrying its own ids so a
// single job can be followed across the API process and the workers.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// Setup configures the global slog logger based on level and format.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
func Setup(level, format string) {
	slog.SetDefault(New(os.Stdout, level, format))
}

// New builds a logger writing to w. Tests use it with a buffer.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FromContext returns the default logger, enriched with the chi request id
// when ctx carries one.
//
//	logger := logging.FromContext(r.Context())
//	logger.Info("import queued", "job_id", jobID)
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}

	return logger
}

// WithFields returns a request-scoped logger with additional fields.
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}

// ForJob returns the logger used by an import job for its whole run.
func ForJob(jobID string) *slog.Logger {
	return slog.Default().With("job_id", jobID)
}

// ForTask returns the logger used while a queue task is handled.
func ForTask(queue, kind, taskID string, attempt int) *slog.Logger {
	return slog.Default().With(
		"queue", queue,
		"task_kind", kind,
		"task_id", taskID,
		"attempt", attempt,
	)
}

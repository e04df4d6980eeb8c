// Package logging configures log/slog for the wizard binaries and derives
// scoped loggers from a request context.
//
// Request-scoped loggers carry chi's request id. Session controllers log
// through the base logger tagged with session_id, since a poller finishing
// minutes later belongs to no request.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// Setup installs the default logger on stdout.
//
// Level is one of debug, info, warn, error (default info); format is text
// or json (default text).
func Setup(level, format string) {
	slog.SetDefault(New(os.Stdout, level, format))
}

// New builds a logger writing to w. The CLI uses it to keep log output on
// stderr, away from the download locators it prints.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
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

// FromContext returns the default logger, tagged with request_id when ctx
// went through chi's RequestID middleware.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	return logger
}

// WithFields is FromContext plus extra attributes.
//
//	logger := logging.WithFields(ctx, "task_id", taskID, "stage", stage)
//	logger.Info("task started")
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}

// ForSession returns a request-scoped logger for session lifecycle events.
// Every entry carries session_id and flow.
func ForSession(ctx context.Context, sessionID, flow string) *slog.Logger {
	return WithFields(ctx, "session_id", sessionID, "flow", flow)
}

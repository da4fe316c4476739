// Package logging builds the process-wide [*slog.Logger] and carries it
// through request and job contexts.
//
// Environment variables:
//
//	LOG_LEVEL  = debug | info | warn | error  (default: info)
//	LOG_FORMAT = json | text                  (default: json)
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type contextKey struct{}

// Options selects the handler and threshold for a logger.
type Options struct {
	Level  string
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
}

// OptionsFromEnv reads LOG_LEVEL and LOG_FORMAT.
func OptionsFromEnv() Options {
	return Options{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
	}
}

// New constructs a logger from environment variables.
func New() *slog.Logger {
	return NewWithOptions(OptionsFromEnv())
}

// NewWithOptions constructs a logger writing JSON (or text, when Format is
// "text") at or above Level.
func NewWithOptions(o Options) *slog.Logger {
	out := o.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(o.Level)}

	var handler slog.Handler
	if strings.EqualFold(o.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler)
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// With returns a copy of ctx whose logger carries args on every record.
func With(ctx context.Context, args ...any) context.Context {
	return WithLogger(ctx, FromContext(ctx).With(args...))
}

// FromContext returns the logger stored in ctx, or [slog.Default].
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

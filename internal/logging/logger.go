package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Option configures the logger built by New.
type Option func(*options)

type options struct {
	w    io.Writer
	json bool
}

// WithWriter redirects output. Defaults to Stderr.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.w = w
	}
}

// WithJSON switches to the JSON handler, for log shippers.
func WithJSON() Option {
	return func(o *options) {
		o.json = true
	}
}

// New creates a configured application logger.
// It writes to Stderr (so stdout stays free for CLI output).
// It standardizes common keys (e.g., "error" -> "err").
func New(level slog.Level, opts ...Option) *slog.Logger {
	o := options{w: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	hopts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Standardize 'error' key to 'err'
			if a.Key == "error" {
				a.Key = "err"
			}
			return a
		},
	}
	if o.json {
		return slog.New(slog.NewJSONHandler(o.w, hopts))
	}
	return slog.New(slog.NewTextHandler(o.w, hopts))
}

// ParseLevel maps "debug", "info", "warn" and "error" to a level.
// Anything else is info.
func ParseLevel(s string) slog.Level {
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

// NewNop returns a no-op logger.
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

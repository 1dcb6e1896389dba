package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process logger. dev logs at debug with source locations.
// level, when set ("debug", "info", "warn", "error"), overrides the env default.
func NewLogger(env, level string) *slog.Logger {
	return newLogger(os.Stdout, env, level)
}

func newLogger(w io.Writer, env, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	if env == "dev" {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	}

	if level != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err == nil {
			opts.Level = l
		}
	}

	// trace ids are only present once a tracer provider is installed
	return slog.New(NewContextHandler(slog.NewJSONHandler(w, opts)))
}

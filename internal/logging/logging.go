// Package logging builds the process logger. Records go to the console, to
// the OpenTelemetry log bridge and optionally to a live log stream.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-dictation"

type Options struct {
	Level  string
	Format string
	// Stream receives every record as one JSON object per write, tagged
	// with "type":"log".
	Stream io.Writer
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// New creates a logger writing to w and to the global OpenTelemetry logger
// provider.
func New(w io.Writer, opts Options) *slog.Logger {
	level := ParseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{Level: level}

	var console slog.Handler
	if opts.Format == "json" {
		console = slog.NewJSONHandler(w, handlerOpts)
	} else {
		console = slog.NewTextHandler(w, handlerOpts)
	}

	handlers := []slog.Handler{
		console,
		// The bridge reports every level as enabled.
		slogmulti.Pipe(minLevel(level)).Handler(otelslog.NewHandler(scopeName)),
	}
	if opts.Stream != nil {
		stream := slog.NewJSONHandler(opts.Stream, handlerOpts).
			WithAttrs([]slog.Attr{slog.String("type", "log")})
		handlers = append(handlers, stream)
	}

	return slog.New(slogmulti.Fanout(handlers...))
}

func minLevel(level slog.Leveler) slogmulti.Middleware {
	return slogmulti.NewEnabledInlineMiddleware(func(ctx context.Context, l slog.Level, next func(context.Context, slog.Level) bool) bool {
		return l >= level.Level() && next(ctx, l)
	})
}

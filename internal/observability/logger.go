package observability

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// NewLogger returns a coloured text logger in dev and a JSON logger otherwise.
func NewLogger(env string, level slog.Level) *slog.Logger {
	return NewLoggerTo(os.Stdout, env, level)
}

// NewLoggerTo is NewLogger writing to w. Command-line tools pass stderr so
// logs stay out of their output.
func NewLoggerTo(w io.Writer, env string, level slog.Level) *slog.Logger {
	if env == "dev" {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      level,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})).With("app", "buoy-svr")
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})).With(
		"app", "buoy-svr",
		"env", env,
	)
}

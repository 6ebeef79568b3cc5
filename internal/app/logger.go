package app

import (
	"io"
	"log/slog"
)

// newLogger builds an isolated slog.Logger from the validated config values;
// it never touches the process-global logger. Level strings are the ones
// slog.Level itself understands (case-insensitive); anything else falls back
// to info, since config validation already rejected unknown levels.
func newLogger(levelStr, formatStr string, outW io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if formatStr == "json" {
		handler = slog.NewJSONHandler(outW, opts)
	} else {
		handler = slog.NewTextHandler(outW, opts)
	}
	return slog.New(handler)
}

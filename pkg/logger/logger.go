package logger

import (
	"io"
	"log/slog"
	"os"
)

// New returns a JSON logger on stdout. local and dev log at debug level.
func New(appEnv string) *slog.Logger {
	return NewWriter(appEnv, os.Stdout)
}

func NewWriter(appEnv string, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// logFileMaxSizeMB is the size at which the client log file rotates.
	logFileMaxSizeMB = 10

	// logFileMaxBackups is how many rotated log files are kept.
	logFileMaxBackups = 3

	// logFileMaxAgeDays is how long rotated log files are kept.
	logFileMaxAgeDays = 28
)

// NewLogger creates a structured logger appropriate for the environment.
// Production uses JSON format, development uses human-readable text.
func NewLogger(env string) *slog.Logger {
	return newLogger(env, os.Stdout)
}

// NewFileLogger is NewLogger writing to a size-rotated file instead of
// stdout. An empty path falls back to stdout. The returned closer
// releases the file.
func NewFileLogger(env, path string) (*slog.Logger, io.Closer) {
	if path == "" {
		return NewLogger(env), io.NopCloser(nil)
	}

	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    logFileMaxSizeMB,
		MaxBackups: logFileMaxBackups,
		MaxAge:     logFileMaxAgeDays,
	}

	return newLogger(env, w), w
}

func newLogger(env string, w io.Writer) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if env == "production" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

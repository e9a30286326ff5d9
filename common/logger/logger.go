package logger

import (
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Logger is the service-wide slog logger. Error attaches a stack trace.
type Logger struct {
	*slog.Logger
}

// New creates a logger writing to stdout
func New(level, format string) *Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter creates a logger writing to w. format is "json" or "text";
// text goes through tint and shows source locations at debug level.
func NewWithWriter(w io.Writer, level, format string) *Logger {
	lvl := ParseLevel(level)

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.TimeOnly,
			AddSource:  lvl <= slog.LevelDebug,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// With returns a logger carrying args on every record
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithAssetID scopes the logger to one ingestion run
func (l *Logger) WithAssetID(assetID string) *Logger {
	return l.With("asset_id", assetID)
}

// WithStage tags records with the pipeline stage that produced them
func (l *Logger) WithStage(stage string) *Logger {
	return l.With("stage", stage)
}

// WithPrincipal tags records with the authorized caller
func (l *Logger) WithPrincipal(principal string) *Logger {
	if principal == "" {
		return l
	}
	return l.With("principal", principal)
}

// Error logs at error level with the caller's stack
func (l *Logger) Error(msg string, args ...any) {
	args = append(args, "stack", string(debug.Stack()))
	l.Logger.Error(msg, args...)
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything else is info.
func ParseLevel(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

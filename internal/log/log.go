// Package log sets up the process-wide slog logger. Components take a
// *slog.Logger and tag it with "component"; this package only decides
// where output goes and at what level.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	logger *slog.Logger
	level  = new(slog.LevelVar)
	once   sync.Once
)

// ParseLevel maps debug, info, warn(ing) and error to a slog.Level.
// Anything else is info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Init installs the global logger on stdout. format is "json" or "text";
// empty picks json when GO_ENV=production. Later calls are no-ops.
func Init(levelName, format string) {
	once.Do(func() {
		if format == "" && os.Getenv("GO_ENV") == "production" {
			format = "json"
		}
		level.Set(ParseLevel(levelName))
		logger = newLogger(os.Stdout, level, format == "json")
		slog.SetDefault(logger)
	})
}

// New builds a standalone logger writing to w.
func New(w io.Writer, levelName string, json bool) *slog.Logger {
	return newLogger(w, ParseLevel(levelName), json)
}

func newLogger(w io.Writer, lv slog.Leveler, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: lv}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Level is the live level of the global logger. Setting it takes effect
// for every logger derived from L.
func Level() *slog.LevelVar {
	return level
}

// L returns the global logger, initializing it at info if needed.
func L() *slog.Logger {
	if logger == nil {
		Init("info", "")
	}
	return logger
}

// Component returns L tagged with name.
func Component(name string) *slog.Logger {
	return L().With("component", name)
}

func Info(msg string, args ...any) {
	L().Info(msg, args...)
}

func Error(msg string, args ...any) {
	L().Error(msg, args...)
}

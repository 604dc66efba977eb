// Package logging sets up the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// New returns a text logger writing to w at the given level
// ("debug", "info", "warn", "error"; default info).
func New(level string, w io.Writer) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(handler)
}

// FromEnv writes to stdout and, when LOG_PATH is set, also appends to that file.
func FromEnv(level string) *slog.Logger {
	logPath := os.Getenv("LOG_PATH")
	if logPath == "" {
		return New(level, os.Stdout)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		l := New(level, os.Stdout)
		l.Error("failed to open log file", "path", logPath, "err", err)
		return l
	}
	l := New(level, io.MultiWriter(os.Stdout, f))
	l.Info("logger initialized", "file", logPath)
	return l
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// BridgePaho routes paho's internal ERROR, CRITICAL and WARN output into l.
func BridgePaho(l *slog.Logger) {
	h := l.With("component", "paho").Handler()
	mqtt.ERROR = slog.NewLogLogger(h, slog.LevelError)
	mqtt.CRITICAL = slog.NewLogLogger(h, slog.LevelError)
	mqtt.WARN = slog.NewLogLogger(h, slog.LevelWarn)
}

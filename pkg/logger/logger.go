package logger

import (
	"log/slog"
	"os"
)

// New builds the daemon's JSON logger, tagged with the emitting service name.
// The level accepts slog's textual names ("debug", "info", "warn", "error"),
// so it can come straight from the environment; anything unrecognized falls
// back to info.
func New(service, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler).With("service", service)
}

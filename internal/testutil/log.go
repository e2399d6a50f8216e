package testutil

import (
	"log/slog"
	"os"
)

// NewLogger returns a slog.Logger suitable for test output: debug level
// under DEBUG=1, warn level otherwise so passing tests stay quiet.
func NewLogger() *slog.Logger {
	level := slog.LevelWarn
	if VerboseTest() {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

package agenttesting

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// NewLogger returns a logger for tests. DEBUG=1 turns on debug output,
// otherwise only errors are shown.
func NewLogger() *slog.Logger {
	logLevel := slog.LevelError
	if os.Getenv("DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevel,
		TimeFormat: time.RFC3339,
		AddSource:  true,
	}))
}

package logger

import (
	"log/slog"
	"os"
)

// New builds the process logger: JSON to stdout, debug level in dev, every
// record tagged with the service name so the bot's lines are filterable when
// several services share a log sink.
func New(env string) *slog.Logger {
	level := slog.LevelInfo
	if env == "dev" {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", "plazabot")
}

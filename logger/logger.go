package logger

import (
	"log/slog"
	"os"
)

// InitLogger installs the default logger.
// JSON handler writing to stdout.
func InitLogger() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
}

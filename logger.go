package recordstore

import (
	"log/slog"
	"os"
)

// ConfigureLogging installs a TextHandler on stderr as the default logger. The level comes from
// RECORDSTORE_LOG_LEVEL (DEBUG, INFO, WARN or ERROR) and is Info when unset or unrecognized.
func ConfigureLogging() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv("RECORDSTORE_LOG_LEVEL"))); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// ComponentLogger returns l (or the default logger when l is nil) tagged with a component name.
func ComponentLogger(l *slog.Logger, component string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", component)
}

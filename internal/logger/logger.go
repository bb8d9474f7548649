// Package logger holds the process-wide zap logger. Components log
// through logger.Log with snake_case event names and structured fields.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the shared logger. Init replaces it; until then it is a no-op
// so library consumers that never call Init stay silent.
var Log = zap.NewNop()

// Init configures the global logger. Level is one of "debug", "info",
// "warn", "error"; unknown values fall back to info.
func Init(level string) {
	lvl := zapcore.InfoLevel
	switch level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}

	l, err := cfg.Build()
	if err != nil {
		// Building a production config only fails on bad output paths.
		os.Stderr.WriteString("logger init failed: " + err.Error() + "\n")
		return
	}
	Log = l
}

// Sync flushes buffered log entries. Call on shutdown.
func Sync() {
	_ = Log.Sync()
}

// Package logging builds the application logger. The shell runs headless
// behind a desktop window, so logs go to a file in the XDG state directory
// in addition to stderr.
package logging

import (
	"fmt"
	"strings"

	"github.com/adrg/xdg"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build constructs the root logger at the given level. Component loggers
// are derived from it with Named.
func Build(level string) (*zap.Logger, error) {
	logPath, err := xdg.StateFile("attacca/attacca.log")
	if err != nil {
		return nil, fmt.Errorf("resolving log path: %w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.OutputPaths = []string{"stderr", logPath}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

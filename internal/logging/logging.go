// Package logging builds the process logger. Logs always go to stderr so
// stdout stays free for command output.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"geoweaver/internal/config"
)

// New builds a zap logger from cfg. verbose forces debug level.
func New(cfg config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	zc, err := Config(cfg, verbose)
	if err != nil {
		return nil, err
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// Config returns the zap configuration New would build.
func Config(cfg config.LoggingConfig, verbose bool) (zap.Config, error) {
	zc := zap.NewProductionConfig()
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	switch strings.ToLower(cfg.Format) {
	case "", "console":
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	case "json":
		zc.Encoding = "json"
	default:
		return zc, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return zc, fmt.Errorf("unknown log level %q", cfg.Level)
		}
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc, nil
}

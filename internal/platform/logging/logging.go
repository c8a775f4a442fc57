package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the library logger. Unknown levels fall back to info. The
// LOG_FORMAT=console escape hatch trades JSON for readable output during
// development.
func New(level, format string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(strings.ToLower(strings.TrimSpace(level))); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "json"
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		cfg.Encoding = "console"
	}
	cfg.EncoderConfig.TimeKey = "ts"
	return cfg.Build()
}

package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level       string // debug|info|warn|error
	Development bool   // console encoder with colour levels
	Service     string
}

// New builds a zap logger. Production loggers write JSON to stdout with ISO8601
// timestamps.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		l, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		level = l
	}

	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zc.OutputPaths = []string{"stdout"}
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	if cfg.Service != "" {
		zc.InitialFields = map[string]interface{}{"service": cfg.Service}
	}
	return zc.Build()
}

// Package logging constructs the single logr.Logger threaded through every
// worker constructor in this module. Nothing in pkg/ imports zap directly;
// everything takes a logr.Logger so the backend can be swapped without
// touching business logic.
package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls the root logger. Format and Level are loaded from YAML
// by internal/config.
type Config struct {
	Level  string // debug | info | warn | error
	Format string // json | console
}

func New(cfg Config) (logr.Logger, func() error, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	zl, err := zcfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return logr.Logger{}, nil, err
	}
	return zapr.NewLogger(zl), zl.Sync, nil
}

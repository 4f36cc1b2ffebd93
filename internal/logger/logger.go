package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the service logger. format is "json" (default) or
// "console" for local runs; an unknown level falls back to info.
func NewLogger(level, format string) (*zap.SugaredLogger, error) {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); level == "" || err != nil {
		lvl = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encoding := "json"
	if format == "console" {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	}
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := zap.Config{
		Level:             zap.NewAtomicLevelAt(lvl),
		Encoding:          encoding,
		EncoderConfig:     encCfg,
		DisableStacktrace: lvl > zapcore.DebugLevel,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		InitialFields:     map[string]interface{}{"service": "tenant-wallet"},
	}.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

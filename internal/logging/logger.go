package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the level and the optional rotating file sink.
type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewLogger returns a zap logger configured for structured production logging.
// When Options.File is set, entries are written to stderr and to a rotating file.
func NewLogger(options Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(options.Level))

	if strings.TrimSpace(options.File) == "" {
		return cfg.Build()
	}

	rotator := &lumberjack.Logger{
		Filename:   options.File,
		MaxSize:    options.MaxSizeMB,
		MaxBackups: options.MaxBackups,
		MaxAge:     options.MaxAgeDays,
		Compress:   true,
	}
	encoder := zapcore.NewJSONEncoder(cfg.EncoderConfig)
	sink := zapcore.NewMultiWriteSyncer(zapcore.Lock(os.Stderr), zapcore.AddSync(rotator))
	core := zapcore.NewCore(encoder, sink, cfg.Level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// ParseLevel maps a textual level to a zapcore level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "info", "":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

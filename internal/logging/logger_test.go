package logging

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	testCases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" INFO ":  zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
	}
	for input, want := range testCases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestNewLoggerWritesRotatingFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "convoy.log")

	logger, err := NewLogger(Options{Level: "info", File: logPath, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})
	if err != nil {
		t.Fatalf("unexpected logger error: %v", err)
	}
	logger.Info("convoy created")
	_ = logger.Sync()

	contents, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if len(contents) == 0 {
		t.Fatalf("expected log entry in %s", logPath)
	}
}

package logger

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"

	"veltrix/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q)=%v want=%v", raw, got, want)
		}
	}
}

func TestNewWritesToConfiguredOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log, err := New(config.LogConfig{Level: "debug", Encoding: "json", Output: path})
	if err != nil {
		t.Fatalf("New err=%v", err)
	}
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug level should be enabled")
	}
	log.Info("hello")
	_ = log.Sync()
}

package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"Warn":    slog.LevelWarn,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procwatch.log")
	l := Setup(Config{Level: "debug", File: path})
	l.Info("hello", "k", "v")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `"msg":"hello"`) || !strings.Contains(s, `"k":"v"`) {
		t.Fatalf("unexpected log content: %q", s)
	}
}

func TestSetupStderrDoesNotPanic(t *testing.T) {
	l := Setup(Config{Level: "warn"})
	l.Warn("colored")
	if !l.Enabled(nil, slog.LevelWarn) {
		t.Fatal("warn level should be enabled")
	}
	if l.Enabled(nil, slog.LevelDebug) {
		t.Fatal("debug should be disabled at warn level")
	}
}

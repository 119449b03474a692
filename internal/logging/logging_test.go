package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitWritesToOutput(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(Config{Level: slog.LevelInfo, Output: &buf}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	Debug("hidden")
	Info("log subscription added", "task_id", "42")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug line should be filtered at info level")
	}
	if !strings.Contains(out, "log subscription added") || !strings.Contains(out, "task_id=42") {
		t.Errorf("expected info line with attrs, got %q", out)
	}
}

func TestInitLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bridge.log")
	if err := Init(Config{Level: slog.LevelInfo, LogFile: path}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	Warn("status watcher fell back to polling")
	Flush(0)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "fell back to polling") {
		t.Errorf("expected warning in log file, got %q", data)
	}

	Init(Config{Level: slog.LevelInfo, Output: &bytes.Buffer{}})
}

func TestCapturePanicReturnsStack(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: slog.LevelInfo, Output: &buf})

	if got := CapturePanic(nil); got != "" {
		t.Errorf("expected empty stack for nil panic, got %q", got)
	}

	stack := CapturePanic("boom", "goroutine", "async")
	if !strings.Contains(stack, "goroutine") {
		t.Errorf("expected a goroutine stack, got %q", stack)
	}
	if !strings.Contains(buf.String(), "panic: boom") {
		t.Errorf("expected panic to be logged, got %q", buf.String())
	}
}

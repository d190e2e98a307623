package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesToFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "ponder.log")
	logger, err := New(Settings{Level: "info", Path: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Debug("hidden")
	logger.Info("session persisted")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "session persisted") {
		t.Fatalf("log = %q, want info entry", data)
	}
	if strings.Contains(string(data), "hidden") {
		t.Fatalf("log = %q, debug entry written at info level", data)
	}
}

func TestNewWithoutPathDiscards(t *testing.T) {
	t.Parallel()

	logger, err := New(Settings{Level: "not-a-level"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("nowhere")
}

func TestNewRejectsBadLevel(t *testing.T) {
	t.Parallel()

	if _, err := New(Settings{Level: "loud", Path: filepath.Join(t.TempDir(), "x.log")}); err == nil {
		t.Fatalf("New() error = nil, want level error")
	}
}

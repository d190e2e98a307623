// Package logging builds the zap logger. Output goes to a file so the
// terminal UI is never written over.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Settings selects level, destination and encoder flavour.
type Settings struct {
	Level string
	// Path is the log file. Empty discards all output.
	Path        string
	Development bool
}

// New builds a logger from settings.
func New(s Settings) (*zap.Logger, error) {
	if strings.TrimSpace(s.Path) == "" {
		return zap.NewNop(), nil
	}

	level, err := zapcore.ParseLevel(strings.TrimSpace(s.Level))
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	config := zap.NewProductionConfig()
	if s.Development {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(level)
	config.OutputPaths = []string{s.Path}
	config.ErrorOutputPaths = []string{s.Path}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

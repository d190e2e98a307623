package tui

import (
	"fmt"
	"strings"
)

// StatusModel renders the top status bar.
type StatusModel struct {
	Version  string
	Model    string
	Title    string
	Health   string
	State    string
	Unsynced int
}

// NewStatusModel constructs status data for rendering.
func NewStatusModel(version, model string) StatusModel {
	return StatusModel{
		Version: strings.TrimSpace(version),
		Model:   strings.TrimSpace(model),
		Health:  "unknown",
		State:   "idle",
	}
}

// SetState updates the runtime state token.
func (m *StatusModel) SetState(state string) {
	m.State = strings.TrimSpace(state)
	if m.State == "" {
		m.State = "idle"
	}
}

// Render draws a one-line status bar.
func (m StatusModel) Render(width int, theme Theme) string {
	parts := []string{
		"ponder " + fallbackText(m.Version, "dev"),
		fallbackText(m.Model, "unknown-model"),
		"session: " + fallbackText(m.Title, "new"),
		"backend: " + fallbackText(m.Health, "unknown"),
		"state: " + fallbackText(m.State, "idle"),
	}
	if m.Unsynced > 0 {
		parts = append(parts, fmt.Sprintf("unsaved: %d", m.Unsynced))
	}
	line := strings.Join(parts, " | ")
	style := theme.StatusBarStyle
	if width > 0 {
		style = style.Width(width)
	}
	return style.Render(line)
}

func fallbackText(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

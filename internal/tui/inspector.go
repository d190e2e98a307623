package tui

import (
	"fmt"
	"sort"
	"strings"

	"ponder/internal/chat"
)

const inspectorSessionRows = 8

// InspectorModel renders the side panel: recent sessions, token usage and
// the tools run in this conversation.
type InspectorModel struct {
	Current    chat.SessionID
	Sessions   []chat.SessionSummary
	Usage      chat.Usage
	Turns      int
	ToolCounts map[string]int
}

// NewInspectorModel constructs inspector defaults.
func NewInspectorModel() InspectorModel {
	return InspectorModel{ToolCounts: make(map[string]int)}
}

// SetSessions stores the latest session history snapshot.
func (m *InspectorModel) SetSessions(list []chat.SessionSummary) {
	m.Sessions = append([]chat.SessionSummary(nil), list...)
}

// AddUsage accumulates one exchange's token usage.
func (m *InspectorModel) AddUsage(usage chat.Usage) {
	m.Usage.InputTokens += usage.InputTokens
	m.Usage.OutputTokens += usage.OutputTokens
	m.Turns++
}

// CountTools recomputes tool counts from the conversation's tool results.
func (m *InspectorModel) CountTools(msgs []chat.Message) {
	clear(m.ToolCounts)
	for _, msg := range msgs {
		if msg.Role != chat.RoleToolResult || msg.Tool == nil {
			continue
		}
		m.ToolCounts[msg.Tool.ToolName]++
	}
}

// Render draws the inspector panel.
func (m InspectorModel) Render(width int, theme Theme) string {
	lines := []string{"Sessions:"}
	if len(m.Sessions) == 0 {
		lines = append(lines, theme.MutedStyle.Render("  none yet"))
	}
	for i, s := range m.Sessions {
		if i == inspectorSessionRows {
			lines = append(lines, theme.MutedStyle.Render(fmt.Sprintf("  +%d more", len(m.Sessions)-i)))
			break
		}
		label := fmt.Sprintf("  %s (%d)", fallbackText(s.Title, "untitled"), s.MessageCount)
		if s.ID == m.Current {
			label = theme.SelectedStyle.Render("* " + strings.TrimPrefix(label, "  "))
		}
		lines = append(lines, label)
	}

	lines = append(lines,
		"",
		fmt.Sprintf("Replies: %d", m.Turns),
		fmt.Sprintf("Tokens: %d in / %d out", m.Usage.InputTokens, m.Usage.OutputTokens),
		"Tools:",
	)
	if len(m.ToolCounts) == 0 {
		lines = append(lines, "  none")
	} else {
		names := make([]string, 0, len(m.ToolCounts))
		for name := range m.ToolCounts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			lines = append(lines, fmt.Sprintf("  %s (%d)", name, m.ToolCounts[name]))
		}
	}

	return renderPanel(width, theme.SidebarStyle, strings.Join(lines, "\n"))
}

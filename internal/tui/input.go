package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const inputCharLimit = 4000

// InputModel is the single-line message box.
type InputModel struct {
	field textinput.Model
}

// NewInputModel constructs the input state.
func NewInputModel(prompt, placeholder string) InputModel {
	p := strings.TrimSpace(prompt)
	if p == "" {
		p = ">"
	}
	field := textinput.New()
	field.Prompt = p + " "
	field.Placeholder = strings.TrimSpace(placeholder)
	field.CharLimit = inputCharLimit
	field.Focus()
	return InputModel{field: field}
}

// Value returns current raw input text.
func (m InputModel) Value() string {
	return m.field.Value()
}

// SetValue replaces input text and moves the cursor to its end.
func (m *InputModel) SetValue(value string) {
	m.field.SetValue(value)
	m.field.CursorEnd()
}

// Clear resets input text.
func (m *InputModel) Clear() {
	m.field.Reset()
}

// Update forwards an editing key to the text field.
func (m *InputModel) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	m.field, cmd = m.field.Update(msg)
	return cmd
}

// Render draws the input line.
func (m InputModel) Render(width int, theme Theme) string {
	field := m.field
	field.PromptStyle = theme.InputPromptStyle
	field.TextStyle = theme.InputTextStyle
	field.PlaceholderStyle = theme.InputPlaceholderTextStyle
	if width > 0 {
		field.Width = max(width-lipgloss.Width(field.Prompt)-1, 1)
		return lipgloss.NewStyle().Width(width).Render(field.View())
	}
	return field.View()
}

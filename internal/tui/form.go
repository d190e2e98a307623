package tui

import (
	"fmt"
	"strings"

	"ponder/internal/chat"
	"ponder/internal/tools"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// FormModel collects the values of one tool-input message.
type FormModel struct {
	ID         chat.MessageID
	Title      string
	fields     []tools.Field
	inputs     []textinput.Model
	errors     map[string]string
	focus      int
	submitting bool
}

// NewFormModel builds one text field per schema field, prefilled from the
// message's values.
func NewFormModel(msg chat.Message, schema tools.Schema) *FormModel {
	f := &FormModel{
		ID:     msg.ID,
		Title:  msg.Content,
		fields: append([]tools.Field(nil), schema.Fields...),
	}
	for _, field := range f.fields {
		in := textinput.New()
		in.Prompt = ""
		in.Placeholder = strings.TrimSpace(field.Description)
		if field.MaxLength != nil {
			in.CharLimit = *field.MaxLength
		}
		if msg.Input != nil {
			if v, ok := msg.Input.Values[field.Name]; ok && v != nil {
				in.SetValue(fmt.Sprint(v))
			}
		}
		f.inputs = append(f.inputs, in)
	}
	if msg.Input != nil {
		f.SetErrors(msg.Input.Errors)
	}
	f.setFocus(0)
	return f
}

// Values returns the raw field values keyed by field name.
func (f *FormModel) Values() map[string]any {
	out := make(map[string]any, len(f.fields))
	for i, field := range f.fields {
		out[field.Name] = f.inputs[i].Value()
	}
	return out
}

// SetErrors replaces the per-field validation messages.
func (f *FormModel) SetErrors(errs map[string]string) {
	f.errors = make(map[string]string, len(errs))
	for k, v := range errs {
		f.errors[k] = v
	}
}

// Next moves focus to the following field, wrapping.
func (f *FormModel) Next() {
	if len(f.inputs) == 0 {
		return
	}
	f.setFocus((f.focus + 1) % len(f.inputs))
}

// Prev moves focus to the previous field, wrapping.
func (f *FormModel) Prev() {
	if len(f.inputs) == 0 {
		return
	}
	f.setFocus((f.focus - 1 + len(f.inputs)) % len(f.inputs))
}

// OnLastField reports whether enter should submit rather than advance.
func (f *FormModel) OnLastField() bool {
	return f.focus >= len(f.inputs)-1
}

// Update forwards an editing key to the focused field.
func (f *FormModel) Update(msg tea.Msg) tea.Cmd {
	if len(f.inputs) == 0 {
		return nil
	}
	var cmd tea.Cmd
	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	return cmd
}

func (f *FormModel) setFocus(i int) {
	for j := range f.inputs {
		if j == i {
			f.inputs[j].Focus()
			f.inputs[j].CursorEnd()
		} else {
			f.inputs[j].Blur()
		}
	}
	f.focus = i
}

// Render draws the form panel.
func (f *FormModel) Render(width int, theme Theme) string {
	lines := []string{theme.SelectedStyle.Render(fallbackText(f.Title, "Tool input"))}
	for i, field := range f.fields {
		label := field.Label()
		if field.Required {
			label += " *"
		}
		if i == f.focus {
			label = theme.SelectedStyle.Render("> " + label)
		} else {
			label = "  " + label
		}
		lines = append(lines, label+": "+f.inputs[i].View())
		if msg, ok := f.errors[field.Name]; ok {
			lines = append(lines, "    "+theme.ErrorStyle.Render(msg))
		}
	}
	hint := "Tab: next field  Enter: run  Esc: cancel"
	if f.submitting {
		hint = "Running…"
	}
	lines = append(lines, theme.MutedStyle.Render(hint))
	return renderPanel(width, theme.PanelStyle, strings.Join(lines, "\n"))
}

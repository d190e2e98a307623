// Package tui is the terminal chat view over one agent conversation.
package tui

import (
	"context"
	"errors"
	"strings"

	"ponder/internal/agent"
	"ponder/internal/chat"
	"ponder/internal/slash"
	"ponder/internal/tools"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	defaultAppWidth         = 100
	defaultInspectorWidth   = 36
	minimumChatPanelWidth   = 40
	minimumInspectorVisible = 22
	eventBuffer             = 256
)

// AppConfig configures the root BubbleTea model.
type AppConfig struct {
	Version       string
	ThemeName     string
	ShowInspector bool
	Agent         *agent.Agent
	Conversation  *agent.Conversation
	// Pending is submitted once on start through the pending path, as when
	// the chat is opened to discuss a decision.
	Pending string
	// Context bounds every call the view makes into the conversation.
	Context context.Context
}

type eventMsg struct {
	Event chat.Event
}

type eventsClosedMsg struct{}

type inputDoneMsg struct {
	Text   string
	Result agent.InputResult
	Err    error
}

type pendingDoneMsg struct {
	Text    string
	Outcome agent.PendingOutcome
	Err     error
}

type formDoneMsg struct {
	ID  chat.MessageID
	Err error
}

// App is the root TUI model.
type App struct {
	theme         Theme
	showInspector bool
	ctx           context.Context

	agent   *agent.Agent
	conv    *agent.Conversation
	pending string

	events      <-chan chat.Event
	unsubscribe func()

	width  int
	height int

	status     StatusModel
	chat       ChatModel
	input      InputModel
	inspector  InspectorModel
	picker     *slash.Picker
	pickerOpen bool
	form       *FormModel
	notice     string
	noticeErr  bool
}

// NewApp constructs the root TUI model and subscribes it to agent events.
func NewApp(cfg AppConfig) *App {
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	m := &App{
		theme:         ResolveTheme(cfg.ThemeName),
		showInspector: cfg.ShowInspector,
		ctx:           ctx,
		agent:         cfg.Agent,
		conv:          cfg.Conversation,
		pending:       strings.TrimSpace(cfg.Pending),
		width:         defaultAppWidth,
		status:        NewStatusModel(cfg.Version, cfg.Agent.Model()),
		chat:          NewChatModel(0),
		input:         NewInputModel(">", "Ask about a decision, or type / for tools"),
		inspector:     NewInspectorModel(),
		picker:        slash.NewPicker(cfg.Agent.Tools().Commands()),
	}
	m.events, m.unsubscribe = cfg.Agent.Events().Subscribe(eventBuffer)
	m.status.Health = cfg.Agent.Health().String()
	m.inspector.SetSessions(cfg.Agent.Sessions().Summaries())
	m.refresh()
	return m
}

// Close detaches the view from agent events.
func (m *App) Close() {
	m.unsubscribe()
}

// Init starts listening for events, probes the backend and submits the
// pending message.
func (m *App) Init() tea.Cmd {
	a, ctx := m.agent, m.ctx
	cmds := []tea.Cmd{
		waitForEvent(m.events),
		func() tea.Msg {
			a.CheckHealth(ctx)
			return nil
		},
	}
	if m.pending != "" {
		cmds = append(cmds, m.submitPending(m.pending))
		m.pending = ""
	}
	return tea.Batch(cmds...)
}

func waitForEvent(events <-chan chat.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg{Event: ev}
	}
}

// Update applies state changes from user input and runtime events.
func (m *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chat.SetViewportHeight(m.chatViewportHeight())
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKey(msg)

	case eventMsg:
		m.applyEvent(msg.Event)
		return m, waitForEvent(m.events)

	case eventsClosedMsg:
		return m, nil

	case inputDoneMsg:
		m.refresh()
		if msg.Result.Form != nil {
			m.openForm(*msg.Result.Form)
		}
		m.reportSendError(msg.Text, msg.Err)
		return m, nil

	case pendingDoneMsg:
		m.refresh()
		switch msg.Outcome {
		case agent.PendingDraft:
			if strings.TrimSpace(m.input.Value()) == "" {
				m.input.SetValue(msg.Text)
			}
			m.setNotice("The model is unreachable. Your message is kept as a draft.", false)
		case agent.PendingDropped:
			if msg.Err == nil {
				m.setNotice("A reply is still streaming; the message was not sent.", false)
			}
		}
		if msg.Err != nil && !errors.Is(msg.Err, agent.ErrAborted) {
			m.setNotice(msg.Err.Error(), true)
		}
		return m, nil

	case formDoneMsg:
		m.refresh()
		var verr *tools.ValidationError
		if errors.As(msg.Err, &verr) {
			if m.form != nil && m.form.ID == msg.ID {
				m.form.submitting = false
				m.form.SetErrors(verr.Fields)
			}
			return m, nil
		}
		if m.form != nil && m.form.ID == msg.ID {
			m.form = nil
		}
		if msg.Err != nil && !errors.Is(msg.Err, agent.ErrAborted) {
			m.setNotice(msg.Err.Error(), true)
		}
		return m, nil
	}

	return m, nil
}

func (m *App) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c":
		if m.conv.Cancel() {
			m.setNotice("Stopped.", false)
			return nil
		}
		return tea.Quit
	}

	if m.form != nil {
		return m.handleFormKey(msg)
	}

	switch msg.Type {
	case tea.KeyEsc:
		if m.conv.Cancel() {
			m.setNotice("Stopped.", false)
			return nil
		}
		if m.pickerOpen {
			m.input.SetValue(m.picker.Escape(m.input.Value()))
			m.pickerOpen = false
		}
		return nil
	case tea.KeyEnter:
		if m.pickerOpen {
			if completion, ok := m.picker.Autocomplete(); ok {
				m.pickerOpen = false
				m.input.Clear()
				return m.submit(completion)
			}
		}
		text := m.input.Value()
		return m.submit(text)
	case tea.KeyTab:
		if m.pickerOpen {
			if completion, ok := m.picker.Autocomplete(); ok {
				m.input.SetValue(completion)
				m.syncPicker()
			}
		}
		return nil
	case tea.KeyUp:
		if m.pickerOpen {
			m.picker.Up()
		} else {
			m.chat.ScrollUp(1)
		}
		return nil
	case tea.KeyDown:
		if m.pickerOpen {
			m.picker.Down()
		} else {
			m.chat.ScrollDown(1)
		}
		return nil
	case tea.KeyPgUp:
		m.chat.PageUp()
		return nil
	case tea.KeyPgDown:
		m.chat.PageDown()
		return nil
	case tea.KeyHome:
		m.chat.ScrollToTop()
		return nil
	case tea.KeyEnd:
		m.chat.ScrollToBottom()
		return nil
	}

	cmd := m.input.Update(msg)
	m.syncPicker()
	return cmd
}

func (m *App) syncPicker() {
	m.pickerOpen = m.picker.Update(m.input.Value(), m.agent.Tools().Shortcuts())
}

func (m *App) handleFormKey(msg tea.KeyMsg) tea.Cmd {
	f := m.form
	if f.submitting {
		return nil
	}
	switch msg.Type {
	case tea.KeyEsc:
		if err := m.conv.CancelToolInput(f.ID); err != nil {
			m.setNotice(err.Error(), true)
		}
		m.form = nil
		m.refresh()
		return nil
	case tea.KeyTab, tea.KeyDown:
		f.Next()
		return nil
	case tea.KeyShiftTab, tea.KeyUp:
		f.Prev()
		return nil
	case tea.KeyEnter:
		if !f.OnLastField() {
			f.Next()
			return nil
		}
		f.submitting = true
		id, values := f.ID, f.Values()
		conv, ctx := m.conv, m.ctx
		return func() tea.Msg {
			_, err := conv.SubmitToolInput(ctx, id, values)
			return formDoneMsg{ID: id, Err: err}
		}
	}
	return f.Update(msg)
}

// submit hands text to the conversation untrimmed: the space after a slash
// command is what makes it an exact match.
func (m *App) submit(text string) tea.Cmd {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if m.conv.Busy() && slash.Parse(text, nil).State == slash.StateNone {
		m.setNotice("A reply is still streaming. Press Esc to stop it.", false)
		return nil
	}
	m.input.Clear()
	m.pickerOpen = false
	m.clearNotice()

	conv, ctx := m.conv, m.ctx
	return func() tea.Msg {
		res, err := conv.HandleInput(ctx, text)
		return inputDoneMsg{Text: text, Result: res, Err: err}
	}
}

func (m *App) submitPending(text string) tea.Cmd {
	conv, ctx := m.conv, m.ctx
	return func() tea.Msg {
		outcome, err := conv.SubmitPending(ctx, text)
		return pendingDoneMsg{Text: text, Outcome: outcome, Err: err}
	}
}

func (m *App) reportSendError(text string, err error) {
	switch {
	case err == nil, errors.Is(err, agent.ErrAborted):
	case errors.Is(err, agent.ErrBackendUnavailable):
		if strings.TrimSpace(m.input.Value()) == "" {
			m.input.SetValue(text)
		}
		m.setNotice("The model is unreachable. Your message is kept as a draft.", true)
	case errors.Is(err, agent.ErrBusy):
		m.setNotice("A reply is still streaming. Press Esc to stop it.", false)
	default:
		m.setNotice(err.Error(), true)
	}
}

func (m *App) applyEvent(ev chat.Event) {
	switch ev.Type {
	case chat.EventBackendStatus:
		m.status.Health = ev.State
	case chat.EventSessionsRefreshed:
		m.inspector.SetSessions(ev.Sessions)
	case chat.EventUsage:
		if ev.Usage != nil && ev.SessionID == m.conv.ID() {
			m.inspector.AddUsage(*ev.Usage)
		}
	case chat.EventError:
		if ev.Err != nil && (ev.SessionID == "" || ev.SessionID == m.conv.ID()) {
			m.setNotice(ev.Err.Error(), true)
		}
	}
	m.refresh()
}

// refresh redraws everything derived from the conversation.
func (m *App) refresh() {
	msgs := m.conv.Messages()
	m.chat.SetMessages(msgs)
	m.inspector.CountTools(msgs)
	m.inspector.Current = m.conv.ID()

	session := m.conv.Session()
	m.status.Title = session.Title
	m.status.SetState(string(m.conv.State()))
	m.status.Unsynced = m.conv.Unsynced()

	if m.form != nil && !m.form.submitting {
		if form, ok := m.conv.OpenForm(); !ok || form.ID != m.form.ID {
			m.form = nil
		}
	}
	if m.form == nil {
		if form, ok := m.conv.OpenForm(); ok {
			m.openForm(form)
		}
	}
}

func (m *App) openForm(msg chat.Message) {
	if m.form != nil && m.form.ID == msg.ID {
		return
	}
	if msg.Input == nil {
		return
	}
	tool, err := m.agent.Tools().Get(msg.Input.ToolID)
	if err != nil {
		m.setNotice(err.Error(), true)
		return
	}
	m.form = NewFormModel(msg, tool.Schema())
}

func (m *App) setNotice(text string, isErr bool) {
	m.notice = strings.TrimSpace(text)
	m.noticeErr = isErr
}

func (m *App) clearNotice() {
	m.notice = ""
	m.noticeErr = false
}

// View renders status bar, chat, optional inspector, picker or form, and input line.
func (m *App) View() string {
	width := m.width
	if width <= 0 {
		width = defaultAppWidth
	}

	sections := []string{m.status.Render(width, m.theme), m.renderBody(width)}
	switch {
	case m.form != nil:
		sections = append(sections, m.form.Render(width, m.theme))
	case m.pickerOpen:
		sections = append(sections, m.renderPicker(width))
	}
	if m.notice != "" {
		style := m.theme.MutedStyle
		if m.noticeErr {
			style = m.theme.ErrorStyle
		}
		sections = append(sections, style.Render(m.notice))
	}
	sections = append(sections, m.input.Render(width, m.theme))
	return strings.Join(sections, "\n")
}

func (m *App) renderPicker(width int) string {
	candidates := m.picker.Candidates()
	lines := make([]string, 0, len(candidates)+1)
	for i, cmd := range candidates {
		line := slash.Completion(cmd) + " " + m.theme.MutedStyle.Render(cmd.Description)
		if i == m.picker.Index() {
			line = m.theme.SelectedStyle.Render("> ") + line
		} else {
			line = "  " + line
		}
		lines = append(lines, line)
	}
	lines = append(lines, m.theme.MutedStyle.Render("↑/↓ choose  Tab: complete  Enter: run  Esc: close"))
	return renderPanel(width, m.theme.PanelStyle, strings.Join(lines, "\n"))
}

func (m *App) renderBody(width int) string {
	m.chat.SetViewportHeight(m.chatViewportHeight())
	if !m.showInspector {
		return m.chat.Render(width, m.theme)
	}

	inspectorWidth := defaultInspectorWidth
	if width/3 < inspectorWidth {
		inspectorWidth = width / 3
	}
	if inspectorWidth < minimumInspectorVisible {
		inspectorWidth = minimumInspectorVisible
	}

	chatWidth := width - inspectorWidth - 1
	if chatWidth < minimumChatPanelWidth {
		chatWidth = minimumChatPanelWidth
		inspectorWidth = width - chatWidth - 1
		if inspectorWidth < 0 {
			inspectorWidth = 0
		}
	}

	chatView := m.chat.Render(chatWidth, m.theme)
	if inspectorWidth <= 0 {
		return chatView
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, chatView, m.inspector.Render(inspectorWidth, m.theme))
}

func (m *App) chatViewportHeight() int {
	if m.height <= 0 {
		return 0
	}

	nonBodyRows := 2 // status + input
	if m.notice != "" {
		nonBodyRows++
	}
	bodyHeight := m.height - nonBodyRows
	if bodyHeight < 1 {
		return 1
	}

	contentHeight := bodyHeight - m.theme.PanelStyle.GetVerticalFrameSize()
	if contentHeight < 1 {
		return 1
	}
	return contentHeight
}

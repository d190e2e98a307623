package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ponder/internal/agent"
	"ponder/internal/chat"
	"ponder/internal/journal"
	mockprovider "ponder/internal/llm/providers/mock"
	"ponder/internal/prompt"
	"ponder/internal/sessions"
	"ponder/internal/store/memory"
	"ponder/internal/tools"

	tea "github.com/charmbracelet/bubbletea"
)

type harness struct {
	app   *App
	conv  *agent.Conversation
	store *memory.Store
}

func newHarness(t *testing.T, backend *mockprovider.Provider, opts agent.OpenOptions) *harness {
	t.Helper()

	st := memory.New()
	events := chat.NewBroadcaster()
	mgr, err := sessions.New(sessions.Config{Store: st, Events: events, RefreshWindow: time.Millisecond})
	if err != nil {
		t.Fatalf("sessions.New() error = %v", err)
	}
	reg, err := tools.NewBuiltinRegistry(nil)
	if err != nil {
		t.Fatalf("NewBuiltinRegistry() error = %v", err)
	}
	asm, err := prompt.New(prompt.Config{Journal: st})
	if err != nil {
		t.Fatalf("prompt.New() error = %v", err)
	}
	err = st.SaveDecision(context.Background(), journal.Decision{
		ID:      "job",
		Problem: "Take the Berlin job?",
		Alternatives: []journal.Alternative{
			{Text: "Accept", Chosen: true},
			{Text: "Decline"},
		},
		Confidence: 7,
		CreatedAt:  time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("SaveDecision() error = %v", err)
	}

	a, err := agent.New(agent.Config{
		Backend:            backend,
		Sessions:           mgr,
		Messages:           st,
		Journal:            st,
		Assembler:          asm,
		Tools:              reg,
		Events:             events,
		Model:              "test-model",
		StabilizationDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("agent.New() error = %v", err)
	}
	conv, err := a.Open(context.Background(), opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	app := NewApp(AppConfig{Agent: a, Conversation: conv, ShowInspector: true})
	t.Cleanup(func() {
		app.Close()
		conv.Close()
		a.Close()
		events.Close()
	})
	return &harness{app: app, conv: conv, store: st}
}

func (h *harness) typeText(text string) {
	_, _ = h.app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
}

// press sends one key and runs the command it returns, if any, feeding the
// resulting message back into the app.
func (h *harness) press(t *testing.T, key tea.KeyType) {
	t.Helper()
	_, cmd := h.app.Update(tea.KeyMsg{Type: key})
	if cmd == nil {
		return
	}
	_, _ = h.app.Update(cmd())
}

func TestAppSubmitStreamsReply(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &mockprovider.Provider{Events: mockprovider.Text("Hel", "lo")}, agent.OpenOptions{})

	h.typeText("Should I move?")
	if got := h.app.input.Value(); got != "Should I move?" {
		t.Fatalf("input value = %q", got)
	}
	h.press(t, tea.KeyEnter)

	messages := h.app.chat.Messages()
	if len(messages) != 2 {
		t.Fatalf("chat messages = %d, want 2", len(messages))
	}
	if messages[0].Role != "user" || messages[0].Content != "Should I move?" {
		t.Fatalf("first chat message = %#v", messages[0])
	}
	if messages[1].Role != "assistant" || messages[1].Content != "Hello" {
		t.Fatalf("second chat message = %#v", messages[1])
	}
	if got := h.app.input.Value(); got != "" {
		t.Fatalf("input not cleared: %q", got)
	}
	if got := h.app.status.Title; got != "Should I move?" {
		t.Fatalf("status title = %q", got)
	}
	if got := h.app.status.State; got != "idle" {
		t.Fatalf("status state = %q, want idle", got)
	}
	if got := h.app.inspector.Current; got != h.conv.ID() || got.Provisional() {
		t.Fatalf("inspector current = %q, conversation = %q", got, h.conv.ID())
	}
}

func TestAppKeepsDraftWhenBackendUnreachable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &mockprovider.Provider{PingErr: errors.New("offline")}, agent.OpenOptions{})

	h.typeText("hello")
	h.press(t, tea.KeyEnter)

	if got := h.app.input.Value(); got != "hello" {
		t.Fatalf("input value = %q, want draft restored", got)
	}
	if !h.app.noticeErr || !strings.Contains(h.app.notice, "unreachable") {
		t.Fatalf("notice = %q (err %v)", h.app.notice, h.app.noticeErr)
	}
	if len(h.app.chat.Messages()) != 0 {
		t.Fatalf("chat shows messages for an unsent draft")
	}
}

func TestAppPendingMessageBecomesDraft(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &mockprovider.Provider{PingErr: errors.New("offline")}, agent.OpenOptions{})

	msg := h.app.submitPending("Discuss the Berlin job")()
	_, _ = h.app.Update(msg)

	done, ok := msg.(pendingDoneMsg)
	if !ok || done.Outcome != agent.PendingDraft {
		t.Fatalf("pending result = %#v, want draft", msg)
	}
	if got := h.app.input.Value(); got != "Discuss the Berlin job" {
		t.Fatalf("input value = %q", got)
	}
}

func TestAppPickerNavigatesAndCompletes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &mockprovider.Provider{}, agent.OpenOptions{})

	h.typeText("/pa")
	if !h.app.pickerOpen {
		t.Fatalf("picker closed for partial command")
	}
	candidates := h.app.picker.Candidates()
	if len(candidates) != 2 || candidates[0].ID != "patterns" || candidates[1].ID != "similar" {
		t.Fatalf("candidates = %+v", candidates)
	}
	if !strings.Contains(h.app.View(), "/pattern ") {
		t.Fatalf("view does not list candidates:\n%s", h.app.View())
	}

	_, _ = h.app.Update(tea.KeyMsg{Type: tea.KeyDown})
	_, _ = h.app.Update(tea.KeyMsg{Type: tea.KeyTab})
	if got := h.app.input.Value(); got != "/similar " {
		t.Fatalf("input after tab = %q", got)
	}
	if h.app.pickerOpen {
		t.Fatalf("picker still open after completing an exact command")
	}
}

func TestAppEscapeClearsUnfinishedCommand(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &mockprovider.Provider{}, agent.OpenOptions{})

	h.typeText("/bi")
	_, _ = h.app.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if h.app.pickerOpen {
		t.Fatalf("picker open after esc")
	}
	if got := h.app.input.Value(); got != "" {
		t.Fatalf("input after esc = %q, want empty", got)
	}
}

func TestAppToolFormLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &mockprovider.Provider{PingErr: errors.New("offline")}, agent.OpenOptions{
		DecisionIDs: []journal.DecisionID{"job"},
	})

	h.typeText("/matrix ")
	h.press(t, tea.KeyEnter)
	if h.app.form == nil {
		t.Fatalf("form not opened")
	}
	if !strings.Contains(h.app.View(), "Criterion") {
		t.Fatalf("form view missing field:\n%s", h.app.View())
	}

	// Submit with the weight left empty.
	h.typeText("Salary")
	h.press(t, tea.KeyEnter)
	h.press(t, tea.KeyEnter)
	if h.app.form == nil {
		t.Fatalf("form closed after invalid submission")
	}
	if h.app.form.submitting {
		t.Fatalf("form still submitting after validation error")
	}
	if h.app.form.errors["weight"] == "" {
		t.Fatalf("form errors = %v", h.app.form.errors)
	}

	h.typeText("8")
	h.press(t, tea.KeyEnter)
	if h.app.form != nil {
		t.Fatalf("form still open after successful submission")
	}
	messages := h.app.chat.Messages()
	if len(messages) != 1 || messages[0].Role != "tool" || !strings.HasPrefix(messages[0].Content, "Weigh criterion:") {
		t.Fatalf("chat messages = %#v", messages)
	}
	if got := h.app.inspector.ToolCounts["Weigh criterion"]; got != 1 {
		t.Fatalf("tool count = %d, want 1", got)
	}
}

func TestAppCancelToolForm(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &mockprovider.Provider{PingErr: errors.New("offline")}, agent.OpenOptions{})

	h.typeText("/similar moving abroad")
	h.press(t, tea.KeyEnter)
	if h.app.form == nil {
		t.Fatalf("form not opened")
	}
	if got := h.app.form.Values()["query"]; got != "moving abroad" {
		t.Fatalf("prefilled query = %v", got)
	}

	_, _ = h.app.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if h.app.form != nil {
		t.Fatalf("form open after esc")
	}
	if _, ok := h.conv.OpenForm(); ok {
		t.Fatalf("conversation still holds the form")
	}
}

func TestAppEscapeCancelsStreamingReply(t *testing.T) {
	t.Parallel()

	hold := make(chan struct{})
	backend := &mockprovider.Provider{Events: mockprovider.Text("partial ", "rest"), Hold: hold, HoldAfter: 1}
	h := newHarness(t, backend, agent.OpenOptions{})
	t.Cleanup(func() { close(hold) })

	h.typeText("Should I move?")
	_, cmd := h.app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	done := make(chan tea.Msg, 1)
	go func() { done <- cmd() }()

	deadline := time.Now().Add(2 * time.Second)
	for !h.conv.Busy() || !hasAssistantText(h.conv.Messages(), "partial ") {
		if time.Now().After(deadline) {
			t.Fatalf("reply never started streaming")
		}
		time.Sleep(10 * time.Millisecond)
	}

	h.typeText("again")
	_, _ = h.app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if !strings.Contains(h.app.notice, "still streaming") {
		t.Fatalf("notice = %q, want busy notice", h.app.notice)
	}

	_, _ = h.app.Update(tea.KeyMsg{Type: tea.KeyEsc})
	_, _ = h.app.Update(<-done)
	if got := h.conv.State(); got != agent.StateAborted {
		t.Fatalf("State() = %s, want aborted", got)
	}
	if h.app.noticeErr {
		t.Fatalf("cancel reported as error: %q", h.app.notice)
	}
}

func hasAssistantText(msgs []chat.Message, text string) bool {
	for _, msg := range msgs {
		if msg.Role == chat.RoleAssistant && msg.Content == text {
			return true
		}
	}
	return false
}

func TestAppAppliesBackendAndSessionEvents(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &mockprovider.Provider{}, agent.OpenOptions{})

	_, _ = h.app.Update(eventMsg{Event: chat.Event{Type: chat.EventBackendStatus, State: "unreachable"}})
	if got := h.app.status.Health; got != "unreachable" {
		t.Fatalf("status health = %q", got)
	}

	_, _ = h.app.Update(eventMsg{Event: chat.Event{Type: chat.EventSessionsRefreshed, Sessions: []chat.SessionSummary{
		{ID: "a", Title: "Berlin job", MessageCount: 4},
	}}})
	if !strings.Contains(h.app.View(), "Berlin job (4)") {
		t.Fatalf("view missing session list:\n%s", h.app.View())
	}

	_, _ = h.app.Update(eventMsg{Event: chat.Event{Type: chat.EventError, SessionID: "other", Err: errors.New("elsewhere")}})
	if h.app.notice != "" {
		t.Fatalf("error from another session shown: %q", h.app.notice)
	}
}

package tui

import (
	"fmt"
	"strings"
	"testing"

	"ponder/internal/chat"
)

func textMessages(n int) []chat.Message {
	msgs := make([]chat.Message, 0, n)
	for i := 1; i <= n; i++ {
		msgs = append(msgs, chat.Message{Role: chat.RoleUser, Content: fmt.Sprintf("m%d", i)})
	}
	return msgs
}

func TestChatModelRenderUsesViewportAndScroll(t *testing.T) {
	t.Parallel()

	model := NewChatModel(0)
	model.SetViewportHeight(3)
	theme := ResolveTheme("dark")

	model.SetMessages(textMessages(5))

	rendered := model.Render(80, theme)
	if strings.Contains(rendered, "m1") || strings.Contains(rendered, "m2") {
		t.Fatalf("expected initial render at bottom, got %q", rendered)
	}
	if !strings.Contains(rendered, "m3") || !strings.Contains(rendered, "m5") {
		t.Fatalf("expected bottom window to include m3..m5, got %q", rendered)
	}

	model.ScrollUp(2)
	rendered = model.Render(80, theme)
	if !strings.Contains(rendered, "m1") || !strings.Contains(rendered, "m3") {
		t.Fatalf("expected scrolled render to include m1..m3, got %q", rendered)
	}
	if strings.Contains(rendered, "m5") {
		t.Fatalf("expected scrolled render to exclude m5, got %q", rendered)
	}

	model.SetMessages(textMessages(6))
	rendered = model.Render(80, theme)
	if !strings.Contains(rendered, "m1") || strings.Contains(rendered, "m6") {
		t.Fatalf("new message moved a scrolled viewport, got %q", rendered)
	}
}

func TestChatModelSetMessagesMapsRoles(t *testing.T) {
	t.Parallel()

	model := NewChatModel(0)
	model.SetMessages([]chat.Message{
		{Role: chat.RoleUser, Content: " Should I move? "},
		{Role: chat.RoleToolInput, Content: "Weigh criterion"},
		{Role: chat.RoleToolResult, Content: "No obvious bias cues.", Tool: &chat.ToolExecution{ToolName: "Bias check"}},
		{Role: chat.RoleAssistant},
	})

	want := []ChatMessage{
		{Role: "user", Content: "Should I move?"},
		{Role: "tool", Content: "Bias check: No obvious bias cues."},
		{Role: "assistant", Content: "…"},
	}
	got := model.Messages()
	if len(got) != len(want) {
		t.Fatalf("messages = %#v, want %#v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message %d = %#v, want %#v", i, got[i], want[i])
		}
	}
}

func TestChatModelRetentionLimit(t *testing.T) {
	t.Parallel()

	model := NewChatModel(2)
	model.SetMessages(textMessages(4))

	got := model.Messages()
	if len(got) != 2 || got[0].Content != "m3" || got[1].Content != "m4" {
		t.Fatalf("messages = %#v, want m3,m4", got)
	}
}

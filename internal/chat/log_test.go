package chat

import (
	"strings"
	"testing"
)

func TestMessageLogUpsertReplacesInPlace(t *testing.T) {
	t.Parallel()

	log := NewMessageLog()
	user := Message{ID: "u1", Role: RoleUser, Content: "hello"}
	assistant := Message{ID: "a1", Role: RoleAssistant}

	if !log.Upsert(user) {
		t.Fatalf("first upsert of u1 should append")
	}
	if !log.Upsert(assistant) {
		t.Fatalf("first upsert of a1 should append")
	}

	chunks := []string{"Wh", "at is", " at stake", "?"}
	var buf strings.Builder
	for _, chunk := range chunks {
		buf.WriteString(chunk)
		assistant.Content = buf.String()
		if log.Upsert(assistant) {
			t.Fatalf("re-emitting a1 must not append")
		}
	}

	msgs := log.Messages()
	if len(msgs) != 2 {
		t.Fatalf("Messages() len = %d, want 2", len(msgs))
	}
	if msgs[0].ID != "u1" || msgs[1].ID != "a1" {
		t.Fatalf("unexpected order: %q, %q", msgs[0].ID, msgs[1].ID)
	}
	if msgs[1].Content != "What is at stake?" {
		t.Fatalf("assistant content = %q", msgs[1].Content)
	}
}

func TestMessageLogRemoveReindexes(t *testing.T) {
	t.Parallel()

	log := NewMessageLog(
		Message{ID: "a", Role: RoleUser},
		Message{ID: "b", Role: RoleToolInput},
		Message{ID: "c", Role: RoleAssistant},
	)

	if !log.Remove("b") {
		t.Fatalf("Remove(b) = false")
	}
	if log.Remove("b") {
		t.Fatalf("second Remove(b) should report false")
	}

	log.Upsert(Message{ID: "c", Role: RoleAssistant, Content: "updated"})
	msgs := log.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[1].ID != "c" || msgs[1].Content != "updated" {
		t.Fatalf("unexpected tail: %#v", msgs[1])
	}
}

func TestMessageLogReturnsDetachedCopies(t *testing.T) {
	t.Parallel()

	log := NewMessageLog(Message{
		ID:    "i1",
		Role:  RoleToolInput,
		Input: &ToolInput{ToolID: "weigh", Values: map[string]any{"weight": 3}},
	})

	got, ok := log.Get("i1")
	if !ok {
		t.Fatalf("Get(i1) missing")
	}
	got.Input.Values["weight"] = 9

	again, _ := log.Get("i1")
	if again.Input.Values["weight"] != 3 {
		t.Fatalf("mutating a copy leaked into the log: %#v", again.Input.Values)
	}
}

func TestRoleDurable(t *testing.T) {
	t.Parallel()

	cases := map[Role]bool{
		RoleUser:       true,
		RoleAssistant:  true,
		RoleToolResult: true,
		RoleToolInput:  false,
	}
	for role, want := range cases {
		if got := role.Durable(); got != want {
			t.Fatalf("%s.Durable() = %v, want %v", role, got, want)
		}
	}
}

func TestProvisionalID(t *testing.T) {
	t.Parallel()

	id := NewProvisionalID()
	if !id.Provisional() {
		t.Fatalf("%q should be provisional", id)
	}
	if SessionID("3f1c").Provisional() {
		t.Fatalf("durable id reported as provisional")
	}
}

func TestBroadcasterDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	events, unsubscribe := b.Subscribe(1)
	defer unsubscribe()

	b.Publish(Event{Type: EventStateChanged, State: "sending"})
	b.Publish(Event{Type: EventStateChanged, State: "idle"})

	got := <-events
	if got.State != "sending" {
		t.Fatalf("first event state = %q", got.State)
	}
	select {
	case ev := <-events:
		t.Fatalf("expected the second event to be dropped, got %#v", ev)
	default:
	}

	unsubscribe()
	if _, ok := <-events; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
}

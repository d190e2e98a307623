package chat

import (
	"encoding/json"
	"strings"
	"time"

	"ponder/internal/journal"

	"github.com/google/uuid"
)

// ProvisionalPrefix marks session ids that have not been written to the store.
const ProvisionalPrefix = "provisional:"

// SessionID identifies a chat session.
type SessionID string

// NewProvisionalID returns a fresh memory-only session id.
func NewProvisionalID() SessionID {
	return SessionID(ProvisionalPrefix + uuid.NewString())
}

// Provisional reports whether the id has never been persisted.
func (id SessionID) Provisional() bool {
	return strings.HasPrefix(string(id), ProvisionalPrefix)
}

// MessageID identifies one message within a session.
type MessageID string

// NewMessageID returns a fresh message id.
func NewMessageID() MessageID {
	return MessageID(uuid.NewString())
}

// Role identifies the author or kind of a message.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool-result"
	RoleToolInput  Role = "tool-input"
)

// Durable reports whether messages with this role may be written to the store.
func (r Role) Durable() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleToolResult:
		return true
	default:
		return false
	}
}

// Trigger records how a session was opened.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerAuto   Trigger = "auto"
)

// Session is the metadata record of one conversation.
type Session struct {
	ID          SessionID            `json:"id"`
	DecisionIDs []journal.DecisionID `json:"decision_ids,omitempty"`
	Title       string               `json:"title,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	Trigger     Trigger              `json:"trigger"`
}

// Clone returns a copy that shares no slices with s.
func (s Session) Clone() Session {
	cloned := s
	cloned.DecisionIDs = append([]journal.DecisionID(nil), s.DecisionIDs...)
	return cloned
}

// SessionSummary is one row of the session history list.
type SessionSummary struct {
	ID           SessionID `json:"id"`
	Title        string    `json:"title"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview,omitempty"`
}

// ToolExecution is the payload of a tool-result message.
type ToolExecution struct {
	ToolID   string          `json:"tool_id"`
	ToolName string          `json:"tool_name"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// InputStatus is the lifecycle of a pending tool-input request.
type InputStatus string

const (
	InputPending   InputStatus = "pending"
	InputSubmitted InputStatus = "submitted"
	InputCancelled InputStatus = "cancelled"
)

// ToolInput is the payload of an ephemeral tool-input message.
type ToolInput struct {
	ToolID string            `json:"tool_id"`
	Values map[string]any    `json:"values,omitempty"`
	Status InputStatus       `json:"status"`
	Errors map[string]string `json:"errors,omitempty"`
}

// Message is one entry of a conversation.
type Message struct {
	ID        MessageID      `json:"id"`
	SessionID SessionID      `json:"session_id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
	Tool      *ToolExecution `json:"tool,omitempty"`
	Input     *ToolInput     `json:"input,omitempty"`
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	cloned := m
	if m.Tool != nil {
		tool := *m.Tool
		tool.Result = append(json.RawMessage(nil), m.Tool.Result...)
		cloned.Tool = &tool
	}
	if m.Input != nil {
		input := *m.Input
		if m.Input.Values != nil {
			input.Values = make(map[string]any, len(m.Input.Values))
			for key, value := range m.Input.Values {
				input.Values[key] = value
			}
		}
		if m.Input.Errors != nil {
			input.Errors = make(map[string]string, len(m.Input.Errors))
			for key, value := range m.Input.Errors {
				input.Errors[key] = value
			}
		}
		cloned.Input = &input
	}
	return cloned
}

// Package tools holds the decision tools that can be invoked from chat with a
// slash command, their input schemas and the registry that runs them.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"ponder/internal/chat"
	"ponder/internal/journal"
	"ponder/internal/slash"
)

var (
	ErrToolRequired          = errors.New("tool is required")
	ErrToolIDRequired        = errors.New("tool id is required")
	ErrToolAlreadyRegistered = errors.New("tool already registered")
	ErrToolNotFound          = errors.New("tool not found")
	ErrNoDecision            = errors.New("no decision to work with")
)

// ExecContext is everything a tool may read while executing.
type ExecContext struct {
	SessionID chat.SessionID
	// Anchor is the decision the conversation is about, if any.
	Anchor *journal.Decision
	// Decisions is the whole non-archived journal, newest first.
	Decisions []journal.Decision
	Values    map[string]any
}

// Subject returns the anchor, or the most recent decision when unanchored.
func (c ExecContext) Subject() (journal.Decision, error) {
	if c.Anchor != nil {
		return *c.Anchor, nil
	}
	if len(c.Decisions) > 0 {
		return c.Decisions[0], nil
	}
	return journal.Decision{}, ErrNoDecision
}

// Result carries structured output plus a rendered summary for the transcript.
type Result struct {
	Payload json.RawMessage
	Summary string
}

// Tool is the runtime contract for every built-in tool.
type Tool interface {
	ID() string
	Name() string
	Aliases() []string
	Description() string
	Schema() Schema
	Execute(ctx context.Context, exec ExecContext) (Result, error)
}

// Registry stores tools by id, in registration order.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry constructs a registry and registers initial tools.
func NewRegistry(initial ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(initial))}
	for _, tool := range initial {
		if err := r.Register(tool); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register inserts a tool by its id.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return ErrToolRequired
	}
	id := strings.TrimSpace(tool.ID())
	if id == "" {
		return ErrToolIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[id]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, id)
	}
	r.tools[id] = tool
	r.order = append(r.order, id)
	return nil
}

// Get returns a registered tool by id.
func (r *Registry) Get(id string) (Tool, error) {
	lookup := strings.TrimSpace(id)
	if lookup == "" {
		return nil, ErrToolIDRequired
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[lookup]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, lookup)
	}
	return tool, nil
}

// List returns every tool in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tools[id])
	}
	return out
}

// Commands describes the tools for the slash grammar.
func (r *Registry) Commands() []slash.Command {
	list := r.List()
	out := make([]slash.Command, 0, len(list))
	for _, tool := range list {
		out = append(out, slash.Command{
			ID:          tool.ID(),
			Name:        tool.Name(),
			Aliases:     append([]string(nil), tool.Aliases()...),
			Description: tool.Description(),
		})
	}
	return out
}

// Shortcuts returns the alias table for slash.Parse.
func (r *Registry) Shortcuts() slash.Shortcuts {
	return slash.NewShortcuts(r.Commands())
}

// Search returns the tools matching query, best first.
func (r *Registry) Search(query string) []Tool {
	matches := slash.Filter(r.Commands(), query)
	out := make([]Tool, 0, len(matches))
	for _, cmd := range matches {
		if tool, err := r.Get(cmd.ID); err == nil {
			out = append(out, tool)
		}
	}
	return out
}

// Execute validates exec.Values against the tool schema and runs it. Invalid
// input returns a *ValidationError and the tool is not called.
func (r *Registry) Execute(ctx context.Context, id string, exec ExecContext) (Result, error) {
	tool, err := r.Get(id)
	if err != nil {
		return Result{}, err
	}
	values, err := tool.Schema().Validate(exec.Values)
	if err != nil {
		return Result{}, err
	}
	exec.Values = values
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	result, err := tool.Execute(ctx, exec)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", id, err)
	}
	return result, nil
}

package agent

import (
	"context"
	"errors"
	"fmt"

	"ponder/internal/chat"
	"ponder/internal/journal"
	"ponder/internal/slash"
	"ponder/internal/tools"

	"go.uber.org/zap"
)

// InputResult describes how HandleInput routed one line of input.
type InputResult struct {
	Parsed slash.Parsed
	// Form is the tool-input message opened for a tool that needs values.
	Form *chat.Message
	// Result is the tool-result message of an immediate execution.
	Result *chat.Message
}

// HandleInput routes a submitted input line: plain text is sent, an exact
// slash command runs its tool, a partial command is left for the picker.
func (c *Conversation) HandleInput(ctx context.Context, text string) (InputResult, error) {
	parsed := slash.Parse(text, c.agent.shortcuts)
	res := InputResult{Parsed: parsed}

	switch parsed.State {
	case slash.StateNone:
		return res, c.Send(ctx, text)
	case slash.StateTrigger, slash.StatePartial:
		return res, nil
	case slash.StateExactMatch:
		msg, err := c.RunTool(ctx, parsed.CommandID, parsed.Args)
		if err != nil {
			return res, err
		}
		if msg.Role == chat.RoleToolInput {
			res.Form = &msg
		} else {
			res.Result = &msg
		}
		return res, nil
	default:
		err := fmt.Errorf("%w: /%s", ErrUnknownCommand, parsed.Prefix)
		c.publishError(err)
		return res, err
	}
}

// Suggestions returns the tools matching a partial command, best first.
func (c *Conversation) Suggestions(query string) []slash.Command {
	return slash.Filter(c.agent.tools.Commands(), query)
}

// RunTool executes a tool at once when it needs no input, returning its
// tool-result message. Otherwise it opens a tool-input form, prefilling the
// first field with args, and returns the form message.
func (c *Conversation) RunTool(ctx context.Context, id, args string) (chat.Message, error) {
	tool, err := c.agent.tools.Get(id)
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: %v", ErrUnknownCommand, err)
	}
	schema := tool.Schema()
	if !schema.NeedsInput() {
		return c.execute(ctx, tool, nil, "")
	}

	values := map[string]any{}
	if args != "" && len(schema.Fields) > 0 {
		values[schema.Fields[0].Name] = args
	}
	form := chat.Message{
		ID:        chat.NewMessageID(),
		SessionID: c.ID(),
		Role:      chat.RoleToolInput,
		Content:   tool.Name(),
		CreatedAt: c.agent.now(),
		Input:     &chat.ToolInput{ToolID: tool.ID(), Values: values, Status: chat.InputPending},
	}
	c.upsert(form)
	c.log.Debug("tool input requested", zap.String("tool_id", tool.ID()), zap.String("message_id", string(form.ID)))
	return form, nil
}

// SubmitToolInput validates the form values and runs the tool. Invalid values
// return a *tools.ValidationError and leave the form open with its errors set.
func (c *Conversation) SubmitToolInput(ctx context.Context, formID chat.MessageID, values map[string]any) (chat.Message, error) {
	form, ok := c.messages.Get(formID)
	if !ok || form.Role != chat.RoleToolInput || form.Input == nil {
		return chat.Message{}, fmt.Errorf("%w: %s", ErrUnknownToolInput, formID)
	}
	tool, err := c.agent.tools.Get(form.Input.ToolID)
	if err != nil {
		c.remove(formID)
		return chat.Message{}, fmt.Errorf("%w: %v", ErrToolFailed, err)
	}

	form.Input.Values = values
	if _, err := tool.Schema().Validate(values); err != nil {
		var verr *tools.ValidationError
		if errors.As(err, &verr) {
			form.Input.Errors = verr.Fields
		}
		c.upsert(form)
		return chat.Message{}, err
	}
	form.Input.Errors = nil
	form.Input.Status = chat.InputSubmitted
	c.upsert(form)

	return c.execute(ctx, tool, values, formID)
}

// CancelToolInput discards an open form.
func (c *Conversation) CancelToolInput(formID chat.MessageID) error {
	form, ok := c.messages.Get(formID)
	if !ok || form.Role != chat.RoleToolInput {
		return fmt.Errorf("%w: %s", ErrUnknownToolInput, formID)
	}
	c.remove(formID)
	return nil
}

// OpenForm returns the most recent tool-input message still pending.
func (c *Conversation) OpenForm() (chat.Message, bool) {
	msgs := c.messages.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chat.RoleToolInput && msgs[i].Input != nil && msgs[i].Input.Status == chat.InputPending {
			return msgs[i], true
		}
	}
	return chat.Message{}, false
}

// execute runs tool and records its result. formID, when set, is the form
// that collected values; it is removed whether or not the tool succeeds.
func (c *Conversation) execute(ctx context.Context, tool tools.Tool, values map[string]any, formID chat.MessageID) (chat.Message, error) {
	a := c.agent
	log := c.log.With(zap.String("tool_id", tool.ID()))

	exec := c.execContext(ctx, values)
	res, err := a.tools.Execute(ctx, tool.ID(), exec)
	if formID != "" {
		c.remove(formID)
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrToolFailed, err)
		log.Warn("tool failed", zap.Error(err))
		c.publishError(err)
		return chat.Message{}, err
	}

	sessionID, err := c.ensureDurable(ctx)
	if err != nil {
		c.publishError(err)
		return chat.Message{}, err
	}
	msg := chat.Message{
		ID:        chat.NewMessageID(),
		SessionID: sessionID,
		Role:      chat.RoleToolResult,
		Content:   res.Summary,
		CreatedAt: a.now(),
		Tool: &chat.ToolExecution{
			ToolID:   tool.ID(),
			ToolName: tool.Name(),
			Result:   res.Payload,
		},
	}
	c.upsert(msg)
	c.write(ctx, msg)
	log.Info("tool executed", zap.String("message_id", string(msg.ID)))

	if a.reachable(ctx) {
		prompt := fmt.Sprintf("I just ran %s. Help me make sense of the result.", tool.Name())
		err := c.Send(ctx, prompt)
		switch {
		case errors.Is(err, ErrBusy):
			// Send publishes nothing for ErrBusy.
			log.Warn("tool interpretation skipped, reply in flight")
			c.publishError(fmt.Errorf("%s result kept, not sent for interpretation: %w", tool.Name(), err))
		case err != nil && !errors.Is(err, ErrAborted):
			log.Warn("tool interpretation not sent", zap.Error(err))
		}
	}
	return msg, nil
}

func (c *Conversation) execContext(ctx context.Context, values map[string]any) tools.ExecContext {
	a := c.agent
	session := c.Session()
	exec := tools.ExecContext{SessionID: session.ID, Values: values}

	if len(session.DecisionIDs) > 0 {
		d, err := a.journal.GetDecision(ctx, session.DecisionIDs[0])
		if err != nil {
			c.log.Warn("anchored decision unavailable", zap.String("decision_id", string(session.DecisionIDs[0])), zap.Error(err))
		} else {
			exec.Anchor = &d
		}
	}
	decisions, err := a.journal.ListDecisions(ctx, journal.Filter{})
	if err != nil {
		c.log.Warn("list decisions failed", zap.Error(err))
	}
	exec.Decisions = decisions
	return exec
}

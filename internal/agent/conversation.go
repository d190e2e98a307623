package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"ponder/internal/chat"
	"ponder/internal/llm"
	"ponder/internal/llm/core"
	"ponder/internal/prompt"
	"ponder/internal/store"

	"go.uber.org/zap"
)

// exchange is one in-flight model reply. Its presence on a Conversation is
// the send lock.
type exchange struct {
	cancel    context.CancelFunc
	messageID chat.MessageID
	buf       strings.Builder
	aborted   bool
}

// Conversation is the state of one chat view. All mutations are serialized by
// mu; the model call itself runs without holding it.
type Conversation struct {
	agent *Agent
	log   *zap.Logger

	mu       sync.Mutex
	state    State
	session  chat.Session
	titled   bool
	messages *chat.MessageLog
	exchange *exchange
	unsynced []chat.Message
	closed   bool
}

func newConversation(a *Agent, session chat.Session, history []chat.Message) *Conversation {
	return &Conversation{
		agent:    a,
		log:      a.log.With(zap.String("session_id", string(session.ID))),
		state:    StateIdle,
		session:  session.Clone(),
		titled:   session.Title != "",
		messages: chat.NewMessageLog(history...),
	}
}

// Session returns the current session metadata.
func (c *Conversation) Session() chat.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Clone()
}

// ID returns the session id; it changes once when a provisional session is persisted.
func (c *Conversation) ID() chat.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.ID
}

// State returns the pipeline state.
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy reports whether an exchange holds the send lock.
func (c *Conversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exchange != nil
}

// Messages returns the in-memory transcript in display order.
func (c *Conversation) Messages() []chat.Message {
	return c.messages.Messages()
}

// Unsynced returns how many messages are waiting to be written to the store.
func (c *Conversation) Unsynced() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.unsynced)
}

// Send appends a user message and streams the assistant reply into the
// transcript. It blocks until the reply completes, fails or is cancelled.
func (c *Conversation) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	ex, runCtx, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer c.release(ex)

	if !c.agent.reachable(runCtx) {
		if c.isAborted(ex) {
			return ErrAborted
		}
		return ErrBackendUnavailable
	}
	return c.turn(runCtx, ex, text)
}

// Cancel aborts the in-flight exchange and releases the lock at once. It
// reports whether there was anything to cancel.
func (c *Conversation) Cancel() bool {
	c.mu.Lock()
	ex := c.exchange
	if ex == nil {
		c.mu.Unlock()
		return false
	}
	ex.aborted = true
	c.exchange = nil
	c.transitionLocked(StateAborted, StateSending)
	c.mu.Unlock()

	ex.cancel()
	c.log.Info("reply cancelled", zap.String("message_id", string(ex.messageID)))
	c.publishState(StateAborted)
	return true
}

// Close tears the view down: an empty provisional session is discarded and
// any pending summary refresh runs now. An in-flight exchange is left alone.
func (c *Conversation) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	id := c.session.ID
	c.mu.Unlock()

	mgr := c.agent.sessions
	if mgr.Active() == id {
		mgr.SetActive("")
	}
	if removed := mgr.CleanupAbandoned(); len(removed) > 0 {
		c.log.Debug("provisional sessions discarded", zap.Int("count", len(removed)))
	}
	mgr.Flush()
}

// transitionLocked is the single compare-and-set for state. c.mu must be held.
func (c *Conversation) transitionLocked(to State, from ...State) bool {
	for _, f := range from {
		if c.state == f {
			c.state = to
			return true
		}
	}
	return false
}

func (c *Conversation) begin(ctx context.Context) (*exchange, context.Context, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, ErrClosed
	}
	if c.exchange != nil || !c.state.Sendable() {
		c.mu.Unlock()
		return nil, nil, ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	ex := &exchange{cancel: cancel}
	c.exchange = ex
	c.transitionLocked(StateSending, StateIdle, StateAborted)
	c.mu.Unlock()

	c.publishState(StateSending)
	return ex, runCtx, nil
}

// release frees the lock if ex still holds it. A cancelled exchange already
// gave the lock up and may have been replaced by a newer one.
func (c *Conversation) release(ex *exchange) {
	ex.cancel()

	c.mu.Lock()
	if c.exchange != ex {
		c.mu.Unlock()
		return
	}
	c.exchange = nil
	c.transitionLocked(StateIdle, StateSending)
	c.mu.Unlock()

	c.publishState(StateIdle)
}

func (c *Conversation) isAborted(ex *exchange) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ex.aborted
}

func (c *Conversation) turn(ctx context.Context, ex *exchange, text string) error {
	a := c.agent

	user := chat.Message{
		ID:        chat.NewMessageID(),
		SessionID: c.ID(),
		Role:      chat.RoleUser,
		Content:   text,
		CreatedAt: a.now(),
	}
	c.upsert(user)
	a.sessions.NoteMessage(user.SessionID)

	sessionID, err := c.ensureDurable(ctx)
	if err != nil {
		if c.isAborted(ex) {
			return ErrAborted
		}
		c.publishError(err)
		return err
	}
	user.SessionID = sessionID
	c.write(ctx, user)
	c.ensureTitle(ctx, sessionID)

	if c.isAborted(ex) {
		return ErrAborted
	}

	placeholder := chat.Message{
		ID:        chat.NewMessageID(),
		SessionID: sessionID,
		Role:      chat.RoleAssistant,
		CreatedAt: a.now(),
	}
	c.mu.Lock()
	ex.messageID = placeholder.ID
	c.mu.Unlock()
	c.upsert(placeholder)

	built, err := a.assembler.Build(ctx, prompt.Input{
		Anchors:   c.Session().DecisionIDs,
		History:   c.history(placeholder.ID),
		Utterance: text,
	})
	if err != nil {
		c.remove(placeholder.ID)
		if c.isAborted(ex) {
			return ErrAborted
		}
		c.publishError(err)
		return err
	}
	if built.RecentFallback {
		c.log.Debug("context uses recent decisions", zap.Int("count", len(built.Related)))
	}

	stream, err := a.backend.Stream(ctx, a.request(built.System, built.Messages))
	if err != nil {
		c.remove(placeholder.ID)
		if c.isAborted(ex) {
			return ErrAborted
		}
		a.setHealth(HealthUnknown)
		err = fmt.Errorf("start reply: %w", err)
		c.publishError(err)
		return err
	}
	return c.consume(ctx, ex, placeholder, stream)
}

func (c *Conversation) consume(ctx context.Context, ex *exchange, placeholder chat.Message, stream <-chan llm.Event) error {
	a := c.agent
	var (
		streamErr error
		usage     llm.Usage
	)
	for ev := range stream {
		switch ev.Type {
		case llm.EventTextDelta:
			c.mu.Lock()
			if ex.aborted {
				c.mu.Unlock()
				continue
			}
			ex.buf.WriteString(ev.TextDelta)
			msg := placeholder
			msg.Content = ex.buf.String()
			c.messages.Upsert(msg)
			c.mu.Unlock()
			c.publish(chat.Event{Type: chat.EventMessageUpserted, SessionID: msg.SessionID, Message: &msg})
		case llm.EventUsage:
			if ev.Usage != nil {
				usage = *ev.Usage
			}
		case llm.EventDone:
			if ev.Done != nil {
				usage = ev.Done.Usage
			}
		case llm.EventError:
			streamErr = ev.Err
			if streamErr == nil {
				streamErr = errors.New("stream failed")
			}
		}
	}

	c.mu.Lock()
	aborted := ex.aborted
	content := ex.buf.String()
	c.mu.Unlock()

	// An exchange that produced no text leaves no assistant message behind.
	if content == "" {
		c.remove(placeholder.ID)
	}
	if aborted || (streamErr != nil && core.IsCanceled(streamErr)) {
		return ErrAborted
	}
	if streamErr != nil {
		a.setHealth(HealthUnknown)
		err := fmt.Errorf("stream reply: %w", streamErr)
		c.log.Warn("reply failed", zap.String("message_id", string(placeholder.ID)), zap.Error(streamErr))
		c.publishError(err)
		return err
	}

	if content == "" {
		return nil
	}
	final := placeholder
	final.Content = content
	final.CreatedAt = a.now()
	c.upsert(final)
	c.write(ctx, final)

	if err := a.sessions.Touch(ctx, final.SessionID); err != nil {
		c.log.Warn("touch session failed", zap.Error(err))
	}
	if usage.TokenCount() > 0 {
		c.publish(chat.Event{
			Type:      chat.EventUsage,
			SessionID: final.SessionID,
			Usage:     &chat.Usage{InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens},
		})
	}
	return nil
}

// ensureDurable persists a provisional session and rebinds the transcript.
func (c *Conversation) ensureDurable(ctx context.Context) (chat.SessionID, error) {
	id := c.ID()
	if !id.Provisional() {
		return id, nil
	}
	durable, err := c.agent.sessions.Persist(ctx, id)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	if c.session.ID == id {
		c.session.ID = durable
		c.messages.Rebind(durable)
	}
	c.mu.Unlock()
	return durable, nil
}

func (c *Conversation) ensureTitle(ctx context.Context, id chat.SessionID) {
	c.mu.Lock()
	titled := c.titled
	c.mu.Unlock()
	if titled {
		return
	}

	title, err := c.agent.sessions.GenerateTitle(ctx, id)
	if err != nil {
		c.log.Warn("generate title failed", zap.Error(err))
		return
	}
	c.mu.Lock()
	c.session.Title = title
	c.titled = true
	c.mu.Unlock()
}

// write persists msg after any earlier messages that failed to write. A
// failure is logged and the message is kept for the next attempt.
func (c *Conversation) write(ctx context.Context, msg chat.Message) {
	c.mu.Lock()
	queue := append(c.unsynced, msg)
	c.unsynced = nil
	c.mu.Unlock()

	for i, m := range queue {
		err := c.agent.messages.CreateMessage(ctx, m)
		if err == nil {
			continue
		}
		if errors.Is(err, store.ErrNotDurable) {
			c.log.Error("dropping ephemeral message", zap.String("message_id", string(m.ID)), zap.Error(err))
			continue
		}
		c.log.Warn("message write failed, will retry",
			zap.String("message_id", string(m.ID)),
			zap.Int("queued", len(queue)-i),
			zap.Error(err),
		)
		c.mu.Lock()
		c.unsynced = append(append([]chat.Message(nil), queue[i:]...), c.unsynced...)
		c.mu.Unlock()
		return
	}
}

// history is the transcript sent to the model: durable roles only, without
// the placeholder being streamed into.
func (c *Conversation) history(skip chat.MessageID) []chat.Message {
	all := c.messages.Messages()
	out := make([]chat.Message, 0, len(all))
	for _, msg := range all {
		if msg.ID == skip || !msg.Role.Durable() {
			continue
		}
		out = append(out, msg)
	}
	return out
}

func (c *Conversation) upsert(msg chat.Message) {
	c.messages.Upsert(msg)
	c.publish(chat.Event{Type: chat.EventMessageUpserted, SessionID: msg.SessionID, Message: &msg})
}

func (c *Conversation) remove(id chat.MessageID) {
	if c.messages.Remove(id) {
		c.publish(chat.Event{Type: chat.EventMessageRemoved, SessionID: c.ID(), MessageID: id})
	}
}

func (c *Conversation) publish(ev chat.Event) {
	c.agent.events.Publish(ev)
}

func (c *Conversation) publishState(s State) {
	c.publish(chat.Event{Type: chat.EventStateChanged, SessionID: c.ID(), State: string(s)})
}

func (c *Conversation) publishError(err error) {
	c.publish(chat.Event{Type: chat.EventError, SessionID: c.ID(), Err: err})
}

// Package agent runs conversations: the single-flight streaming send
// pipeline and the slash-command tool flow on top of it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"ponder/internal/chat"
	"ponder/internal/journal"
	"ponder/internal/llm"
	"ponder/internal/prompt"
	"ponder/internal/sessions"
	"ponder/internal/slash"
	"ponder/internal/store"
	"ponder/internal/tools"

	"go.uber.org/zap"
)

const (
	defaultMaxTokens             = 1024
	defaultPingTimeout           = 3 * time.Second
	defaultStabilizationDelay    = 150 * time.Millisecond
	defaultStabilizationAttempts = 3
)

var (
	// ErrBackendRequired indicates a missing inference backend.
	ErrBackendRequired = errors.New("backend is required")
	// ErrSessionsRequired indicates a missing session manager.
	ErrSessionsRequired = errors.New("session manager is required")
	// ErrMessagesRequired indicates a missing message store.
	ErrMessagesRequired = errors.New("message store is required")
	// ErrJournalRequired indicates a missing journal reader.
	ErrJournalRequired = errors.New("journal is required")
	// ErrAssemblerRequired indicates a missing context assembler.
	ErrAssemblerRequired = errors.New("context assembler is required")
	// ErrModelRequired indicates no model name was configured.
	ErrModelRequired = errors.New("model is required")

	// ErrEmptyMessage rejects blank utterances.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrBusy indicates an exchange is already in flight for the conversation.
	ErrBusy = errors.New("a reply is already streaming")
	// ErrBackendUnavailable indicates the inference backend cannot be reached.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrAborted indicates the exchange was cancelled by the user.
	ErrAborted = errors.New("reply cancelled")
	// ErrClosed indicates the conversation view was torn down.
	ErrClosed = errors.New("conversation closed")
	// ErrUnknownCommand indicates a slash command that resolves to no tool.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrUnknownToolInput indicates a submit or cancel for a missing form.
	ErrUnknownToolInput = errors.New("no such tool input")
	// ErrToolFailed wraps tool execution failures.
	ErrToolFailed = errors.New("tool failed")
)

// Health is the last known backend reachability.
type Health int32

const (
	HealthUnknown Health = iota
	HealthReachable
	HealthUnreachable
)

func (h Health) String() string {
	switch h {
	case HealthReachable:
		return "reachable"
	case HealthUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Config configures an Agent.
type Config struct {
	Backend   llm.Backend
	Sessions  *sessions.Manager
	Messages  store.Messages
	Journal   prompt.Journal
	Assembler *prompt.Assembler
	// Tools may be nil, in which case every slash command is unknown.
	Tools  *tools.Registry
	Events *chat.Broadcaster
	Logger *zap.Logger
	Now    func() time.Time

	Model       string
	MaxTokens   int
	Temperature *float64
	Retry       llm.RetryPolicy

	PingTimeout           time.Duration
	StabilizationDelay    time.Duration
	StabilizationAttempts int
}

// Agent holds the dependencies shared by every conversation.
type Agent struct {
	backend   llm.Backend
	sessions  *sessions.Manager
	messages  store.Messages
	journal   prompt.Journal
	assembler *prompt.Assembler
	tools     *tools.Registry
	shortcuts slash.Shortcuts
	events    *chat.Broadcaster
	log       *zap.Logger
	now       func() time.Time

	model       string
	maxTokens   int
	temperature *float64
	retry       llm.RetryPolicy

	pingTimeout           time.Duration
	stabilizationDelay    time.Duration
	stabilizationAttempts int

	health atomic.Int32
}

// New constructs an Agent with explicit dependencies.
func New(cfg Config) (*Agent, error) {
	switch {
	case cfg.Backend == nil:
		return nil, ErrBackendRequired
	case cfg.Sessions == nil:
		return nil, ErrSessionsRequired
	case cfg.Messages == nil:
		return nil, ErrMessagesRequired
	case cfg.Journal == nil:
		return nil, ErrJournalRequired
	case cfg.Assembler == nil:
		return nil, ErrAssemblerRequired
	case cfg.Model == "":
		return nil, ErrModelRequired
	}

	a := &Agent{
		backend:               cfg.Backend,
		sessions:              cfg.Sessions,
		messages:              cfg.Messages,
		journal:               cfg.Journal,
		assembler:             cfg.Assembler,
		tools:                 cfg.Tools,
		events:                cfg.Events,
		log:                   cfg.Logger,
		now:                   cfg.Now,
		model:                 cfg.Model,
		maxTokens:             cfg.MaxTokens,
		temperature:           cfg.Temperature,
		retry:                 cfg.Retry,
		pingTimeout:           cfg.PingTimeout,
		stabilizationDelay:    cfg.StabilizationDelay,
		stabilizationAttempts: cfg.StabilizationAttempts,
	}
	if a.tools == nil {
		a.tools, _ = tools.NewRegistry()
	}
	a.shortcuts = a.tools.Shortcuts()
	if a.events == nil {
		a.events = chat.NewBroadcaster()
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.maxTokens <= 0 {
		a.maxTokens = defaultMaxTokens
	}
	if a.pingTimeout <= 0 {
		a.pingTimeout = defaultPingTimeout
	}
	if a.stabilizationDelay <= 0 {
		a.stabilizationDelay = defaultStabilizationDelay
	}
	if a.stabilizationAttempts <= 0 {
		a.stabilizationAttempts = defaultStabilizationAttempts
	}
	return a, nil
}

// Events returns the broadcaster every conversation publishes to.
func (a *Agent) Events() *chat.Broadcaster {
	return a.events
}

// Sessions returns the session manager.
func (a *Agent) Sessions() *sessions.Manager {
	return a.sessions
}

// Tools returns the tool registry.
func (a *Agent) Tools() *tools.Registry {
	return a.tools
}

// Model returns the model name sent with every request.
func (a *Agent) Model() string {
	return a.model
}

// Health returns the cached backend reachability without probing.
func (a *Agent) Health() Health {
	return Health(a.health.Load())
}

// CheckHealth pings the backend and records the outcome.
func (a *Agent) CheckHealth(ctx context.Context) Health {
	pingCtx, cancel := context.WithTimeout(ctx, a.pingTimeout)
	defer cancel()

	if err := a.backend.Ping(pingCtx); err != nil {
		if ctx.Err() != nil {
			return a.Health()
		}
		a.log.Warn("backend unreachable", zap.Error(err))
		a.setHealth(HealthUnreachable)
		return HealthUnreachable
	}
	a.setHealth(HealthReachable)
	return HealthReachable
}

func (a *Agent) setHealth(h Health) {
	if Health(a.health.Swap(int32(h))) == h {
		return
	}
	a.events.Publish(chat.Event{Type: chat.EventBackendStatus, Reachable: h == HealthReachable, State: h.String()})
}

func (a *Agent) reachable(ctx context.Context) bool {
	if a.Health() == HealthReachable {
		return true
	}
	return a.CheckHealth(ctx) == HealthReachable
}

// OpenOptions selects the session a conversation shows.
type OpenOptions struct {
	// SessionID resumes a durable session when set.
	SessionID   chat.SessionID
	DecisionIDs []journal.DecisionID
	Trigger     chat.Trigger
}

// Open starts a conversation view. Without a session id a provisional
// session is created; nothing is written until the first message.
func (a *Agent) Open(ctx context.Context, opts OpenOptions) (*Conversation, error) {
	var (
		session chat.Session
		history []chat.Message
	)
	if opts.SessionID != "" {
		var err error
		session, err = a.sessions.Get(ctx, opts.SessionID)
		if err != nil {
			return nil, fmt.Errorf("open session: %w", err)
		}
		if !session.ID.Provisional() {
			history, err = a.messages.ListMessages(ctx, session.ID)
			if err != nil {
				return nil, fmt.Errorf("load messages: %w", err)
			}
		}
	} else {
		session = a.sessions.CreateProvisional(opts.DecisionIDs, opts.Trigger)
	}
	a.sessions.SetActive(session.ID)

	c := newConversation(a, session, history)
	a.log.Debug("conversation opened",
		zap.String("session_id", string(session.ID)),
		zap.Int("messages", len(history)),
	)
	return c, nil
}

// Close stops background session refreshes.
func (a *Agent) Close() {
	a.sessions.Close()
}

func (a *Agent) request(system string, messages []llm.Message) *llm.Request {
	req := &llm.Request{
		Model:     a.model,
		System:    system,
		Messages:  messages,
		MaxTokens: a.maxTokens,
		Retry:     a.retry,
	}
	if a.temperature != nil {
		t := *a.temperature
		req.Temperature = &t
	}
	return req
}

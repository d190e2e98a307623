package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ponder/internal/chat"
	"ponder/internal/journal"
	"ponder/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultRefreshWindow  = 300 * time.Millisecond
	defaultRefreshTimeout = 5 * time.Second
	defaultTitleBudget    = 50
	defaultListLimit      = 50
	titleEllipsis         = "..."
)

var (
	ErrStoreRequired      = errors.New("session store is required")
	ErrUnknownProvisional = errors.New("unknown provisional session")
	ErrTitleRequired      = errors.New("title is required")
	ErrNoUserMessage      = errors.New("session has no user message")
)

// Store is the slice of the durable store the manager depends on.
type Store interface {
	store.Sessions
	store.Messages
}

// Config configures a Manager.
type Config struct {
	Store         Store
	Events        *chat.Broadcaster
	Logger        *zap.Logger
	Now           func() time.Time
	RefreshWindow time.Duration
	TitleBudget   int
	ListLimit     int
}

type pendingSession struct {
	session  chat.Session
	messages int
}

// Manager owns session identity, the durable session table and the cached
// summary list.
type Manager struct {
	store       Store
	events      *chat.Broadcaster
	log         *zap.Logger
	now         func() time.Time
	titleBudget int
	listLimit   int

	persistGroup singleflight.Group
	refresher    *Coalescer

	mu        sync.Mutex
	pending   map[chat.SessionID]*pendingSession
	persisted map[chat.SessionID]chat.SessionID
	active    chat.SessionID
	summaries []chat.SessionSummary
}

// New constructs a Manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, ErrStoreRequired
	}
	m := &Manager{
		store:       cfg.Store,
		events:      cfg.Events,
		log:         cfg.Logger,
		now:         cfg.Now,
		titleBudget: cfg.TitleBudget,
		listLimit:   cfg.ListLimit,
		pending:     make(map[chat.SessionID]*pendingSession),
		persisted:   make(map[chat.SessionID]chat.SessionID),
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.titleBudget <= 0 {
		m.titleBudget = defaultTitleBudget
	}
	if m.listLimit <= 0 {
		m.listLimit = defaultListLimit
	}
	window := cfg.RefreshWindow
	if window <= 0 {
		window = defaultRefreshWindow
	}
	m.refresher = NewCoalescer(window, m.refreshInBackground)
	return m, nil
}

// CreateProvisional returns a memory-only session. No I/O happens.
func (m *Manager) CreateProvisional(decisionIDs []journal.DecisionID, trigger chat.Trigger) chat.Session {
	if trigger == "" {
		trigger = chat.TriggerManual
	}
	now := m.now()
	session := chat.Session{
		ID:          chat.NewProvisionalID(),
		DecisionIDs: append([]journal.DecisionID(nil), decisionIDs...),
		CreatedAt:   now,
		UpdatedAt:   now,
		Trigger:     trigger,
	}

	m.mu.Lock()
	m.pending[session.ID] = &pendingSession{session: session.Clone()}
	m.mu.Unlock()
	return session
}

// Persist writes the durable row for a provisional session and returns its
// durable id. Repeated or concurrent calls for one id create a single row.
func (m *Manager) Persist(ctx context.Context, id chat.SessionID) (chat.SessionID, error) {
	if !id.Provisional() {
		return id, nil
	}

	v, err, _ := m.persistGroup.Do(string(id), func() (any, error) {
		m.mu.Lock()
		if durable, ok := m.persisted[id]; ok {
			m.mu.Unlock()
			return durable, nil
		}
		entry, ok := m.pending[id]
		if !ok {
			m.mu.Unlock()
			return chat.SessionID(""), fmt.Errorf("%w: %s", ErrUnknownProvisional, id)
		}
		meta := entry.session.Clone()
		m.mu.Unlock()

		durable, err := m.store.CreateSession(ctx, meta)
		if err != nil {
			return chat.SessionID(""), fmt.Errorf("persist session: %w", err)
		}

		m.mu.Lock()
		delete(m.pending, id)
		m.persisted[id] = durable
		if m.active == id {
			m.active = durable
		}
		m.mu.Unlock()

		m.log.Info("session persisted", zap.String("provisional_id", string(id)), zap.String("session_id", string(durable)))
		m.publish(chat.Event{Type: chat.EventSessionPersisted, SessionID: durable})
		m.Refresh()
		return durable, nil
	})
	if err != nil {
		return "", err
	}
	return v.(chat.SessionID), nil
}

// Resolve maps a provisional id to its durable id once persisted.
func (m *Manager) Resolve(id chat.SessionID) chat.SessionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if durable, ok := m.persisted[id]; ok {
		return durable
	}
	return id
}

// NoteMessage records that a provisional session holds one more in-memory message.
func (m *Manager) NoteMessage(id chat.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.pending[id]; ok {
		entry.messages++
	}
}

// SetActive marks the session shown by the conversation view.
func (m *Manager) SetActive(id chat.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = id
}

// Active returns the session shown by the conversation view.
func (m *Manager) Active() chat.SessionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// IsPending reports whether id is an unsaved provisional session.
func (m *Manager) IsPending(id chat.SessionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[id]
	return ok
}

// CleanupAbandoned drops provisional sessions that are not active and hold no
// messages. It returns the removed ids.
func (m *Manager) CleanupAbandoned() []chat.SessionID {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []chat.SessionID
	for id, entry := range m.pending {
		if id == m.active || entry.messages > 0 {
			continue
		}
		delete(m.pending, id)
		removed = append(removed, id)
	}
	if len(removed) > 0 {
		m.log.Debug("discarded empty provisional sessions", zap.Int("count", len(removed)))
	}
	return removed
}

// Get returns session metadata, including unsaved provisional sessions.
func (m *Manager) Get(ctx context.Context, id chat.SessionID) (chat.Session, error) {
	id = m.Resolve(id)
	if id.Provisional() {
		m.mu.Lock()
		defer m.mu.Unlock()
		entry, ok := m.pending[id]
		if !ok {
			return chat.Session{}, fmt.Errorf("%w: %s", ErrUnknownProvisional, id)
		}
		return entry.session.Clone(), nil
	}
	return m.store.GetSession(ctx, id)
}

// List reads up to limit session summaries from storage.
func (m *Manager) List(ctx context.Context, limit int) ([]chat.SessionSummary, error) {
	if limit <= 0 {
		limit = m.listLimit
	}
	summaries, err := m.store.ListSessions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return dedupSummaries(summaries), nil
}

// Rename sets a session title.
func (m *Manager) Rename(ctx context.Context, id chat.SessionID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrTitleRequired
	}
	id = m.Resolve(id)
	if id.Provisional() {
		m.mu.Lock()
		defer m.mu.Unlock()
		entry, ok := m.pending[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownProvisional, id)
		}
		entry.session.Title = title
		return nil
	}

	now := m.now()
	if err := m.store.UpdateSession(ctx, id, store.SessionPatch{Title: &title, UpdatedAt: &now}); err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	m.Refresh()
	return nil
}

// Delete removes a session. Provisional sessions are dropped from memory.
func (m *Manager) Delete(ctx context.Context, id chat.SessionID) error {
	id = m.Resolve(id)
	if id.Provisional() {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		return nil
	}
	if err := m.store.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	m.mu.Lock()
	filtered := m.summaries[:0:0]
	for _, summary := range m.summaries {
		if summary.ID != id {
			filtered = append(filtered, summary)
		}
	}
	m.summaries = filtered
	m.mu.Unlock()

	m.log.Info("session deleted", zap.String("session_id", string(id)))
	m.Refresh()
	return nil
}

// Touch bumps updated_at. Concurrent writers resolve last-writer-wins.
func (m *Manager) Touch(ctx context.Context, id chat.SessionID) error {
	id = m.Resolve(id)
	if id.Provisional() {
		return nil
	}
	now := m.now()
	if err := m.store.UpdateSession(ctx, id, store.SessionPatch{UpdatedAt: &now}); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	m.Refresh()
	return nil
}

// GenerateTitle derives the title from the first user message and stores it.
func (m *Manager) GenerateTitle(ctx context.Context, id chat.SessionID) (string, error) {
	id = m.Resolve(id)
	if id.Provisional() {
		return "", fmt.Errorf("generate title: %w", store.ErrProvisionalSession)
	}
	msgs, err := m.store.ListMessages(ctx, id)
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}

	var first string
	for _, msg := range msgs {
		if msg.Role == chat.RoleUser && strings.TrimSpace(msg.Content) != "" {
			first = msg.Content
			break
		}
	}
	if first == "" {
		return "", ErrNoUserMessage
	}

	title := Title(first, m.titleBudget)
	now := m.now()
	if err := m.store.UpdateSession(ctx, id, store.SessionPatch{Title: &title, UpdatedAt: &now}); err != nil {
		return "", fmt.Errorf("store title: %w", err)
	}
	m.Refresh()
	return title, nil
}

// Title collapses whitespace and truncates text to budget runes, appending an
// ellipsis when anything was cut.
func Title(text string, budget int) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	runes := []rune(collapsed)
	if budget <= 0 || len(runes) <= budget {
		return collapsed
	}
	return strings.TrimSpace(string(runes[:budget])) + titleEllipsis
}

// Refresh schedules a coalesced re-read of the session summaries.
func (m *Manager) Refresh() {
	m.refresher.Trigger()
}

// RefreshNow re-reads session summaries immediately.
func (m *Manager) RefreshNow(ctx context.Context) ([]chat.SessionSummary, error) {
	summaries, err := m.store.ListSessions(ctx, m.listLimit)
	if err != nil {
		return nil, fmt.Errorf("refresh sessions: %w", err)
	}
	summaries = dedupSummaries(summaries)

	m.mu.Lock()
	m.summaries = summaries
	m.mu.Unlock()

	m.publish(chat.Event{Type: chat.EventSessionsRefreshed, Sessions: cloneSummaries(summaries)})
	return cloneSummaries(summaries), nil
}

// Summaries returns the cached summary list from the last refresh.
func (m *Manager) Summaries() []chat.SessionSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSummaries(m.summaries)
}

// Flush runs a pending refresh immediately.
func (m *Manager) Flush() {
	m.refresher.Flush()
}

// Close stops the refresh timer.
func (m *Manager) Close() {
	m.refresher.Stop()
}

func (m *Manager) refreshInBackground() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultRefreshTimeout)
	defer cancel()
	if _, err := m.RefreshNow(ctx); err != nil {
		m.log.Warn("session refresh failed", zap.Error(err))
	}
}

func (m *Manager) publish(ev chat.Event) {
	if m.events != nil {
		m.events.Publish(ev)
	}
}

func dedupSummaries(in []chat.SessionSummary) []chat.SessionSummary {
	seen := make(map[chat.SessionID]struct{}, len(in))
	out := make([]chat.SessionSummary, 0, len(in))
	for _, summary := range in {
		if _, ok := seen[summary.ID]; ok {
			continue
		}
		seen[summary.ID] = struct{}{}
		out = append(out, summary)
	}
	return out
}

func cloneSummaries(in []chat.SessionSummary) []chat.SessionSummary {
	if in == nil {
		return nil
	}
	return append([]chat.SessionSummary(nil), in...)
}

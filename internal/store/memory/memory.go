// Package memory is an in-process store.Store used by tests and the headless
// commands when no database path is configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ponder/internal/chat"
	"ponder/internal/journal"
	"ponder/internal/store"

	"github.com/google/uuid"
)

// Store keeps every record in maps guarded by one RWMutex.
type Store struct {
	// FailOn, when set, is consulted before each write; a non-nil error aborts it.
	FailOn func(op string) error

	mu         sync.RWMutex
	sessions   map[chat.SessionID]chat.Session
	messages   map[chat.SessionID][]chat.Message
	decisions  map[journal.DecisionID]journal.Decision
	profile    journal.Profile
	embeddings map[string]map[journal.DecisionID][]float32
	creates    int
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		sessions:   make(map[chat.SessionID]chat.Session),
		messages:   make(map[chat.SessionID][]chat.Message),
		decisions:  make(map[journal.DecisionID]journal.Decision),
		embeddings: make(map[string]map[journal.DecisionID][]float32),
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// SessionCreates returns how many durable session rows were written.
func (s *Store) SessionCreates() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creates
}

func (s *Store) fail(op string) error {
	if s.FailOn == nil {
		return nil
	}
	return s.FailOn(op)
}

func (s *Store) CreateSession(ctx context.Context, meta chat.Session) (chat.SessionID, error) {
	if err := s.fail("CreateSession"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	session := meta.Clone()
	session.ID = chat.SessionID(uuid.NewString())
	if session.Trigger == "" {
		session.Trigger = chat.TriggerManual
	}
	s.sessions[session.ID] = session
	s.creates++
	return session.ID, nil
}

func (s *Store) UpdateSession(ctx context.Context, id chat.SessionID, patch store.SessionPatch) error {
	if err := s.fail("UpdateSession"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %s", store.ErrNotFound, id)
	}
	if patch.Title != nil {
		session.Title = *patch.Title
	}
	if patch.UpdatedAt != nil {
		session.UpdatedAt = *patch.UpdatedAt
	}
	s.sessions[id] = session
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id chat.SessionID) error {
	if err := s.fail("DeleteSession"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: session %s", store.ErrNotFound, id)
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

func (s *Store) GetSession(ctx context.Context, id chat.SessionID) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return chat.Session{}, fmt.Errorf("%w: session %s", store.ErrNotFound, id)
	}
	return session.Clone(), nil
}

func (s *Store) ListSessions(ctx context.Context, limit int) ([]chat.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.SessionSummary, 0, len(s.sessions))
	for id, session := range s.sessions {
		summary := chat.SessionSummary{
			ID:           id,
			Title:        session.Title,
			UpdatedAt:    session.UpdatedAt,
			MessageCount: len(s.messages[id]),
		}
		if msgs := s.messages[id]; len(msgs) > 0 {
			summary.Preview = msgs[len(msgs)-1].Content
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateMessage(ctx context.Context, msg chat.Message) error {
	if err := store.ValidateMessage(msg); err != nil {
		return fmt.Errorf("create message %s: %w", msg.ID, err)
	}
	if err := s.fail("CreateMessage"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[msg.SessionID]; !ok {
		return fmt.Errorf("%w: session %s", store.ErrNotFound, msg.SessionID)
	}
	stored := msg.Clone()
	stored.Input = nil
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], stored)
	return nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID chat.SessionID) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[sessionID]
	out := make([]chat.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, msg.Clone())
	}
	return out, nil
}

func (s *Store) SaveDecision(ctx context.Context, d journal.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions[d.ID] = d.Clone()
	return nil
}

func (s *Store) GetDecision(ctx context.Context, id journal.DecisionID) (journal.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.decisions[id]
	if !ok {
		return journal.Decision{}, fmt.Errorf("%w: decision %s", store.ErrNotFound, id)
	}
	return d.Clone(), nil
}

func (s *Store) ListDecisions(ctx context.Context, filter journal.Filter) ([]journal.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]journal.Decision, 0, len(s.decisions))
	for _, d := range s.decisions {
		if d.Archived && !filter.IncludeArchived {
			continue
		}
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) Profile(ctx context.Context) (journal.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile, nil
}

func (s *Store) SaveProfile(ctx context.Context, p journal.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = p
	return nil
}

func (s *Store) PutEmbedding(ctx context.Context, e store.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byModel, ok := s.embeddings[e.Model]
	if !ok {
		byModel = make(map[journal.DecisionID][]float32)
		s.embeddings[e.Model] = byModel
	}
	byModel[e.DecisionID] = append([]float32(nil), e.Vector...)
	return nil
}

func (s *Store) ListEmbeddings(ctx context.Context, model string) ([]store.Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byModel := s.embeddings[model]
	out := make([]store.Embedding, 0, len(byModel))
	for id, vec := range byModel {
		out = append(out, store.Embedding{DecisionID: id, Model: model, Vector: append([]float32(nil), vec...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DecisionID < out[j].DecisionID })
	return out, nil
}

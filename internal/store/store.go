// Package store defines the durable persistence contracts consumed by the chat
// orchestrator. Implementations live in the sqlite and memory subpackages.
package store

import (
	"context"
	"errors"
	"time"

	"ponder/internal/chat"
	"ponder/internal/journal"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrNotDurable indicates an attempt to persist an ephemeral record.
	ErrNotDurable = errors.New("record is not durable")
	// ErrProvisionalSession indicates a write referencing a provisional session id.
	ErrProvisionalSession = errors.New("session is provisional")
)

// SessionPatch carries partial session metadata updates. Nil fields are left untouched.
type SessionPatch struct {
	Title     *string
	UpdatedAt *time.Time
}

// Sessions is the durable session table.
type Sessions interface {
	CreateSession(ctx context.Context, meta chat.Session) (chat.SessionID, error)
	UpdateSession(ctx context.Context, id chat.SessionID, patch SessionPatch) error
	DeleteSession(ctx context.Context, id chat.SessionID) error
	GetSession(ctx context.Context, id chat.SessionID) (chat.Session, error)
	ListSessions(ctx context.Context, limit int) ([]chat.SessionSummary, error)
}

// Messages is the durable message log.
type Messages interface {
	CreateMessage(ctx context.Context, msg chat.Message) error
	ListMessages(ctx context.Context, sessionID chat.SessionID) ([]chat.Message, error)
}

// Journal exposes read access to decisions and the user profile.
type Journal interface {
	ListDecisions(ctx context.Context, filter journal.Filter) ([]journal.Decision, error)
	GetDecision(ctx context.Context, id journal.DecisionID) (journal.Decision, error)
	Profile(ctx context.Context) (journal.Profile, error)
}

// JournalWriter seeds journal data (import command, tests).
type JournalWriter interface {
	SaveDecision(ctx context.Context, d journal.Decision) error
	SaveProfile(ctx context.Context, p journal.Profile) error
}

// Embedding is one stored decision vector.
type Embedding struct {
	DecisionID journal.DecisionID
	Model      string
	Vector     []float32
}

// Embeddings stores decision vectors for retrieval.
type Embeddings interface {
	PutEmbedding(ctx context.Context, e Embedding) error
	ListEmbeddings(ctx context.Context, model string) ([]Embedding, error)
}

// Store is the full durable store.
type Store interface {
	Sessions
	Messages
	Journal
	JournalWriter
	Embeddings
	Close() error
}

// ValidateMessage rejects messages that must never reach durable storage.
func ValidateMessage(msg chat.Message) error {
	if !msg.Role.Durable() {
		return ErrNotDurable
	}
	if msg.SessionID.Provisional() {
		return ErrProvisionalSession
	}
	return nil
}

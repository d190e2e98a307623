// Package sqlite implements store.Store on SQLite through modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ponder/internal/chat"
	"ponder/internal/journal"
	"ponder/internal/store"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const previewLen = 80

const schema = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	id TEXT PRIMARY KEY,
	decision_ids TEXT NOT NULL DEFAULT '[]',
	title TEXT,
	trigger TEXT NOT NULL DEFAULT 'manual',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS chat_messages (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	tool TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, seq);
CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	body TEXT NOT NULL,
	archived INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(created_at DESC);
CREATE TABLE IF NOT EXISTS profile (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	body TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS decision_embeddings (
	decision_id TEXT NOT NULL,
	model TEXT NOT NULL,
	vector TEXT NOT NULL,
	PRIMARY KEY (decision_id, model)
);
`

// Store is the SQLite-backed durable store.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a durable session row and returns its new id.
func (s *Store) CreateSession(ctx context.Context, meta chat.Session) (chat.SessionID, error) {
	id := chat.SessionID(uuid.NewString())
	decisionIDs, err := json.Marshal(nonNilDecisionIDs(meta.DecisionIDs))
	if err != nil {
		return "", fmt.Errorf("marshal decision ids: %w", err)
	}
	trigger := meta.Trigger
	if trigger == "" {
		trigger = chat.TriggerManual
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, decision_ids, title, trigger, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		string(id), string(decisionIDs), nullString(meta.Title), string(trigger),
		meta.CreatedAt.UnixNano(), meta.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// UpdateSession applies a partial metadata update.
func (s *Store) UpdateSession(ctx context.Context, id chat.SessionID, patch store.SessionPatch) error {
	sets := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, nullString(*patch.Title))
	}
	if patch.UpdatedAt != nil {
		sets = append(sets, "updated_at = ?")
		args = append(args, patch.UpdatedAt.UnixNano())
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, string(id))

	res, err := s.db.ExecContext(ctx, "UPDATE chat_sessions SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	return expectRow(res, id)
}

// DeleteSession removes a session and its messages.
func (s *Store) DeleteSession(ctx context.Context, id chat.SessionID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return expectRow(res, id)
}

// GetSession loads one session row.
func (s *Store) GetSession(ctx context.Context, id chat.SessionID) (chat.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, decision_ids, title, trigger, created_at, updated_at FROM chat_sessions WHERE id = ?`,
		string(id),
	)

	var (
		session     chat.Session
		rawID       string
		decisionIDs string
		title       sql.NullString
		trigger     string
		created     int64
		updated     int64
	)
	if err := row.Scan(&rawID, &decisionIDs, &title, &trigger, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Session{}, fmt.Errorf("%w: session %s", store.ErrNotFound, id)
		}
		return chat.Session{}, fmt.Errorf("scan session %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(decisionIDs), &session.DecisionIDs); err != nil {
		return chat.Session{}, fmt.Errorf("decode decision ids: %w", err)
	}
	if len(session.DecisionIDs) == 0 {
		session.DecisionIDs = nil
	}
	session.ID = chat.SessionID(rawID)
	session.Title = title.String
	session.Trigger = chat.Trigger(trigger)
	session.CreatedAt = time.Unix(0, created)
	session.UpdatedAt = time.Unix(0, updated)
	return session, nil
}

// ListSessions returns summaries ordered by most recent activity.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]chat.SessionSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, COALESCE(s.title, ''), s.updated_at,
			(SELECT COUNT(*) FROM chat_messages m WHERE m.session_id = s.id),
			COALESCE((SELECT m.content FROM chat_messages m WHERE m.session_id = s.id ORDER BY m.seq DESC LIMIT 1), '')
		FROM chat_sessions s
		ORDER BY s.updated_at DESC, s.id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []chat.SessionSummary
	for rows.Next() {
		var (
			summary chat.SessionSummary
			id      string
			updated int64
			preview string
		)
		if err := rows.Scan(&id, &summary.Title, &updated, &summary.MessageCount, &preview); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		summary.ID = chat.SessionID(id)
		summary.UpdatedAt = time.Unix(0, updated)
		summary.Preview = preview
		if r := []rune(preview); len(r) > previewLen {
			summary.Preview = string(r[:previewLen]) + "..."
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

// CreateMessage appends a durable message.
func (s *Store) CreateMessage(ctx context.Context, msg chat.Message) error {
	if err := store.ValidateMessage(msg); err != nil {
		return fmt.Errorf("create message %s: %w", msg.ID, err)
	}

	var tool sql.NullString
	if msg.Tool != nil {
		raw, err := json.Marshal(msg.Tool)
		if err != nil {
			return fmt.Errorf("marshal tool payload: %w", err)
		}
		tool = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, role, content, tool, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		string(msg.ID), string(msg.SessionID), string(msg.Role), msg.Content, tool, msg.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	return nil
}

// ListMessages returns a session's messages in insertion order.
func (s *Store) ListMessages(ctx context.Context, sessionID chat.SessionID) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, tool, created_at FROM chat_messages WHERE session_id = ? ORDER BY seq`,
		string(sessionID),
	)
	if err != nil {
		return nil, fmt.Errorf("list messages %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []chat.Message
	for rows.Next() {
		var (
			msg     chat.Message
			id      string
			session string
			role    string
			tool    sql.NullString
			created int64
		)
		if err := rows.Scan(&id, &session, &role, &msg.Content, &tool, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.ID = chat.MessageID(id)
		msg.SessionID = chat.SessionID(session)
		msg.Role = chat.Role(role)
		msg.CreatedAt = time.Unix(0, created)
		if tool.Valid {
			var payload chat.ToolExecution
			if err := json.Unmarshal([]byte(tool.String), &payload); err != nil {
				return nil, fmt.Errorf("decode tool payload of %s: %w", id, err)
			}
			msg.Tool = &payload
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func expectRow(res sql.Result, id chat.SessionID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: session %s", store.ErrNotFound, id)
	}
	return nil
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nonNilDecisionIDs(ids []journal.DecisionID) []journal.DecisionID {
	if ids == nil {
		return []journal.DecisionID{}
	}
	return ids
}

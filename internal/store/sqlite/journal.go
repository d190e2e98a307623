package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"ponder/internal/journal"
	"ponder/internal/store"
)

// SaveDecision inserts or replaces a decision.
func (s *Store) SaveDecision(ctx context.Context, d journal.Decision) error {
	if strings.TrimSpace(string(d.ID)) == "" {
		return errors.New("decision id is required")
	}
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision %s: %w", d.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, body, archived, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET body = excluded.body, archived = excluded.archived, created_at = excluded.created_at`,
		string(d.ID), string(body), boolInt(d.Archived), d.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save decision %s: %w", d.ID, err)
	}
	return nil
}

// GetDecision loads one decision.
func (s *Store) GetDecision(ctx context.Context, id journal.DecisionID) (journal.Decision, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM decisions WHERE id = ?`, string(id)).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return journal.Decision{}, fmt.Errorf("%w: decision %s", store.ErrNotFound, id)
		}
		return journal.Decision{}, fmt.Errorf("load decision %s: %w", id, err)
	}
	var d journal.Decision
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return journal.Decision{}, fmt.Errorf("decode decision %s: %w", id, err)
	}
	return d, nil
}

// ListDecisions returns decisions newest first.
func (s *Store) ListDecisions(ctx context.Context, filter journal.Filter) ([]journal.Decision, error) {
	query := `SELECT body FROM decisions`
	if !filter.IncludeArchived {
		query += ` WHERE archived = 0`
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []journal.Decision
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		var d journal.Decision
		if err := json.Unmarshal([]byte(body), &d); err != nil {
			return nil, fmt.Errorf("decode decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Profile returns the stored profile, or an empty one.
func (s *Store) Profile(ctx context.Context) (journal.Profile, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM profile WHERE id = 1`).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return journal.Profile{}, nil
		}
		return journal.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	var p journal.Profile
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return journal.Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	return p, nil
}

// SaveProfile replaces the stored profile.
func (s *Store) SaveProfile(ctx context.Context, p journal.Profile) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profile (id, body) VALUES (1, ?) ON CONFLICT(id) DO UPDATE SET body = excluded.body`,
		string(body),
	)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// PutEmbedding stores or replaces a decision vector for model.
func (s *Store) PutEmbedding(ctx context.Context, e store.Embedding) error {
	raw, err := json.Marshal(e.Vector)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decision_embeddings (decision_id, model, vector) VALUES (?, ?, ?)
		ON CONFLICT(decision_id, model) DO UPDATE SET vector = excluded.vector`,
		string(e.DecisionID), e.Model, string(raw),
	)
	if err != nil {
		return fmt.Errorf("save embedding %s: %w", e.DecisionID, err)
	}
	return nil
}

// ListEmbeddings returns every vector produced by model.
func (s *Store) ListEmbeddings(ctx context.Context, model string) ([]store.Embedding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT decision_id, vector FROM decision_embeddings WHERE model = ? ORDER BY decision_id`, model)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []store.Embedding
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		e := store.Embedding{DecisionID: journal.DecisionID(id), Model: model}
		if err := json.Unmarshal([]byte(raw), &e.Vector); err != nil {
			return nil, fmt.Errorf("decode embedding %s: %w", id, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

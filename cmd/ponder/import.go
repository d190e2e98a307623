package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"ponder/internal/journal"
	"ponder/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// journalFile is the YAML layout accepted by "decisions import".
type journalFile struct {
	Profile   *journal.Profile   `yaml:"profile"`
	Decisions []journal.Decision `yaml:"decisions"`
}

type decisionIndexer interface {
	IndexDecision(ctx context.Context, d journal.Decision) error
}

type importResult struct {
	Decisions int
	Indexed   int
}

// importJournal saves every decision in r, and the profile when present.
// Indexing is best effort: an unreachable embedder leaves decisions
// unindexed until the next reindex.
func importJournal(ctx context.Context, r io.Reader, w store.JournalWriter, indexer decisionIndexer, log *zap.Logger) (importResult, error) {
	var file journalFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return importResult{}, fmt.Errorf("decode journal yaml: %w", err)
	}

	if file.Profile != nil {
		if err := w.SaveProfile(ctx, *file.Profile); err != nil {
			return importResult{}, fmt.Errorf("save profile: %w", err)
		}
	}

	var res importResult
	now := time.Now().UTC()
	for i, d := range file.Decisions {
		if strings.TrimSpace(d.Problem) == "" {
			return res, fmt.Errorf("decision %d: problem is required", i+1)
		}
		if d.ID == "" {
			d.ID = journal.DecisionID(uuid.NewString())
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		if err := w.SaveDecision(ctx, d); err != nil {
			return res, fmt.Errorf("save decision %s: %w", d.ID, err)
		}
		res.Decisions++

		if indexer == nil || d.Archived {
			continue
		}
		if err := indexer.IndexDecision(ctx, d); err != nil {
			log.Warn("index decision failed", zap.String("decision_id", string(d.ID)), zap.Error(err))
			continue
		}
		res.Indexed++
	}
	return res, nil
}

// Package retrieval ranks journal decisions by embedding similarity.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"ponder/internal/journal"
	"ponder/internal/llm/core"
	"ponder/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultReindexParallelism = 4

var (
	ErrEmbedderRequired = errors.New("embedder is required")
	ErrIndexRequired    = errors.New("embedding index is required")
	ErrEmptyQuery       = errors.New("query is empty")
)

// Index persists decision vectors.
type Index interface {
	PutEmbedding(ctx context.Context, e store.Embedding) error
	ListEmbeddings(ctx context.Context, model string) ([]store.Embedding, error)
}

// Config configures a Service.
type Config struct {
	Embedder core.Embedder
	Index    Index
	// Model keys stored vectors so switching embedding models never mixes spaces.
	Model       string
	Parallelism int
	Logger      *zap.Logger
}

// SearchOptions narrows a similarity search.
type SearchOptions struct {
	Threshold float64
	// Filter drops candidates for which it returns false.
	Filter func(journal.DecisionID) bool
}

// Match is one ranked search hit.
type Match struct {
	DecisionID journal.DecisionID
	Similarity float64
}

// Service embeds queries and ranks stored decision vectors.
type Service struct {
	embedder    core.Embedder
	index       Index
	model       string
	parallelism int
	log         *zap.Logger
}

// New constructs a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if cfg.Index == nil {
		return nil, ErrIndexRequired
	}
	s := &Service{
		embedder:    cfg.Embedder,
		index:       cfg.Index,
		model:       cfg.Model,
		parallelism: cfg.Parallelism,
		log:         cfg.Logger,
	}
	if s.parallelism <= 0 {
		s.parallelism = defaultReindexParallelism
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s, nil
}

// SearchSimilar returns up to k decisions whose similarity to query is at
// least the threshold, best first.
func (s *Service) SearchSimilar(ctx context.Context, query string, k int, opts SearchOptions) ([]Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		return nil, nil
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vectors))
	}
	stored, err := s.index.ListEmbeddings(ctx, s.model)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}

	matches := make([]Match, 0, len(stored))
	for _, e := range stored {
		if opts.Filter != nil && !opts.Filter(e.DecisionID) {
			continue
		}
		sim := Cosine(vectors[0], e.Vector)
		if sim < opts.Threshold {
			continue
		}
		matches = append(matches, Match{DecisionID: e.DecisionID, Similarity: sim})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity == matches[j].Similarity {
			return matches[i].DecisionID < matches[j].DecisionID
		}
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// IndexDecision embeds one decision and stores its vector.
func (s *Service) IndexDecision(ctx context.Context, d journal.Decision) error {
	vectors, err := s.embedder.Embed(ctx, []string{d.EmbeddingText()})
	if err != nil {
		return fmt.Errorf("embed decision %s: %w", d.ID, err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("embed decision %s: got %d vectors", d.ID, len(vectors))
	}
	return s.index.PutEmbedding(ctx, store.Embedding{DecisionID: d.ID, Model: s.model, Vector: vectors[0]})
}

// Reindex embeds every decision with bounded parallelism and returns how many
// were stored. The first failure cancels the rest.
func (s *Service) Reindex(ctx context.Context, decisions []journal.Decision) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)

	done := make([]bool, len(decisions))
	for i, d := range decisions {
		g.Go(func() error {
			if err := s.IndexDecision(gctx, d); err != nil {
				return err
			}
			done[i] = true
			return nil
		})
	}
	err := g.Wait()

	count := 0
	for _, ok := range done {
		if ok {
			count++
		}
	}
	s.log.Info("reindexed decisions", zap.Int("count", count), zap.String("model", s.model), zap.Error(err))
	return count, err
}

// Cosine returns the cosine similarity of a and b, or 0 when either is empty,
// zero, or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

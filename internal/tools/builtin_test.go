package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"ponder/internal/journal"
	"ponder/internal/retrieval"
)

func newBuiltins(t *testing.T, searcher Searcher) *Registry {
	t.Helper()
	reg, err := NewBuiltinRegistry(searcher)
	if err != nil {
		t.Fatalf("NewBuiltinRegistry() error = %v", err)
	}
	return reg
}

func decodePayload(t *testing.T, res Result) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(res.Payload, &out); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return out
}

func jobDecision() journal.Decision {
	return journal.Decision{
		ID:          "job",
		Problem:     "Should I take the Berlin job offer?",
		Situation:   "I have already invested five years at my current company.",
		StateOfMind: []string{"Anxious"},
		Alternatives: []journal.Alternative{
			{Text: "Accept the offer", Chosen: true},
			{Text: "Stay"},
		},
		Confidence: 9,
		CreatedAt:  time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestBuiltinsRegisterInDisplayOrder(t *testing.T) {
	t.Parallel()

	reg := newBuiltins(t, nil)
	var ids []string
	var needsInput []string
	for _, tool := range reg.List() {
		ids = append(ids, tool.ID())
		if tool.Schema().NeedsInput() {
			needsInput = append(needsInput, tool.ID())
		}
	}
	if got, want := strings.Join(ids, ","), "pre-mortem,bias-check,patterns,similar,ten-ten-ten,weigh"; got != want {
		t.Fatalf("ids = %s, want %s", got, want)
	}
	if got, want := strings.Join(needsInput, ","), "similar,ten-ten-ten,weigh"; got != want {
		t.Fatalf("tools needing input = %s, want %s", got, want)
	}
	if id, ok := reg.Shortcuts().Resolve("premortem"); !ok || id != "pre-mortem" {
		t.Fatalf("Resolve(premortem) = %q, %v", id, ok)
	}
}

func TestPreMortemUsesAnchor(t *testing.T) {
	t.Parallel()

	reg := newBuiltins(t, nil)
	anchor := jobDecision()
	res, err := reg.Execute(context.Background(), "pre-mortem", ExecContext{Anchor: &anchor})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(res.Summary, `Pre-mortem for "Should I take the Berlin job offer?"`) {
		t.Fatalf("Summary = %q", res.Summary)
	}
	if !strings.Contains(res.Summary, "Accept the offer") {
		t.Fatalf("Summary does not mention the chosen option: %q", res.Summary)
	}
	payload := decodePayload(t, res)
	if payload["decision_id"] != "job" {
		t.Fatalf("decision_id = %v", payload["decision_id"])
	}
	signals, _ := payload["signals"].([]any)
	if len(signals) != 2 {
		t.Fatalf("signals = %v, want confidence and mood signals", signals)
	}
}

func TestPreMortemWithoutDecisionFails(t *testing.T) {
	t.Parallel()

	_, err := newBuiltins(t, nil).Execute(context.Background(), "pre-mortem", ExecContext{})
	if !errors.Is(err, ErrNoDecision) {
		t.Fatalf("Execute() error = %v, want ErrNoDecision", err)
	}
}

func TestBiasCheckFlagsCues(t *testing.T) {
	t.Parallel()

	anchor := jobDecision()
	res, err := newBuiltins(t, nil).Execute(context.Background(), "bias-check", ExecContext{Anchor: &anchor})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	for _, want := range []string{"sunk cost", "status quo bias", "overconfidence"} {
		if !strings.Contains(res.Summary, want) {
			t.Fatalf("Summary missing %q: %q", want, res.Summary)
		}
	}

	plain := journal.Decision{ID: "p", Problem: "Paint the kitchen blue?", Confidence: 5,
		Alternatives: []journal.Alternative{{Text: "Blue"}, {Text: "Green"}}}
	res, err = newBuiltins(t, nil).Execute(context.Background(), "bias-check", ExecContext{Anchor: &plain})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(res.Summary, "No obvious bias cues") {
		t.Fatalf("Summary = %q", res.Summary)
	}
}

func TestPatternsCalibration(t *testing.T) {
	t.Parallel()

	reg := newBuiltins(t, nil)
	res, err := reg.Execute(context.Background(), "patterns", ExecContext{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(res.Summary, "No reviewed decisions yet") {
		t.Fatalf("Summary = %q", res.Summary)
	}

	decisions := []journal.Decision{
		{ID: "a", Confidence: 9, StateOfMind: []string{"rushed"}, Review: &journal.Review{Outcome: "Regretted it", Rating: 2}},
		{ID: "b", Confidence: 8, StateOfMind: []string{"Rushed", "calm"}, Review: &journal.Review{Outcome: "Bad", Rating: 1}},
		{ID: "c", Confidence: 3},
	}
	res, err = reg.Execute(context.Background(), "patterns", ExecContext{Decisions: decisions})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(res.Summary, "2 reviewed decisions: average confidence 8.5/10, average outcome 1.5/5.") {
		t.Fatalf("Summary = %q", res.Summary)
	}
	if !strings.Contains(res.Summary, "more confident than your outcomes justify") {
		t.Fatalf("Summary = %q", res.Summary)
	}
	if !strings.Contains(res.Summary, "rushed, calm") {
		t.Fatalf("Summary moods = %q", res.Summary)
	}
}

func TestSimilarKeywordFallbackExcludesAnchor(t *testing.T) {
	t.Parallel()

	anchor := jobDecision()
	decisions := []journal.Decision{
		anchor,
		{ID: "car", Problem: "Buy a new car?"},
		{ID: "move", Problem: "Move to Berlin with my partner?", Review: &journal.Review{Outcome: "Loved it", Rating: 5}},
	}
	res, err := newBuiltins(t, nil).Execute(context.Background(), "similar", ExecContext{
		Anchor:    &anchor,
		Decisions: decisions,
		Values:    map[string]any{"query": "moving to Berlin"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	matches, _ := decodePayload(t, res)["matches"].([]any)
	if len(matches) != 1 {
		t.Fatalf("matches = %v, want only the move decision", matches)
	}
	if got := matches[0].(map[string]any)["decision_id"]; got != "move" {
		t.Fatalf("match = %v, want move", got)
	}
	if !strings.Contains(res.Summary, "(outcome: Loved it)") {
		t.Fatalf("Summary = %q", res.Summary)
	}
}

type fakeSearcher struct {
	matches []retrieval.Match
	err     error
}

func (f fakeSearcher) SearchSimilar(ctx context.Context, query string, k int, opts retrieval.SearchOptions) ([]retrieval.Match, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []retrieval.Match
	for _, m := range f.matches {
		if opts.Filter == nil || opts.Filter(m.DecisionID) {
			out = append(out, m)
		}
	}
	return out, nil
}

func TestSimilarUsesSearcher(t *testing.T) {
	t.Parallel()

	anchor := jobDecision()
	decisions := []journal.Decision{anchor, {ID: "car", Problem: "Buy a new car?"}}
	searcher := fakeSearcher{matches: []retrieval.Match{
		{DecisionID: "job", Similarity: 0.99},
		{DecisionID: "car", Similarity: 0.71},
		{DecisionID: "archived", Similarity: 0.7},
	}}
	res, err := newBuiltins(t, searcher).Execute(context.Background(), "similar", ExecContext{
		Anchor:    &anchor,
		Decisions: decisions,
		Values:    map[string]any{"query": "vehicles"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	matches, _ := decodePayload(t, res)["matches"].([]any)
	if len(matches) != 1 || matches[0].(map[string]any)["decision_id"] != "car" {
		t.Fatalf("matches = %v, want car only", matches)
	}

	res, err = newBuiltins(t, fakeSearcher{err: errors.New("offline")}).Execute(context.Background(), "similar", ExecContext{
		Decisions: decisions,
		Values:    map[string]any{"query": "nothing alike here"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(res.Summary, "No past decisions resemble") {
		t.Fatalf("Summary = %q", res.Summary)
	}
}

func TestTenTenTen(t *testing.T) {
	t.Parallel()

	res, err := newBuiltins(t, nil).Execute(context.Background(), "ten-ten-ten", ExecContext{
		Values: map[string]any{"option": "Quit my job", "notes": "savings for six months"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	for _, want := range []string{"10 minutes", "10 months", "10 years", "Notes: savings for six months"} {
		if !strings.Contains(res.Summary, want) {
			t.Fatalf("Summary missing %q: %q", want, res.Summary)
		}
	}
}

func TestWeigh(t *testing.T) {
	t.Parallel()

	reg := newBuiltins(t, nil)
	anchor := jobDecision()
	res, err := reg.Execute(context.Background(), "weigh", ExecContext{
		Anchor: &anchor,
		Values: map[string]any{"criterion": "Salary", "weight": "7"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	payload := decodePayload(t, res)
	if payload["weight"] != 7.0 {
		t.Fatalf("weight = %v, want 7", payload["weight"])
	}
	if !strings.Contains(res.Summary, `Criterion "Salary", weight 7/10`) || !strings.Contains(res.Summary, "- Stay") {
		t.Fatalf("Summary = %q", res.Summary)
	}

	bare := journal.Decision{ID: "bare", Problem: "Something"}
	_, err = reg.Execute(context.Background(), "weigh", ExecContext{
		Anchor: &bare,
		Values: map[string]any{"criterion": "Salary", "weight": 3},
	})
	if !errors.Is(err, ErrNoDecision) {
		t.Fatalf("Execute(no alternatives) error = %v, want ErrNoDecision", err)
	}
}

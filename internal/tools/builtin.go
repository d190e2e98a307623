package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"ponder/internal/journal"
	"ponder/internal/retrieval"
)

const similarLimit = 3

// Searcher is the retrieval capability the similar tool uses when available.
type Searcher interface {
	SearchSimilar(ctx context.Context, query string, k int, opts retrieval.SearchOptions) ([]retrieval.Match, error)
}

// Builtins returns the built-in tools in display order. searcher may be nil.
func Builtins(searcher Searcher) []Tool {
	return []Tool{
		preMortemTool{definition{
			id: "pre-mortem", name: "Pre-mortem", aliases: []string{"premortem", "pm"},
			description: "Imagine the decision failed and work out why.",
			schema:      EmptySchema(),
		}},
		biasCheckTool{definition{
			id: "bias-check", name: "Bias check", aliases: []string{"bias", "biases"},
			description: "Look for common biases in how the decision is framed.",
			schema:      EmptySchema(),
		}},
		patternsTool{definition{
			id: "patterns", name: "Patterns", aliases: []string{"pattern", "calibration"},
			description: "Compare past confidence with how decisions turned out.",
			schema:      EmptySchema(),
		}},
		similarTool{definition: definition{
			id: "similar", name: "Similar decisions", aliases: []string{"similar", "past"},
			description: "Find past decisions that resemble a situation.",
			schema:      MustSchema(similarParams{}),
		}, searcher: searcher},
		tenTenTenTool{definition{
			id: "ten-ten-ten", name: "10/10/10", aliases: []string{"101010", "tenten"},
			description: "Consider an option 10 minutes, 10 months and 10 years out.",
			schema:      MustSchema(tenTenTenParams{}),
		}},
		weighTool{definition{
			id: "weigh", name: "Weigh criterion", aliases: []string{"weigh", "matrix"},
			description: "Add a weighted criterion and score the alternatives against it.",
			schema:      MustSchema(weighParams{}),
		}},
	}
}

// NewBuiltinRegistry registers every built-in tool.
func NewBuiltinRegistry(searcher Searcher) (*Registry, error) {
	return NewRegistry(Builtins(searcher)...)
}

type definition struct {
	id          string
	name        string
	aliases     []string
	description string
	schema      Schema
}

func (d definition) ID() string          { return d.id }
func (d definition) Name() string        { return d.name }
func (d definition) Aliases() []string   { return append([]string(nil), d.aliases...) }
func (d definition) Description() string { return d.description }
func (d definition) Schema() Schema      { return d.schema }

func encode(payload any, summary string) (Result, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("encode result: %w", err)
	}
	return Result{Payload: raw, Summary: summary}, nil
}

func chosenText(d journal.Decision) string {
	if alt, ok := d.ChosenAlternative(); ok {
		return strings.TrimSpace(alt.Text)
	}
	return ""
}

type preMortemTool struct{ definition }

type preMortemPayload struct {
	DecisionID journal.DecisionID `json:"decision_id"`
	Problem    string             `json:"problem"`
	Chosen     string             `json:"chosen,omitempty"`
	Prompts    []string           `json:"prompts"`
	Signals    []string           `json:"signals,omitempty"`
}

func (t preMortemTool) Execute(ctx context.Context, exec ExecContext) (Result, error) {
	d, err := exec.Subject()
	if err != nil {
		return Result{}, err
	}
	choice := chosenText(d)
	subject := choice
	if subject == "" {
		subject = "this decision"
	}

	payload := preMortemPayload{
		DecisionID: d.ID,
		Problem:    d.Problem,
		Chosen:     choice,
		Prompts: []string{
			fmt.Sprintf("It is a year from now and %q turned out badly. What is the most likely reason?", subject),
			"Which early warning sign would you have ignored?",
			"What would you do today to make that failure less likely?",
		},
	}
	if d.Confidence >= 8 {
		payload.Signals = append(payload.Signals, fmt.Sprintf("Confidence is %d/10; high certainty is when failure modes get skipped.", d.Confidence))
	}
	if len(d.Alternatives) < 2 {
		payload.Signals = append(payload.Signals, "Only one option was written down.")
	}
	for _, mood := range d.StateOfMind {
		switch strings.ToLower(strings.TrimSpace(mood)) {
		case "anxious", "stressed", "rushed", "tired", "pressured":
			payload.Signals = append(payload.Signals, fmt.Sprintf("Decided while %s.", strings.ToLower(mood)))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Pre-mortem for %q\n", strings.TrimSpace(d.Problem))
	for i, p := range payload.Prompts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, p)
	}
	for _, s := range payload.Signals {
		fmt.Fprintf(&b, "! %s\n", s)
	}
	return encode(payload, strings.TrimRight(b.String(), "\n"))
}

type biasCheckTool struct{ definition }

// BiasFlag is one detected bias with the text that suggested it.
type BiasFlag struct {
	Bias     string `json:"bias"`
	Evidence string `json:"evidence"`
}

var biasCues = []struct {
	bias     string
	keywords []string
}{
	{"sunk cost", []string{"already invested", "already spent", "years in", "wasted", "come this far"}},
	{"status quo bias", []string{"stay", "keep", "same as", "not change", "safe option"}},
	{"loss aversion", []string{"lose", "losing", "miss out", "give up"}},
	{"availability", []string{"recently", "just heard", "just saw", "news", "friend told"}},
	{"anchoring", []string{"first offer", "initial", "original price", "asking price"}},
	{"confirmation bias", []string{"obviously", "proves", "knew it", "everyone agrees"}},
}

func (t biasCheckTool) Execute(ctx context.Context, exec ExecContext) (Result, error) {
	d, err := exec.Subject()
	if err != nil {
		return Result{}, err
	}

	text := strings.ToLower(d.EmbeddingText())
	var flags []BiasFlag
	for _, cue := range biasCues {
		for _, kw := range cue.keywords {
			if strings.Contains(text, kw) {
				flags = append(flags, BiasFlag{Bias: cue.bias, Evidence: fmt.Sprintf("mentions %q", kw)})
				break
			}
		}
	}
	if d.Confidence >= 8 && len(d.Alternatives) < 3 {
		flags = append(flags, BiasFlag{
			Bias:     "overconfidence",
			Evidence: fmt.Sprintf("confidence %d/10 with %d alternatives considered", d.Confidence, len(d.Alternatives)),
		})
	}

	payload := map[string]any{"decision_id": d.ID, "flags": flags}
	if len(flags) == 0 {
		return encode(payload, fmt.Sprintf("No obvious bias cues in %q. Worth asking what evidence would change your mind.", d.Problem))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Possible biases in %q\n", strings.TrimSpace(d.Problem))
	for _, f := range flags {
		fmt.Fprintf(&b, "- %s: %s\n", f.Bias, f.Evidence)
	}
	return encode(payload, strings.TrimRight(b.String(), "\n"))
}

type patternsTool struct{ definition }

// PatternsPayload summarises calibration across reviewed decisions.
type PatternsPayload struct {
	Reviewed          int      `json:"reviewed"`
	AverageConfidence float64  `json:"average_confidence"`
	AverageRating     float64  `json:"average_rating"`
	CalibrationGap    float64  `json:"calibration_gap"`
	CommonMoods       []string `json:"common_moods,omitempty"`
}

func (t patternsTool) Execute(ctx context.Context, exec ExecContext) (Result, error) {
	var (
		payload PatternsPayload
		conf    float64
		rating  float64
		moods   = map[string]int{}
	)
	for _, d := range exec.Decisions {
		for _, m := range d.StateOfMind {
			if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
				moods[m]++
			}
		}
		if !d.Reviewed() {
			continue
		}
		payload.Reviewed++
		conf += float64(d.Confidence)
		rating += float64(d.Review.Rating)
	}
	payload.CommonMoods = topKeys(moods, 3)

	if payload.Reviewed == 0 {
		return encode(payload, "No reviewed decisions yet. Review a past decision to see how your confidence compares with outcomes.")
	}
	n := float64(payload.Reviewed)
	payload.AverageConfidence = round1(conf / n)
	payload.AverageRating = round1(rating / n)
	// Both scales normalised to 0..1; positive means more confident than results justified.
	payload.CalibrationGap = round1(payload.AverageConfidence/10 - payload.AverageRating/5)

	verdict := "Your confidence roughly matches your outcomes."
	switch {
	case payload.CalibrationGap >= 0.2:
		verdict = "You tend to be more confident than your outcomes justify."
	case payload.CalibrationGap <= -0.2:
		verdict = "Your outcomes tend to beat your confidence."
	}
	summary := fmt.Sprintf("%d reviewed decisions: average confidence %.1f/10, average outcome %.1f/5. %s",
		payload.Reviewed, payload.AverageConfidence, payload.AverageRating, verdict)
	if len(payload.CommonMoods) > 0 {
		summary += " Frequent states of mind: " + strings.Join(payload.CommonMoods, ", ") + "."
	}
	return encode(payload, summary)
}

type similarParams struct {
	Query string `json:"query" jsonschema:"title=What to look for,minLength=3,maxLength=200"`
}

type similarTool struct {
	definition
	searcher Searcher
}

// SimilarHit is one decision returned by the similar tool.
type SimilarHit struct {
	DecisionID journal.DecisionID `json:"decision_id"`
	Problem    string             `json:"problem"`
	Score      float64            `json:"score"`
	Outcome    string             `json:"outcome,omitempty"`
}

func (t similarTool) Execute(ctx context.Context, exec ExecContext) (Result, error) {
	query, _ := exec.Values["query"].(string)
	byID := make(map[journal.DecisionID]journal.Decision, len(exec.Decisions))
	for _, d := range exec.Decisions {
		byID[d.ID] = d
	}
	skip := func(id journal.DecisionID) bool {
		_, known := byID[id]
		return !known || (exec.Anchor != nil && id == exec.Anchor.ID)
	}

	var hits []SimilarHit
	if t.searcher != nil {
		matches, err := t.searcher.SearchSimilar(ctx, query, similarLimit, retrieval.SearchOptions{
			Filter: func(id journal.DecisionID) bool { return !skip(id) },
		})
		if err == nil {
			for _, m := range matches {
				hits = append(hits, newHit(byID[m.DecisionID], m.Similarity))
			}
		}
	}
	if len(hits) == 0 {
		hits = keywordMatches(query, exec.Decisions, skip)
	}

	payload := map[string]any{"query": query, "matches": hits}
	if len(hits) == 0 {
		return encode(payload, fmt.Sprintf("No past decisions resemble %q.", query))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Past decisions like %q\n", query)
	for _, h := range hits {
		line := "- " + h.Problem
		if h.Outcome != "" {
			line += " (outcome: " + h.Outcome + ")"
		}
		b.WriteString(line + "\n")
	}
	return encode(payload, strings.TrimRight(b.String(), "\n"))
}

func newHit(d journal.Decision, score float64) SimilarHit {
	hit := SimilarHit{DecisionID: d.ID, Problem: strings.TrimSpace(d.Problem), Score: round2(score)}
	if d.Reviewed() {
		hit.Outcome = strings.TrimSpace(d.Review.Outcome)
	}
	return hit
}

func keywordMatches(query string, decisions []journal.Decision, skip func(journal.DecisionID) bool) []SimilarHit {
	q := wordSet(query)
	if len(q) == 0 {
		return nil
	}
	var hits []SimilarHit
	for _, d := range decisions {
		if skip(d.ID) {
			continue
		}
		words := wordSet(d.EmbeddingText())
		shared := 0
		for w := range q {
			if words[w] {
				shared++
			}
		}
		if shared == 0 {
			continue
		}
		hits = append(hits, newHit(d, float64(shared)/float64(len(q)+len(words)-shared)))
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > similarLimit {
		hits = hits[:similarLimit]
	}
	return hits
}

func wordSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	}) {
		if len(w) > 2 {
			out[w] = true
		}
	}
	return out
}

type tenTenTenParams struct {
	Option string `json:"option" jsonschema:"title=Option,minLength=3,maxLength=200"`
	Notes  string `json:"notes,omitempty" jsonschema:"title=Notes,maxLength=500"`
}

type tenTenTenTool struct{ definition }

// Horizon is one time frame of a 10/10/10 analysis.
type Horizon struct {
	Horizon  string `json:"horizon"`
	Question string `json:"question"`
}

func (t tenTenTenTool) Execute(ctx context.Context, exec ExecContext) (Result, error) {
	option, _ := exec.Values["option"].(string)
	notes, _ := exec.Values["notes"].(string)

	horizons := []Horizon{
		{"10 minutes", fmt.Sprintf("How will you feel 10 minutes after choosing %q?", option)},
		{"10 months", fmt.Sprintf("What will %q have changed in your life 10 months from now?", option)},
		{"10 years", fmt.Sprintf("Looking back in 10 years, will %q matter, and how?", option)},
	}
	payload := map[string]any{"option": option, "horizons": horizons}
	if notes != "" {
		payload["notes"] = notes
	}
	if d, err := exec.Subject(); err == nil {
		payload["decision_id"] = d.ID
	}

	var b strings.Builder
	fmt.Fprintf(&b, "10/10/10 for %q\n", option)
	for _, h := range horizons {
		fmt.Fprintf(&b, "- %s: %s\n", h.Horizon, h.Question)
	}
	if notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", notes)
	}
	return encode(payload, strings.TrimRight(b.String(), "\n"))
}

type weighParams struct {
	Criterion string  `json:"criterion" jsonschema:"title=Criterion,minLength=2,maxLength=80"`
	Weight    float64 `json:"weight" jsonschema:"title=Weight,minimum=1,maximum=10"`
}

type weighTool struct{ definition }

func (t weighTool) Execute(ctx context.Context, exec ExecContext) (Result, error) {
	d, err := exec.Subject()
	if err != nil {
		return Result{}, err
	}
	criterion, _ := exec.Values["criterion"].(string)
	weight, _ := exec.Values["weight"].(float64)

	alternatives := make([]string, 0, len(d.Alternatives))
	for _, alt := range d.Alternatives {
		alternatives = append(alternatives, strings.TrimSpace(alt.Text))
	}
	if len(alternatives) == 0 {
		return Result{}, fmt.Errorf("%w: %q has no alternatives to weigh", ErrNoDecision, d.Problem)
	}

	payload := map[string]any{
		"decision_id":  d.ID,
		"criterion":    criterion,
		"weight":       weight,
		"alternatives": alternatives,
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Criterion %q, weight %s/10\n", criterion, formatNumber(weight))
	fmt.Fprintf(&b, "Rate each option 1-5 on %s:\n", criterion)
	for _, alt := range alternatives {
		fmt.Fprintf(&b, "- %s\n", alt)
	}
	return encode(payload, strings.TrimRight(b.String(), "\n"))
}

func topKeys(counts map[string]int, n int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] == counts[keys[j]] {
			return keys[i] < keys[j]
		}
		return counts[keys[i]] > counts[keys[j]]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func round1(f float64) float64 { return math.Round(f*10) / 10 }
func round2(f float64) float64 { return math.Round(f*100) / 100 }

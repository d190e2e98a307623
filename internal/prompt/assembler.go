// Package prompt assembles the system instructions and history sent with each
// conversation turn.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ponder/internal/chat"
	"ponder/internal/journal"
	"ponder/internal/llm/core"
	"ponder/internal/retrieval"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	situationLimit = 300
	outcomeLimit   = 200
	lessonsLimit   = 150

	// RecentFlag marks entries included by recency rather than similarity.
	RecentFlag = "[recent, not semantically matched]"

	defaultTopK            = 3
	defaultThreshold       = 0.6
	defaultRecentFallback  = 5
	defaultMaxAlternatives = 3
	defaultExamples        = 2
)

const basePolicy = `You are a thinking partner for someone reviewing their own decisions.
Keep replies brief: a few sentences, then one question.
Ask Socratic questions instead of giving verdicts; the decision belongs to the user.
When it genuinely helps, name one of these heuristics or biases: confirmation bias, sunk cost, overconfidence, availability, anchoring, loss aversion, status quo bias.
Ground observations in the journal entries below and say so when you are guessing.`

var ErrJournalRequired = errors.New("journal is required")

// Journal is the read-only view of the decision journal.
type Journal interface {
	ListDecisions(ctx context.Context, filter journal.Filter) ([]journal.Decision, error)
	GetDecision(ctx context.Context, id journal.DecisionID) (journal.Decision, error)
	Profile(ctx context.Context) (journal.Profile, error)
}

// Retriever ranks decisions by similarity to a query.
type Retriever interface {
	SearchSimilar(ctx context.Context, query string, k int, opts retrieval.SearchOptions) ([]retrieval.Match, error)
}

// Config configures an Assembler. Zero numeric fields take defaults.
type Config struct {
	Journal         Journal
	Retriever       Retriever
	Examples        []Example
	Logger          *zap.Logger
	TopK            int
	Threshold       float64
	RecentFallback  int
	MaxAlternatives int
	ExampleCount    int
}

// Input is what one turn knows about its conversation.
type Input struct {
	Anchors   []journal.DecisionID
	History   []chat.Message
	Utterance string
}

// Result is the assembled model context.
type Result struct {
	System   string
	Messages []core.Message
	// Related lists decisions included by similarity or recency.
	Related        []journal.DecisionID
	RecentFallback bool
	ExampleIDs     []string
}

// Assembler builds model context from the journal.
type Assembler struct {
	journal   Journal
	retriever Retriever
	examples  []Example
	log       *zap.Logger

	topK            int
	threshold       float64
	recentFallback  int
	maxAlternatives int
	exampleCount    int
}

// New constructs an Assembler.
func New(cfg Config) (*Assembler, error) {
	if cfg.Journal == nil {
		return nil, ErrJournalRequired
	}
	a := &Assembler{
		journal:         cfg.Journal,
		retriever:       cfg.Retriever,
		examples:        cfg.Examples,
		log:             cfg.Logger,
		topK:            cfg.TopK,
		threshold:       cfg.Threshold,
		recentFallback:  cfg.RecentFallback,
		maxAlternatives: cfg.MaxAlternatives,
		exampleCount:    cfg.ExampleCount,
	}
	if a.examples == nil {
		a.examples = DefaultExamples()
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	if a.topK <= 0 {
		a.topK = defaultTopK
	}
	if a.threshold <= 0 {
		a.threshold = defaultThreshold
	}
	if a.recentFallback <= 0 {
		a.recentFallback = defaultRecentFallback
	}
	if a.maxAlternatives <= 0 {
		a.maxAlternatives = defaultMaxAlternatives
	}
	if a.exampleCount <= 0 {
		a.exampleCount = defaultExamples
	}
	return a, nil
}

type related struct {
	decisions []journal.Decision
	recent    bool
}

// Build assembles the system prompt and the full, untruncated history.
func (a *Assembler) Build(ctx context.Context, in Input) (Result, error) {
	var (
		anchors []journal.Decision
		rel     related
		profile journal.Profile
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for _, id := range in.Anchors {
			d, err := a.journal.GetDecision(gctx, id)
			if err != nil {
				a.log.Warn("anchored decision unavailable", zap.String("decision_id", string(id)), zap.Error(err))
				continue
			}
			anchors = append(anchors, d)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		rel, err = a.related(gctx, in)
		return err
	})
	g.Go(func() error {
		p, err := a.journal.Profile(gctx)
		if err != nil {
			a.log.Warn("profile unavailable", zap.Error(err))
			return nil
		}
		profile = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("assemble context: %w", err)
	}

	kind := KindFor(len(in.Anchors))
	examples := SelectExamples(a.examples, kind, Classify(in.Utterance), a.exampleCount)

	sections := []string{"## Guidelines\n" + basePolicy}
	if len(anchors) > 0 {
		sections = append(sections, a.anchorSection(anchors))
	}
	if len(rel.decisions) > 0 {
		sections = append(sections, relatedSection(rel))
	}
	if !profile.Empty() {
		sections = append(sections, profileSection(profile))
	}
	if len(examples) > 0 {
		sections = append(sections, examplesSection(examples))
	}

	result := Result{
		System:         strings.Join(sections, "\n\n"),
		Messages:       HistoryMessages(in.History),
		RecentFallback: rel.recent,
	}
	for _, d := range rel.decisions {
		result.Related = append(result.Related, d.ID)
	}
	for _, ex := range examples {
		result.ExampleIDs = append(result.ExampleIDs, ex.ID)
	}
	return result, nil
}

func (a *Assembler) related(ctx context.Context, in Input) (related, error) {
	anchored := make(map[journal.DecisionID]struct{}, len(in.Anchors))
	for _, id := range in.Anchors {
		anchored[id] = struct{}{}
	}

	active, err := a.journal.ListDecisions(ctx, journal.Filter{})
	if err != nil {
		return related{}, fmt.Errorf("list decisions: %w", err)
	}
	byID := make(map[journal.DecisionID]journal.Decision, len(active))
	for _, d := range active {
		byID[d.ID] = d
	}

	if a.retriever != nil && strings.TrimSpace(in.Utterance) != "" {
		matches, err := a.retriever.SearchSimilar(ctx, in.Utterance, a.topK, retrieval.SearchOptions{
			Threshold: a.threshold,
			Filter: func(id journal.DecisionID) bool {
				_, isAnchor := anchored[id]
				_, isActive := byID[id]
				return !isAnchor && isActive
			},
		})
		if err != nil {
			a.log.Warn("retrieval failed, using recent decisions", zap.Error(err))
		}
		var out []journal.Decision
		for _, m := range matches {
			if d, ok := byID[m.DecisionID]; ok {
				out = append(out, d)
			}
		}
		if len(out) > 0 {
			return related{decisions: out}, nil
		}
	}

	var recent []journal.Decision
	for _, d := range active {
		if _, isAnchor := anchored[d.ID]; isAnchor {
			continue
		}
		recent = append(recent, d)
		if len(recent) == a.recentFallback {
			break
		}
	}
	return related{decisions: recent, recent: true}, nil
}

func (a *Assembler) anchorSection(anchors []journal.Decision) string {
	var b strings.Builder
	if len(anchors) == 1 {
		b.WriteString("## Decision under discussion\n")
		b.WriteString(a.digest(anchors[0]))
		return strings.TrimRight(b.String(), "\n")
	}
	b.WriteString("## Decisions under discussion\n")
	for i, d := range anchors {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Decision %d\n", i+1)
		b.WriteString(a.digest(d))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *Assembler) digest(d journal.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem: %s\n", strings.TrimSpace(d.Problem))
	if s := strings.TrimSpace(d.Situation); s != "" {
		fmt.Fprintf(&b, "Situation: %s\n", Truncate(s, situationLimit))
	}
	if len(d.StateOfMind) > 0 {
		fmt.Fprintf(&b, "State of mind: %s\n", strings.Join(d.StateOfMind, ", "))
	}
	if len(d.Alternatives) > 0 {
		b.WriteString("Alternatives:\n")
		for i, alt := range d.Alternatives {
			if i == a.maxAlternatives {
				break
			}
			line := "- " + strings.TrimSpace(alt.Text)
			if alt.Chosen {
				line += " (chosen)"
			}
			b.WriteString(line + "\n")
		}
	}
	fmt.Fprintf(&b, "Confidence: %d/10\n", d.Confidence)
	if d.Reviewed() {
		fmt.Fprintf(&b, "Outcome: %s\n", Truncate(strings.TrimSpace(d.Review.Outcome), outcomeLimit))
		fmt.Fprintf(&b, "Outcome rating: %d/5\n", d.Review.Rating)
		if l := strings.TrimSpace(d.Review.Lessons); l != "" {
			fmt.Fprintf(&b, "Lessons: %s\n", Truncate(l, lessonsLimit))
		}
	}
	return b.String()
}

func relatedSection(rel related) string {
	var b strings.Builder
	if rel.recent {
		b.WriteString("## Recent decisions\n")
	} else {
		b.WriteString("## Related past decisions\n")
	}
	for _, d := range rel.decisions {
		line := fmt.Sprintf("- %s (confidence %d/10", strings.TrimSpace(d.Problem), d.Confidence)
		if d.Reviewed() {
			line += fmt.Sprintf(", outcome rating %d/5", d.Review.Rating)
		}
		line += ")"
		if choice, ok := d.ChosenAlternative(); ok {
			line += " chose: " + strings.TrimSpace(choice.Text)
		}
		if rel.recent {
			line += " " + RecentFlag
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func profileSection(p journal.Profile) string {
	var b strings.Builder
	b.WriteString("## About the user\n")
	if name := strings.TrimSpace(p.Name); name != "" {
		fmt.Fprintf(&b, "Name: %s\n", name)
	}
	if bio := strings.TrimSpace(p.Bio); bio != "" {
		fmt.Fprintf(&b, "Bio: %s\n", bio)
	}
	for _, ans := range p.Answered() {
		fmt.Fprintf(&b, "Q: %s\nA: %s\n", ans.Question, strings.TrimSpace(ans.Answer))
	}
	return strings.TrimRight(b.String(), "\n")
}

func examplesSection(examples []Example) string {
	var b strings.Builder
	b.WriteString("## Example exchanges\n")
	for i, ex := range examples {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", strings.TrimSpace(ex.User), strings.TrimSpace(ex.Assistant))
	}
	return strings.TrimRight(b.String(), "\n")
}

// HistoryMessages converts the durable transcript into model turns. Tool
// results are shown to the model as user-side context; pending forms and
// empty placeholders are skipped.
func HistoryMessages(history []chat.Message) []core.Message {
	out := make([]core.Message, 0, len(history))
	for _, msg := range history {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		switch msg.Role {
		case chat.RoleUser:
			out = append(out, core.Message{Role: core.RoleUser, Content: msg.Content})
		case chat.RoleAssistant:
			out = append(out, core.Message{Role: core.RoleAssistant, Content: msg.Content})
		case chat.RoleToolResult:
			name := "tool"
			if msg.Tool != nil && msg.Tool.ToolName != "" {
				name = msg.Tool.ToolName
			}
			out = append(out, core.Message{Role: core.RoleUser, Content: fmt.Sprintf("[%s result]\n%s", name, content)})
		}
	}
	return out
}

// Truncate shortens s to limit runes, ending with "..." when cut.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return strings.TrimSpace(string(runes[:limit-3])) + "..."
}

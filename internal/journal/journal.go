package journal

import (
	"strings"
	"time"
)

// DecisionID identifies one journal entry.
type DecisionID string

// Alternative is one option considered for a decision.
type Alternative struct {
	Text   string `json:"text" yaml:"text"`
	Chosen bool   `json:"chosen,omitempty" yaml:"chosen,omitempty"`
}

// Review is the retrospective recorded once the outcome of a decision is known.
type Review struct {
	Outcome    string    `json:"outcome" yaml:"outcome"`
	Rating     int       `json:"rating" yaml:"rating"`
	Lessons    string    `json:"lessons,omitempty" yaml:"lessons,omitempty"`
	ReviewedAt time.Time `json:"reviewed_at" yaml:"reviewed_at"`
}

// Decision is one journal entry as the chat subsystem sees it.
type Decision struct {
	ID           DecisionID    `json:"id" yaml:"id"`
	Problem      string        `json:"problem" yaml:"problem"`
	Situation    string        `json:"situation,omitempty" yaml:"situation,omitempty"`
	StateOfMind  []string      `json:"state_of_mind,omitempty" yaml:"state_of_mind,omitempty"`
	Alternatives []Alternative `json:"alternatives,omitempty" yaml:"alternatives,omitempty"`
	Confidence   int           `json:"confidence" yaml:"confidence"`
	Archived     bool          `json:"archived,omitempty" yaml:"archived,omitempty"`
	CreatedAt    time.Time     `json:"created_at" yaml:"created_at"`
	Review       *Review       `json:"review,omitempty" yaml:"review,omitempty"`
}

// Reviewed reports whether an outcome has been recorded.
func (d Decision) Reviewed() bool {
	return d.Review != nil && strings.TrimSpace(d.Review.Outcome) != ""
}

// ChosenAlternative returns the chosen option, if any.
func (d Decision) ChosenAlternative() (Alternative, bool) {
	for _, alt := range d.Alternatives {
		if alt.Chosen {
			return alt, true
		}
	}
	return Alternative{}, false
}

// EmbeddingText is the text indexed for semantic retrieval.
func (d Decision) EmbeddingText() string {
	parts := []string{strings.TrimSpace(d.Problem)}
	if situation := strings.TrimSpace(d.Situation); situation != "" {
		parts = append(parts, situation)
	}
	if len(d.StateOfMind) > 0 {
		parts = append(parts, "Feeling: "+strings.Join(d.StateOfMind, ", "))
	}
	for _, alt := range d.Alternatives {
		parts = append(parts, "Option: "+strings.TrimSpace(alt.Text))
	}
	return strings.Join(parts, "\n")
}

// Clone returns a deep copy.
func (d Decision) Clone() Decision {
	cloned := d
	cloned.StateOfMind = append([]string(nil), d.StateOfMind...)
	cloned.Alternatives = append([]Alternative(nil), d.Alternatives...)
	if d.Review != nil {
		review := *d.Review
		cloned.Review = &review
	}
	return cloned
}

// Filter narrows decision listings.
type Filter struct {
	IncludeArchived bool
	Limit           int
}

package journal

import "strings"

// Questionnaire is the fixed set of profile questions offered during onboarding.
var Questionnaire = []string{
	"What kind of decisions do you find hardest?",
	"How do you usually decide when time is short?",
	"Who do you turn to for advice?",
	"What does a good outcome mean to you?",
	"Which past decision are you proudest of?",
}

// Answer is one answered questionnaire item.
type Answer struct {
	Question string `json:"question" yaml:"question"`
	Answer   string `json:"answer" yaml:"answer"`
}

// Profile is the user's self-description.
type Profile struct {
	Name    string   `json:"name,omitempty" yaml:"name,omitempty"`
	Bio     string   `json:"bio,omitempty" yaml:"bio,omitempty"`
	Answers []Answer `json:"answers,omitempty" yaml:"answers,omitempty"`
}

// Answered returns answers with non-empty text.
func (p Profile) Answered() []Answer {
	out := make([]Answer, 0, len(p.Answers))
	for _, answer := range p.Answers {
		if strings.TrimSpace(answer.Answer) == "" {
			continue
		}
		out = append(out, answer)
	}
	return out
}

// Empty reports whether no profile field carries content.
func (p Profile) Empty() bool {
	return strings.TrimSpace(p.Name) == "" &&
		strings.TrimSpace(p.Bio) == "" &&
		len(p.Answered()) == 0
}

package prompt

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed examples.yaml
var examplesYAML []byte

// Kind classifies a conversation by how many decisions anchor it.
type Kind string

const (
	KindGeneral Kind = "general"
	KindSingle  Kind = "single"
	KindMulti   Kind = "multi"
)

// KindFor returns the conversation kind for n anchored decisions.
func KindFor(n int) Kind {
	switch {
	case n == 0:
		return KindGeneral
	case n == 1:
		return KindSingle
	default:
		return KindMulti
	}
}

// Topic is what the latest utterance asks about.
type Topic string

const (
	TopicGeneral Topic = "general"
	TopicPattern Topic = "pattern"
	TopicSimilar Topic = "similar"
	TopicPast    Topic = "past"
	TopicBias    Topic = "bias"
)

var topicKeywords = []struct {
	topic    Topic
	keywords []string
}{
	{TopicPattern, []string{"pattern", "tend to", "always", "calibration", "habit"}},
	{TopicSimilar, []string{"similar", "before", "like this", "same situation"}},
	{TopicPast, []string{"past decision", "learned", "learn from", "lesson", "last time"}},
	{TopicBias, []string{"bias", "biased", "fooling myself", "blind spot", "sunk cost"}},
}

// Classify picks the topic of utterance by keyword, first match wins.
func Classify(utterance string) Topic {
	lower := strings.ToLower(utterance)
	for _, entry := range topicKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.topic
			}
		}
	}
	return TopicGeneral
}

// Example is one curated exchange.
type Example struct {
	ID        string `yaml:"id"`
	Kinds     []Kind `yaml:"kinds"`
	Topic     Topic  `yaml:"topic"`
	User      string `yaml:"user"`
	Assistant string `yaml:"assistant"`
}

// LoadExamples parses a YAML catalogue.
func LoadExamples(data []byte) ([]Example, error) {
	var out []Example
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse examples: %w", err)
	}
	for i, ex := range out {
		if ex.ID == "" || ex.User == "" || ex.Assistant == "" {
			return nil, fmt.Errorf("parse examples: entry %d is incomplete", i)
		}
		if ex.Topic == "" {
			out[i].Topic = TopicGeneral
		}
	}
	return out, nil
}

// DefaultExamples returns the embedded catalogue.
func DefaultExamples() []Example {
	out, err := LoadExamples(examplesYAML)
	if err != nil {
		panic(err)
	}
	return out
}

// SelectExamples returns up to n examples for kind, preferring topic matches
// and topping up with general ones.
func SelectExamples(catalogue []Example, kind Kind, topic Topic, n int) []Example {
	if n <= 0 {
		return nil
	}
	var picked []Example
	take := func(want Topic) {
		for _, ex := range catalogue {
			if len(picked) == n {
				return
			}
			if ex.Topic != want || !slices.Contains(ex.Kinds, kind) {
				continue
			}
			if slices.ContainsFunc(picked, func(p Example) bool { return p.ID == ex.ID }) {
				continue
			}
			picked = append(picked, ex)
		}
	}
	take(topic)
	if topic != TopicGeneral {
		take(TopicGeneral)
	}
	return picked
}

// Package slash parses the "/command args" grammar embedded in chat input.
// Everything here is pure: no I/O, no shared state.
package slash

import (
	"sort"
	"strings"
	"unicode"
)

// State classifies raw input against the command grammar.
type State string

const (
	// StateNone is ordinary text.
	StateNone State = "none"
	// StateTrigger is a lone "/".
	StateTrigger State = "trigger"
	// StatePartial is "/prefix" still being typed.
	StatePartial State = "partial"
	// StateExactMatch is a resolved "/alias " followed by optional arguments.
	StateExactMatch State = "exact-match"
	// StateUnknown is "/prefix " that resolves to nothing.
	StateUnknown State = "unknown"
)

// Command describes one invocable command.
type Command struct {
	ID          string
	Name        string
	Aliases     []string
	Description string
}

// Shortcuts maps lower-cased ids and aliases to command ids.
type Shortcuts map[string]string

// NewShortcuts indexes commands by id and alias. Earlier commands win on
// conflicting aliases.
func NewShortcuts(commands []Command) Shortcuts {
	out := make(Shortcuts, len(commands)*3)
	for _, cmd := range commands {
		keys := append([]string{cmd.ID}, cmd.Aliases...)
		for _, key := range keys {
			key = strings.ToLower(strings.TrimSpace(key))
			if key == "" {
				continue
			}
			if _, taken := out[key]; !taken {
				out[key] = cmd.ID
			}
		}
	}
	return out
}

// Resolve returns the command id for prefix, ignoring case.
func (s Shortcuts) Resolve(prefix string) (string, bool) {
	id, ok := s[strings.ToLower(prefix)]
	return id, ok
}

// Parsed is the classification of one input.
type Parsed struct {
	State     State
	Prefix    string
	CommandID string
	Args      string
}

// Parse classifies input.
func Parse(input string, shortcuts Shortcuts) Parsed {
	if !strings.HasPrefix(input, "/") {
		return Parsed{State: StateNone}
	}
	body := input[1:]
	if body == "" {
		return Parsed{State: StateTrigger}
	}

	end := strings.IndexFunc(body, unicode.IsSpace)
	if end < 0 {
		return Parsed{State: StatePartial, Prefix: body}
	}

	prefix := body[:end]
	args := strings.TrimSpace(body[end:])
	if id, ok := shortcuts.Resolve(prefix); ok && prefix != "" {
		return Parsed{State: StateExactMatch, Prefix: prefix, CommandID: id, Args: args}
	}
	return Parsed{State: StateUnknown, Prefix: prefix, Args: args}
}

// Filter returns the commands whose id, name or aliases contain query, ranked
// exact alias first, then prefix matches, then substring matches. An empty
// query returns every command in order.
func Filter(commands []Command, query string) []Command {
	query = strings.ToLower(strings.TrimSpace(query))
	type ranked struct {
		cmd  Command
		rank int
	}
	var hits []ranked
	for _, cmd := range commands {
		if rank, ok := matchRank(cmd, query); ok {
			hits = append(hits, ranked{cmd: cmd, rank: rank})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].rank < hits[j].rank })

	out := make([]Command, len(hits))
	for i, hit := range hits {
		out[i] = hit.cmd
	}
	return out
}

func matchRank(cmd Command, query string) (int, bool) {
	if query == "" {
		return 0, true
	}
	keys := append([]string{cmd.ID}, cmd.Aliases...)
	best := -1
	consider := func(rank int) {
		if best < 0 || rank < best {
			best = rank
		}
	}
	for _, key := range keys {
		key = strings.ToLower(key)
		switch {
		case key == query:
			consider(0)
		case strings.HasPrefix(key, query):
			consider(1)
		case strings.Contains(key, query):
			consider(2)
		}
	}
	name := strings.ToLower(cmd.Name)
	switch {
	case strings.HasPrefix(name, query):
		consider(1)
	case strings.Contains(name, query):
		consider(2)
	}
	return best, best >= 0
}

// Completion returns the text that invokes cmd, ready for arguments.
func Completion(cmd Command) string {
	alias := cmd.ID
	if len(cmd.Aliases) > 0 {
		alias = cmd.Aliases[0]
	}
	return "/" + alias + " "
}

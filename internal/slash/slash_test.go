package slash

import (
	"strings"
	"testing"
	"unicode"

	"github.com/google/go-cmp/cmp"
)

var testCommands = []Command{
	{ID: "pre-mortem", Name: "Pre-mortem", Aliases: []string{"premortem", "pm"}},
	{ID: "bias-check", Name: "Bias check", Aliases: []string{"bias", "biases"}},
	{ID: "patterns", Name: "Patterns", Aliases: []string{"pattern", "calibration"}},
	{ID: "similar", Name: "Similar decisions", Aliases: []string{"similar", "past"}},
	{ID: "weigh", Name: "Weigh criterion", Aliases: []string{"weigh", "matrix"}},
}

func TestParseStates(t *testing.T) {
	t.Parallel()

	shortcuts := NewShortcuts(testCommands)
	cases := []struct {
		input string
		want  Parsed
	}{
		{"hello", Parsed{State: StateNone}},
		{" /pm ", Parsed{State: StateNone}},
		{"", Parsed{State: StateNone}},
		{"/", Parsed{State: StateTrigger}},
		{"/pre", Parsed{State: StatePartial, Prefix: "pre"}},
		{"/premortem", Parsed{State: StatePartial, Prefix: "premortem"}},
		{"/premortem ", Parsed{State: StateExactMatch, Prefix: "premortem", CommandID: "pre-mortem"}},
		{"/PM  now please ", Parsed{State: StateExactMatch, Prefix: "PM", CommandID: "pre-mortem", Args: "now please"}},
		{"/Pre-Mortem\tgo", Parsed{State: StateExactMatch, Prefix: "Pre-Mortem", CommandID: "pre-mortem", Args: "go"}},
		{"/nope ", Parsed{State: StateUnknown, Prefix: "nope"}},
		{"/ x", Parsed{State: StateUnknown, Args: "x"}},
	}
	for _, tc := range cases {
		if diff := cmp.Diff(tc.want, Parse(tc.input, shortcuts)); diff != "" {
			t.Fatalf("Parse(%q) mismatch (-want +got):\n%s", tc.input, diff)
		}
	}
}

func TestNewShortcutsFirstCommandWins(t *testing.T) {
	t.Parallel()

	shortcuts := NewShortcuts([]Command{
		{ID: "a", Aliases: []string{"x"}},
		{ID: "b", Aliases: []string{"X", ""}},
	})
	if id, _ := shortcuts.Resolve("x"); id != "a" {
		t.Fatalf("Resolve(x) = %q, want a", id)
	}
	if _, ok := shortcuts.Resolve(""); ok {
		t.Fatal("empty alias should not resolve")
	}
}

func TestFilterRanksExactThenPrefixThenSubstring(t *testing.T) {
	t.Parallel()

	ids := func(cmds []Command) []string {
		out := make([]string, len(cmds))
		for i, c := range cmds {
			out[i] = c.ID
		}
		return out
	}

	if diff := cmp.Diff([]string{"pre-mortem", "patterns", "similar"}, ids(Filter(testCommands, "p"))); diff != "" {
		t.Fatalf("Filter(p) mismatch:\n%s", diff)
	}
	substring := []Command{{ID: "compare"}, {ID: "pros"}}
	if diff := cmp.Diff([]string{"pros", "compare"}, ids(Filter(substring, "p"))); diff != "" {
		t.Fatalf("prefix should outrank substring:\n%s", diff)
	}
	got := ids(Filter(testCommands, "bias"))
	if diff := cmp.Diff([]string{"bias-check"}, got); diff != "" {
		t.Fatalf("Filter(bias) mismatch:\n%s", diff)
	}
	got = ids(Filter(testCommands, "mort"))
	if diff := cmp.Diff([]string{"pre-mortem"}, got); diff != "" {
		t.Fatalf("Filter(mort) mismatch:\n%s", diff)
	}
	got = ids(Filter(testCommands, "ATTER"))
	if diff := cmp.Diff([]string{"patterns"}, got); diff != "" {
		t.Fatalf("Filter(ATTER) mismatch:\n%s", diff)
	}
	if len(Filter(testCommands, "")) != len(testCommands) {
		t.Fatal("empty query should return all commands")
	}
	if len(Filter(testCommands, "zzz")) != 0 {
		t.Fatal("unmatched query should return nothing")
	}
}

func TestFilterExactAliasBeatsPrefix(t *testing.T) {
	t.Parallel()

	cmds := []Command{
		{ID: "similar-long", Aliases: []string{"simil"}},
		{ID: "sim", Aliases: []string{"sim"}},
	}
	got := Filter(cmds, "sim")
	if got[0].ID != "sim" {
		t.Fatalf("Filter(sim)[0] = %q, want exact alias match first", got[0].ID)
	}
}

func FuzzParse(f *testing.F) {
	shortcuts := NewShortcuts(testCommands)
	for _, seed := range []string{"", "/", "/pm", "/pm ", "/PM args", "hello", "/ ", "/ x", "/weigh 5 cost"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, input string) {
		got := Parse(input, shortcuts)
		startsWithSlash := strings.HasPrefix(input, "/")
		if (got.State == StateNone) == startsWithSlash {
			t.Fatalf("Parse(%q) = %s, slash prefix = %v", input, got.State, startsWithSlash)
		}
		switch got.State {
		case StateTrigger:
			if input != "/" {
				t.Fatalf("trigger for %q", input)
			}
		case StatePartial:
			if strings.IndexFunc(input, unicode.IsSpace) >= 0 {
				t.Fatalf("partial for input containing space %q", input)
			}
		case StateExactMatch:
			if got.CommandID == "" {
				t.Fatalf("exact match without command for %q", input)
			}
			if id, _ := shortcuts.Resolve(got.Prefix); id != got.CommandID {
				t.Fatalf("exact match %q does not resolve to %q", got.Prefix, got.CommandID)
			}
		case StateUnknown:
			if _, ok := shortcuts.Resolve(got.Prefix); ok && got.Prefix != "" {
				t.Fatalf("unknown for resolvable prefix %q", got.Prefix)
			}
		}
	})
}

package slash

// Picker tracks keyboard selection over command candidates.
type Picker struct {
	commands   []Command
	candidates []Command
	index      int
	query      string
}

// NewPicker constructs a picker over commands.
func NewPicker(commands []Command) *Picker {
	return &Picker{commands: append([]Command(nil), commands...)}
}

// Update recomputes candidates for input and reports whether the picker
// should be shown.
func (p *Picker) Update(input string, shortcuts Shortcuts) bool {
	parsed := Parse(input, shortcuts)
	switch parsed.State {
	case StateTrigger, StatePartial:
	default:
		p.candidates = nil
		p.index = 0
		p.query = ""
		return false
	}
	if parsed.Prefix != p.query || p.candidates == nil {
		p.index = 0
	}
	p.query = parsed.Prefix
	p.candidates = Filter(p.commands, parsed.Prefix)
	if p.index >= len(p.candidates) {
		p.index = 0
	}
	return len(p.candidates) > 0
}

// Candidates returns the current candidate list.
func (p *Picker) Candidates() []Command {
	return append([]Command(nil), p.candidates...)
}

// Index returns the highlighted candidate position.
func (p *Picker) Index() int {
	return p.index
}

// Up moves the highlight up, wrapping.
func (p *Picker) Up() {
	if len(p.candidates) == 0 {
		return
	}
	p.index = (p.index - 1 + len(p.candidates)) % len(p.candidates)
}

// Down moves the highlight down, wrapping.
func (p *Picker) Down() {
	if len(p.candidates) == 0 {
		return
	}
	p.index = (p.index + 1) % len(p.candidates)
}

// Selected returns the highlighted candidate.
func (p *Picker) Selected() (Command, bool) {
	if p.index < 0 || p.index >= len(p.candidates) {
		return Command{}, false
	}
	return p.candidates[p.index], true
}

// Autocomplete returns the input that invokes the highlighted command.
func (p *Picker) Autocomplete() (string, bool) {
	cmd, ok := p.Selected()
	if !ok {
		return "", false
	}
	return Completion(cmd), true
}

// Escape strips an unfinished command from input and closes the picker.
func (p *Picker) Escape(input string) string {
	p.candidates = nil
	p.index = 0
	p.query = ""
	switch Parse(input, nil).State {
	case StateTrigger, StatePartial:
		return ""
	default:
		return input
	}
}

package agent

// State is the runtime status of one conversation.
type State string

const (
	StateIdle    State = "idle"
	StateSending State = "sending"
	// StateAborted is reported after the user cancelled the last exchange.
	// A new send is accepted from it as from StateIdle.
	StateAborted State = "aborted"
)

// Sendable reports whether a new exchange may start from s.
func (s State) Sendable() bool {
	return s == StateIdle || s == StateAborted
}

package core

import (
	"context"
	"time"
)

// Provider streams model events for a single request. The returned channel
// closes after exactly one terminal event (EventDone or EventError).
type Provider interface {
	Stream(ctx context.Context, req *Request) (<-chan Event, error)
}

// Pinger reports whether the backend can currently serve requests.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Embedder turns text into vectors for similarity search.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// EventType identifies stream event variants.
type EventType string

const (
	EventStart     EventType = "start"
	EventTextDelta EventType = "text_delta"
	EventUsage     EventType = "usage"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// RetryPolicy configures retry/backoff behavior for retryable failures.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Request is the provider-agnostic streaming request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
	// Options carries backend-specific sampling parameters.
	Options map[string]any
	Retry   RetryPolicy
}

// DonePayload carries the final status when the stream ends.
type DonePayload struct {
	Reason StopReason
	Usage  Usage
}

// Event is the provider-agnostic streaming event.
type Event struct {
	Type      EventType
	TextDelta string
	Usage     *Usage
	Done      *DonePayload
	Err       error
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Package mockprovider is a scripted llm backend for tests and offline runs.
package mockprovider

import (
	"context"
	"sync"
	"time"

	"ponder/internal/llm/core"
)

// Provider emits a predefined event script for deterministic tests.
type Provider struct {
	Events []core.Event
	Delay  time.Duration
	// Script, when set, picks the events per request instead of Events.
	Script func(req *core.Request) []core.Event
	// Hold, when set, pauses the stream after HoldAfter events until it is
	// closed or the context ends.
	Hold      <-chan struct{}
	HoldAfter int
	PingErr   error
	Vectors   map[string][]float32

	mu       sync.Mutex
	requests []core.Request
}

// Ping returns PingErr.
func (m *Provider) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.PingErr
}

// Embed returns Vectors[input], or a zero vector for unknown inputs.
func (m *Provider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, input := range inputs {
		if vec, ok := m.Vectors[input]; ok {
			out[i] = append([]float32(nil), vec...)
			continue
		}
		out[i] = []float32{0, 0, 0}
	}
	return out, nil
}

// Requests returns every request received so far.
func (m *Provider) Requests() []core.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Request(nil), m.requests...)
}

// Stream emits scripted events in order until exhaustion or cancellation. A
// script without a terminal event is closed with EventDone.
func (m *Provider) Stream(ctx context.Context, req *core.Request) (<-chan core.Event, error) {
	if err := core.ValidateRequest(req); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.requests = append(m.requests, *req)
	m.mu.Unlock()

	script := m.Events
	if m.Script != nil {
		script = m.Script(req)
	}

	out := make(chan core.Event, 1)
	go func() {
		defer close(out)
		abort := func() {
			core.SendTerminalEvent(out, core.ErrorEvent(ctx.Err(), core.Usage{}))
		}
		for i, ev := range script {
			if m.Hold != nil && i == m.HoldAfter {
				select {
				case <-ctx.Done():
					abort()
					return
				case <-m.Hold:
				}
			}
			if m.Delay > 0 {
				if err := core.SleepContext(ctx, m.Delay); err != nil {
					abort()
					return
				}
			}
			if err := core.SendEvent(ctx, out, ev); err != nil {
				abort()
				return
			}
			if ev.Terminal() {
				return
			}
		}
		core.SendTerminalEvent(out, core.Event{Type: core.EventDone, Done: &core.DonePayload{Reason: core.StopReasonStop}})
	}()

	return out, nil
}

// Text scripts a successful reply that streams chunks in order.
func Text(chunks ...string) []core.Event {
	events := make([]core.Event, 0, len(chunks)+2)
	events = append(events, core.Event{Type: core.EventStart})
	output := 0
	for _, chunk := range chunks {
		events = append(events, core.Event{Type: core.EventTextDelta, TextDelta: chunk})
		output++
	}
	usage := core.Usage{InputTokens: 1, OutputTokens: output}
	events = append(events, core.Event{Type: core.EventDone, Done: &core.DonePayload{Reason: core.StopReasonStop, Usage: usage}})
	return events
}

package core

import (
	"context"
	"strings"
)

// SendEvent forwards an event unless the context has already been canceled.
func SendEvent(ctx context.Context, events chan<- Event, event Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case events <- event:
		return nil
	}
}

// SendTerminalEvent emits a terminal event without cancellation checks.
// The events channel must keep one slot free for it.
func SendTerminalEvent(events chan<- Event, event Event) {
	select {
	case events <- event:
	default:
	}
}

// Collect drains a stream into its concatenated text and terminal payload.
func Collect(events <-chan Event) (string, DonePayload, error) {
	var (
		text strings.Builder
		done DonePayload
	)
	for ev := range events {
		switch ev.Type {
		case EventTextDelta:
			text.WriteString(ev.TextDelta)
		case EventDone:
			if ev.Done != nil {
				done = *ev.Done
			}
		case EventError:
			if ev.Done != nil {
				done = *ev.Done
			}
			return text.String(), done, ev.Err
		}
	}
	return text.String(), done, nil
}

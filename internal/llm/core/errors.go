package core

import (
	"context"
	"errors"
)

var (
	// ErrInvalidRequest indicates missing or malformed provider request input.
	ErrInvalidRequest = errors.New("invalid llm request")
	// ErrMissingAPIKey indicates missing provider API key.
	ErrMissingAPIKey = errors.New("missing api key")
	// ErrUnreachable indicates the backend did not answer a health probe.
	ErrUnreachable = errors.New("llm backend unreachable")
)

// IsCanceled reports whether err came from context cancellation or deadline.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ErrorEvent builds the terminal error event for err, marking cancellation as aborted.
func ErrorEvent(err error, usage Usage) Event {
	reason := StopReasonError
	if IsCanceled(err) {
		reason = StopReasonAborted
	}
	return Event{
		Type: EventError,
		Done: &DonePayload{Reason: reason, Usage: usage},
		Err:  err,
	}
}

package agent

import (
	"context"
	"errors"
	"strings"

	"ponder/internal/llm/core"

	"go.uber.org/zap"
)

// PendingOutcome reports what SubmitPending did with an auto-submitted message.
type PendingOutcome string

const (
	// PendingSent means the message went through the normal send path.
	PendingSent PendingOutcome = "sent"
	// PendingDropped means a reply was in flight and the message was discarded.
	PendingDropped PendingOutcome = "dropped"
	// PendingDraft means the backend is unreachable; the caller should put the
	// text back into the input box instead of losing it.
	PendingDraft PendingOutcome = "draft"
)

// SubmitPending sends a message handed over by navigation, such as "discuss
// this decision" from the journal. It shares the send lock with Send and is
// dropped silently while the lock is held.
func (c *Conversation) SubmitPending(ctx context.Context, text string) (PendingOutcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return PendingDropped, nil
	}
	if c.Busy() {
		c.log.Debug("pending message dropped, reply in flight")
		return PendingDropped, nil
	}

	if c.agent.awaitHealth(ctx) == HealthUnreachable {
		c.log.Info("backend unreachable, pending message returned as draft")
		return PendingDraft, nil
	}
	if err := ctx.Err(); err != nil {
		return PendingDropped, err
	}

	err := c.Send(ctx, text)
	switch {
	case errors.Is(err, ErrBusy):
		c.log.Debug("pending message dropped, reply in flight")
		return PendingDropped, nil
	case errors.Is(err, ErrBackendUnavailable):
		return PendingDraft, nil
	case err != nil:
		c.log.Warn("pending message failed", zap.Error(err))
	}
	return PendingSent, err
}

// awaitHealth gives a startup health probe a bounded chance to settle before
// probing directly.
func (a *Agent) awaitHealth(ctx context.Context) Health {
	for range a.stabilizationAttempts {
		if h := a.Health(); h != HealthUnknown {
			return h
		}
		if err := core.SleepContext(ctx, a.stabilizationDelay); err != nil {
			return a.Health()
		}
	}
	if h := a.Health(); h != HealthUnknown {
		return h
	}
	return a.CheckHealth(ctx)
}

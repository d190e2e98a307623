package sessions

import (
	"sync"
	"time"
)

// Coalescer collapses bursts of Trigger calls into one run of fn, scheduled one
// window after the last call. A new Trigger replaces the pending timer.
type Coalescer struct {
	window time.Duration
	fn     func()

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	stopped bool
}

// NewCoalescer constructs a coalescer that runs fn after window of quiet.
func NewCoalescer(window time.Duration, fn func()) *Coalescer {
	return &Coalescer{window: window, fn: fn}
}

// Window returns the coalescing window.
func (c *Coalescer) Window() time.Duration {
	return c.window
}

// Trigger schedules fn, replacing any pending schedule.
func (c *Coalescer) Trigger() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(c.window, func() { c.fire(gen) })
}

// Pending reports whether a run is scheduled.
func (c *Coalescer) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

// Flush runs fn now if a run is pending.
func (c *Coalescer) Flush() {
	c.mu.Lock()
	if c.timer == nil || c.stopped {
		c.mu.Unlock()
		return
	}
	c.timer.Stop()
	c.timer = nil
	c.gen++
	c.mu.Unlock()

	c.fn()
}

// Stop cancels any pending run and ignores later triggers.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

func (c *Coalescer) fire(gen uint64) {
	c.mu.Lock()
	// A replaced or stopped timer may still fire once; its generation is stale.
	if gen != c.gen || c.stopped {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	c.fn()
}

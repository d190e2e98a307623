package chat

import "sync"

const defaultSubscriberBuffer = 64

// EventType identifies a state-change notification.
type EventType string

const (
	EventMessageUpserted   EventType = "message_upserted"
	EventMessageRemoved    EventType = "message_removed"
	EventStateChanged      EventType = "state_changed"
	EventSessionPersisted  EventType = "session_persisted"
	EventSessionsRefreshed EventType = "sessions_refreshed"
	EventBackendStatus     EventType = "backend_status"
	EventUsage             EventType = "usage"
	EventError             EventType = "error"
)

// Usage is the token accounting reported for one exchange.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Event is one notification published to subscribers.
type Event struct {
	Type      EventType
	SessionID SessionID
	Message   *Message
	MessageID MessageID
	State     string
	Reachable bool
	Sessions  []SessionSummary
	Usage     *Usage
	Err       error
}

// Broadcaster fans events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	closed bool
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener. The returned func unsubscribes and closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers ev to every subscriber with buffer space.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

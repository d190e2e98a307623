package chat

import "sync"

// MessageLog is the ordered in-memory message list of the active session.
// Upsert by id keeps streaming re-emissions from creating duplicates.
type MessageLog struct {
	mu       sync.RWMutex
	messages []Message
	index    map[MessageID]int
}

// NewMessageLog constructs a log seeded with msgs in order.
func NewMessageLog(msgs ...Message) *MessageLog {
	l := &MessageLog{index: make(map[MessageID]int, len(msgs))}
	for _, msg := range msgs {
		l.Upsert(msg)
	}
	return l
}

// Upsert appends msg, or replaces the entry with the same id in place.
// It reports whether a new entry was appended.
func (l *MessageLog) Upsert(msg Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i, ok := l.index[msg.ID]; ok {
		l.messages[i] = msg.Clone()
		return false
	}
	l.index[msg.ID] = len(l.messages)
	l.messages = append(l.messages, msg.Clone())
	return true
}

// Remove deletes the message with id and reports whether it existed.
func (l *MessageLog) Remove(id MessageID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[id]
	if !ok {
		return false
	}
	l.messages = append(l.messages[:i], l.messages[i+1:]...)
	delete(l.index, id)
	for j := i; j < len(l.messages); j++ {
		l.index[l.messages[j].ID] = j
	}
	return true
}

// Get returns a copy of the message with id.
func (l *MessageLog) Get(id MessageID) (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.index[id]
	if !ok {
		return Message{}, false
	}
	return l.messages[i].Clone(), true
}

// Messages returns a copy in display order.
func (l *MessageLog) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Message, 0, len(l.messages))
	for _, msg := range l.messages {
		out = append(out, msg.Clone())
	}
	return out
}

// Len returns the number of messages.
func (l *MessageLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Rebind moves every message to session id, used once a provisional session
// becomes durable.
func (l *MessageLog) Rebind(id SessionID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.messages {
		l.messages[i].SessionID = id
	}
}

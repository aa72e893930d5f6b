package session

import "sync"

// Exchange is one completed turn.
type Exchange struct {
	UserText string `json:"userText"`
	DocText  string `json:"docText"`
	FollowUp string `json:"followUp,omitempty"`
}

// History keeps the most recent exchanges, evicting the oldest first.
type History struct {
	mu       sync.RWMutex
	items    []Exchange
	capacity int
}

// NewHistory creates a history holding at most capacity exchanges.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{
		items:    make([]Exchange, 0, capacity),
		capacity: capacity,
	}
}

// Push appends e, dropping the oldest exchange when full.
func (h *History) Push(e Exchange) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.items) == h.capacity {
		copy(h.items, h.items[1:])
		h.items = h.items[:len(h.items)-1]
	}
	h.items = append(h.items, e)
}

// Items returns a copy of the exchanges, oldest first.
func (h *History) Items() []Exchange {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Exchange(nil), h.items...)
}

// Last returns the newest exchange.
func (h *History) Last() (Exchange, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.items) == 0 {
		return Exchange{}, false
	}
	return h.items[len(h.items)-1], true
}

// Len returns the number of stored exchanges.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}

package realtime

import (
	"sync"

	"amicare/internal/protocol"
)

// History is a fixed-capacity circular buffer of room events. Members that
// join late are replayed the recent events so they can catch up.
type History struct {
	mu       sync.RWMutex
	buf      []*protocol.Message
	capacity int
	pos      int // next write position
	full     bool
}

// NewHistory creates a history buffer. Capacities below one are raised to one.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{
		buf:      make([]*protocol.Message, capacity),
		capacity: capacity,
	}
}

// Write appends an event, overwriting the oldest one when full.
func (h *History) Write(msg *protocol.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.pos] = msg
	h.pos = (h.pos + 1) % h.capacity
	if h.pos == 0 {
		h.full = true
	}
}

// ReadAll returns the buffered events oldest first.
func (h *History) ReadAll() []*protocol.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.full {
		result := make([]*protocol.Message, h.pos)
		copy(result, h.buf[:h.pos])
		return result
	}

	result := make([]*protocol.Message, h.capacity)
	copy(result, h.buf[h.pos:])
	copy(result[h.capacity-h.pos:], h.buf[:h.pos])
	return result
}

package chat

import (
	"sync"

	"github.com/drazan/huddle/internal/domain"
)

// History is a bounded, insertion-ordered chat log. When full, the oldest
// entry is evicted first.
type History struct {
	mu       sync.Mutex
	entries  []domain.ChatMessage
	capacity int
}

func NewHistory(capacity int) *History {
	return &History{capacity: capacity}
}

func (h *History) Append(msg domain.ChatMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, msg)
	if len(h.entries) > h.capacity {
		h.entries = h.entries[1:]
	}
}

// Last returns a copy of the newest n entries in insertion order.
func (h *History) Last(n int) []domain.ChatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n > len(h.entries) {
		n = len(h.entries)
	}
	out := make([]domain.ChatMessage, n)
	copy(out, h.entries[len(h.entries)-n:])
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

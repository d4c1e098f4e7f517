package chat

import (
	"sync"

	"dbtforge/internal/prompt"
)

// History keeps the most recent chat turns.
type History struct {
	mu    sync.RWMutex
	turns []prompt.Turn
	limit int
}

// NewHistory keeps at most limit turns. limit <= 0 keeps none.
func NewHistory(limit int) *History {
	return &History{limit: limit}
}

// Add appends a turn, dropping the oldest beyond the limit.
func (h *History) Add(role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.limit <= 0 {
		return
	}
	h.turns = append(h.turns, prompt.Turn{Role: role, Content: content})
	if over := len(h.turns) - h.limit; over > 0 {
		h.turns = append(h.turns[:0:0], h.turns[over:]...)
	}
}

// Load replaces the history, keeping the newest turns.
func (h *History) Load(turns []prompt.Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.limit <= 0 {
		h.turns = nil
		return
	}
	if over := len(turns) - h.limit; over > 0 {
		turns = turns[over:]
	}
	h.turns = append([]prompt.Turn(nil), turns...)
}

// Turns returns a copy of the history, oldest first.
func (h *History) Turns() []prompt.Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]prompt.Turn(nil), h.turns...)
}

// Len returns the number of stored turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

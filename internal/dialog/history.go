package dialog

import (
	"sync"

	"github.com/aizuchi-dev/aizuchi/internal/generation"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/llm"
)

// Turn is one committed history entry.
type Turn struct {
	// Role is llm.RoleUser or llm.RoleAssistant.
	Role string

	// Text is what was said.
	Text string
}

// History is the append-only conversation record shared by both generation
// channels. Entries are appended only at turn completion, never mid-turn.
// Safe for concurrent use.
type History struct {
	mu    sync.Mutex
	turns []Turn
}

// Append adds turns to the history in order.
func (h *History) Append(turns ...Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, turns...)
}

// Snapshot returns a copy of the history.
func (h *History) Snapshot() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of committed turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// Messages renders the history as provider messages.
func (h *History) Messages() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]llm.Message, len(h.turns))
	for i, t := range h.turns {
		out[i] = llm.Message{Role: t.Role, Content: t.Text}
	}
	return out
}

// Ensure History feeds the generation channels.
var _ generation.HistorySource = (*History)(nil)

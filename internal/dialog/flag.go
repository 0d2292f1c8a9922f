// Package dialog implements the turn-taking core: the shared interrupt flag,
// the interruption observer, the conversation history, and the orchestrator
// that sequences one full dialogue turn from end-of-utterance to reset.
package dialog

import (
	"sync"

	"github.com/aizuchi-dev/aizuchi/internal/speak"
)

// InterruptFlag is the shared level-triggered barge-in signal. The observer
// sets it; only the orchestrator clears it, at fixed turn boundaries. Safe
// for concurrent use.
type InterruptFlag struct {
	mu  sync.Mutex
	set bool
}

// Set raises the flag.
func (f *InterruptFlag) Set() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set = true
}

// Clear lowers the flag.
func (f *InterruptFlag) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set = false
}

// IsSet reports whether the flag is raised.
func (f *InterruptFlag) IsSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

// Ensure InterruptFlag can be handed to the speaker.
var _ speak.Interrupt = (*InterruptFlag)(nil)

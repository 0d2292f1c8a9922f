package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aizuchi-dev/aizuchi/pkg/audio"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/llm"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/stt"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/tts"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	llm    map[string]func(ProviderEntry) (llm.Provider, error)
	stt    map[string]func(ProviderEntry) (stt.Provider, error)
	tts    map[string]func(ProviderEntry) (tts.Synthesizer, error)
	vad    map[string]func(ProviderEntry) (vad.Engine, error)
	source map[string]func(ProviderEntry) (audio.Source, error)
	sink   map[string]func(ProviderEntry) (audio.Sink, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:    make(map[string]func(ProviderEntry) (llm.Provider, error)),
		stt:    make(map[string]func(ProviderEntry) (stt.Provider, error)),
		tts:    make(map[string]func(ProviderEntry) (tts.Synthesizer, error)),
		vad:    make(map[string]func(ProviderEntry) (vad.Engine, error)),
		source: make(map[string]func(ProviderEntry) (audio.Source, error)),
		sink:   make(map[string]func(ProviderEntry) (audio.Sink, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTTS registers a TTS synthesizer factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Synthesizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterSource registers an audio capture backend factory under name.
func (r *Registry) RegisterSource(name string, factory func(ProviderEntry) (audio.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.source[name] = factory
}

// RegisterSink registers an audio playback backend factory under name.
func (r *Registry) RegisterSink(name string, factory func(ProviderEntry) (audio.Sink, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a TTS synthesizer using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Synthesizer, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSource instantiates a capture backend using the factory registered under entry.Name.
func (r *Registry) CreateSource(entry ProviderEntry) (audio.Source, error) {
	r.mu.RLock()
	factory, ok := r.source[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: source/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSink instantiates a playback backend using the factory registered under entry.Name.
func (r *Registry) CreateSink(entry ProviderEntry) (audio.Sink, error) {
	r.mu.RLock()
	factory, ok := r.sink[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: sink/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hotlinehq/hotline/pkg/audio"
	"github.com/hotlinehq/hotline/pkg/provider/llm"
	"github.com/hotlinehq/hotline/pkg/provider/stt"
	"github.com/hotlinehq/hotline/pkg/provider/tts"
	"github.com/hotlinehq/hotline/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to factory functions, per kind. main.go
// registers the built-in factories at startup and Create* instantiates the
// implementations selected by the config file.
//
// Safe for concurrent use, although registration normally happens once
// before any Create call.
type Registry struct {
	mu    sync.RWMutex
	llm   map[string]func(ProviderEntry) (llm.Provider, error)
	stt   map[string]func(ProviderEntry) (stt.Provider, error)
	tts   map[string]func(ProviderEntry) (tts.Provider, error)
	vad   map[string]func(ProviderEntry) (vad.Engine, error)
	audio map[string]func(ProviderEntry) (audio.Device, error)
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		llm:   make(map[string]func(ProviderEntry) (llm.Provider, error)),
		stt:   make(map[string]func(ProviderEntry) (stt.Provider, error)),
		tts:   make(map[string]func(ProviderEntry) (tts.Provider, error)),
		vad:   make(map[string]func(ProviderEntry) (vad.Engine, error)),
		audio: make(map[string]func(ProviderEntry) (audio.Device, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name.
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

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
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

// RegisterAudio registers an audio device factory under name.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry) (audio.Device, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateLLM instantiates the LLM provider selected by entry.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSTT instantiates the STT provider selected by entry.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates the TTS provider selected by entry.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVAD instantiates the VAD engine selected by entry.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAudio instantiates the audio device selected by entry.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Device, error) {
	r.mu.RLock()
	factory, ok := r.audio[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

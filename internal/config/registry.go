package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/calliope-voice/calliope/pkg/provider/enhance"
	"github.com/calliope-voice/calliope/pkg/provider/llm"
	"github.com/calliope-voice/calliope/pkg/provider/stt"
	"github.com/calliope-voice/calliope/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// boundary. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	stt     map[string]func(ProviderEntry) (stt.Transcriber, error)
	llm     map[string]func(ProviderEntry) (llm.Completer, error)
	tts     map[string]func(ProviderEntry) (tts.Synthesizer, error)
	enhance map[string]func(ProviderEntry) (enhance.Enhancer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:     make(map[string]func(ProviderEntry) (stt.Transcriber, error)),
		llm:     make(map[string]func(ProviderEntry) (llm.Completer, error)),
		tts:     make(map[string]func(ProviderEntry) (tts.Synthesizer, error)),
		enhance: make(map[string]func(ProviderEntry) (enhance.Enhancer, error)),
	}
}

// RegisterSTT registers a transcriber factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterLLM registers a completer factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Completer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterTTS registers a synthesizer factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Synthesizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterEnhance registers an enhancer factory under name.
func (r *Registry) RegisterEnhance(name string, factory func(ProviderEntry) (enhance.Enhancer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enhance[name] = factory
}

// CreateSTT instantiates a transcriber using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLLM instantiates a completer using the factory registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Completer, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a synthesizer using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Synthesizer, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEnhance instantiates an enhancer using the factory registered under entry.Name.
func (r *Registry) CreateEnhance(entry ProviderEntry) (enhance.Enhancer, error) {
	r.mu.RLock()
	factory, ok := r.enhance[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: enhance/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

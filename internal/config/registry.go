package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/modplay/pkg/audio"
	"github.com/MrWong99/modplay/pkg/engine"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: component not registered")

// Registry maps output device and decoder backend names to their constructor
// functions. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	outputs  map[string]func(AudioConfig) (audio.Device, error)
	backends map[string]func(EngineConfig) (engine.Library, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		outputs:  make(map[string]func(AudioConfig) (audio.Device, error)),
		backends: make(map[string]func(EngineConfig) (engine.Library, error)),
	}
}

// RegisterOutput registers an audio device factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterOutput(name string, factory func(AudioConfig) (audio.Device, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[name] = factory
}

// RegisterBackend registers a decoder library factory under name.
func (r *Registry) RegisterBackend(name string, factory func(EngineConfig) (engine.Library, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = factory
}

// CreateOutput instantiates the audio device registered under cfg.Output.
// Returns [ErrNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateOutput(cfg AudioConfig) (audio.Device, error) {
	r.mu.RLock()
	factory, ok := r.outputs[cfg.Output]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: output/%q", ErrNotRegistered, cfg.Output)
	}
	return factory(cfg)
}

// CreateBackend instantiates the decoder library registered under
// cfg.Backend.
func (r *Registry) CreateBackend(cfg EngineConfig) (engine.Library, error) {
	r.mu.RLock()
	factory, ok := r.backends[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: backend/%q", ErrNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// Outputs returns the registered output names in sorted order.
func (r *Registry) Outputs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.outputs))
	for name := range r.outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

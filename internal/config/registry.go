package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/formvox/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by [Registry.CreateSTT] when no
// factory is registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// STTFactory builds a provider from its config entry and the shared
// recognition settings.
type STTFactory func(entry ProviderEntry, rc RecognitionConfig) (stt.Provider, error)

// Registry maps STT provider names to factories. It is safe for
// concurrent use.
type Registry struct {
	mu  sync.RWMutex
	stt map[string]STTFactory
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{stt: make(map[string]STTFactory)}
}

// RegisterSTT registers factory under name, replacing any earlier one.
func (r *Registry) RegisterSTT(name string, factory STTFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// CreateSTT builds the provider registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry, rc RecognitionConfig) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	p, err := factory(entry, rc)
	if err != nil {
		return nil, fmt.Errorf("config: create stt/%q: %w", entry.Name, err)
	}
	return p, nil
}

// STTNames returns the registered names in sorted order.
func (r *Registry) STTNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stt))
	for n := range r.stt {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// OptString returns opts[key] when it is a string, "" otherwise.
func OptString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// OptInt returns opts[key] when it is a whole number, 0 otherwise. YAML
// decodes integers as int; JSON-sourced maps carry float64.
func OptInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

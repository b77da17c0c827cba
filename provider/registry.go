package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a provider from an explicit configuration value.
type Factory func(cfg Config) (StreamingProvider, error)

// Registry maps provider names to factories. It is an ordinary value: build
// one at startup and pass it where providers are created.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a provider factory. A later registration under the same name wins.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// New builds the provider named by cfg.Provider.
func (r *Registry) New(cfg Config) (StreamingProvider, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Provider]
	r.mu.RUnlock()

	if !ok {
		return nil, &ConfigError{
			Provider: cfg.Provider,
			Message:  fmt.Sprintf("unknown provider %q (available: %v)", cfg.Provider, r.Available()),
		}
	}
	return factory(cfg)
}

// Available returns the registered provider names, sorted.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a provider is registered.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

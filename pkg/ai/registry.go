package ai

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownProvider is returned when a provider name is not registered.
var ErrUnknownProvider = errors.New("ai: unknown provider")

// Registry holds the configured generators keyed by provider name.
type Registry struct {
	generators map[string]Generator
	order      []string
	fallback   string
}

// NewRegistry registers gens in order. defaultProvider must be one of them;
// when empty the first generator becomes the default.
func NewRegistry(defaultProvider string, gens ...Generator) (*Registry, error) {
	if len(gens) == 0 {
		return nil, errors.New("ai: at least one provider is required")
	}
	r := &Registry{generators: make(map[string]Generator, len(gens))}
	for _, g := range gens {
		name := g.Provider()
		if _, dup := r.generators[name]; dup {
			return nil, fmt.Errorf("ai: provider %q registered twice", name)
		}
		r.generators[name] = g
		r.order = append(r.order, name)
	}
	defaultProvider = strings.ToLower(strings.TrimSpace(defaultProvider))
	if defaultProvider == "" {
		defaultProvider = r.order[0]
	}
	if _, ok := r.generators[defaultProvider]; !ok {
		return nil, fmt.Errorf("%w: default %q is not configured", ErrUnknownProvider, defaultProvider)
	}
	r.fallback = defaultProvider
	return r, nil
}

// Get resolves name, or the default provider when name is empty.
func (r *Registry) Get(name string) (Generator, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = r.fallback
	}
	g, ok := r.generators[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return g, nil
}

// Default returns the default provider name.
func (r *Registry) Default() string { return r.fallback }

// Names lists providers in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

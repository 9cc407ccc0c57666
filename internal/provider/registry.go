// Package provider resolves configured provider names into concrete
// implementations at boot. Resolution happens exactly once, in main;
// an unknown name is a startup failure, never a per-request one.
package provider

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownProvider is returned when a configured name has no builder.
var ErrUnknownProvider = errors.New("unknown provider")

// Builder constructs one provider implementation.
type Builder[T any] func() (T, error)

// Registry maps provider names to builders for one provider kind
// (embedding, retrieval, content). Populated in main before Resolve;
// not safe for concurrent registration.
type Registry[T any] struct {
	kind     string
	builders map[string]Builder[T]
}

// NewRegistry creates an empty registry. kind names the provider slot
// in error messages ("embedding", "retrieval", "content").
func NewRegistry[T any](kind string) *Registry[T] {
	return &Registry[T]{
		kind:     kind,
		builders: make(map[string]Builder[T]),
	}
}

// Register adds a builder under name, replacing any previous one.
func (r *Registry[T]) Register(name string, builder Builder[T]) {
	r.builders[name] = builder
}

// Resolve builds the provider registered under name.
func (r *Registry[T]) Resolve(name string) (T, error) {
	var zero T
	builder, ok := r.builders[name]
	if !ok {
		return zero, fmt.Errorf("%w: %s %q (known: %v)", ErrUnknownProvider, r.kind, name, r.Names())
	}
	instance, err := builder()
	if err != nil {
		return zero, fmt.Errorf("build %s provider %q: %w", r.kind, name, err)
	}
	return instance, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry[T]) Names() []string {
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package job

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Factory rebuilds a Behavior from its persisted parameters
type Factory func(payload json.RawMessage) (Behavior, error)

// Registry maps behavior kinds to factories so persisted jobs can be restored
// with their collaborators injected again.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry with the list kind registered
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(KindList, listFactory(r))
	return r
}

// Register binds kind to factory, replacing any previous binding
func (r *Registry) Register(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Kinds returns the registered kinds
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Build creates a behavior of kind from payload
func (r *Registry) Build(kind string, payload json.RawMessage) (Behavior, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	behavior, err := factory(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s behavior: %w", kind, err)
	}
	return behavior, nil
}

// Restore rebuilds a persisted job
func (r *Registry) Restore(rec *Record) (*Job, error) {
	behavior, err := r.Build(rec.Kind, rec.Payload)
	if err != nil {
		return nil, err
	}
	return restore(rec, behavior), nil
}

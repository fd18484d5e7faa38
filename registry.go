package layerkv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Instance is the type-erased view of a Store held by a Registry.
type Instance interface {
	Namespace() string
	Close(context.Context) error
}

// Registry tracks named stores of an application. It is an ordinary value:
// construct one and pass it where it is needed.
type Registry struct {
	mu    sync.RWMutex
	items map[string]Instance
}

func NewRegistry() *Registry { return &Registry{items: make(map[string]Instance)} }

// Register adds s under name. Names are unique.
func (r *Registry) Register(name string, s Instance) error {
	if name == "" {
		return errors.New("layerkv: registry name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[name]; ok {
		return fmt.Errorf("layerkv: instance %q already registered", name)
	}
	r.items[name] = s
	return nil
}

func (r *Registry) Get(name string) (Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.items[name]
	return s, ok
}

// Names returns registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.items))
	for n := range r.items {
		out = append(out, n)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Remove unregisters name and closes the instance.
func (r *Registry) Remove(ctx context.Context, name string) error {
	r.mu.Lock()
	s, ok := r.items[name]
	delete(r.items, name)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close(ctx)
}

// Close closes every instance and empties the registry.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	items := r.items
	r.items = make(map[string]Instance)
	r.mu.Unlock()

	var errs []error
	for name, s := range items {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Lookup returns the instance registered under name as a Store[V].
func Lookup[V any](r *Registry, name string) (Store[V], error) {
	inst, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("layerkv: no instance %q", name)
	}
	s, ok := inst.(Store[V])
	if !ok {
		return nil, fmt.Errorf("layerkv: instance %q holds %T", name, inst)
	}
	return s, nil
}

// Open creates a store from opts and registers it under name.
func Open[V any](r *Registry, name string, opts Options[V]) (Store[V], error) {
	s, err := New[V](opts)
	if err != nil {
		return nil, err
	}
	if err := r.Register(name, s); err != nil {
		_ = s.Close(context.Background())
		return nil, err
	}
	return s, nil
}

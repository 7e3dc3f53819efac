package motion

import (
	"fmt"
	"sort"
	"sync"
)

// Registry resolves axis names to Axis instances.  It replaces any notion of
// a process-wide session: whoever builds the axes owns a Registry and passes
// it to the layers that need name resolution (groups, HTTP, shells).
type Registry struct {
	mu   sync.RWMutex
	axes map[string]*Axis
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{axes: make(map[string]*Axis)}
}

// Add registers an axis; names must be unique
func (r *Registry) Add(a *Axis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.axes[a.name]; dup {
		return fmt.Errorf("registry: axis %q already registered", a.name)
	}
	r.axes[a.name] = a
	return nil
}

// Get resolves an axis by name
func (r *Registry) Get(name string) (*Axis, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.axes[name]
	return a, ok
}

// Names returns the registered axis names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.axes))
	for n := range r.axes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

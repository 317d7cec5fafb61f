package predicate

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Func is a named predicate implemented in code and referenced from definitions by name.
type Func func(ctx context.Context, data map[string]any) (bool, error)

// Registry stores named predicate functions.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register stores a predicate by name.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" || fn == nil {
		return fmt.Errorf("predicate name and func required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.funcs == nil {
		r.funcs = make(map[string]Func)
	}
	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("predicate %s already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// Lookup retrieves a predicate by name.
func (r *Registry) Lookup(name string) (Func, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

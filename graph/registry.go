package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-workflow/permission"
	"github.com/goliatone/go-workflow/predicate"
)

// HookContext is handed to enter/exit hooks. Data is the working copy of the
// workflow context and may be mutated; hooks must not call back into the engine.
type HookContext struct {
	InstanceID string
	Type       string
	State      string
	Actor      permission.Actor
	Data       map[string]any
	Now        time.Time
}

// Hook is a named enter/exit side effect.
type Hook func(ctx context.Context, hc *HookContext) error

// Registry resolves the named guards and hooks referenced by definitions.
type Registry struct {
	predicates *predicate.Registry
	namespacer func(string, string) string

	mu    sync.RWMutex
	hooks map[string]Hook
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		predicates: predicate.NewRegistry(),
		namespacer: defaultNamespace,
		hooks:      make(map[string]Hook),
	}
}

// SetNamespacer customizes how names are namespaced.
func (r *Registry) SetNamespacer(fn func(string, string) string) {
	if fn != nil {
		r.namespacer = fn
	}
}

// RegisterGuard stores a named predicate usable as guard, validation or ref.
func (r *Registry) RegisterGuard(name string, fn predicate.Func) error {
	return r.RegisterGuardNamespaced("", name, fn)
}

// RegisterGuardNamespaced stores a named predicate under namespace::name.
func (r *Registry) RegisterGuardNamespaced(namespace, name string, fn predicate.Func) error {
	return r.predicates.Register(r.namespacer(namespace, name), fn)
}

// RegisterHook stores a hook by name.
func (r *Registry) RegisterHook(name string, fn Hook) error {
	return r.RegisterHookNamespaced("", name, fn)
}

// RegisterHookNamespaced stores a hook under namespace::name.
func (r *Registry) RegisterHookNamespaced(namespace, name string, fn Hook) error {
	key := r.namespacer(namespace, name)
	if key == "" || fn == nil {
		return fmt.Errorf("hook name and func required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.hooks[key]; exists {
		return fmt.Errorf("hook %s already registered", key)
	}
	r.hooks[key] = fn
	return nil
}

// Hook retrieves a hook by name.
func (r *Registry) Hook(name string) (Hook, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.hooks[name]
	return fn, ok
}

// Predicates exposes the named predicate table.
func (r *Registry) Predicates() *predicate.Registry {
	if r == nil {
		return nil
	}
	return r.predicates
}

// defaultNamespace concatenates namespace and name using ::, trimming whitespace.
func defaultNamespace(namespace, name string) string {
	ns := strings.TrimSpace(namespace)
	ident := strings.TrimSpace(name)
	if ns == "" {
		return ident
	}
	return ns + "::" + ident
}

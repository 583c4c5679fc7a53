package instruction

import (
	"sort"
	"sync"
)

// Registry maps action names to instruction types. It is filled once at
// startup and then only read.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Type
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]Type),
	}
}

// Register adds a type under its action. A later registration for the same
// action replaces the earlier one.
func (r *Registry) Register(t Type) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.types[t.Action()] = t
}

// Lookup returns the type registered for an action.
func (r *Registry) Lookup(action string) (Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.types[action]
	return t, ok
}

// Actions lists the registered actions in sorted order.
func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	actions := make([]string, 0, len(r.types))
	for action := range r.types {
		actions = append(actions, action)
	}
	sort.Strings(actions)

	return actions
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.types)
}

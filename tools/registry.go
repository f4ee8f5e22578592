// Package tools provides executor registration.
//
// Information Hiding:
// - Executor storage and lookup implementation hidden
// - Registration order is irrelevant; lookups follow dispatch order

package tools

import (
	"fmt"
	"sync"
)

// Registry maps tool kinds to executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[Kind]Executor
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[Kind]Executor),
	}
}

// Register adds an executor.
// Returns error if the kind is already registered.
func (r *Registry) Register(e Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := e.Kind()
	if _, exists := r.executors[kind]; exists {
		return fmt.Errorf("tool '%s' already registered", kind)
	}
	r.executors[kind] = e
	return nil
}

// MustRegister registers executors and panics on a duplicate.
// Use this only during startup wiring.
func (r *Registry) MustRegister(executors ...Executor) *Registry {
	for _, e := range executors {
		if err := r.Register(e); err != nil {
			panic(err)
		}
	}
	return r
}

// Get returns the executor for a kind.
func (r *Registry) Get(kind Kind) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.executors[kind]
	return e, exists
}

// Has checks if a kind is registered.
func (r *Registry) Has(kind Kind) bool {
	_, ok := r.Get(kind)
	return ok
}

// Kinds returns the registered kinds in dispatch order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.executors))
	for _, k := range Kinds {
		if _, ok := r.executors[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

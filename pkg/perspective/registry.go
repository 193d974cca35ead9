package perspective

import (
	"fmt"
	"sync"
)

// Registry maps projection name to its Projection implementation.
// Safe for concurrent registration and lookup.
type Registry struct {
	mu          sync.RWMutex
	projections map[string]Projection
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{projections: make(map[string]Projection)}
}

// Register adds p under p.Name(). A duplicate name replaces the
// previous registration, mirroring how a redeployed process picks up
// a projection's latest Apply logic without restarting the store.
func (r *Registry) Register(p Projection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projections[p.Name()] = p
}

// Lookup returns the projection registered under name, if any.
func (r *Registry) Lookup(name string) (Projection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projections[name]
	return p, ok
}

// MustLookup is Lookup but panics on a missing name — useful at
// startup wiring time where an unregistered projection name is a
// configuration bug, not a runtime condition to handle.
func (r *Registry) MustLookup(name string) Projection {
	p, ok := r.Lookup(name)
	if !ok {
		panic(fmt.Sprintf("perspective: no projection registered as %q", name))
	}
	return p
}

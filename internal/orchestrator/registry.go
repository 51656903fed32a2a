package orchestrator

import (
	"sync"

	pkgerrors "github.com/repurposehub/checkout-service/pkg/errors"
)

// Registry hands out one orchestrator per visit, creating it on first use.
type Registry struct {
	mu    sync.Mutex
	byVis map[string]*Orchestrator
	build func(visitID string, user User) (*Orchestrator, error)
}

// NewRegistry builds a Registry around an orchestrator factory.
func NewRegistry(build func(visitID string, user User) (*Orchestrator, error)) (*Registry, error) {
	if build == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "registry: factory is required")
	}
	return &Registry{byVis: map[string]*Orchestrator{}, build: build}, nil
}

// For returns the visit's orchestrator, creating it if needed. The user is
// pinned on first use; later calls for the same visit reuse the instance.
func (r *Registry) For(visitID string, user User) (*Orchestrator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.byVis[visitID]; ok {
		return o, nil
	}
	o, err := r.build(visitID, user)
	if err != nil {
		return nil, err
	}
	r.byVis[visitID] = o
	return o, nil
}

// Lookup returns the visit's orchestrator without creating one.
func (r *Registry) Lookup(visitID string) (*Orchestrator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byVis[visitID]
	return o, ok
}

// Evict drops the visit's orchestrator, for example after the visit ends.
func (r *Registry) Evict(visitID string) {
	r.mu.Lock()
	delete(r.byVis, visitID)
	r.mu.Unlock()
}

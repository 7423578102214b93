package checks

import (
	"fmt"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// Registry is an ordered, in-memory set of check units.
// Units are returned in registration order. Register panics on duplicate IDs
// or unknown phase numbers to catch wiring mistakes at startup.
type Registry struct {
	checks []Check
	index  map[string]struct{}
}

// NewRegistry returns an empty registry ready for check registration.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]struct{})}
}

// Register adds c to the registry.
func (r *Registry) Register(c Check) {
	if _, exists := r.index[c.ID()]; exists {
		panic(fmt.Sprintf("duplicate check ID: %q", c.ID()))
	}
	if PhaseName(c.Phase()) == "" {
		panic(fmt.Sprintf("check %q: phase %d is not in the catalogue", c.ID(), c.Phase()))
	}
	r.checks = append(r.checks, c)
	r.index[c.ID()] = struct{}{}
}

// RegisterAll registers every check in cs.
func (r *Registry) RegisterAll(cs []Check) {
	for _, c := range cs {
		r.Register(c)
	}
}

// All returns all registered checks in registration order.
func (r *Registry) All() []Check {
	return r.checks
}

// IDs returns every registered check ID.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.checks))
	for _, c := range r.checks {
		ids = append(ids, c.ID())
	}
	return ids
}

// ForPhase returns the checks registered for provider in phase number.
func (r *Registry) ForPhase(provider models.Provider, number int) []Check {
	var out []Check
	for _, c := range r.checks {
		if c.Provider() == provider && c.Phase() == number {
			out = append(out, c)
		}
	}
	return out
}

package credentials

import (
	"fmt"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// Registry dispatches to a Provider by provider tag.
type Registry struct {
	providers map[models.Provider]Provider
}

// NewRegistry returns a registry holding ps. It panics when two providers
// claim the same tag, catching wiring mistakes at startup.
func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{providers: make(map[models.Provider]Provider, len(ps))}
	for _, p := range ps {
		if _, exists := r.providers[p.Name()]; exists {
			panic(fmt.Sprintf("duplicate credential provider: %q", p.Name()))
		}
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the provider registered for name.
func (r *Registry) Get(name models.Provider) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("no credential provider registered for %q", name)
	}
	return p, nil
}

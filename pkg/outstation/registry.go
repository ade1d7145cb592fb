package outstation

import (
	"sort"
	"sync"
)

// Registry is the set of serial attached controllers. The manager owns it
// and refreshes their edit actions after a port scan.
type Registry struct {
	mu          sync.Mutex
	controllers map[*Controller]struct{}
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{controllers: make(map[*Controller]struct{})}
}

// Add registers a controller
func (r *Registry) Add(c *Controller) {
	r.mu.Lock()
	r.controllers[c] = struct{}{}
	r.mu.Unlock()
}

// Remove unregisters a controller
func (r *Registry) Remove(c *Controller) {
	r.mu.Lock()
	delete(r.controllers, c)
	r.mu.Unlock()
}

// Contains reports whether c is registered
func (r *Registry) Contains(c *Controller) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.controllers[c]
	return ok
}

// Len returns the number of registered controllers
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.controllers)
}

// Controllers returns the registered controllers ordered by name
func (r *Registry) Controllers() []*Controller {
	r.mu.Lock()
	out := make([]*Controller, 0, len(r.controllers))
	for c := range r.controllers {
		out = append(out, c)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

package work

import (
	"sort"
	"sync"
)

// Registry holds the registered work types.
type Registry struct {
	types   map[string]*WorkType
	ordered []*WorkType // highest priority first
	dirty   bool
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*WorkType)}
}

// Register adds a work type, replacing one with the same ID.
func (r *Registry) Register(wt *WorkType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.types[wt.ID] = wt
	r.dirty = true
}

// Get returns a work type by ID, or nil.
func (r *Registry) Get(id string) *WorkType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[id]
}

// Has reports whether a work type is registered.
func (r *Registry) Has(id string) bool {
	return r.Get(id) != nil
}

// Remove unregisters a work type.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.types, id)
	r.dirty = true
}

// Count returns the number of registered work types.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

// ByPriority returns the work types by descending priority, then by ID.
func (r *Registry) ByPriority() []*WorkType {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dirty {
		r.ordered = make([]*WorkType, 0, len(r.types))
		for _, wt := range r.types {
			r.ordered = append(r.ordered, wt)
		}
		sort.Slice(r.ordered, func(i, j int) bool {
			if r.ordered[i].Priority != r.ordered[j].Priority {
				return r.ordered[i].Priority > r.ordered[j].Priority
			}
			return r.ordered[i].ID < r.ordered[j].ID
		})
		r.dirty = false
	}

	out := make([]*WorkType, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// IDs returns the registered IDs in lexical order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.types))
	for id := range r.types {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dependents returns the work types that depend on id.
func (r *Registry) Dependents(id string) []*WorkType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*WorkType
	for _, wt := range r.types {
		for _, dep := range wt.DependsOn {
			if dep == id {
				out = append(out, wt)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

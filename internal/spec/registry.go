package spec

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Registry holds the units registered for this process. Registration is
// explicit: setup code calls Register with a built Unit. There is no
// global instance; each Engine owns one.
type Registry struct {
	mu    sync.RWMutex
	units map[string]Unit
}

// Handle identifies a registered unit.
type Handle struct {
	ID string
}

func NewRegistry() *Registry {
	return &Registry{units: map[string]Unit{}}
}

// Register adds a unit. Registering the identical unit twice is a no-op;
// registering different content under an existing id is an error, since a
// changed spec is a new logical version and needs a fresh Engine.
func (r *Registry) Register(u Unit) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.units[u.ID]; ok {
		if !reflect.DeepEqual(existing, u) {
			return Handle{}, fmt.Errorf("unit %s already registered with different content", u.ID)
		}
		return Handle{ID: u.ID}, nil
	}
	r.units[u.ID] = u
	return Handle{ID: u.ID}, nil
}

// Get returns the unit for an id.
func (r *Registry) Get(id string) (Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[id]
	return u, ok
}

// List returns all units sorted by id.
func (r *Registry) List() []Unit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Unit, 0, len(r.units))
	for _, u := range r.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Match resolves a CLI target to unit ids: an exact id match wins,
// otherwise the target is treated as a module prefix (dots normalized to
// slashes, matching checkpoint path layout).
func (r *Registry) Match(target string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.units[target]; ok {
		return []string{target}
	}
	prefix := strings.ReplaceAll(target, ".", "/")
	var ids []string
	for id := range r.units {
		if strings.HasPrefix(strings.ReplaceAll(id, ".", "/"), prefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ImplRegistry is the indirection table from unit id to callable. Call
// sites look implementations up here; no identifier is silently rebound.
type ImplRegistry struct {
	mu    sync.RWMutex
	impls map[string]Implementation
}

func NewImplRegistry() *ImplRegistry {
	return &ImplRegistry{impls: map[string]Implementation{}}
}

// Bind installs the implementation for a unit, replacing any previous one.
func (r *ImplRegistry) Bind(id string, impl Implementation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.impls[id] = impl
}

// Lookup returns the bound implementation.
func (r *ImplRegistry) Lookup(id string) (Implementation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.impls[id]
	return impl, ok
}

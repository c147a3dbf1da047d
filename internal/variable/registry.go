package variable

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry is the host's named-variable table. Bindings remove the variables
// they claim.
type Registry struct {
	mu    sync.RWMutex
	items map[string]Handle
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Handle)}
}

func (r *Registry) Register(h Handle) error {
	if h == nil {
		return fmt.Errorf("%w: nil handle", ErrInvalidName)
	}
	name := h.Info().Name
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	r.items[name] = h
	return nil
}

func (r *Registry) Resolve(name string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.items[name]
	return h, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.items))
	for name := range r.items {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Take removes and returns the named variable. The registry is left
// untouched when the name is missing or the declaration does not match.
func Take[V any](r *Registry, name string, kind Kind, dir Direction) (*Var[V], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.items[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingVariable, name)
	}
	info := h.Info()
	typed, ok := h.(*Var[V])
	if !ok || info.Kind != kind || info.Direction != dir {
		return nil, fmt.Errorf("%w: %q is %s %s, want %s %s", ErrWrongType, name, info.Direction, info.Kind, dir, kind)
	}
	delete(r.items, name)
	return typed, nil
}

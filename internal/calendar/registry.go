package calendar

import (
	"fmt"
	"sync"
)

// Registry maps source types to adapters. Registering a type twice
// replaces the earlier adapter.
type Registry struct {
	mu       sync.RWMutex
	adapters map[SourceType]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[SourceType]Adapter)}
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.SupportedType()] = a
}

func (r *Registry) Get(t SourceType) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSourceType, t)
	}
	return a, nil
}

func (r *Registry) Types() []SourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SourceType, 0, len(r.adapters))
	for t := range r.adapters {
		out = append(out, t)
	}
	return out
}

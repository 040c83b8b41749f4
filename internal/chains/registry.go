// internal/chains/registry.go
package chains

import (
	"fmt"
	"sort"
	"sync"

	"custody-service/internal/domain"
)

// Registry resolves a chain identifier to its adapter.
type Registry struct {
	adapters map[domain.ChainID]domain.ChainAdapter
	mu       sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[domain.ChainID]domain.ChainAdapter),
	}
}

// Register adds an adapter, replacing any previous one for the same chain.
func (r *Registry) Register(adapter domain.ChainAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Chain()] = adapter
}

// Get retrieves the adapter for a chain
func (r *Registry) Get(chain domain.ChainID) (domain.ChainAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[chain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedChain, chain)
	}
	return adapter, nil
}

// List returns registered chains in a stable order
func (r *Registry) List() []domain.ChainID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]domain.ChainID, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/mevsim/internal/domain"
)

// StrategyInfo is a point-in-time view of a registered strategy for status
// APIs and exports.
type StrategyInfo struct {
	Name    string               `json:"name"`
	Enabled bool                 `json:"enabled"`
	Stats   domain.StrategyStats `json:"stats"`
}

// Registry holds the constructed strategy instances in registration order.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	order      []string
	strategies map[string]Strategy
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds s under its name. Registering a second instance with the
// same name is an error.
func (r *Registry) Register(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.strategies[s.Name()]; dup {
		return fmt.Errorf("strategy %q: already registered", s.Name())
	}
	r.strategies[s.Name()] = s
	r.order = append(r.order, s.Name())
	return nil
}

// Get retrieves a strategy by name.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: %w", name, domain.ErrNotFound)
	}
	return s, nil
}

// All returns the strategies in registration order.
func (r *Registry) All() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.strategies[n])
	}
	return out
}

// Enabled returns the enabled strategies in registration order.
func (r *Registry) Enabled() []Strategy {
	all := r.All()
	out := all[:0]
	for _, s := range all {
		if s.Enabled() {
			out = append(out, s)
		}
	}
	return out
}

// List returns the names of all registered strategies in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ListInfo returns runtime info for all registered strategies in sorted
// name order.
func (r *Registry) ListInfo() []StrategyInfo {
	names := r.List()
	infos := make([]StrategyInfo, 0, len(names))
	for _, n := range names {
		s, err := r.Get(n)
		if err != nil {
			continue
		}
		infos = append(infos, StrategyInfo{Name: n, Enabled: s.Enabled(), Stats: s.Stats()})
	}
	return infos
}

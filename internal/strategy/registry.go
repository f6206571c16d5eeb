package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openquant/crucible/internal/core"
)

// Factory builds a fresh strategy instance for one backtest run. Each
// run gets its own instance so internal state is never shared across
// concurrent simulations.
type Factory func(symbols []string, params map[string]any) (Strategy, error)

// Registry maps strategy names to factories. Variants are a closed set
// selected by name at run configuration time.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under a name.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("strategy %s already registered", name)
	}
	r.factories[name] = f
	return nil
}

// New builds a fresh instance of the named strategy.
func (r *Registry) New(name string, symbols []string, params map[string]any) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, core.WrapError(core.ErrStrategyFailed,
			fmt.Errorf("unknown strategy %q", name))
	}
	return f(symbols, params)
}

// Tunables returns the parameter declarations of the named strategy by
// constructing a throwaway default instance.
func (r *Registry) Tunables(name string, symbols []string) ([]Param, error) {
	s, err := r.New(name, symbols, nil)
	if err != nil {
		return nil, err
	}
	return s.Tunables(), nil
}

// Names lists registered strategies, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package strategy

import (
	"context"
	"fmt"
	"sort"

	"github.com/alanyoungcy/mevsim/internal/config"
	"github.com/alanyoungcy/mevsim/internal/domain"
)

// Constructor builds a strategy instance named name.
type Constructor func(name string, cfg config.StrategyConfig) (Strategy, error)

// Registration pairs a factory type name with its constructor.
type Registration struct {
	Type string
	New  Constructor
}

// Factory maps strategy type names to constructors. It is assembled once
// from a static table and is read-only afterwards.
type Factory struct {
	creators map[string]Constructor
}

// NewFactory builds a Factory from regs. Duplicate or empty type names are
// configuration errors.
func NewFactory(regs ...Registration) (*Factory, error) {
	creators := make(map[string]Constructor, len(regs))
	for _, r := range regs {
		if r.Type == "" || r.New == nil {
			return nil, fmt.Errorf("strategy factory: %w: empty registration", domain.ErrConfiguration)
		}
		if _, dup := creators[r.Type]; dup {
			return nil, fmt.Errorf("strategy factory: %w: type %q registered twice", domain.ErrConfiguration, r.Type)
		}
		creators[r.Type] = r.New
	}
	return &Factory{creators: creators}, nil
}

// Create constructs a strategy of the given type. An unregistered type
// fails with domain.ErrUnknownStrategy.
func (f *Factory) Create(typeName, name string, cfg config.StrategyConfig) (Strategy, error) {
	ctor, ok := f.creators[typeName]
	if !ok {
		return nil, fmt.Errorf("strategy %q: %w %q", name, domain.ErrUnknownStrategy, typeName)
	}
	s, err := ctor(name, cfg)
	if err != nil {
		return nil, fmt.Errorf("strategy %q: construct %s: %w", name, typeName, err)
	}
	return s, nil
}

// Available returns the registered type names in sorted order.
func (f *Factory) Available() []string {
	names := make([]string, 0, len(f.creators))
	for n := range f.creators {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// BuildEnabled constructs and initializes every enabled strategy in cfg,
// in name order. The first failure aborts the build; strategies already
// initialized are shut down.
func (f *Factory) BuildEnabled(ctx context.Context, cfg *config.Config) ([]Strategy, error) {
	names := cfg.EnabledStrategies()
	built := make([]Strategy, 0, len(names))
	for _, name := range names {
		sc := cfg.Strategies[name]
		s, err := f.Create(sc.TypeName(name), name, sc)
		if err == nil {
			err = s.Initialize(ctx)
		}
		if err != nil {
			for _, b := range built {
				_ = b.Shutdown(ctx)
			}
			return nil, err
		}
		built = append(built, s)
	}
	return built, nil
}

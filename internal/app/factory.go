package app

import (
	"log/slog"

	"github.com/alanyoungcy/mevsim/internal/arbitrage"
	"github.com/alanyoungcy/mevsim/internal/config"
	"github.com/alanyoungcy/mevsim/internal/metrics"
	"github.com/alanyoungcy/mevsim/internal/strategy"
)

// Strategy type names accepted in the strategies configuration.
const (
	TypeArbitrage = "arbitrage"
	TypeSandwich  = "sandwich"
)

// NewFactory returns the factory holding every built-in strategy type.
func NewFactory(logger *slog.Logger, sink metrics.Sink) (*strategy.Factory, error) {
	return strategy.NewFactory(
		strategy.Registration{
			Type: TypeArbitrage,
			New: func(name string, cfg config.StrategyConfig) (strategy.Strategy, error) {
				return arbitrage.New(name, cfg, logger, sink), nil
			},
		},
		strategy.Registration{
			Type: TypeSandwich,
			New: func(name string, cfg config.StrategyConfig) (strategy.Strategy, error) {
				return strategy.NewSandwich(name, cfg, logger, sink), nil
			},
		},
	)
}

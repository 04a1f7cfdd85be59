// Package strategy defines the strategy contract shared by every MEV
// strategy, the factory that builds strategies by type name, and the engine
// that fans each tick out to the enabled strategies.
package strategy

import (
	"context"
	"time"

	"github.com/alanyoungcy/mevsim/internal/config"
	"github.com/alanyoungcy/mevsim/internal/domain"
)

// Strategy is implemented by every strategy variant. Concrete strategies
// embed *Base and supply Detect and Execute.
type Strategy interface {
	Name() string
	Config() config.StrategyConfig
	UpdateConfig(cfg config.StrategyConfig)
	Enabled() bool
	SetEnabled(enabled bool)

	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Reset()

	// Detect inspects the snapshot and returns at most one opportunity. A
	// nil opportunity with a nil error means nothing was found.
	Detect(ctx context.Context, sc *domain.StrategyContext) (*domain.Opportunity, error)
	// Execute appends the opportunity's transactions to bundle.
	Execute(ctx context.Context, opp domain.Opportunity, bundle *domain.Bundle) domain.StrategyResult

	ValidateOpportunity(opp domain.Opportunity) domain.StrategyResult
	ValidateBundle(bundle *domain.Bundle) error

	Stats() domain.StrategyStats
	ResetStats()
	RestoreStats(stats domain.StrategyStats)
	RecordDetection(latency time.Duration)
	RecordOutcome(opp domain.Opportunity, result domain.StrategyResult, latency time.Duration)
}

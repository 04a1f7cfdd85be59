package strategy_test

import (
	"context"
	"io"
	"log/slog"

	"github.com/alanyoungcy/mevsim/internal/config"
	"github.com/alanyoungcy/mevsim/internal/domain"
	"github.com/alanyoungcy/mevsim/internal/strategy"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testConfig() config.StrategyConfig {
	cfg := config.DefaultStrategyConfig()
	cfg.Enabled = true
	cfg.BundleTimeoutMs = 200
	return cfg
}

// fakeStrategy returns canned opportunities and records nothing itself.
type fakeStrategy struct {
	*strategy.Base
	detect  func(ctx context.Context, sc *domain.StrategyContext) (*domain.Opportunity, error)
	execute func(ctx context.Context, opp domain.Opportunity, b *domain.Bundle) domain.StrategyResult
}

func newFake(name string, cfg config.StrategyConfig) *fakeStrategy {
	return &fakeStrategy{Base: strategy.NewBase(name, cfg, discardLogger(), nil)}
}

func (f *fakeStrategy) Detect(ctx context.Context, sc *domain.StrategyContext) (*domain.Opportunity, error) {
	if f.detect == nil {
		return nil, nil
	}
	return f.detect(ctx, sc)
}

func (f *fakeStrategy) Execute(ctx context.Context, opp domain.Opportunity, b *domain.Bundle) domain.StrategyResult {
	if f.execute == nil {
		b.Add(domain.Transaction{Kind: domain.TxSwap, GasLimit: opp.GasLimit})
		return domain.ResultSuccess
	}
	return f.execute(ctx, opp, b)
}

// returning yields a detect func that always reports the given opportunity.
func returning(opp domain.Opportunity) func(context.Context, *domain.StrategyContext) (*domain.Opportunity, error) {
	return func(context.Context, *domain.StrategyContext) (*domain.Opportunity, error) {
		o := opp
		return &o, nil
	}
}

func mustOpportunity(name string, gross, gas float64, targets ...string) domain.Opportunity {
	opp, err := domain.NewOpportunity(domain.OpportunityParams{
		StrategyName:        name,
		ExpectedProfitETH:   gross,
		EstimatedGasCostETH: gas,
		GasLimit:            200_000,
		GasPriceGwei:        20,
		TargetTransactions:  targets,
	})
	if err != nil {
		panic(err)
	}
	return opp
}

package strategy_test

import (
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/mevsim/internal/domain"
	"github.com/alanyoungcy/mevsim/internal/strategy"
)

func TestBaseValidateOpportunity(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSlippagePercent = 1
	cfg.MaxGasPriceGwei = 50
	b := strategy.NewBase("arbitrage", cfg, discardLogger(), nil)

	tests := []struct {
		name     string
		net      float64
		slippage float64
		gwei     float64
		want     domain.StrategyResult
	}{
		{"ok", 0.1, 0.5, 30, domain.ResultSuccess},
		{"not profitable", 0, 0.5, 30, domain.ResultInsufficientProfit},
		{"profit checked before slippage", -1, 5, 500, domain.ResultInsufficientProfit},
		{"slippage", 0.1, 1.5, 30, domain.ResultHighSlippage},
		{"slippage checked before gas", 0.1, 1.5, 500, domain.ResultHighSlippage},
		{"gas", 0.1, 0.5, 51, domain.ResultGasTooHigh},
		{"limits are inclusive", 0.1, 1, 50, domain.ResultSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opp := domain.Opportunity{NetProfitETH: tt.net, SlippagePercent: tt.slippage, GasPriceGwei: tt.gwei}
			if got := b.ValidateOpportunity(opp); got != tt.want {
				t.Errorf("ValidateOpportunity = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBaseValidateBundle(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBundleSize = 2
	b := strategy.NewBase("sandwich", cfg, discardLogger(), nil)

	if err := b.ValidateBundle(nil); err == nil {
		t.Error("nil bundle accepted")
	}
	bundle := domain.NewBundle(1)
	if err := b.ValidateBundle(bundle); err == nil {
		t.Error("empty bundle accepted")
	}
	bundle.Add(domain.Transaction{Kind: domain.TxFrontrun}, domain.Transaction{Kind: domain.TxBackrun})
	if err := b.ValidateBundle(bundle); err != nil {
		t.Errorf("bundle at limit rejected: %v", err)
	}
	bundle.Add(domain.Transaction{Kind: domain.TxSwap})
	if err := b.ValidateBundle(bundle); err == nil {
		t.Error("oversized bundle accepted")
	}
}

func TestBaseHelpers(t *testing.T) {
	b := strategy.NewBase("arbitrage", testConfig(), discardLogger(), nil)

	if got := b.EstimateGasCost(300_000, 20); math.Abs(got-0.006) > 1e-12 {
		t.Errorf("EstimateGasCost = %v, want 0.006", got)
	}
	if got := b.CalculateSlippage(100, 98); math.Abs(got-2) > 1e-12 {
		t.Errorf("CalculateSlippage = %v, want 2", got)
	}
	if got := b.CalculateSlippage(0, 5); got != 0 {
		t.Errorf("CalculateSlippage with zero expected = %v, want 0", got)
	}
	opp := domain.Opportunity{ExpectedProfitETH: 0.5, EstimatedGasCostETH: 0.1}
	if got := b.CalculateNetProfit(opp); math.Abs(got-0.4) > 1e-12 {
		t.Errorf("CalculateNetProfit = %v, want 0.4", got)
	}
	if !b.IsProfitableEnough(0.01) || b.IsProfitableEnough(0.009) {
		t.Error("IsProfitableEnough does not honour min_profit_eth 0.01")
	}
	if !b.IsGasPriceAcceptable(100) || b.IsGasPriceAcceptable(100.1) {
		t.Error("IsGasPriceAcceptable does not honour max_gas_price_gwei 100")
	}
}

func TestBaseRecordOutcome(t *testing.T) {
	b := strategy.NewBase("arbitrage", testConfig(), discardLogger(), nil)
	win := domain.Opportunity{ID: "a", NetProfitETH: 0.3, EstimatedGasCostETH: 0.01}

	b.RecordDetection(2 * time.Millisecond)
	b.RecordOutcome(win, domain.ResultSuccess, time.Millisecond)
	b.RecordOutcome(win, domain.ResultTimeout, 3*time.Millisecond)

	s := b.Stats()
	if s.OpportunitiesDetected != 1 || s.OpportunitiesExecuted != 2 {
		t.Fatalf("detected %d executed %d", s.OpportunitiesDetected, s.OpportunitiesExecuted)
	}
	if s.SuccessfulExecutions != 1 || s.FailedExecutions != 1 || s.SuccessRate != 0.5 {
		t.Errorf("successful %d failed %d rate %v", s.SuccessfulExecutions, s.FailedExecutions, s.SuccessRate)
	}
	if s.TotalProfitETH != 0.3 || s.TotalGasUsedETH != 0.01 {
		t.Errorf("profit %v gas %v; failures must not add profit", s.TotalProfitETH, s.TotalGasUsedETH)
	}
	if s.AvgExecutionTimeUs != 2000 {
		t.Errorf("AvgExecutionTimeUs = %v, want 2000", s.AvgExecutionTimeUs)
	}
	if s.Outcomes["timeout"] != 1 {
		t.Errorf("timeout outcome not counted: %v", s.Outcomes)
	}

	// Snapshots are detached from the live stats.
	s.Outcomes["timeout"] = 99
	if b.Stats().Outcomes["timeout"] != 1 {
		t.Error("Stats returned a live reference")
	}

	b.ResetStats()
	if b.Stats().OpportunitiesExecuted != 0 {
		t.Error("ResetStats left counters behind")
	}
}

func TestBaseUpdateConfigTogglesEnabled(t *testing.T) {
	b := strategy.NewBase("arbitrage", testConfig(), discardLogger(), nil)
	if !b.Enabled() {
		t.Fatal("expected enabled")
	}
	cfg := b.Config()
	cfg.Enabled = false
	b.UpdateConfig(cfg)
	if b.Enabled() {
		t.Error("UpdateConfig did not disable")
	}
	b.SetEnabled(true)
	if !b.Enabled() {
		t.Error("SetEnabled did not enable")
	}
}

var _ strategy.Strategy = (*fakeStrategy)(nil)

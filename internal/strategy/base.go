package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/mevsim/internal/config"
	"github.com/alanyoungcy/mevsim/internal/domain"
	"github.com/alanyoungcy/mevsim/internal/metrics"
)

// gweiToETH converts a gas amount priced in gwei into ETH.
const gweiToETH = 1e-9

// Base implements the parts of Strategy that do not depend on the
// detection algorithm: configuration, enablement, validation and stats.
type Base struct {
	name   string
	logger *slog.Logger

	mu      sync.RWMutex
	cfg     config.StrategyConfig
	enabled bool

	statsMu sync.Mutex
	stats   domain.StrategyStats

	detected   metrics.Counter
	executed   metrics.Counter
	succeeded  metrics.Counter
	failed     metrics.Counter
	profit     metrics.Gauge
	gasUsed    metrics.Gauge
	detectHist metrics.Histogram
	execHist   metrics.Histogram
	profitHist metrics.Histogram
}

// NewBase returns a Base for the named strategy. A nil sink disables
// metrics.
func NewBase(name string, cfg config.StrategyConfig, logger *slog.Logger, sink metrics.Sink) *Base {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = metrics.Nop()
	}
	labels := metrics.Labels{"strategy": name}
	return &Base{
		name:       name,
		logger:     logger.With(slog.String("component", "strategy"), slog.String("strategy", name)),
		cfg:        cfg,
		enabled:    cfg.Enabled,
		detected:   sink.Counter("strategy_opportunities_detected_total", "Opportunities detected.", labels),
		executed:   sink.Counter("strategy_opportunities_executed_total", "Execution attempts with a terminal result.", labels),
		succeeded:  sink.Counter("strategy_successful_executions_total", "Successful executions.", labels),
		failed:     sink.Counter("strategy_failed_executions_total", "Failed executions.", labels),
		profit:     sink.Gauge("strategy_total_profit_eth", "Cumulative profit in ETH.", labels),
		gasUsed:    sink.Gauge("strategy_total_gas_used_eth", "Cumulative gas cost in ETH.", labels),
		detectHist: sink.Histogram("strategy_detection_latency_seconds", "Detection latency.", labels, nil),
		execHist:   sink.Histogram("strategy_execution_latency_seconds", "Execution latency.", labels, nil),
		profitHist: sink.Histogram("strategy_profit_eth", "Net profit per successful execution.", labels, nil),
	}
}

func (b *Base) Name() string { return b.name }

// Logger returns the strategy's component logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

func (b *Base) Config() config.StrategyConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

func (b *Base) UpdateConfig(cfg config.StrategyConfig) {
	b.mu.Lock()
	b.cfg = cfg
	b.enabled = cfg.Enabled
	b.mu.Unlock()
	b.logger.Info("strategy config updated")
}

func (b *Base) Enabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled
}

func (b *Base) SetEnabled(enabled bool) {
	b.mu.Lock()
	b.enabled = enabled
	b.mu.Unlock()
}

func (b *Base) Initialize(ctx context.Context) error {
	b.logger.DebugContext(ctx, "strategy initialized")
	return nil
}

func (b *Base) Shutdown(ctx context.Context) error {
	b.logger.DebugContext(ctx, "strategy shut down")
	return nil
}

// Reset clears statistics. Strategies with caches override it and call
// Base.Reset as well.
func (b *Base) Reset() { b.ResetStats() }

// Stats returns a snapshot of the strategy's statistics.
func (b *Base) Stats() domain.StrategyStats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.stats.Clone()
}

func (b *Base) ResetStats() {
	b.statsMu.Lock()
	b.stats = domain.StrategyStats{}
	b.statsMu.Unlock()
}

// RestoreStats replaces the statistics wholesale, used when loading saved
// simulation state.
func (b *Base) RestoreStats(s domain.StrategyStats) {
	b.statsMu.Lock()
	b.stats = s.Clone()
	b.statsMu.Unlock()
}

func (b *Base) RecordDetection(latency time.Duration) {
	us := float64(latency.Microseconds())
	b.statsMu.Lock()
	b.stats.RecordDetection(us)
	b.statsMu.Unlock()
	b.detected.Inc()
	b.detectHist.Observe(latency.Seconds())
}

// RecordOutcome folds one terminal result into the statistics. Profit and
// gas are taken from the opportunity on success only.
func (b *Base) RecordOutcome(opp domain.Opportunity, result domain.StrategyResult, latency time.Duration) {
	us := float64(latency.Microseconds())
	var profit, gas float64
	if result.IsSuccess() {
		profit, gas = opp.NetProfitETH, opp.EstimatedGasCostETH
	}

	b.statsMu.Lock()
	b.stats.RecordOutcome(result, profit, gas, us)
	totalProfit, totalGas := b.stats.TotalProfitETH, b.stats.TotalGasUsedETH
	b.statsMu.Unlock()

	b.executed.Inc()
	b.execHist.Observe(latency.Seconds())
	if result.IsSuccess() {
		b.succeeded.Inc()
		b.profitHist.Observe(profit)
		b.profit.Set(totalProfit)
		b.gasUsed.Set(totalGas)
	} else {
		b.failed.Inc()
	}

	b.logger.Debug("execution result",
		slog.String("opportunity_id", opp.ID),
		slog.String("result", result.String()),
		slog.Float64("net_profit_eth", opp.NetProfitETH),
		slog.Duration("latency", latency),
	)
}

// ValidateOpportunity returns ResultSuccess when opp may be executed, or the
// rejection reason: InsufficientProfit, HighSlippage or GasTooHigh, checked
// in that order.
func (b *Base) ValidateOpportunity(opp domain.Opportunity) domain.StrategyResult {
	cfg := b.Config()
	switch {
	case !opp.IsProfitable():
		return domain.ResultInsufficientProfit
	case !opp.IsWithinSlippageLimit(cfg.MaxSlippagePercent):
		return domain.ResultHighSlippage
	case !opp.IsWithinGasLimit(float64(cfg.MaxGasPriceGwei)):
		return domain.ResultGasTooHigh
	default:
		return domain.ResultSuccess
	}
}

var errEmptyBundle = errors.New("bundle is empty")

// ValidateBundle checks the bundle is non-empty and within the configured
// size limit.
func (b *Base) ValidateBundle(bundle *domain.Bundle) error {
	if bundle == nil || bundle.Len() == 0 {
		return errEmptyBundle
	}
	if limit := b.Config().MaxBundleSize; limit > 0 && bundle.Len() > limit {
		return fmt.Errorf("bundle has %d transactions, limit %d", bundle.Len(), limit)
	}
	return nil
}

// CalculateNetProfit returns gross profit minus gas cost.
func (b *Base) CalculateNetProfit(opp domain.Opportunity) float64 {
	return opp.ExpectedProfitETH - opp.EstimatedGasCostETH
}

// EstimateGasCost returns the ETH cost of gasLimit units at gasPriceGwei.
func (b *Base) EstimateGasCost(gasLimit uint64, gasPriceGwei float64) float64 {
	return float64(gasLimit) * gasPriceGwei * gweiToETH
}

// CalculateSlippage returns the absolute deviation of actual from expected
// in percent, 0 when expected is 0.
func (b *Base) CalculateSlippage(expected, actual float64) float64 {
	if expected == 0 {
		return 0
	}
	return math.Abs(actual-expected) / math.Abs(expected) * 100
}

// IsProfitableEnough reports whether profit meets the configured minimum.
func (b *Base) IsProfitableEnough(profitETH float64) bool {
	return profitETH >= b.Config().MinProfitETH
}

// IsGasPriceAcceptable reports whether gasPriceGwei is within the limit.
func (b *Base) IsGasPriceAcceptable(gasPriceGwei float64) bool {
	return gasPriceGwei <= float64(b.Config().MaxGasPriceGwei)
}

// IsSlippageAcceptable reports whether slippagePercent is within the limit.
func (b *Base) IsSlippageAcceptable(slippagePercent float64) bool {
	return slippagePercent <= b.Config().MaxSlippagePercent
}

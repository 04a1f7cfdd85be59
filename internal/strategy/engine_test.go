package strategy_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/mevsim/internal/domain"
	"github.com/alanyoungcy/mevsim/internal/metrics"
	"github.com/alanyoungcy/mevsim/internal/strategy"
)

func newEngine(t *testing.T, strategies ...strategy.Strategy) *strategy.Engine {
	t.Helper()
	reg := strategy.NewRegistry()
	for _, s := range strategies {
		if err := reg.Register(s); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	return strategy.NewEngine(reg, 4, discardLogger(), metrics.Nop())
}

func tick(block uint64) *domain.StrategyContext {
	return &domain.StrategyContext{BlockNumber: block, CurrentGasPriceGwei: 20}
}

func TestEngineRunsOnlyBestUntargetedOpportunity(t *testing.T) {
	low, high := newFake("low", testConfig()), newFake("high", testConfig())
	low.detect = returning(mustOpportunity("low", 0.2, 0.01))
	high.detect = returning(mustOpportunity("high", 0.5, 0.01))
	e := newEngine(t, low, high)

	report, err := e.Process(context.Background(), tick(10))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(report.Detected) != 2 {
		t.Fatalf("detected %d, want 2", len(report.Detected))
	}
	if len(report.Selected) != 1 || report.Selected[0].StrategyName != "high" {
		t.Fatalf("selected %+v, want only high", report.Selected)
	}
	if len(report.Executions) != 1 || !report.Executions[0].Result.IsSuccess() {
		t.Fatalf("executions %+v", report.Executions)
	}
	if b := report.Bundles(); len(b) != 1 || b[0].BlockNumber != 10 {
		t.Fatalf("bundles %+v", b)
	}

	if s := high.Stats(); s.OpportunitiesDetected != 1 || s.SuccessfulExecutions != 1 {
		t.Errorf("high stats %+v", s)
	}
	if s := low.Stats(); s.OpportunitiesDetected != 1 || s.OpportunitiesExecuted != 0 {
		t.Errorf("unselected opportunity must not count as executed: %+v", s)
	}
}

func TestEngineRunsDisjointTargets(t *testing.T) {
	a, b, c := newFake("a", testConfig()), newFake("b", testConfig()), newFake("c", testConfig())
	a.detect = returning(mustOpportunity("a", 0.5, 0.01, "0x1"))
	b.detect = returning(mustOpportunity("b", 0.4, 0.01, "0x2"))
	c.detect = returning(mustOpportunity("c", 0.3, 0.01, "0x2", "0x3"))
	e := newEngine(t, a, b, c)

	report, err := e.Process(context.Background(), tick(1))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	var names []string
	for _, o := range report.Selected {
		names = append(names, o.StrategyName)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("selected %v, want [a b]", names)
	}
	if len(report.Bundles()) != 2 {
		t.Errorf("want two independent bundles, got %d", len(report.Bundles()))
	}
}

func TestSortOpportunitiesTieBreak(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	opps := []domain.Opportunity{
		{ID: "late", NetProfitETH: 1, Timestamp: t0.Add(time.Second)},
		{ID: "b", NetProfitETH: 1, Timestamp: t0},
		{ID: "best", NetProfitETH: 2, Timestamp: t0.Add(time.Hour)},
		{ID: "a", NetProfitETH: 1, Timestamp: t0},
	}
	strategy.SortOpportunities(opps)
	want := []string{"best", "a", "b", "late"}
	for i, id := range want {
		if opps[i].ID != id {
			t.Fatalf("position %d = %s, want %s", i, opps[i].ID, id)
		}
	}
}

func TestEngineRejectsOutOfLimitOpportunities(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSlippagePercent = 0.5
	s := newFake("arb", cfg)
	opp := mustOpportunity("arb", 0.5, 0.01)
	opp.SlippagePercent = 3
	s.detect = returning(opp)
	e := newEngine(t, s)

	report, err := e.Process(context.Background(), tick(1))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(report.Selected) != 0 {
		t.Fatalf("rejected opportunity was selected")
	}
	if got := report.Rejected[opp.ID]; got != domain.ResultHighSlippage {
		t.Errorf("rejection = %s, want high_slippage", got)
	}
	st := s.Stats()
	if st.OpportunitiesExecuted != 1 || st.FailedExecutions != 1 || st.Outcomes["high_slippage"] != 1 {
		t.Errorf("rejection not recorded: %+v", st)
	}
}

func TestEngineDetectionTimeoutAndSkip(t *testing.T) {
	cfg := testConfig()
	cfg.BundleTimeoutMs = 20
	slow, fast := newFake("slow", cfg), newFake("fast", testConfig())
	release := make(chan struct{})
	slow.detect = func(ctx context.Context, _ *domain.StrategyContext) (*domain.Opportunity, error) {
		<-release
		return nil, nil
	}
	fast.detect = returning(mustOpportunity("fast", 0.2, 0.01))
	e := newEngine(t, slow, fast)

	start := time.Now()
	report, err := e.Process(context.Background(), tick(1))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("tick blocked on slow strategy for %v", elapsed)
	}
	if len(report.TimedOut) != 1 || report.TimedOut[0] != "slow" {
		t.Fatalf("timed out %v, want [slow]", report.TimedOut)
	}
	if len(report.Selected) != 1 || report.Selected[0].StrategyName != "fast" {
		t.Fatalf("fast strategy should still run, selected %+v", report.Selected)
	}

	// The overrunning detection still owns the strategy.
	report, err = e.Process(context.Background(), tick(2))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(report.Skipped) != 1 || report.Skipped[0] != "slow" {
		t.Errorf("skipped %v, want [slow]", report.Skipped)
	}
	close(release)
}

func TestEngineExecutionTimeoutDropsBundle(t *testing.T) {
	cfg := testConfig()
	cfg.BundleTimeoutMs = 20
	s := newFake("arb", cfg)
	s.detect = returning(mustOpportunity("arb", 0.2, 0.01))
	s.execute = func(ctx context.Context, _ domain.Opportunity, b *domain.Bundle) domain.StrategyResult {
		<-ctx.Done()
		b.Add(domain.Transaction{Kind: domain.TxSwap})
		return domain.ResultSuccess
	}
	e := newEngine(t, s)

	report, err := e.Process(context.Background(), tick(1))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(report.Executions) != 1 {
		t.Fatalf("executions = %d", len(report.Executions))
	}
	if ex := report.Executions[0]; ex.Result != domain.ResultTimeout || ex.Bundle != nil {
		t.Errorf("execution %+v, want timeout without bundle", ex)
	}
	if s.Stats().Outcomes["timeout"] != 1 {
		t.Errorf("timeout not recorded: %+v", s.Stats())
	}
}

func TestEngineContainsPanicsAndErrors(t *testing.T) {
	boom, broken := newFake("boom", testConfig()), newFake("broken", testConfig())
	boom.detect = func(context.Context, *domain.StrategyContext) (*domain.Opportunity, error) {
		panic("nil pool")
	}
	broken.detect = func(context.Context, *domain.StrategyContext) (*domain.Opportunity, error) {
		return nil, errors.New("price feed down")
	}
	e := newEngine(t, boom, broken)

	report, err := e.Process(context.Background(), tick(1))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(report.Failed) != 2 {
		t.Errorf("failed %v, want both strategies", report.Failed)
	}
}

func TestEngineSkipsDisabledStrategies(t *testing.T) {
	on, off := newFake("on", testConfig()), newFake("off", testConfig())
	off.SetEnabled(false)
	called := false
	off.detect = func(context.Context, *domain.StrategyContext) (*domain.Opportunity, error) {
		called = true
		return nil, nil
	}
	e := newEngine(t, on, off)

	report, err := e.Process(context.Background(), tick(1))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if report.StrategiesRun != 1 || called {
		t.Errorf("disabled strategy was evaluated")
	}
}

func TestEngineProcessCancelled(t *testing.T) {
	s := newFake("arb", testConfig())
	e := newEngine(t, s)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Process(ctx, tick(1)); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

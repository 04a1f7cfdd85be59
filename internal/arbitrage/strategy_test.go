package arbitrage_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/alanyoungcy/mevsim/internal/arbitrage"
	"github.com/alanyoungcy/mevsim/internal/config"
	"github.com/alanyoungcy/mevsim/internal/domain"
	"github.com/alanyoungcy/mevsim/internal/metrics"
	"github.com/alanyoungcy/mevsim/internal/strategy"
)

func testConfig() config.StrategyConfig {
	cfg := config.DefaultStrategyConfig()
	cfg.Enabled = true
	cfg.MaxSlippagePercent = 2
	return cfg
}

func newStrategy(t *testing.T, cfg config.StrategyConfig, pools ...domain.TokenPair) *arbitrage.Strategy {
	t.Helper()
	s := arbitrage.New("arbitrage", cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)), metrics.Nop())
	s.UpdateTokenPairs(pools)
	return s
}

func pool(addr string, dex domain.DexType, t0, t1 string, r0, r1 float64) domain.TokenPair {
	return domain.TokenPair{Token0: t0, Token1: t1, PairAddress: addr, DexType: dex, Reserve0: r0, Reserve1: r1, FeePercent: 0.3}
}

// crossDexPools quotes WETH/TKN at 1.00 on one dex and 1.02 on another.
func crossDexPools() []domain.TokenPair {
	return []domain.TokenPair{
		pool("0xuni", domain.DexUniswapV2, "WETH", "TKN", 10_000, 10_000),
		pool("0xsushi", domain.DexSushiswap, "WETH", "TKN", 10_200, 10_000),
	}
}

func tick() *domain.StrategyContext {
	return &domain.StrategyContext{BlockNumber: 1, CurrentGasPriceGwei: 20}
}

func inputOf(t *testing.T, opp *domain.Opportunity) float64 {
	t.Helper()
	x, err := strconv.ParseFloat(opp.Metadata[domain.MetaInputAmount], 64)
	if err != nil {
		t.Fatalf("input amount: %v", err)
	}
	return x
}

func TestDetectCrossDex(t *testing.T) {
	pools := crossDexPools()
	if pools[0].Price() != 1 || pools[1].Price() != 1.02 {
		t.Fatalf("fixture prices %v %v", pools[0].Price(), pools[1].Price())
	}
	s := newStrategy(t, testConfig(), pools...)

	opp, err := s.Detect(context.Background(), tick())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if opp == nil {
		t.Fatal("no opportunity detected")
	}
	if opp.Metadata[domain.MetaPathType] != string(domain.PathCrossDex) {
		t.Errorf("path type = %s", opp.Metadata[domain.MetaPathType])
	}
	if opp.Metadata[domain.MetaPools] != "0xuni,0xsushi" {
		t.Errorf("pools = %s, want buy on 0xuni then sell on 0xsushi", opp.Metadata[domain.MetaPools])
	}
	if !opp.IsProfitable() || opp.NetProfitETH != opp.ExpectedProfitETH-opp.EstimatedGasCostETH {
		t.Errorf("net profit %v gross %v gas %v", opp.NetProfitETH, opp.ExpectedProfitETH, opp.EstimatedGasCostETH)
	}
	if x := inputOf(t, opp); x <= 0 || x >= 10_000 {
		t.Errorf("sized input %v not strictly inside (0, 10000)", x)
	}
	if opp.GasLimit != 200_000 {
		t.Errorf("gas limit = %d, want two plain hops", opp.GasLimit)
	}
	if len(opp.TargetTransactions) != 0 {
		t.Errorf("arbitrage targets no mempool transactions, got %v", opp.TargetTransactions)
	}
}

func TestEngineExecutesCrossDex(t *testing.T) {
	s := newStrategy(t, testConfig(), crossDexPools()...)
	reg := strategy.NewRegistry()
	if err := reg.Register(s); err != nil {
		t.Fatal(err)
	}
	e := strategy.NewEngine(reg, 2, slog.New(slog.NewJSONHandler(io.Discard, nil)), metrics.Nop())

	report, err := e.Process(context.Background(), tick())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(report.Selected) != 1 {
		t.Fatalf("selected %d, rejected %v", len(report.Selected), report.Rejected)
	}
	bundles := report.Bundles()
	if len(bundles) != 1 || bundles[0].Len() != 2 {
		t.Fatalf("bundles = %+v", bundles)
	}
	first, second := bundles[0].Transactions[0], bundles[0].Transactions[1]
	if first.TokenIn != "WETH" || first.PoolID != "0xuni" || second.TokenOut != "WETH" || second.PoolID != "0xsushi" {
		t.Errorf("swaps out of cycle order: %+v %+v", first, second)
	}
	if second.AmountIn <= 0 || first.MinAmountOut <= 0 {
		t.Errorf("swap amounts not populated: %+v %+v", first, second)
	}
	if st := s.Stats(); st.SuccessfulExecutions != 1 || st.TotalProfitETH <= 0 {
		t.Errorf("stats %+v", st)
	}
}

func TestOptimalInputCappedByShallowPool(t *testing.T) {
	path := domain.ArbitragePath{
		Kind:   domain.PathCrossDex,
		Tokens: []string{"WETH", "TKN", "WETH"},
		Pools: []domain.TokenPair{
			pool("0xa", domain.DexUniswapV2, "WETH", "TKN", 100, 100),
			pool("0xb", domain.DexSushiswap, "WETH", "TKN", 120, 100),
		},
	}
	x := arbitrage.OptimalInput(path, 1000)
	if x <= 0 {
		t.Fatalf("profitable path sized to %v", x)
	}
	if bound := arbitrage.MaxFeasibleInput(path); x > bound || bound > 100 {
		t.Errorf("input %v exceeds feasibility bound %v (reserve 100)", x, bound)
	}
	if got := arbitrage.OptimalInput(path, 0.5); got > 0.5 {
		t.Errorf("request of 0.5 sized to %v", got)
	}
}

func TestOptimalInputMaximizesSurplus(t *testing.T) {
	path := domain.ArbitragePath{
		Tokens: []string{"WETH", "TKN", "WETH"},
		Pools:  crossDexPools(),
	}
	x := arbitrage.OptimalInput(path, 0)
	best := path.Output(x) - x
	for _, probe := range []float64{x * 0.9, x * 1.1, x / 2, x * 2} {
		if p := path.Output(probe) - probe; p > best+1e-9 {
			t.Errorf("surplus at %v (%v) beats optimum %v (%v)", probe, p, x, best)
		}
	}
}

func TestExecuteAbortsOnSlippage(t *testing.T) {
	s := newStrategy(t, testConfig(), crossDexPools()...)
	opp, err := s.Detect(context.Background(), tick())
	if err != nil || opp == nil {
		t.Fatalf("Detect = %v, %v", opp, err)
	}

	// The selling pool loses WETH depth between detection and execution.
	s.AddTokenPair(pool("0xsushi", domain.DexSushiswap, "WETH", "TKN", 9_000, 10_000))

	bundle := domain.NewBundle(1)
	if got := s.Execute(context.Background(), *opp, bundle); got != domain.ResultHighSlippage {
		t.Fatalf("Execute = %s, want high_slippage", got)
	}
	if bundle.Len() != 0 {
		t.Errorf("aborted execution left %d transactions", bundle.Len())
	}
}

func TestExecuteRejectsMalformedOpportunity(t *testing.T) {
	s := newStrategy(t, testConfig(), crossDexPools()...)
	opp := domain.Opportunity{Metadata: map[string]string{domain.MetaPools: "0xuni", domain.MetaTokens: "WETH"}}
	if got := s.Execute(context.Background(), opp, domain.NewBundle(1)); got != domain.ResultError {
		t.Errorf("Execute = %s, want error", got)
	}
}

func TestDetectTriangular(t *testing.T) {
	s := newStrategy(t, testConfig(),
		pool("0x1", domain.DexUniswapV2, "WETH", "USDC", 1_000, 2_000_000),
		pool("0x2", domain.DexUniswapV2, "USDC", "DAI", 1_000_000, 1_000_000),
		pool("0x3", domain.DexSushiswap, "DAI", "WETH", 2_100_000, 1_000),
	)
	opp, err := s.Detect(context.Background(), tick())
	if err != nil || opp == nil {
		t.Fatalf("Detect = %v, %v", opp, err)
	}
	if opp.Metadata[domain.MetaPathType] != string(domain.PathTriangular) {
		t.Fatalf("path type = %s", opp.Metadata[domain.MetaPathType])
	}
	if opp.Metadata[domain.MetaTokens] != "WETH,DAI,USDC,WETH" {
		t.Errorf("tokens = %s", opp.Metadata[domain.MetaTokens])
	}
}

func TestDetectComplexRespectsMaxPathLength(t *testing.T) {
	pools := []domain.TokenPair{
		pool("0x1", domain.DexUniswapV2, "WETH", "A", 1_000, 1_000),
		pool("0x2", domain.DexUniswapV2, "A", "B", 1_000, 1_000),
		pool("0x3", domain.DexUniswapV2, "B", "C", 1_000, 1_000),
		pool("0x4", domain.DexSushiswap, "C", "WETH", 1_000, 1_100),
	}
	s := newStrategy(t, testConfig(), pools...)
	opp, err := s.Detect(context.Background(), tick())
	if err != nil || opp == nil {
		t.Fatalf("Detect = %v, %v", opp, err)
	}
	if opp.Metadata[domain.MetaPathType] != string(domain.PathComplex) {
		t.Errorf("path type = %s", opp.Metadata[domain.MetaPathType])
	}
	if opp.GasLimit != 400_000 {
		t.Errorf("gas limit = %d, want four hops", opp.GasLimit)
	}

	s.SetMaxPathLength(3)
	if opp, _ := s.Detect(context.Background(), tick()); opp != nil {
		t.Error("four-hop cycle found with max path length 3")
	}
}

func TestFindArbitragePathsOnlyValid(t *testing.T) {
	s := newStrategy(t, testConfig(), append(crossDexPools(),
		pool("0xflat", domain.DexUniswapV2, "WETH", "DAI", 1_000, 1_000),
		pool("0xempty", domain.DexUniswapV2, "WETH", "DAI", 0, 1_000),
	)...)
	paths := s.FindArbitragePaths(context.Background(), nil)
	if len(paths) == 0 {
		t.Fatal("no paths")
	}
	for _, p := range paths {
		if !p.IsValid() {
			t.Errorf("invalid path surfaced: %+v", p)
		}
		if !s.ValidatePathExecution(p) {
			t.Errorf("surfaced path fails execution checks: %s", p.Key())
		}
	}
	if got := s.CalculatePathProfit(paths[0], 0, 20); got >= 0 {
		t.Errorf("zero input should only cost gas, got %v", got)
	}
}

func TestDetectNothingOnBalancedPools(t *testing.T) {
	s := newStrategy(t, testConfig(),
		pool("0xuni", domain.DexUniswapV2, "WETH", "TKN", 10_000, 10_000),
		pool("0xsushi", domain.DexSushiswap, "WETH", "TKN", 10_010, 10_000),
	)
	if opp, err := s.Detect(context.Background(), tick()); err != nil || opp != nil {
		t.Errorf("Detect = %v, %v; fees should eat a 0.1%% spread", opp, err)
	}
}

func TestDetectIgnoresUnregisteredDex(t *testing.T) {
	s := newStrategy(t, testConfig(),
		pool("0xuni", domain.DexUniswapV2, "WETH", "TKN", 10_000, 10_000),
		pool("0xcurve", domain.DexCurve, "WETH", "TKN", 10_200, 10_000),
	)
	if opp, _ := s.Detect(context.Background(), tick()); opp != nil {
		t.Fatal("curve pool used without registration")
	}

	cfg := s.Config()
	cfg.TargetDexes = append(cfg.TargetDexes, "curve")
	s.UpdateConfig(cfg)
	s.AddDex(domain.DexCurve, "0xfactory")
	opp, err := s.Detect(context.Background(), tick())
	if err != nil || opp == nil {
		t.Fatalf("Detect = %v, %v", opp, err)
	}
	if opp.GasLimit != 250_000 {
		t.Errorf("gas limit = %d, want exotic surcharge on the curve hop", opp.GasLimit)
	}
}

type failingFeed struct{ *arbitrage.SimplePriceFeed }

func (failingFeed) UpdatePrices(context.Context) error { return errors.New("feed offline") }

func TestStalePricesRaiseRisk(t *testing.T) {
	cfg := testConfig()
	cfg.RiskCeiling = 0.2
	s := newStrategy(t, cfg, crossDexPools()...)

	s.SetPriceFeed(failingFeed{arbitrage.NewSimplePriceFeed()})
	if opp, _ := s.Detect(context.Background(), tick()); opp != nil {
		t.Fatal("opportunity surfaced on prices that never refreshed")
	}

	feed := arbitrage.NewSimplePriceFeed()
	feed.SetTokenPrices(map[string]float64{"WETH": 3000, "TKN": 3000})
	s.SetPriceFeed(feed)
	opp, err := s.Detect(context.Background(), tick())
	if err != nil || opp == nil {
		t.Fatalf("Detect with fresh prices = %v, %v", opp, err)
	}
	risk, _ := strconv.ParseFloat(opp.Metadata[domain.MetaRiskScore], 64)
	if risk > 0.2 {
		t.Errorf("risk %v above ceiling", risk)
	}
}

func TestValuationUsesPriceFeed(t *testing.T) {
	cfg := testConfig()
	cfg.BaseTokens = []string{"TKN"}
	pools := []domain.TokenPair{
		pool("0xuni", domain.DexUniswapV2, "TKN", "WETH", 10_000, 10_000),
		pool("0xsushi", domain.DexSushiswap, "TKN", "WETH", 10_000, 10_200),
	}
	s := newStrategy(t, cfg, pools...)
	sc := tick()
	sc.TokenPrices = map[string]float64{"TKN": 1, "WETH": 2}
	opp, err := s.Detect(context.Background(), sc)
	if err != nil || opp == nil {
		t.Fatalf("Detect = %v, %v", opp, err)
	}

	hops := strings.Split(opp.Metadata["hop_outputs"], ",")
	out, err := strconv.ParseFloat(hops[len(hops)-1], 64)
	if err != nil {
		t.Fatalf("hop outputs %q: %v", opp.Metadata["hop_outputs"], err)
	}
	want := (out - inputOf(t, opp)) / 2
	if diff := opp.ExpectedProfitETH - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("TKN surplus at half the WETH price: got %v ETH, want %v", opp.ExpectedProfitETH, want)
	}

	unpriced := newStrategy(t, cfg, pools...)
	if raw, _ := unpriced.Detect(context.Background(), tick()); raw != nil {
		t.Errorf("TKN cycle valued without prices: %+v", raw)
	}
}

func TestEngineExecutesCrossDexWithDefaultLimits(t *testing.T) {
	cfg := config.DefaultStrategyConfig()
	cfg.Enabled = true
	s := newStrategy(t, cfg, crossDexPools()...)

	opp, err := s.Detect(context.Background(), tick())
	if err != nil || opp == nil {
		t.Fatalf("Detect = %v, %v", opp, err)
	}
	if opp.SlippagePercent > cfg.MaxSlippagePercent {
		t.Fatalf("sized to %v%% impact, limit %v%%", opp.SlippagePercent, cfg.MaxSlippagePercent)
	}
	if got := s.ValidateOpportunity(*opp); got != domain.ResultSuccess {
		t.Fatalf("ValidateOpportunity = %s", got)
	}

	reg := strategy.NewRegistry()
	if err := reg.Register(s); err != nil {
		t.Fatal(err)
	}
	e := strategy.NewEngine(reg, 1, slog.New(slog.NewJSONHandler(io.Discard, nil)), metrics.Nop())
	report, err := e.Process(context.Background(), tick())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(report.Selected) != 1 || len(report.Executions) != 1 {
		t.Fatalf("selected %d executed %d, rejected %v", len(report.Selected), len(report.Executions), report.Rejected)
	}
	if got := report.Executions[0].Result; got != domain.ResultSuccess {
		t.Errorf("execution result = %s", got)
	}
	if st := s.Stats(); st.SuccessfulExecutions != 1 || st.FailedExecutions != 0 {
		t.Errorf("stats %+v", st)
	}
}

func TestSlippageCap(t *testing.T) {
	path := domain.ArbitragePath{
		Tokens: []string{"WETH", "TKN", "WETH"},
		Pools:  crossDexPools(),
	}
	unbounded := arbitrage.OptimalInput(path, 0)

	cases := []struct {
		name     string
		limit    float64
		belowOpt bool
	}{
		{"tight", 0.1, true},
		{"default", 0.5, true},
		{"loose", 5, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			limit := arbitrage.SlippageCap(path, tc.limit)
			if limit <= 0 {
				t.Fatalf("SlippageCap = %v", limit)
			}
			if limit > arbitrage.MaxFeasibleInput(path) {
				t.Errorf("cap %v above feasibility bound", limit)
			}
			if got := limit < unbounded; got != tc.belowOpt {
				t.Errorf("cap %v vs unbounded optimum %v", limit, unbounded)
			}
		})
	}

	if got := arbitrage.SlippageCap(path, 0.5); arbitrage.SlippageCap(path, 0.1) >= got {
		t.Errorf("tighter limit should allow less input")
	}
	if got := arbitrage.SlippageCap(path, -1); got != 0 {
		t.Errorf("negative limit = %v, want 0", got)
	}
}

func TestDetectDuringPoolRefresh(t *testing.T) {
	s := newStrategy(t, testConfig(), crossDexPools()...)
	const rounds = 200

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			depth := 10_100 + float64(i%100)
			s.UpdateTokenPairs([]domain.TokenPair{
				pool("0xsushi", domain.DexSushiswap, "WETH", "TKN", depth, 10_000),
				pool(fmt.Sprintf("0xextra%d", i%10), domain.DexUniswapV2, "WETH", "DAI", 1_000, 1_000),
			})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			opp, err := s.Detect(context.Background(), tick())
			if err != nil {
				t.Errorf("Detect: %v", err)
				return
			}
			if opp == nil {
				t.Error("cross-dex spread lost during refresh")
				return
			}
			if opp.Metadata[domain.MetaPools] != "0xuni,0xsushi" {
				t.Errorf("pools = %s", opp.Metadata[domain.MetaPools])
				return
			}
		}
	}()
	wg.Wait()

	if got := s.PairCount(); got != 12 {
		t.Errorf("PairCount = %d, want 12", got)
	}
}

func TestConcurrentRefreshesKeepAllPools(t *testing.T) {
	s := newStrategy(t, testConfig())
	const writers, perWriter = 8, 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				s.AddTokenPair(pool(fmt.Sprintf("0x%d-%d", w, i), domain.DexUniswapV2, "WETH", "TKN", 1_000, 1_000))
			}
		}(w)
	}
	wg.Wait()

	if got := s.PairCount(); got != writers*perWriter {
		t.Errorf("PairCount = %d, want %d", got, writers*perWriter)
	}
}

func TestSimplePriceFeed(t *testing.T) {
	ctx := context.Background()
	f := arbitrage.NewSimplePriceFeed()
	f.SetTokenPrice("WETH", 3000)
	if p, _ := f.GetTokenPrice(ctx, "WETH"); p != 3000 {
		t.Errorf("WETH = %v", p)
	}
	if p, _ := f.GetTokenPrice(ctx, "DOGE"); p != 0 {
		t.Errorf("unknown token = %v, want 0", p)
	}
	got, _ := f.GetTokenPrices(ctx, []string{"WETH", "DOGE"})
	if len(got) != 1 || got["WETH"] != 3000 {
		t.Errorf("GetTokenPrices = %v", got)
	}
}

var _ strategy.Strategy = (*arbitrage.Strategy)(nil)

// Package arbitrage implements the cyclic DEX arbitrage strategy: it keeps a
// snapshot of constant-product pools, searches it for profitable token
// cycles, sizes the trade and emits one swap per hop.
package arbitrage

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/mevsim/internal/config"
	"github.com/alanyoungcy/mevsim/internal/domain"
	"github.com/alanyoungcy/mevsim/internal/metrics"
	"github.com/alanyoungcy/mevsim/internal/strategy"
)

// Metadata keys specific to arbitrage opportunities.
const (
	metaHopOutputs    = "hop_outputs"
	metaSlippageBound = "slippage_bound"
	metaBaseToken     = "base_token"
)

// Well-known factory addresses registered for target dexes at construction.
var defaultFactories = map[domain.DexType]string{
	domain.DexUniswapV2: "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f",
	domain.DexUniswapV3: "0x1F98431c8aD98523631AE4a59f267346ea31F984",
	domain.DexSushiswap: "0xC0AEe478e3658e2610c5F7A4A2E1777cE9e4f2Ac",
}

// Strategy is the arbitrage strategy. Pool and price snapshots are replaced
// wholesale under dataMu; a detection pass works on the snapshot it read at
// its start. refreshMu serializes pool refreshes so concurrent merges do not
// drop each other's pools.
type Strategy struct {
	*strategy.Base

	refreshMu sync.Mutex
	dataMu    sync.RWMutex
	pools     *poolSet
	prices    map[string]float64
	pricesAt  time.Time
	feed      domain.PriceFeed
	dexes     map[domain.DexType]string

	now func() time.Time

	found        map[domain.PathKind]metrics.Counter
	pathLength   metrics.Histogram
	profitMargin metrics.Histogram
	activeDexes  metrics.Gauge
	cachedPairs  metrics.Gauge
}

// New returns an arbitrage strategy named name. Every dex in
// cfg.TargetDexes with a known factory address is registered.
func New(name string, cfg config.StrategyConfig, logger *slog.Logger, sink metrics.Sink) *Strategy {
	if sink == nil {
		sink = metrics.Nop()
	}
	labels := func(kind domain.PathKind) metrics.Labels {
		return metrics.Labels{"strategy": name, "path_type": string(kind)}
	}
	s := &Strategy{
		Base:   strategy.NewBase(name, cfg, logger, sink),
		pools:  newPoolSet(nil),
		prices: map[string]float64{},
		dexes:  make(map[domain.DexType]string),
		now:    time.Now,
		found: map[domain.PathKind]metrics.Counter{
			domain.PathTriangular: sink.Counter("arbitrage_paths_found_total", "Profitable paths found.", labels(domain.PathTriangular)),
			domain.PathCrossDex:   sink.Counter("arbitrage_paths_found_total", "Profitable paths found.", labels(domain.PathCrossDex)),
			domain.PathComplex:    sink.Counter("arbitrage_paths_found_total", "Profitable paths found.", labels(domain.PathComplex)),
		},
		pathLength:   sink.Histogram("arbitrage_path_length", "Hops per surfaced path.", metrics.Labels{"strategy": name}, []float64{2, 3, 4, 5, 6, 8}),
		profitMargin: sink.Histogram("arbitrage_profit_margin", "Net profit over input per surfaced path.", metrics.Labels{"strategy": name}, []float64{0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1}),
		activeDexes:  sink.Gauge("arbitrage_active_dexes", "Registered dex factories.", metrics.Labels{"strategy": name}),
		cachedPairs:  sink.Gauge("arbitrage_cached_pairs", "Pools in the current snapshot.", metrics.Labels{"strategy": name}),
	}
	for _, d := range cfg.TargetDexes {
		dt, err := domain.ParseDexType(d)
		if err != nil {
			s.Logger().Warn("ignoring unknown target dex", slog.String("dex", d))
			continue
		}
		if addr, ok := defaultFactories[dt]; ok {
			s.AddDex(dt, addr)
		}
	}
	return s
}

// Initialize primes the price cache when a feed is attached.
func (s *Strategy) Initialize(ctx context.Context) error {
	if s.priceFeed() != nil {
		if err := s.refreshPrices(ctx); err != nil {
			s.Logger().WarnContext(ctx, "initial price refresh failed", slog.String("error", err.Error()))
		}
	}
	s.Logger().InfoContext(ctx, "arbitrage strategy initialized",
		slog.Int("dexes", s.dexCount()),
		slog.Int("pairs", s.PairCount()),
	)
	return nil
}

// Reset drops cached prices and statistics. Pools are kept.
func (s *Strategy) Reset() {
	s.dataMu.Lock()
	s.prices = map[string]float64{}
	s.pricesAt = time.Time{}
	s.dataMu.Unlock()
	s.Base.Reset()
}

// AddDex registers a dex protocol and its factory address. Pools on
// unregistered dexes are ignored by path finding.
func (s *Strategy) AddDex(dex domain.DexType, factory string) {
	s.dataMu.Lock()
	s.dexes[dex] = factory
	n := len(s.dexes)
	s.dataMu.Unlock()
	s.activeDexes.Set(float64(n))
}

func (s *Strategy) dexCount() int {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	return len(s.dexes)
}

// AddTokenPair adds or replaces a single pool.
func (s *Strategy) AddTokenPair(pair domain.TokenPair) {
	s.UpdateTokenPairs([]domain.TokenPair{pair})
}

// UpdateTokenPairs merges pairs into a fresh pool snapshot, keyed by pair
// address, and publishes it.
func (s *Strategy) UpdateTokenPairs(pairs []domain.TokenPair) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.dataMu.RLock()
	merged := make(map[string]domain.TokenPair, len(s.pools.byAddr)+len(pairs))
	for k, v := range s.pools.byAddr {
		merged[k] = v
	}
	s.dataMu.RUnlock()

	for _, p := range pairs {
		merged[p.PairAddress] = p
	}
	next := newPoolSet(merged)

	s.dataMu.Lock()
	s.pools = next
	s.dataMu.Unlock()
	s.cachedPairs.Set(float64(len(next.byAddr)))
}

// TokenPairs returns the pools of the current snapshot sorted by address.
func (s *Strategy) TokenPairs() []domain.TokenPair {
	set := s.poolSnapshot()
	out := make([]domain.TokenPair, 0, len(set.addrs))
	for _, a := range set.addrs {
		out = append(out, set.byAddr[a])
	}
	return out
}

// PairCount returns the number of pools in the current snapshot.
func (s *Strategy) PairCount() int { return len(s.poolSnapshot().byAddr) }

func (s *Strategy) poolSnapshot() *poolSet {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	return s.pools
}

// SetPriceFeed attaches the feed used for token valuation and staleness.
func (s *Strategy) SetPriceFeed(feed domain.PriceFeed) {
	s.dataMu.Lock()
	s.feed = feed
	s.pricesAt = time.Time{}
	s.dataMu.Unlock()
}

func (s *Strategy) priceFeed() domain.PriceFeed {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	return s.feed
}

// SetMinProfitThreshold changes the minimum net profit a path must reach.
func (s *Strategy) SetMinProfitThreshold(minProfitETH float64) {
	cfg := s.Config()
	cfg.MinProfitETH = minProfitETH
	s.UpdateConfig(cfg)
}

// SetMaxPathLength bounds the hop count of the complex search.
func (s *Strategy) SetMaxPathLength(hops int) {
	cfg := s.Config()
	cfg.MaxPathLength = hops
	s.UpdateConfig(cfg)
}

func (s *Strategy) SetMaxGasPrice(gwei uint64) {
	cfg := s.Config()
	cfg.MaxGasPriceGwei = gwei
	s.UpdateConfig(cfg)
}

// refreshPrices asks the feed to update and copies the prices of every
// token in the pool snapshot into a new cache.
func (s *Strategy) refreshPrices(ctx context.Context) error {
	feed := s.priceFeed()
	if feed == nil {
		return nil
	}
	if err := feed.UpdatePrices(ctx); err != nil {
		return err
	}
	tokens := s.poolSnapshot().tokens()
	prices, err := feed.GetTokenPrices(ctx, tokens)
	if err != nil {
		return err
	}
	fresh := make(map[string]float64, len(prices))
	for k, v := range prices {
		if v > 0 {
			fresh[k] = v
		}
	}
	s.dataMu.Lock()
	s.prices = fresh
	s.pricesAt = s.now()
	s.dataMu.Unlock()
	return nil
}

// snapshot captures everything one detection pass reads.
func (s *Strategy) snapshot(sc *domain.StrategyContext) *view {
	cfg := s.Config()
	s.dataMu.RLock()
	pools, cached, at, hasFeed := s.pools, s.prices, s.pricesAt, s.feed != nil
	dexes := make(map[domain.DexType]struct{}, len(s.dexes))
	for d := range s.dexes {
		dexes[d] = struct{}{}
	}
	s.dataMu.RUnlock()

	prices := make(map[string]float64, len(cached))
	for k, v := range cached {
		prices[k] = v
	}
	gwei := 0.0
	if sc != nil {
		for k, v := range sc.TokenPrices {
			if v > 0 {
				prices[k] = v
			}
		}
		gwei = sc.CurrentGasPriceGwei
		if gwei <= 0 {
			gwei = sc.BaseFeeGwei + sc.PriorityFeeGwei
		}
	}

	allowed := dexes
	if len(cfg.TargetDexes) > 0 {
		allowed = make(map[domain.DexType]struct{}, len(dexes))
		for _, d := range cfg.TargetDexes {
			if dt, err := domain.ParseDexType(d); err == nil {
				if _, ok := dexes[dt]; ok {
					allowed[dt] = struct{}{}
				}
			}
		}
	}

	return &view{
		cfg:      cfg,
		pools:    pools,
		prices:   prices,
		pricesAt: at,
		hasFeed:  hasFeed,
		dexes:    allowed,
		gasGwei:  gwei,
		now:      s.now(),
	}
}

func (s *Strategy) pricesStale(v *view) bool {
	if !v.hasFeed {
		return false
	}
	ttl := time.Duration(v.cfg.PriceTTLSeconds) * time.Second
	return v.pricesAt.IsZero() || v.now.Sub(v.pricesAt) >= ttl
}

// Detect searches triangular cycles, then cross-dex pairs, then bounded
// depth cycles, stopping after the first class that yields a path at or
// above the profit threshold.
func (s *Strategy) Detect(ctx context.Context, sc *domain.StrategyContext) (*domain.Opportunity, error) {
	v := s.snapshot(sc)
	if s.pricesStale(v) {
		if err := s.refreshPrices(ctx); err != nil {
			s.Logger().WarnContext(ctx, "price refresh failed, using cached prices",
				slog.String("error", err.Error()),
			)
		} else {
			v = s.snapshot(sc)
		}
	}

	var best *candidate
	for _, find := range []func(context.Context, *view) []candidate{findTriangular, findCrossDex, findComplex} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, c := range find(ctx, v) {
			if best == nil || c.netETH() > best.netETH() {
				best = &c
			}
		}
		if best != nil && best.netETH() >= v.cfg.MinProfitETH {
			break
		}
	}
	if best == nil || best.netETH() < v.cfg.MinProfitETH {
		return nil, nil
	}

	s.observe(*best)
	opp, err := s.opportunity(*best, v)
	if err != nil {
		return nil, err
	}
	return &opp, nil
}

func (s *Strategy) observe(c candidate) {
	s.found[c.path.Kind].Inc()
	s.pathLength.Observe(float64(c.path.Hops()))
	if c.path.RequiredInputETH > 0 {
		s.profitMargin.Observe(c.netETH() / c.path.RequiredInputETH)
	}
	s.Logger().Debug("arbitrage path found",
		slog.String("path_type", string(c.path.Kind)),
		slog.String("path", strings.Join(c.path.Tokens, ">")),
		slog.Float64("input", c.input),
		slog.Float64("net_profit_eth", c.netETH()),
		slog.Float64("risk", c.risk),
	)
}

func (s *Strategy) opportunity(c candidate, v *view) (domain.Opportunity, error) {
	addrs := make([]string, len(c.path.Pools))
	for i, p := range c.path.Pools {
		addrs[i] = p.PairAddress
	}
	hops := make([]string, len(c.hopOutputs))
	for i, o := range c.hopOutputs {
		hops[i] = formatFloat(o)
	}
	return domain.NewOpportunity(domain.OpportunityParams{
		StrategyName:        s.Name(),
		ExpectedProfitETH:   c.grossETH,
		EstimatedGasCostETH: c.gasETH,
		SlippagePercent:     c.slippage,
		GasLimit:            c.path.GasEstimate,
		GasPriceGwei:        v.gasGwei,
		Metadata: map[string]string{
			domain.MetaPathType:    string(c.path.Kind),
			domain.MetaTokens:      strings.Join(c.path.Tokens, ","),
			domain.MetaPools:       strings.Join(addrs, ","),
			domain.MetaInputAmount: formatFloat(c.input),
			domain.MetaRiskScore:   formatFloat(c.risk),
			metaHopOutputs:         strings.Join(hops, ","),
			metaSlippageBound:      formatFloat(v.cfg.MaxSlippagePercent),
			metaBaseToken:          c.path.Tokens[0],
		},
		RequiredKeys: []string{domain.MetaPathType, domain.MetaTokens, domain.MetaPools, domain.MetaInputAmount},
	})
}

// FindArbitragePaths returns every admissible path starting from one of
// targetTokens across all three classes, most profitable first. An empty
// targetTokens uses the configured base tokens.
func (s *Strategy) FindArbitragePaths(ctx context.Context, targetTokens []string) []domain.ArbitragePath {
	v := s.snapshot(nil)
	v.gasGwei = float64(v.cfg.MaxGasPriceGwei)
	if len(targetTokens) > 0 {
		v.cfg.BaseTokens = targetTokens
	}
	var all []candidate
	for _, find := range []func(context.Context, *view) []candidate{findTriangular, findCrossDex, findComplex} {
		all = append(all, find(ctx, v)...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].netETH() > all[j].netETH() })
	out := make([]domain.ArbitragePath, len(all))
	for i, c := range all {
		out[i] = c.path
	}
	return out
}

// CalculatePathProfit returns the ETH value of running input through path
// minus its gas cost at gasPriceGwei.
func (s *Strategy) CalculatePathProfit(path domain.ArbitragePath, input, gasPriceGwei float64) float64 {
	v := s.snapshot(nil)
	v.gasGwei = gasPriceGwei
	return v.profitETH(path, input)
}

// ValidatePathExecution reports whether path passes the liquidity and risk
// gates at its optimal size within the slippage limit.
func (s *Strategy) ValidatePathExecution(path domain.ArbitragePath) bool {
	v := s.snapshot(nil)
	return v.isPathSafe(path, sizeWithinSlippage(path, v.cfg.MaxSlippagePercent))
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

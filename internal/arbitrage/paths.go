package arbitrage

import (
	"context"
	"sort"
	"time"

	"github.com/alanyoungcy/mevsim/internal/config"
	"github.com/alanyoungcy/mevsim/internal/domain"
)

// maxComplexExpansions bounds the number of DFS edges explored per base
// token by the complex search.
const maxComplexExpansions = 20_000

// poolSet is an immutable pool snapshot indexed by address and by token.
type poolSet struct {
	byAddr  map[string]domain.TokenPair
	byToken map[string][]string
	addrs   []string
}

func newPoolSet(pools map[string]domain.TokenPair) *poolSet {
	set := &poolSet{
		byAddr:  make(map[string]domain.TokenPair, len(pools)),
		byToken: make(map[string][]string),
	}
	for addr, p := range pools {
		set.byAddr[addr] = p
		set.addrs = append(set.addrs, addr)
	}
	sort.Strings(set.addrs)
	for _, addr := range set.addrs {
		p := set.byAddr[addr]
		set.byToken[p.Token0] = append(set.byToken[p.Token0], addr)
		if p.Token1 != p.Token0 {
			set.byToken[p.Token1] = append(set.byToken[p.Token1], addr)
		}
	}
	return set
}

func (ps *poolSet) tokens() []string {
	out := make([]string, 0, len(ps.byToken))
	for t := range ps.byToken {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// view is the read-only state one detection pass works on.
type view struct {
	cfg      config.StrategyConfig
	pools    *poolSet
	prices   map[string]float64
	pricesAt time.Time
	hasFeed  bool
	dexes    map[domain.DexType]struct{}
	gasGwei  float64
	now      time.Time
}

// edges returns the usable pools touching token in address order.
func (v *view) edges(token string) []domain.TokenPair {
	addrs := v.pools.byToken[token]
	out := make([]domain.TokenPair, 0, len(addrs))
	for _, a := range addrs {
		p := v.pools.byAddr[a]
		if _, ok := v.dexes[p.DexType]; !ok {
			continue
		}
		if p.Reserve0 <= 0 || p.Reserve1 <= 0 {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (v *view) baseTokens() []string {
	if len(v.cfg.BaseTokens) > 0 {
		return v.cfg.BaseTokens
	}
	return []string{"WETH"}
}

// candidate is a sized, admitted path.
type candidate struct {
	path       domain.ArbitragePath
	input      float64
	hopOutputs []float64
	grossETH   float64
	gasETH     float64
	slippage   float64
	risk       float64
}

func (c candidate) netETH() float64 { return c.grossETH - c.gasETH }

// evaluate sizes the cycle and applies the admission gates. ok is false
// when the cycle is unprofitable, invalid or unsafe.
func (v *view) evaluate(kind domain.PathKind, tokens []string, pools []domain.TokenPair) (candidate, bool) {
	path := domain.ArbitragePath{
		Kind:   kind,
		Tokens: append([]string(nil), tokens...),
		Pools:  append([]domain.TokenPair(nil), pools...),
	}
	rate := marginalRate(path)
	if rate <= 1 {
		return candidate{}, false
	}

	input := sizeWithinSlippage(path, v.cfg.MaxSlippagePercent)
	if input <= 0 {
		return candidate{}, false
	}
	hops := hopOutputs(path, input)
	out := hops[len(hops)-1]
	if out <= input {
		return candidate{}, false
	}

	base := path.Tokens[0]
	gas := EstimatePathGas(path)
	gasETH := float64(gas) * v.gasGwei * 1e-9
	gross := v.valueETH(base, out-input)

	path.GasEstimate = gas
	path.RequiredInputETH = v.valueETH(base, input)
	path.ExpectedProfitETH = gross - gasETH
	if !path.IsValid() || !v.isPathSafe(path, input) {
		return candidate{}, false
	}

	return candidate{
		path:       path,
		input:      input,
		hopOutputs: hops,
		grossETH:   gross,
		gasETH:     gasETH,
		slippage:   priceImpact(path, input, out),
		risk:       v.riskScore(path, input),
	}, true
}

// profitETH values the cycle's surplus at input, net of gas.
func (v *view) profitETH(path domain.ArbitragePath, input float64) float64 {
	if len(path.Tokens) == 0 {
		return 0
	}
	gasETH := float64(EstimatePathGas(path)) * v.gasGwei * 1e-9
	return v.valueETH(path.Tokens[0], path.Output(input)-input) - gasETH
}

// valueETH converts amount of token into ETH. A token or WETH without a
// price cannot be valued and yields 0.
func (v *view) valueETH(token string, amount float64) float64 {
	if token == "WETH" || token == "ETH" {
		return amount
	}
	p, eth := v.prices[token], v.prices["WETH"]
	if p <= 0 || eth <= 0 {
		return 0
	}
	return amount * p / eth
}

// findTriangular looks for base -> a -> b -> base over three distinct
// pools.
func findTriangular(ctx context.Context, v *view) []candidate {
	var out []candidate
	for _, base := range v.baseTokens() {
		for _, p1 := range v.edges(base) {
			a := p1.Other(base)
			if a == base {
				continue
			}
			for _, p2 := range v.edges(a) {
				b := p2.Other(a)
				if p2.PairAddress == p1.PairAddress || b == base || b == a {
					continue
				}
				if ctx.Err() != nil {
					return out
				}
				for _, p3 := range v.edges(b) {
					if p3.Other(b) != base || p3.PairAddress == p2.PairAddress || p3.PairAddress == p1.PairAddress {
						continue
					}
					tokens := []string{base, a, b, base}
					if c, ok := v.evaluate(domain.PathTriangular, tokens, []domain.TokenPair{p1, p2, p3}); ok {
						out = append(out, c)
					}
				}
			}
		}
	}
	return out
}

// findCrossDex looks for the same pair quoted by two pools, buying on one
// and selling on the other.
func findCrossDex(ctx context.Context, v *view) []candidate {
	var out []candidate
	for _, base := range v.baseTokens() {
		byQuote := make(map[string][]domain.TokenPair)
		var quotes []string
		for _, p := range v.edges(base) {
			q := p.Other(base)
			if q == base {
				continue
			}
			if _, seen := byQuote[q]; !seen {
				quotes = append(quotes, q)
			}
			byQuote[q] = append(byQuote[q], p)
		}
		for _, q := range quotes {
			if ctx.Err() != nil {
				return out
			}
			pools := byQuote[q]
			for i := range pools {
				for j := range pools {
					if i == j {
						continue
					}
					tokens := []string{base, q, base}
					if c, ok := v.evaluate(domain.PathCrossDex, tokens, []domain.TokenPair{pools[i], pools[j]}); ok {
						out = append(out, c)
					}
				}
			}
		}
	}
	return out
}

// findComplex runs a depth-first search for cycles of four or more hops,
// up to the configured maximum path length, whose marginal rate product
// exceeds 1.
func findComplex(ctx context.Context, v *view) []candidate {
	maxHops := v.cfg.MaxPathLength
	if maxHops < 4 {
		return nil
	}
	var out []candidate
	for _, base := range v.baseTokens() {
		budget := maxComplexExpansions
		tokens := []string{base}
		var pools []domain.TokenPair
		usedPool := make(map[string]bool)
		onPath := map[string]bool{base: true}

		var walk func(token string, rate float64)
		walk = func(token string, rate float64) {
			for _, p := range v.edges(token) {
				if budget <= 0 || ctx.Err() != nil {
					return
				}
				budget--
				if usedPool[p.PairAddress] {
					continue
				}
				next := p.Other(token)
				r := rate * p.Rate(token)
				if r <= 0 {
					continue
				}
				hops := len(pools) + 1
				if next == base {
					if hops >= 4 && r > 1 {
						cycle := append(append([]string(nil), tokens...), base)
						if c, ok := v.evaluate(domain.PathComplex, cycle, append(pools, p)); ok {
							out = append(out, c)
						}
					}
					continue
				}
				if onPath[next] || hops >= maxHops {
					continue
				}
				usedPool[p.PairAddress], onPath[next] = true, true
				tokens = append(tokens, next)
				pools = append(pools, p)
				walk(next, r)
				tokens = tokens[:len(tokens)-1]
				pools = pools[:len(pools)-1]
				usedPool[p.PairAddress], onPath[next] = false, false
			}
		}
		walk(base, 1)
	}
	return out
}

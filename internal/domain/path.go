package domain

import "strings"

// PathKind labels how an ArbitragePath was discovered.
type PathKind string

const (
	PathTriangular PathKind = "triangular"
	PathCrossDex   PathKind = "cross_dex"
	PathComplex    PathKind = "complex"
)

// ArbitragePath is a token cycle. Tokens[i] is swapped through Pools[i]
// into Tokens[i+1]; the last token equals the first.
type ArbitragePath struct {
	Kind              PathKind
	Tokens            []string
	Pools             []TokenPair
	ExpectedProfitETH float64
	RequiredInputETH  float64
	GasEstimate       uint64
}

// IsValid reports whether the path may be surfaced as an opportunity.
func (p ArbitragePath) IsValid() bool {
	return len(p.Tokens) >= 3 && len(p.Pools) >= 2 && p.ExpectedProfitETH > 0
}

// Hops returns the number of swaps in the path.
func (p ArbitragePath) Hops() int { return len(p.Pools) }

// Key identifies the path by its pool sequence.
func (p ArbitragePath) Key() string {
	ids := make([]string, len(p.Pools))
	for i, pool := range p.Pools {
		ids[i] = pool.PairAddress
	}
	return strings.Join(ids, ">")
}

// Output runs amount through every hop in order and returns the amount of
// the final token received.
func (p ArbitragePath) Output(amount float64) float64 {
	out := amount
	for i, pool := range p.Pools {
		if i >= len(p.Tokens) {
			return 0
		}
		out = pool.OutputFor(p.Tokens[i], out)
		if out <= 0 {
			return 0
		}
	}
	return out
}

// MinInputReserve returns the smallest input-side reserve of any hop in
// units of the path's first token. Later hops are converted back through
// the fee-free spot prices of the hops before them.
func (p ArbitragePath) MinInputReserve() float64 {
	lowest, rate := 0.0, 1.0
	for i, pool := range p.Pools {
		if i >= len(p.Tokens) {
			break
		}
		in, out := pool.ReserveOf(p.Tokens[i]), pool.ReserveOf(pool.Other(p.Tokens[i]))
		if in <= 0 || out <= 0 || rate <= 0 {
			return 0
		}
		r := in / rate
		if i == 0 || r < lowest {
			lowest = r
		}
		rate *= out / in
	}
	return lowest
}

package arbitrage

import (
	"math"

	"github.com/alanyoungcy/mevsim/internal/domain"
)

const (
	// maxReserveShare caps the input at this fraction of the shallowest
	// input-side reserve along the path.
	maxReserveShare = 0.3

	// gasPerHop is the gas charged for a plain constant-product swap.
	gasPerHop = 100_000
	// exoticHopSurcharge is added per hop on Balancer, Curve or Bancor.
	exoticHopSurcharge = 50_000

	goldenIterations = 96
	bisectIterations = 96
)

var invPhi = (math.Sqrt(5) - 1) / 2

// MaxFeasibleInput returns the largest input the sizing search may use.
func MaxFeasibleInput(path domain.ArbitragePath) float64 {
	r := path.MinInputReserve()
	if r <= 0 {
		return 0
	}
	return r * maxReserveShare
}

// SlippageCap returns the largest input, up to MaxFeasibleInput, whose
// price impact stays within maxSlippagePercent. Impact grows with input
// along a constant-product path, so bisection finds the boundary.
func SlippageCap(path domain.ArbitragePath, maxSlippagePercent float64) float64 {
	hi := MaxFeasibleInput(path)
	if hi <= 0 || maxSlippagePercent < 0 {
		return 0
	}
	within := func(x float64) bool {
		return priceImpact(path, x, path.Output(x)) <= maxSlippagePercent
	}
	if within(hi) {
		return hi
	}
	lo := 0.0
	for i := 0; i < bisectIterations && hi-lo > 1e-12*math.Max(1, hi); i++ {
		mid := (lo + hi) / 2
		if within(mid) {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}

// sizeWithinSlippage is the profit-maximizing input that respects the
// slippage limit, 0 when no positive input does.
func sizeWithinSlippage(path domain.ArbitragePath, maxSlippagePercent float64) float64 {
	limit := SlippageCap(path, maxSlippagePercent)
	if limit <= 0 {
		return 0
	}
	return OptimalInput(path, limit)
}

// OptimalInput maximizes output(x) - x over [0, bound] with a golden-section
// search, where bound is the feasibility cap further limited by requested
// when requested is positive. The composed constant-product output is
// concave, so the surplus is unimodal on the interval.
func OptimalInput(path domain.ArbitragePath, requested float64) float64 {
	hi := MaxFeasibleInput(path)
	if requested > 0 && requested < hi {
		hi = requested
	}
	if hi <= 0 {
		return 0
	}
	surplus := func(x float64) float64 { return path.Output(x) - x }

	lo := 0.0
	x1 := hi - invPhi*(hi-lo)
	x2 := lo + invPhi*(hi-lo)
	f1, f2 := surplus(x1), surplus(x2)
	for i := 0; i < goldenIterations && hi-lo > 1e-12*math.Max(1, hi); i++ {
		if f1 < f2 {
			lo, x1, f1 = x1, x2, f2
			x2 = lo + invPhi*(hi-lo)
			f2 = surplus(x2)
		} else {
			hi, x2, f2 = x2, x1, f1
			x1 = hi - invPhi*(hi-lo)
			f1 = surplus(x1)
		}
	}
	x := (lo + hi) / 2
	if surplus(x) <= 0 {
		return 0
	}
	return x
}

// marginalRate is the product of each hop's fee-adjusted spot rate. A value
// above 1 means an infinitesimal trade around the cycle is profitable.
func marginalRate(path domain.ArbitragePath) float64 {
	if len(path.Tokens) < len(path.Pools)+1 {
		return 0
	}
	rate := 1.0
	for i, p := range path.Pools {
		rate *= p.Rate(path.Tokens[i])
	}
	return rate
}

// hopOutputs returns the amount received after each hop for input.
func hopOutputs(path domain.ArbitragePath, input float64) []float64 {
	out := make([]float64, len(path.Pools))
	amt := input
	for i, p := range path.Pools {
		amt = p.OutputFor(path.Tokens[i], amt)
		out[i] = amt
	}
	return out
}

// priceImpact is the shortfall in percent of the realized output against
// trading the same input at marginal rates.
func priceImpact(path domain.ArbitragePath, input, output float64) float64 {
	ideal := input * marginalRate(path)
	if ideal <= 0 {
		return 0
	}
	impact := (1 - output/ideal) * 100
	if impact < 0 {
		return 0
	}
	return impact
}

// EstimatePathGas charges gasPerHop for every hop plus the exotic surcharge
// for hops on Balancer, Curve or Bancor pools.
func EstimatePathGas(path domain.ArbitragePath) uint64 {
	var gas uint64
	for _, p := range path.Pools {
		gas += estimateSwapGas(p)
	}
	return gas
}

func estimateSwapGas(p domain.TokenPair) uint64 {
	if p.DexType.IsExotic() {
		return gasPerHop + exoticHopSurcharge
	}
	return gasPerHop
}

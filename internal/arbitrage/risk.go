package arbitrage

import (
	"time"

	"github.com/alanyoungcy/mevsim/internal/domain"
)

// Risk component weights. They sum to 1 so the score stays in [0, 1].
const (
	liquidityWeight = 0.5
	stalenessWeight = 0.3
	lengthWeight    = 0.2
)

// riskScore combines liquidity headroom, price staleness and path length
// into a value in [0, 1].
func (v *view) riskScore(path domain.ArbitragePath, input float64) float64 {
	liquidity := 1.0
	if bound := MaxFeasibleInput(path); bound > 0 {
		liquidity = clamp01(input / bound)
	}

	staleness := 0.0
	if v.hasFeed {
		ttl := time.Duration(v.cfg.PriceTTLSeconds) * time.Second
		if v.pricesAt.IsZero() || v.now.Sub(v.pricesAt) > ttl {
			staleness = 1
		}
	}

	length := 0.0
	if maxHops := v.cfg.MaxPathLength; maxHops > 2 {
		length = clamp01(float64(path.Hops()-2) / float64(maxHops-2))
	}

	return liquidityWeight*liquidity + stalenessWeight*staleness + lengthWeight*length
}

// isPathSafe admits a path for execution: it must be valid, every hop must
// have liquidity for the sized amount, and the risk score must not exceed
// the configured ceiling.
func (v *view) isPathSafe(path domain.ArbitragePath, input float64) bool {
	if !path.IsValid() || !checkLiquiditySufficiency(path, input) {
		return false
	}
	ceiling := v.cfg.RiskCeiling
	return ceiling <= 0 || v.riskScore(path, input) <= ceiling
}

// checkLiquiditySufficiency reports whether every hop receives a positive
// amount that stays within maxReserveShare of its input reserve.
func checkLiquiditySufficiency(path domain.ArbitragePath, input float64) bool {
	if input <= 0 || len(path.Tokens) < len(path.Pools)+1 {
		return false
	}
	amt := input
	for i, p := range path.Pools {
		reserve := p.ReserveOf(path.Tokens[i])
		if reserve <= 0 || amt > reserve*maxReserveShare {
			return false
		}
		amt = p.OutputFor(path.Tokens[i], amt)
		if amt <= 0 {
			return false
		}
	}
	return true
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}

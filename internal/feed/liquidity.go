package feed

import (
	"strings"

	"github.com/alanyoungcy/mevsim/internal/domain"
)

// Liquidity maps each pool address to its depth in ETH. A pool holding WETH
// or ETH reports that reserve directly; otherwise the first side with a
// known price is converted through the WETH price. Pools that cannot be
// valued are omitted, which strategies read as unknown depth.
func Liquidity(pools []domain.TokenPair, prices map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(pools))
	for _, p := range pools {
		if depth := depthETH(p, prices); depth > 0 {
			out[p.PairAddress] = depth
		}
	}
	return out
}

func depthETH(p domain.TokenPair, prices map[string]float64) float64 {
	switch {
	case isETH(p.Token0):
		return p.Reserve0
	case isETH(p.Token1):
		return p.Reserve1
	}
	weth := prices["WETH"]
	if weth <= 0 {
		return 0
	}
	if px := prices[p.Token0]; px > 0 {
		return p.Reserve0 * px / weth
	}
	if px := prices[p.Token1]; px > 0 {
		return p.Reserve1 * px / weth
	}
	return 0
}

func isETH(token string) bool {
	return strings.EqualFold(token, "WETH") || strings.EqualFold(token, "ETH")
}

// Package chain holds the blockchain-facing collaborators: block sources for
// realtime, historical and synthetic runs, bundle submission against a fork
// or an in-process chain, pool reserve reads and searcher key loading.
package chain

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	weiPerETH  = 18
	weiPerGwei = 9
)

// WeiFromETH converts an ETH amount to wei, truncating below one wei.
// Negative amounts yield zero.
func WeiFromETH(eth float64) *big.Int {
	return toWei(eth, weiPerETH)
}

// WeiFromGwei converts a gwei amount to wei.
func WeiFromGwei(gwei float64) *big.Int {
	return toWei(gwei, weiPerGwei)
}

func toWei(v float64, exp int32) *big.Int {
	d := decimal.NewFromFloat(v)
	if d.Sign() <= 0 {
		return new(big.Int)
	}
	return d.Shift(exp).BigInt()
}

// ETHFromWei converts wei to ETH. A nil value is zero.
func ETHFromWei(wei *big.Int) float64 {
	return fromWei(wei, weiPerETH)
}

// GweiFromWei converts wei to gwei. A nil value is zero.
func GweiFromWei(wei *big.Int) float64 {
	return fromWei(wei, weiPerGwei)
}

func fromWei(wei *big.Int, exp int32) float64 {
	if wei == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(wei, -exp).Float64()
	return f
}

// TokenAmount scales a raw on-chain integer amount by the token's decimals.
func TokenAmount(raw *big.Int, decimals uint8) float64 {
	if raw == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(raw, -int32(decimals)).Float64()
	return f
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

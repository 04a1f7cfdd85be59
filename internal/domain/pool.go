package domain

import (
	"fmt"
	"strings"
)

// DexType enumerates the supported exchange protocols.
type DexType int

const (
	DexUniswapV2 DexType = iota
	DexUniswapV3
	DexSushiswap
	DexBalancer
	DexCurve
	DexBancor
)

var dexNames = map[DexType]string{
	DexUniswapV2: "uniswap_v2",
	DexUniswapV3: "uniswap_v3",
	DexSushiswap: "sushiswap",
	DexBalancer:  "balancer",
	DexCurve:     "curve",
	DexBancor:    "bancor",
}

func (d DexType) String() string {
	if n, ok := dexNames[d]; ok {
		return n
	}
	return "unknown"
}

// IsExotic reports whether swaps on this protocol cost more gas than a
// plain constant-product pair.
func (d DexType) IsExotic() bool {
	switch d {
	case DexBalancer, DexCurve, DexBancor:
		return true
	default:
		return false
	}
}

// ParseDexType maps a protocol name such as "uniswap_v2" to its DexType.
func ParseDexType(s string) (DexType, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for d, n := range dexNames {
		if n == want {
			return d, nil
		}
	}
	return 0, fmt.Errorf("dex type %q: %w", s, ErrNotFound)
}

// TokenPair is a constant-product liquidity pool.
type TokenPair struct {
	Token0      string
	Token1      string
	PairAddress string
	DexType     DexType
	Reserve0    float64
	Reserve1    float64
	FeePercent  float64
}

// Price returns reserve0/reserve1, or 0 when reserve1 is empty.
func (p TokenPair) Price() float64 {
	if p.Reserve1 <= 0 {
		return 0
	}
	return p.Reserve0 / p.Reserve1
}

// OutputAmount applies the constant-product formula net of fee. Direction
// is token0 -> token1 when zeroForOne is set. An illiquid pool or a fee of
// 100% or more yields 0.
func (p TokenPair) OutputAmount(input float64, zeroForOne bool) float64 {
	reserveIn, reserveOut := p.Reserve0, p.Reserve1
	if !zeroForOne {
		reserveIn, reserveOut = p.Reserve1, p.Reserve0
	}
	if reserveIn <= 0 || reserveOut <= 0 || input <= 0 {
		return 0
	}
	feeMultiplier := 1 - p.FeePercent/100
	if feeMultiplier <= 0 {
		return 0
	}
	inputWithFee := input * feeMultiplier
	return inputWithFee * reserveOut / (reserveIn + inputWithFee)
}

// Has reports whether token is one side of the pool.
func (p TokenPair) Has(token string) bool {
	return p.Token0 == token || p.Token1 == token
}

// Other returns the counterpart of token in the pool.
func (p TokenPair) Other(token string) string {
	if p.Token0 == token {
		return p.Token1
	}
	return p.Token0
}

// OutputFor swaps amount of tokenIn through the pool. It returns 0 when
// tokenIn is not part of the pool.
func (p TokenPair) OutputFor(tokenIn string, amount float64) float64 {
	switch tokenIn {
	case p.Token0:
		return p.OutputAmount(amount, true)
	case p.Token1:
		return p.OutputAmount(amount, false)
	default:
		return 0
	}
}

// ReserveOf returns the reserve held for token, 0 when absent.
func (p TokenPair) ReserveOf(token string) float64 {
	switch token {
	case p.Token0:
		return p.Reserve0
	case p.Token1:
		return p.Reserve1
	default:
		return 0
	}
}

// Rate is the marginal exchange rate for tokenIn net of fee, 0 when the
// pool is illiquid.
func (p TokenPair) Rate(tokenIn string) float64 {
	in, out := p.ReserveOf(tokenIn), p.ReserveOf(p.Other(tokenIn))
	if in <= 0 || out <= 0 || !p.Has(tokenIn) {
		return 0
	}
	m := 1 - p.FeePercent/100
	if m <= 0 {
		return 0
	}
	return m * out / in
}

package domain

import "time"

// PendingTx is the subset of a mempool transaction strategies may inspect.
type PendingTx struct {
	Hash         string
	From         string
	To           string
	Protocol     string // e.g. "uniswap_v2"; empty when unknown
	Selector     string // 4-byte method selector, hex
	ValueETH     float64
	GasPriceGwei float64
	PoolID       string // pool the victim swap trades against, if decoded
	SeenAt       time.Time
}

// StrategyContext is a read-only snapshot of chain and market state built
// once per tick and shared by every strategy evaluated in that tick.
type StrategyContext struct {
	BlockNumber         uint64
	BlockTimestamp      uint64
	CurrentGasPriceGwei float64
	BaseFeeGwei         float64
	PriorityFeeGwei     float64
	MempoolTransactions []string
	PendingTxs          map[string]PendingTx
	TokenPrices         map[string]float64
	DexLiquidity        map[string]float64
	StartTime           time.Time
	EndTime             time.Time
}

// TokenPrice returns the snapshot price for token, 0 when unknown.
func (c *StrategyContext) TokenPrice(token string) float64 {
	if c == nil || c.TokenPrices == nil {
		return 0
	}
	return c.TokenPrices[token]
}

// Liquidity returns the snapshot liquidity depth for a pool, 0 when unknown.
func (c *StrategyContext) Liquidity(poolID string) float64 {
	if c == nil || c.DexLiquidity == nil {
		return 0
	}
	return c.DexLiquidity[poolID]
}

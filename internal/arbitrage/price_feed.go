package arbitrage

import (
	"context"
	"sync"
)

// SimplePriceFeed is an in-memory PriceFeed whose prices are set by hand.
// UpdatePrices is a no-op.
type SimplePriceFeed struct {
	mu     sync.RWMutex
	prices map[string]float64
}

func NewSimplePriceFeed() *SimplePriceFeed {
	return &SimplePriceFeed{prices: make(map[string]float64)}
}

// GetTokenPrice returns the price of token, 0 when unknown.
func (f *SimplePriceFeed) GetTokenPrice(_ context.Context, token string) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.prices[token], nil
}

// GetTokenPrices returns the known prices among tokens. Unknown tokens are
// omitted.
func (f *SimplePriceFeed) GetTokenPrices(_ context.Context, tokens []string) (map[string]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		if p, ok := f.prices[t]; ok {
			out[t] = p
		}
	}
	return out, nil
}

func (f *SimplePriceFeed) UpdatePrices(context.Context) error { return nil }

func (f *SimplePriceFeed) SetTokenPrice(token string, price float64) {
	f.mu.Lock()
	f.prices[token] = price
	f.mu.Unlock()
}

func (f *SimplePriceFeed) SetTokenPrices(prices map[string]float64) {
	f.mu.Lock()
	for k, v := range prices {
		f.prices[k] = v
	}
	f.mu.Unlock()
}

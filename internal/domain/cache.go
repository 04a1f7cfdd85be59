package domain

import (
	"context"
	"time"
)

// PriceFeed supplies token prices. A price of 0 means unknown.
type PriceFeed interface {
	GetTokenPrice(ctx context.Context, token string) (float64, error)
	GetTokenPrices(ctx context.Context, tokens []string) (map[string]float64, error)
	UpdatePrices(ctx context.Context) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StatsBus fans statistics and execution events out to other processes.
type StatsBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// RateLimiter admits at most limit requests per key within window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Package feed keeps market state flowing into the simulator: pool reserves
// from a reserve source, ETH-denominated pool depth, and token prices
// pushed over a pub/sub channel.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/mevsim/internal/domain"
	"github.com/alanyoungcy/mevsim/internal/metrics"
)

// ReserveSource returns the current state of every watched pool.
type ReserveSource interface {
	Reserves(ctx context.Context) ([]domain.TokenPair, error)
}

// PoolRefresher caches a ReserveSource for at least minInterval and keeps
// serving the last good snapshot for up to maxStale when the source fails.
type PoolRefresher struct {
	source      ReserveSource
	minInterval time.Duration
	maxStale    time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu     sync.Mutex
	last   []domain.TokenPair
	lastAt time.Time

	refreshes metrics.Counter
	failures  metrics.Counter
	pools     metrics.Gauge
}

// NewPoolRefresher creates a PoolRefresher. A zero minInterval reads the
// source on every call; a zero maxStale never serves a stale snapshot.
func NewPoolRefresher(source ReserveSource, minInterval, maxStale time.Duration, logger *slog.Logger, sink metrics.Sink) *PoolRefresher {
	return &PoolRefresher{
		source:      source,
		minInterval: minInterval,
		maxStale:    maxStale,
		logger:      logger.With(slog.String("component", "pool_refresher")),
		now:         time.Now,
		refreshes:   sink.Counter("pool_refreshes_total", "Pool reserve reads.", nil),
		failures:    sink.Counter("pool_refresh_errors_total", "Failed pool reserve reads.", nil),
		pools:       sink.Gauge("pools_tracked", "Pools in the latest reserve snapshot.", nil),
	}
}

// Pools returns the current pool set. The returned slice is a copy.
func (r *PoolRefresher) Pools(ctx context.Context) ([]domain.TokenPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.last != nil && now.Sub(r.lastAt) < r.minInterval {
		return clonePools(r.last), nil
	}

	pools, err := r.source.Reserves(ctx)
	r.refreshes.Inc()
	if err != nil {
		r.failures.Inc()
		if r.last != nil && now.Sub(r.lastAt) < r.maxStale {
			r.logger.WarnContext(ctx, "reserve refresh failed, serving last snapshot",
				slog.Duration("age", now.Sub(r.lastAt)),
				slog.String("error", err.Error()),
			)
			return clonePools(r.last), nil
		}
		return nil, fmt.Errorf("feed: refresh pools: %w", err)
	}

	r.last = clonePools(pools)
	r.lastAt = now
	r.pools.Set(float64(len(pools)))
	return pools, nil
}

// Reconnect re-establishes the source's connection when it supports it and
// drops the cached snapshot.
func (r *PoolRefresher) Reconnect(ctx context.Context) error {
	r.mu.Lock()
	r.last, r.lastAt = nil, time.Time{}
	r.mu.Unlock()
	if rc, ok := r.source.(domain.Reconnector); ok {
		return rc.Reconnect(ctx)
	}
	return nil
}

func clonePools(p []domain.TokenPair) []domain.TokenPair {
	return append([]domain.TokenPair(nil), p...)
}

// Tokens returns the distinct tokens of pools in first-seen order.
func Tokens(pools []domain.TokenPair) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range pools {
		for _, t := range []string{p.Token0, p.Token1} {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

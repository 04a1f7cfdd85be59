package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/mevsim/internal/domain"
	"github.com/redis/go-redis/v9"
)

// setTimeout bounds SetTokenPrice, which has no caller context.
const setTimeout = 2 * time.Second

func priceKey(token string) string {
	return keyPrefix + "price:" + token
}

// PriceFeed implements domain.PriceFeed over Redis hashes. Each token is
// stored at "mevsim:price:{token}" with fields "price" and "ts" (unix
// nanoseconds). Prices older than the TTL read as unknown.
type PriceFeed struct {
	rdb    *redis.Client
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewPriceFeed returns a feed whose entries go stale after ttl. A zero ttl
// never expires entries.
func NewPriceFeed(c *Client, ttl time.Duration, logger *slog.Logger) *PriceFeed {
	return &PriceFeed{
		rdb:    c.Underlying(),
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With(slog.String("component", "redis_price_feed")),
	}
}

// SetPrice stores price for token observed at ts.
func (f *PriceFeed) SetPrice(ctx context.Context, token string, price float64, ts time.Time) error {
	if err := f.rdb.HSet(ctx, priceKey(token), encodePrice(price, ts)).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", token, err)
	}
	return nil
}

// SetTokenPrice stores price observed now. Failures are logged.
func (f *PriceFeed) SetTokenPrice(token string, price float64) {
	ctx, cancel := context.WithTimeout(context.Background(), setTimeout)
	defer cancel()
	if err := f.SetPrice(ctx, token, price, f.now()); err != nil {
		f.logger.Warn("price write failed", slog.String("token", token), slog.String("error", err.Error()))
	}
}

// GetTokenPrice returns the price of token, 0 when unknown or stale.
func (f *PriceFeed) GetTokenPrice(ctx context.Context, token string) (float64, error) {
	vals, err := f.rdb.HGetAll(ctx, priceKey(token)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: get price %s: %w", token, err)
	}
	price, _ := decodePrice(vals, f.now(), f.ttl)
	return price, nil
}

// GetTokenPrices reads every token in one pipeline. Unknown and stale
// tokens are omitted.
func (f *PriceFeed) GetTokenPrices(ctx context.Context, tokens []string) (map[string]float64, error) {
	out := make(map[string]float64, len(tokens))
	if len(tokens) == 0 {
		return out, nil
	}

	pipe := f.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(tokens))
	for _, t := range tokens {
		cmds[t] = pipe.HGetAll(ctx, priceKey(t))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices: %w", err)
	}

	now := f.now()
	for t, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if price, ok := decodePrice(vals, now, f.ttl); ok {
			out[t] = price
		}
	}
	return out, nil
}

// UpdatePrices is a no-op: prices are pushed by writers.
func (f *PriceFeed) UpdatePrices(context.Context) error { return nil }

func (f *PriceFeed) Reconnect(ctx context.Context) error {
	if err := f.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: price feed reconnect: %w", err)
	}
	return nil
}

func encodePrice(price float64, ts time.Time) map[string]any {
	return map[string]any{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
}

// decodePrice parses a price hash. It reports false for missing, malformed,
// non-positive or stale entries.
func decodePrice(vals map[string]string, now time.Time, ttl time.Duration) (float64, bool) {
	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil || price <= 0 {
		return 0, false
	}
	nanos, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, false
	}
	if ttl > 0 && now.Sub(time.Unix(0, nanos)) > ttl {
		return 0, false
	}
	return price, true
}

var _ domain.PriceFeed = (*PriceFeed)(nil)

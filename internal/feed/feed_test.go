package feed_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/mevsim/internal/domain"
	"github.com/alanyoungcy/mevsim/internal/feed"
	"github.com/alanyoungcy/mevsim/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type fakeSource struct {
	calls int
	err   error
	pools []domain.TokenPair
}

func (f *fakeSource) Reserves(context.Context) ([]domain.TokenPair, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.pools, nil
}

func TestPoolRefresherCachesAndServesStale(t *testing.T) {
	src := &fakeSource{pools: []domain.TokenPair{{PairAddress: "0xa", Token0: "WETH", Token1: "USDC", Reserve0: 10, Reserve1: 30_000}}}
	r := feed.NewPoolRefresher(src, time.Hour, time.Hour, discardLogger(), metrics.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		pools, err := r.Pools(ctx)
		if err != nil || len(pools) != 1 {
			t.Fatalf("Pools = %v, %v", pools, err)
		}
	}
	if src.calls != 1 {
		t.Errorf("source calls = %d, want 1 inside the refresh interval", src.calls)
	}

	if err := r.Reconnect(ctx); err != nil {
		t.Fatal(err)
	}
	src.err = errors.New("rpc down")
	if _, err := r.Pools(ctx); err == nil {
		t.Error("failure with no snapshot returned no error")
	}
}

func TestPoolRefresherFallsBackToLastSnapshot(t *testing.T) {
	src := &fakeSource{pools: []domain.TokenPair{{PairAddress: "0xa"}}}
	r := feed.NewPoolRefresher(src, 0, time.Hour, discardLogger(), metrics.Nop())
	ctx := context.Background()
	if _, err := r.Pools(ctx); err != nil {
		t.Fatal(err)
	}
	src.err = errors.New("rpc down")
	pools, err := r.Pools(ctx)
	if err != nil || len(pools) != 1 {
		t.Errorf("Pools = %v, %v; want last snapshot", pools, err)
	}
}

func TestLiquidity(t *testing.T) {
	pools := []domain.TokenPair{
		{PairAddress: "eth-usdc", Token0: "USDC", Token1: "WETH", Reserve0: 3_000_000, Reserve1: 1_000},
		{PairAddress: "dai-usdc", Token0: "DAI", Token1: "USDC", Reserve0: 600_000, Reserve1: 600_000},
		{PairAddress: "mystery", Token0: "FOO", Token1: "BAR", Reserve0: 5, Reserve1: 5},
	}
	got := feed.Liquidity(pools, map[string]float64{"WETH": 3000, "DAI": 1})
	if got["eth-usdc"] != 1_000 {
		t.Errorf("eth-usdc = %v", got["eth-usdc"])
	}
	if got["dai-usdc"] != 200 {
		t.Errorf("dai-usdc = %v, want 200", got["dai-usdc"])
	}
	if _, ok := got["mystery"]; ok {
		t.Error("unpriced pool reported")
	}
	if tokens := feed.Tokens(pools); len(tokens) != 5 || tokens[0] != "USDC" {
		t.Errorf("tokens = %v", tokens)
	}
}

type chanSubscriber struct{ ch chan []byte }

func (s chanSubscriber) Subscribe(context.Context, string) (<-chan []byte, error) { return s.ch, nil }

type priceMap struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (p *priceMap) SetTokenPrice(token string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[token] = price
}

func TestPriceListenerAppliesUpdates(t *testing.T) {
	ch := make(chan []byte, 4)
	ch <- []byte(`{"token":"WETH","price":3100}`)
	ch <- []byte(`not json`)
	ch <- []byte(`{"prices":{"DAI":1.001,"USDC":0,"":5}}`)
	close(ch)

	dst := &priceMap{prices: map[string]float64{}}
	l := feed.NewPriceListener(chanSubscriber{ch: ch}, dst, discardLogger())
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if dst.prices["WETH"] != 3100 || dst.prices["DAI"] != 1.001 || len(dst.prices) != 2 {
		t.Errorf("prices = %v", dst.prices)
	}
}

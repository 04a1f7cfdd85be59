package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/mevsim/internal/domain"
)

func TestDecodePrice(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	fresh := encodePrice(3000.5, now.Add(-time.Minute))
	vals := func(m map[string]any) map[string]string {
		out := make(map[string]string, len(m))
		for k, v := range m {
			out[k] = v.(string)
		}
		return out
	}

	tests := []struct {
		name   string
		vals   map[string]string
		ttl    time.Duration
		want   float64
		wantOK bool
	}{
		{"fresh", vals(fresh), 5 * time.Minute, 3000.5, true},
		{"no ttl", vals(encodePrice(1, now.Add(-24*time.Hour))), 0, 1, true},
		{"stale", vals(encodePrice(1, now.Add(-10*time.Minute))), 5 * time.Minute, 0, false},
		{"missing", map[string]string{}, time.Minute, 0, false},
		{"zero price", vals(encodePrice(0, now)), time.Minute, 0, false},
		{"bad ts", map[string]string{"price": "2", "ts": "x"}, time.Minute, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := decodePrice(tt.vals, now, tt.ttl)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("decodePrice = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestKeysAreNamespaced(t *testing.T) {
	if got := priceKey("WETH"); got != "mevsim:price:WETH" {
		t.Errorf("priceKey = %q", got)
	}
	if got := lockKey("run"); got != "mevsim:lock:run" {
		t.Errorf("lockKey = %q", got)
	}
	if got := rateLimitKey("api:1.2.3.4"); got != "mevsim:ratelimit:api:1.2.3.4" {
		t.Errorf("rateLimitKey = %q", got)
	}
}

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streams   map[string][][]byte
	err       error
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string][][]byte{}, streams: map[string][][]byte{}}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func TestStatsPublisher(t *testing.T) {
	bus := newFakeBus()
	p := NewStatsPublisher(bus)
	ctx := context.Background()

	snap := domain.StatsSnapshot{
		RunID:      "run-1",
		Simulation: domain.SimulationStats{BlocksProcessed: 7, TotalProfitETH: 1.25},
		Strategies: map[string]domain.StrategyStats{"arbitrage": {OpportunitiesDetected: 3}},
		TakenAt:    time.Unix(1_700_000_000, 0).UTC(),
	}
	if err := p.PublishStats(ctx, snap); err != nil {
		t.Fatal(err)
	}
	if len(bus.published[StatsChannel]) != 1 || len(bus.streams[StatsStream]) != 1 {
		t.Fatalf("published=%d streamed=%d", len(bus.published[StatsChannel]), len(bus.streams[StatsStream]))
	}
	var msg statsMessage
	if err := json.Unmarshal(bus.published[StatsChannel][0], &msg); err != nil {
		t.Fatal(err)
	}
	if msg.RunID != "run-1" || msg.Simulation.BlocksProcessed != 7 || msg.Strategies["arbitrage"].OpportunitiesDetected != 3 {
		t.Errorf("message = %+v", msg)
	}

	rec := domain.ExecutionRecord{
		RunID: "run-1",
		Opportunity: domain.Opportunity{
			ID:                 "opp-1",
			StrategyName:       "arbitrage",
			NetProfitETH:       0.2,
			TargetTransactions: []string{"0xabc"},
		},
		BundleID:    "b-1",
		BlockNumber: 19,
		Result:      domain.ResultSuccess,
		Included:    true,
	}
	if err := p.RecordExecution(ctx, rec); err != nil {
		t.Fatal(err)
	}
	var ex executionMessage
	if err := json.Unmarshal(bus.streams[ExecutionsStream][0], &ex); err != nil {
		t.Fatal(err)
	}
	if ex.OpportunityID != "opp-1" || ex.Result != "success" || !ex.Included || ex.Targets[0] != "0xabc" {
		t.Errorf("execution = %+v", ex)
	}
}

func TestStatsPublisherPropagatesErrors(t *testing.T) {
	bus := newFakeBus()
	bus.err = errors.New("connection reset")
	p := NewStatsPublisher(bus)
	if err := p.PublishStats(context.Background(), domain.StatsSnapshot{}); err == nil {
		t.Fatal("expected error")
	}
	if len(bus.streams[StatsStream]) != 0 {
		t.Error("stream appended after publish failure")
	}
}

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/mevsim/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Channel and stream names used by the simulator.
const (
	StatsChannel     = keyPrefix + "stats"
	StatsStream      = keyPrefix + "stats:stream"
	ExecutionsStream = keyPrefix + "executions"
)

const defaultStreamMaxLen int64 = 10000

// Bus implements domain.StatsBus with Pub/Sub for live fan-out and Streams
// for a durable, trimmed history. It also satisfies feed.Subscriber.
type Bus struct {
	rdb    *redis.Client
	maxLen int64
}

// NewBus returns a Bus that trims streams to roughly maxLen entries.
func NewBus(c *Client, maxLen int) *Bus {
	n := int64(maxLen)
	if n <= 0 {
		n = defaultStreamMaxLen
	}
	return &Bus{rdb: c.Underlying(), maxLen: n}
}

func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of raw payloads published to channel. Glob
// patterns use PSUBSCRIBE. The returned channel closes when ctx ends.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var ps *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		ps = b.rdb.PSubscribe(ctx, channel)
	} else {
		ps = b.rdb.Subscribe(ctx, channel)
	}
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer ps.Close()
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// StreamAppend adds payload to stream with approximate MAXLEN trimming.
func (b *Bus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StatsPublisher turns simulator snapshots and execution records into bus
// messages. Snapshots are published live and appended to StatsStream;
// executions are appended to ExecutionsStream.
type StatsPublisher struct {
	bus domain.StatsBus
}

func NewStatsPublisher(bus domain.StatsBus) *StatsPublisher {
	return &StatsPublisher{bus: bus}
}

type statsMessage struct {
	RunID      string                          `json:"run_id"`
	TakenAt    time.Time                       `json:"taken_at"`
	Simulation domain.SimulationStats          `json:"simulation"`
	Strategies map[string]domain.StrategyStats `json:"strategies"`
}

type executionMessage struct {
	RunID         string    `json:"run_id"`
	OpportunityID string    `json:"opportunity_id"`
	Strategy      string    `json:"strategy"`
	BlockNumber   uint64    `json:"block_number"`
	BundleID      string    `json:"bundle_id,omitempty"`
	Result        string    `json:"result"`
	Included      bool      `json:"included"`
	Reason        string    `json:"reason,omitempty"`
	NetProfitETH  float64   `json:"net_profit_eth"`
	GasLimit      uint64    `json:"gas_limit"`
	Targets       []string  `json:"targets,omitempty"`
	ExecutedAt    time.Time `json:"executed_at"`
}

func (p *StatsPublisher) PublishStats(ctx context.Context, snap domain.StatsSnapshot) error {
	payload, err := json.Marshal(statsMessage{
		RunID:      snap.RunID,
		TakenAt:    snap.TakenAt,
		Simulation: snap.Simulation,
		Strategies: snap.Strategies,
	})
	if err != nil {
		return fmt.Errorf("redis: encode stats: %w", err)
	}
	if err := p.bus.Publish(ctx, StatsChannel, payload); err != nil {
		return err
	}
	return p.bus.StreamAppend(ctx, StatsStream, payload)
}

func (p *StatsPublisher) RecordExecution(ctx context.Context, rec domain.ExecutionRecord) error {
	payload, err := json.Marshal(executionMessage{
		RunID:         rec.RunID,
		OpportunityID: rec.Opportunity.ID,
		Strategy:      rec.Opportunity.StrategyName,
		BlockNumber:   rec.BlockNumber,
		BundleID:      rec.BundleID,
		Result:        rec.Result.String(),
		Included:      rec.Included,
		Reason:        rec.Reason,
		NetProfitETH:  rec.Opportunity.NetProfitETH,
		GasLimit:      rec.Opportunity.GasLimit,
		Targets:       rec.Opportunity.TargetTransactions,
		ExecutedAt:    rec.ExecutedAt,
	})
	if err != nil {
		return fmt.Errorf("redis: encode execution: %w", err)
	}
	return p.bus.StreamAppend(ctx, ExecutionsStream, payload)
}

var _ domain.StatsBus = (*Bus)(nil)

package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

// PricesChannel is the pub/sub channel price updates arrive on.
const PricesChannel = "mevsim:prices"

// Subscriber delivers raw messages published to a channel.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// PriceSetter accepts token price updates.
type PriceSetter interface {
	SetTokenPrice(token string, price float64)
}

// priceEvent is the JSON shape published to PricesChannel. A message may
// carry one token or a batch.
type priceEvent struct {
	Token  string             `json:"token"`
	Price  float64            `json:"price"`
	Prices map[string]float64 `json:"prices"`
}

// PriceListener applies price updates published by an external oracle to
// a PriceSetter.
type PriceListener struct {
	sub    Subscriber
	dst    PriceSetter
	logger *slog.Logger
}

func NewPriceListener(sub Subscriber, dst PriceSetter, logger *slog.Logger) *PriceListener {
	return &PriceListener{
		sub:    sub,
		dst:    dst,
		logger: logger.With(slog.String("component", "price_listener")),
	}
}

// Run subscribes and applies updates until ctx is cancelled or the
// subscription closes.
func (l *PriceListener) Run(ctx context.Context) error {
	ch, err := l.sub.Subscribe(ctx, PricesChannel)
	if err != nil {
		return err
	}
	l.logger.Info("price listener started")
	defer l.logger.Info("price listener stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			if n, err := l.apply(data); err != nil {
				l.logger.Debug("price update rejected",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
			} else {
				l.logger.Debug("prices applied", slog.Int("tokens", n))
			}
		}
	}
}

func (l *PriceListener) apply(data []byte) (int, error) {
	var ev priceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return 0, err
	}
	n := 0
	if token := strings.TrimSpace(ev.Token); token != "" && ev.Price > 0 {
		l.dst.SetTokenPrice(token, ev.Price)
		n++
	}
	for token, price := range ev.Prices {
		if token = strings.TrimSpace(token); token != "" && price > 0 {
			l.dst.SetTokenPrice(token, price)
			n++
		}
	}
	return n, nil
}

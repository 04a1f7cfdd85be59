package strategy

import (
	"context"
	"log/slog"
	"sort"
	"strconv"

	"github.com/alanyoungcy/mevsim/internal/config"
	"github.com/alanyoungcy/mevsim/internal/domain"
	"github.com/alanyoungcy/mevsim/internal/metrics"
)

const (
	// sandwichFee is the per-swap pool fee paid on both legs.
	sandwichFee = 0.003
	// sandwichMaxShare caps the frontrun at this fraction of pool depth.
	sandwichMaxShare = 0.1
)

// Sandwich brackets large pending swaps with a frontrun and a backrun on
// the same pool.
type Sandwich struct {
	*Base
}

// NewSandwich returns a Sandwich strategy named name.
func NewSandwich(name string, cfg config.StrategyConfig, logger *slog.Logger, sink metrics.Sink) *Sandwich {
	return &Sandwich{Base: NewBase(name, cfg, logger, sink)}
}

type sandwichCandidate struct {
	victim    domain.PendingTx
	size      float64
	impact    float64
	gross     float64
	gas       float64
	frontGwei float64
	backGwei  float64
	liquidity float64
}

// Detect picks the pending swap whose sandwich yields the highest net
// profit. Victims need a decoded pool with known liquidity.
func (s *Sandwich) Detect(ctx context.Context, sc *domain.StrategyContext) (*domain.Opportunity, error) {
	cfg := s.Config()
	protocols := make(map[string]struct{}, len(cfg.TargetProtocols))
	for _, p := range cfg.TargetProtocols {
		protocols[p] = struct{}{}
	}

	hashes := make([]string, 0, len(sc.PendingTxs))
	for h := range sc.PendingTxs {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	var best *sandwichCandidate
	for _, h := range hashes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tx := sc.PendingTxs[h]
		if tx.ValueETH < cfg.MinTransactionValueETH || tx.PoolID == "" {
			continue
		}
		if _, ok := protocols[tx.Protocol]; !ok {
			continue
		}
		c, ok := s.evaluate(cfg, sc, tx)
		if !ok {
			continue
		}
		if best == nil || c.gross-c.gas > best.gross-best.gas {
			best = &c
		}
	}
	if best == nil {
		return nil, nil
	}

	opp, err := domain.NewOpportunity(domain.OpportunityParams{
		StrategyName:        s.Name(),
		ExpectedProfitETH:   best.gross,
		EstimatedGasCostETH: best.gas,
		SlippagePercent:     best.size / (best.liquidity + best.size) * 100,
		GasLimit:            2 * cfg.GasLimit,
		GasPriceGwei:        best.frontGwei,
		TargetTransactions:  []string{best.victim.Hash},
		Metadata: map[string]string{
			domain.MetaVictimTx:    best.victim.Hash,
			domain.MetaPoolID:      best.victim.PoolID,
			domain.MetaInputAmount: strconv.FormatFloat(best.size, 'f', -1, 64),
			"victim_value_eth":     strconv.FormatFloat(best.victim.ValueETH, 'f', -1, 64),
			"price_impact":         strconv.FormatFloat(best.impact, 'f', -1, 64),
			"backrun_gas_gwei":     strconv.FormatFloat(best.backGwei, 'f', -1, 64),
		},
		RequiredKeys: []string{domain.MetaVictimTx, domain.MetaPoolID, domain.MetaInputAmount},
	})
	if err != nil {
		return nil, err
	}
	return &opp, nil
}

func (s *Sandwich) evaluate(cfg config.StrategyConfig, sc *domain.StrategyContext, tx domain.PendingTx) (sandwichCandidate, bool) {
	liquidity := sc.Liquidity(tx.PoolID)
	if liquidity <= 0 {
		return sandwichCandidate{}, false
	}
	victimGwei := tx.GasPriceGwei
	if victimGwei <= 0 {
		victimGwei = sc.CurrentGasPriceGwei
	}

	impact := tx.ValueETH / (liquidity + tx.ValueETH)
	size := tx.ValueETH
	if limit := sandwichMaxShare * liquidity; size > limit {
		size = limit
	}
	front := victimGwei*cfg.FrontrunGasMultiplier + cfg.PriorityFeeGwei
	back := victimGwei * cfg.BackrunGasMultiplier

	return sandwichCandidate{
		victim:    tx,
		size:      size,
		impact:    impact,
		gross:     size*impact - 2*size*sandwichFee,
		gas:       s.EstimateGasCost(cfg.GasLimit, front) + s.EstimateGasCost(cfg.GasLimit, back),
		frontGwei: front,
		backGwei:  back,
		liquidity: liquidity,
	}, true
}

// Execute appends frontrun, victim and backrun transactions to bundle.
func (s *Sandwich) Execute(ctx context.Context, opp domain.Opportunity, bundle *domain.Bundle) domain.StrategyResult {
	if err := ctx.Err(); err != nil {
		return domain.ResultTimeout
	}
	victim, pool := opp.Metadata[domain.MetaVictimTx], opp.Metadata[domain.MetaPoolID]
	size, err := strconv.ParseFloat(opp.Metadata[domain.MetaInputAmount], 64)
	if err != nil || victim == "" || pool == "" || size <= 0 {
		return domain.ResultError
	}
	backGwei, err := strconv.ParseFloat(opp.Metadata["backrun_gas_gwei"], 64)
	if err != nil {
		backGwei = opp.GasPriceGwei
	}
	gasLimit := s.Config().GasLimit

	bundle.Add(
		domain.Transaction{
			Kind:         domain.TxFrontrun,
			PoolID:       pool,
			TokenIn:      "WETH",
			AmountIn:     size,
			ValueETH:     size,
			GasLimit:     gasLimit,
			GasPriceGwei: opp.GasPriceGwei,
		},
		domain.Transaction{
			Kind:   domain.TxVictim,
			Hash:   victim,
			PoolID: pool,
		},
		domain.Transaction{
			Kind:         domain.TxBackrun,
			PoolID:       pool,
			TokenOut:     "WETH",
			MinAmountOut: size,
			GasLimit:     gasLimit,
			GasPriceGwei: backGwei,
		},
	)
	return domain.ResultSuccess
}

package arbitrage

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/alanyoungcy/mevsim/internal/domain"
)

// Execute appends one swap per hop, in cycle order, re-quoting each hop
// against the current pool snapshot. A hop whose live output falls short of
// the detected output by more than the recorded slippage bound aborts the
// remaining hops, removes the ones already appended and reports
// HighSlippage.
func (s *Strategy) Execute(ctx context.Context, opp domain.Opportunity, bundle *domain.Bundle) domain.StrategyResult {
	plan, err := parsePlan(opp)
	if err != nil {
		s.Logger().WarnContext(ctx, "malformed arbitrage opportunity",
			slog.String("opportunity_id", opp.ID),
			slog.String("error", err.Error()),
		)
		return domain.ResultError
	}

	pools := s.poolSnapshot()
	start := bundle.Len()
	amount := plan.input
	for i, addr := range plan.pools {
		if ctx.Err() != nil {
			bundle.Truncate(start)
			return domain.ResultTimeout
		}
		pool, ok := pools.byAddr[addr]
		if !ok {
			bundle.Truncate(start)
			s.Logger().WarnContext(ctx, "pool vanished before execution", slog.String("pool", addr))
			return domain.ResultFailed
		}
		tokenIn, tokenOut := plan.tokens[i], plan.tokens[i+1]
		out := pool.OutputFor(tokenIn, amount)
		expected := plan.hopOutputs[i]
		if out <= 0 || shortfall(expected, out) > plan.slippageBound {
			bundle.Truncate(start)
			s.Logger().InfoContext(ctx, "arbitrage aborted on slippage",
				slog.String("opportunity_id", opp.ID),
				slog.Int("hop", i),
				slog.Float64("expected", expected),
				slog.Float64("live", out),
			)
			return domain.ResultHighSlippage
		}
		bundle.Add(buildSwapTransaction(pool, tokenIn, tokenOut, amount, expected, plan.slippageBound, opp.GasPriceGwei))
		amount = out
	}
	return domain.ResultSuccess
}

// shortfall is how far live falls below expected, in percent.
func shortfall(expected, live float64) float64 {
	if expected <= 0 || live >= expected {
		return 0
	}
	return (expected - live) / expected * 100
}

func buildSwapTransaction(pool domain.TokenPair, tokenIn, tokenOut string, amountIn, expectedOut, slippageBound, gasPriceGwei float64) domain.Transaction {
	return domain.Transaction{
		Kind:         domain.TxSwap,
		To:           pool.PairAddress,
		PoolID:       pool.PairAddress,
		DexType:      pool.DexType,
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		AmountIn:     amountIn,
		MinAmountOut: expectedOut * (1 - slippageBound/100),
		GasLimit:     estimateSwapGas(pool),
		GasPriceGwei: gasPriceGwei,
	}
}

// plan is the execution recipe recorded in an opportunity's metadata.
type plan struct {
	tokens        []string
	pools         []string
	hopOutputs    []float64
	input         float64
	slippageBound float64
}

func parsePlan(opp domain.Opportunity) (plan, error) {
	var p plan
	p.tokens = strings.Split(opp.Metadata[domain.MetaTokens], ",")
	p.pools = strings.Split(opp.Metadata[domain.MetaPools], ",")
	if len(p.pools) == 0 || p.pools[0] == "" || len(p.tokens) != len(p.pools)+1 {
		return plan{}, errMalformed("tokens/pools")
	}
	var err error
	if p.input, err = strconv.ParseFloat(opp.Metadata[domain.MetaInputAmount], 64); err != nil || p.input <= 0 {
		return plan{}, errMalformed(domain.MetaInputAmount)
	}
	if p.slippageBound, err = strconv.ParseFloat(opp.Metadata[metaSlippageBound], 64); err != nil {
		return plan{}, errMalformed(metaSlippageBound)
	}
	hops := strings.Split(opp.Metadata[metaHopOutputs], ",")
	if len(hops) != len(p.pools) {
		return plan{}, errMalformed(metaHopOutputs)
	}
	p.hopOutputs = make([]float64, len(hops))
	for i, h := range hops {
		if p.hopOutputs[i], err = strconv.ParseFloat(h, 64); err != nil {
			return plan{}, errMalformed(metaHopOutputs)
		}
	}
	return p, nil
}

type errMalformed string

func (e errMalformed) Error() string { return "malformed metadata: " + string(e) }

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mevsim/internal/domain"
)

const defaultListLimit = 100

// OpportunityStore implements domain.OpportunityStore and the simulator's
// execution sink.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

// Insert stores rec. Re-inserting an opportunity id is a no-op.
func (s *OpportunityStore) Insert(ctx context.Context, rec domain.ExecutionRecord) error {
	opp := rec.Opportunity
	meta, err := json.Marshal(nonNil(opp.Metadata))
	if err != nil {
		return fmt.Errorf("postgres: encode metadata for %s: %w", opp.ID, err)
	}
	targets := opp.TargetTransactions
	if targets == nil {
		targets = []string{}
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO executed_opportunities (
			opportunity_id, run_id, strategy, block_number, bundle_id, result, included, reason,
			expected_profit_eth, gas_cost_eth, net_profit_eth, gas_limit, gas_price_gwei,
			targets, metadata, detected_at, executed_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, NULLIF($8, ''),
			$9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (opportunity_id) DO NOTHING`,
		opp.ID, rec.RunID, opp.StrategyName, int64(rec.BlockNumber), rec.BundleID,
		rec.Result.String(), rec.Included, rec.Reason,
		ethAmount(opp.ExpectedProfitETH), ethAmount(opp.EstimatedGasCostETH), ethAmount(opp.NetProfitETH),
		int64(opp.GasLimit), opp.GasPriceGwei,
		targets, meta, opp.Timestamp, rec.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

func (s *OpportunityStore) RecordExecution(ctx context.Context, rec domain.ExecutionRecord) error {
	return s.Insert(ctx, rec)
}

// ListRecent returns up to limit records of runID, newest first.
func (s *OpportunityStore) ListRecent(ctx context.Context, runID string, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT opportunity_id, run_id, strategy, block_number, COALESCE(bundle_id, ''), result,
			included, COALESCE(reason, ''), expected_profit_eth, gas_cost_eth, net_profit_eth,
			gas_limit, gas_price_gwei, targets, metadata, detected_at, executed_at
		FROM executed_opportunities
		WHERE run_id = $1
		ORDER BY executed_at DESC
		LIMIT $2`,
		runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities for %s: %w", runID, err)
	}

	recs, err := pgx.CollectRows(rows, scanExecution)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan opportunities for %s: %w", runID, err)
	}
	return recs, nil
}

func scanExecution(row pgx.CollectableRow) (domain.ExecutionRecord, error) {
	var (
		rec                    domain.ExecutionRecord
		block, gasLimit        int64
		result                 string
		expected, cost, net    decimal.Decimal
		meta                   []byte
		detectedAt, executedAt time.Time
	)
	opp := &rec.Opportunity
	err := row.Scan(&opp.ID, &rec.RunID, &opp.StrategyName, &block, &rec.BundleID, &result,
		&rec.Included, &rec.Reason, &expected, &cost, &net,
		&gasLimit, &opp.GasPriceGwei, &opp.TargetTransactions, &meta, &detectedAt, &executedAt)
	if err != nil {
		return rec, err
	}
	rec.BlockNumber = uint64(block)
	rec.Result = domain.ParseStrategyResult(result)
	opp.ExpectedProfitETH = expected.InexactFloat64()
	opp.EstimatedGasCostETH = cost.InexactFloat64()
	opp.NetProfitETH = net.InexactFloat64()
	opp.GasLimit = uint64(gasLimit)
	opp.Timestamp = detectedAt
	rec.ExecutedAt = executedAt
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &opp.Metadata); err != nil {
			return rec, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return rec, nil
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)

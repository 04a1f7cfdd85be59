package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mevsim/internal/domain"
)

// ethScale is the number of decimal places kept for ETH amounts (wei).
const ethScale = 18

// RunStore implements domain.RunStore. It also serves as a simulator
// statistics sink: every published snapshot is stored.
type RunStore struct {
	pool *pgxpool.Pool
}

func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

// CreateRun inserts run, or refreshes its state and start time when the id
// already exists (a restarted run keeps its id).
func (s *RunStore) CreateRun(ctx context.Context, run domain.RunRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO simulation_runs (id, mode, state, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			state      = EXCLUDED.state,
			started_at = EXCLUDED.started_at,
			ended_at   = NULL`,
		run.ID, run.Mode, run.State, run.StartedAt, run.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun records the terminal state of a run.
func (s *RunStore) FinishRun(ctx context.Context, runID, state string, endedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE simulation_runs SET state = $2, ended_at = $3 WHERE id = $1`,
		runID, state, endedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: finish run %s: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: finish run %s: %w", runID, domain.ErrNotFound)
	}
	return nil
}

// SaveSnapshot appends one statistics snapshot.
func (s *RunStore) SaveSnapshot(ctx context.Context, snap domain.StatsSnapshot) error {
	row, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO stats_snapshots (run_id, taken_at, blocks, profit_eth, simulation, strategies)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		snap.RunID, snap.TakenAt, row.blocks, row.profit, row.simulation, row.strategies,
	)
	if err != nil {
		return fmt.Errorf("postgres: save snapshot for %s: %w", snap.RunID, err)
	}
	return nil
}

// PublishStats stores snap.
func (s *RunStore) PublishStats(ctx context.Context, snap domain.StatsSnapshot) error {
	return s.SaveSnapshot(ctx, snap)
}

// LatestSnapshot returns the newest snapshot of runID, or domain.ErrNotFound.
func (s *RunStore) LatestSnapshot(ctx context.Context, runID string) (domain.StatsSnapshot, error) {
	var (
		snap       = domain.StatsSnapshot{RunID: runID}
		simulation []byte
		strategies []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT taken_at, simulation, strategies
		FROM stats_snapshots
		WHERE run_id = $1
		ORDER BY taken_at DESC
		LIMIT 1`,
		runID,
	).Scan(&snap.TakenAt, &simulation, &strategies)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StatsSnapshot{}, fmt.Errorf("postgres: snapshot for %s: %w", runID, domain.ErrNotFound)
		}
		return domain.StatsSnapshot{}, fmt.Errorf("postgres: latest snapshot for %s: %w", runID, err)
	}
	if err := decodeSnapshot(simulation, strategies, &snap); err != nil {
		return domain.StatsSnapshot{}, err
	}
	return snap, nil
}

type snapshotRow struct {
	blocks     int64
	profit     decimal.Decimal
	simulation []byte
	strategies []byte
}

func encodeSnapshot(snap domain.StatsSnapshot) (snapshotRow, error) {
	sim, err := json.Marshal(snap.Simulation)
	if err != nil {
		return snapshotRow{}, fmt.Errorf("postgres: encode simulation stats: %w", err)
	}
	strategies := snap.Strategies
	if strategies == nil {
		strategies = map[string]domain.StrategyStats{}
	}
	strat, err := json.Marshal(strategies)
	if err != nil {
		return snapshotRow{}, fmt.Errorf("postgres: encode strategy stats: %w", err)
	}
	return snapshotRow{
		blocks:     int64(snap.Simulation.BlocksProcessed),
		profit:     ethAmount(snap.Simulation.TotalProfitETH),
		simulation: sim,
		strategies: strat,
	}, nil
}

func decodeSnapshot(simulation, strategies []byte, snap *domain.StatsSnapshot) error {
	if err := json.Unmarshal(simulation, &snap.Simulation); err != nil {
		return fmt.Errorf("postgres: decode simulation stats: %w", err)
	}
	snap.Strategies = map[string]domain.StrategyStats{}
	if err := json.Unmarshal(strategies, &snap.Strategies); err != nil {
		return fmt.Errorf("postgres: decode strategy stats: %w", err)
	}
	return nil
}

// ethAmount converts a float ETH amount to an exact NUMERIC at wei scale.
func ethAmount(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(ethScale)
}

var _ domain.RunStore = (*RunStore)(nil)

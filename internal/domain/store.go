package domain

import (
	"context"
	"time"
)

// RunRecord is one simulation run.
type RunRecord struct {
	ID        string
	Mode      string
	State     string
	StartedAt time.Time
	EndedAt   *time.Time
}

// StatsSnapshot is a point-in-time copy of all statistics for a run.
type StatsSnapshot struct {
	RunID      string
	Simulation SimulationStats
	Strategies map[string]StrategyStats
	TakenAt    time.Time
}

// RunStore persists simulation runs and their statistics snapshots.
type RunStore interface {
	CreateRun(ctx context.Context, run RunRecord) error
	FinishRun(ctx context.Context, runID string, state string, endedAt time.Time) error
	SaveSnapshot(ctx context.Context, snap StatsSnapshot) error
	LatestSnapshot(ctx context.Context, runID string) (StatsSnapshot, error)
}

// ExecutionRecord is one executed opportunity and what happened to it.
type ExecutionRecord struct {
	RunID       string
	Opportunity Opportunity
	BundleID    string
	BlockNumber uint64
	Result      StrategyResult
	Included    bool
	Reason      string
	ExecutedAt  time.Time
}

// OpportunityStore persists execution records.
type OpportunityStore interface {
	Insert(ctx context.Context, rec ExecutionRecord) error
	ListRecent(ctx context.Context, runID string, limit int) ([]ExecutionRecord, error)
}

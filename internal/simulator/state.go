package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/alanyoungcy/mevsim/internal/domain"
)

const stateVersion = 1

// savedState is the on-disk state document. It carries statistics only;
// in-flight opportunities are never persisted.
type savedState struct {
	Version    int                             `json:"version"`
	RunID      string                          `json:"run_id"`
	SavedAt    time.Time                       `json:"saved_at"`
	Simulation domain.SimulationStats          `json:"simulation"`
	Strategies map[string]domain.StrategyStats `json:"strategies"`
}

// SaveState writes the current statistics to path. An s3://bucket/key path
// is uploaded through the configured blob writer.
func (s *Simulator) SaveState(ctx context.Context, path string) error {
	snap := s.Snapshot()
	doc := savedState{
		Version:    stateVersion,
		RunID:      s.runID,
		SavedAt:    snap.TakenAt,
		Simulation: snap.Simulation,
		Strategies: snap.Strategies,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("simulator: encode state: %w", err)
	}

	if key, ok := blobKey(path); ok {
		s.mu.Lock()
		blobs := s.collab.Blobs
		s.mu.Unlock()
		if blobs == nil {
			return fmt.Errorf("simulator: save state to %s: %w: object storage is not enabled", path, domain.ErrConfiguration)
		}
		if err := blobs.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
			return fmt.Errorf("simulator: save state: %w", err)
		}
	} else if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("simulator: save state: %w", err)
	}

	s.logger.InfoContext(ctx, "state saved", slog.String("path", path))
	return nil
}

// LoadState restores statistics saved by SaveState. Strategy statistics are
// applied to strategies of the same name built by Initialize; others are
// ignored.
func (s *Simulator) LoadState(ctx context.Context, path string) error {
	data, err := s.readState(ctx, path)
	if err != nil {
		return err
	}
	var doc savedState
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("simulator: decode state %s: %w", path, err)
	}
	if doc.Version != stateVersion {
		return fmt.Errorf("simulator: state %s has version %d, want %d", path, doc.Version, stateVersion)
	}

	engine := s.Engine()
	if engine == nil {
		return fmt.Errorf("simulator: load state before initialize: %w", domain.ErrInvalidState)
	}

	s.statsMu.Lock()
	s.stats = doc.Simulation
	s.statsMu.Unlock()

	restored := 0
	for name, st := range doc.Strategies {
		strat, err := engine.Registry().Get(name)
		if err != nil {
			s.logger.WarnContext(ctx, "saved strategy not present", slog.String("strategy", name))
			continue
		}
		strat.RestoreStats(st)
		restored++
	}
	s.logger.InfoContext(ctx, "state loaded",
		slog.String("path", path),
		slog.String("saved_run_id", doc.RunID),
		slog.Time("saved_at", doc.SavedAt),
		slog.Int("strategies", restored),
	)
	return nil
}

func (s *Simulator) readState(ctx context.Context, path string) ([]byte, error) {
	key, ok := blobKey(path)
	if !ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("simulator: read state: %w", err)
		}
		return data, nil
	}

	s.mu.Lock()
	reader := s.collab.BlobReader
	s.mu.Unlock()
	if reader == nil {
		return nil, fmt.Errorf("simulator: load state from %s: %w: object storage is not enabled", path, domain.ErrConfiguration)
	}
	rc, err := reader.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("simulator: load state: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("simulator: load state: %w", err)
	}
	return data, nil
}

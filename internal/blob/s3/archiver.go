package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/mevsim/internal/domain"
)

// defaultArchiveLimit caps how many execution records one archive holds.
const defaultArchiveLimit = 100_000

// ExecutionLister is the read side of the opportunity store the archiver
// needs.
type ExecutionLister interface {
	ListRecent(ctx context.Context, runID string, limit int) ([]domain.ExecutionRecord, error)
}

// RunArchiver copies a finished run's executed opportunities from the
// primary store to object storage as JSONL. Records are not deleted from
// the store.
type RunArchiver struct {
	writer domain.BlobWriter
	store  ExecutionLister
	limit  int
}

func NewRunArchiver(writer domain.BlobWriter, store ExecutionLister) *RunArchiver {
	return &RunArchiver{writer: writer, store: store, limit: defaultArchiveLimit}
}

// archiveRecord is one JSONL line.
type archiveRecord struct {
	RunID         string            `json:"run_id"`
	OpportunityID string            `json:"opportunity_id"`
	Strategy      string            `json:"strategy"`
	BlockNumber   uint64            `json:"block_number"`
	BundleID      string            `json:"bundle_id,omitempty"`
	Result        string            `json:"result"`
	Included      bool              `json:"included"`
	Reason        string            `json:"reason,omitempty"`
	NetProfitETH  float64           `json:"net_profit_eth"`
	GasLimit      uint64            `json:"gas_limit"`
	GasPriceGwei  float64           `json:"gas_price_gwei"`
	Targets       []string          `json:"targets,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	DetectedAt    string            `json:"detected_at"`
	ExecutedAt    string            `json:"executed_at"`
}

// ArchiveRun uploads runID's executions to archive/executions/<run>.jsonl
// and returns how many were written. A run without executions uploads
// nothing.
func (a *RunArchiver) ArchiveRun(ctx context.Context, runID string) (int, error) {
	recs, err := a.store.ListRecent(ctx, runID, a.limit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", runID, err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", runID, err)
	}
	p := ArchivePath(runID)
	if err := a.writer.Put(ctx, p, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", runID, err)
	}
	return len(recs), nil
}

// ArchivePath is the object path for a run's execution archive.
func ArchivePath(runID string) string {
	return fmt.Sprintf("archive/executions/%s.jsonl", runID)
}

func marshalJSONL(recs []domain.ExecutionRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, r := range recs {
		line := archiveRecord{
			RunID:         r.RunID,
			OpportunityID: r.Opportunity.ID,
			Strategy:      r.Opportunity.StrategyName,
			BlockNumber:   r.BlockNumber,
			BundleID:      r.BundleID,
			Result:        r.Result.String(),
			Included:      r.Included,
			Reason:        r.Reason,
			NetProfitETH:  r.Opportunity.NetProfitETH,
			GasLimit:      r.Opportunity.GasLimit,
			GasPriceGwei:  r.Opportunity.GasPriceGwei,
			Targets:       r.Opportunity.TargetTransactions,
			Metadata:      r.Opportunity.Metadata,
			DetectedAt:    r.Opportunity.Timestamp.UTC().Format(time.RFC3339Nano),
			ExecutedAt:    r.ExecutedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

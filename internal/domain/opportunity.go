package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Well-known Opportunity metadata keys.
const (
	MetaPathType    = "path_type"
	MetaTokens      = "tokens"
	MetaPools       = "pools"
	MetaInputAmount = "input_amount"
	MetaRiskScore   = "risk_score"
	MetaVictimTx    = "victim_tx"
	MetaPoolID      = "pool_id"
)

// Opportunity is a detected profit candidate. It is consumed at most once by
// bundle assembly.
type Opportunity struct {
	ID                  string
	StrategyName        string
	ExpectedProfitETH   float64
	EstimatedGasCostETH float64
	NetProfitETH        float64
	SlippagePercent     float64
	GasLimit            uint64
	GasPriceGwei        float64
	Timestamp           time.Time
	TargetTransactions  []string
	Metadata            map[string]string
}

// OpportunityParams carries the inputs to NewOpportunity. RequiredKeys lists
// metadata keys that must be present and non-empty.
type OpportunityParams struct {
	ID                  string
	StrategyName        string
	ExpectedProfitETH   float64
	EstimatedGasCostETH float64
	SlippagePercent     float64
	GasLimit            uint64
	GasPriceGwei        float64
	DetectedAt          time.Time
	TargetTransactions  []string
	Metadata            map[string]string
	RequiredKeys        []string
}

// NewOpportunity builds an Opportunity with NetProfitETH derived from the
// expected profit and gas cost. It fails with ErrMissingMetadata when a
// required metadata key is absent.
func NewOpportunity(p OpportunityParams) (Opportunity, error) {
	for _, k := range p.RequiredKeys {
		if p.Metadata[k] == "" {
			return Opportunity{}, fmt.Errorf("%w: %q", ErrMissingMetadata, k)
		}
	}

	id := p.ID
	if id == "" {
		id = uuid.Must(uuid.NewRandom()).String()
	}
	ts := p.DetectedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	meta := make(map[string]string, len(p.Metadata))
	for k, v := range p.Metadata {
		meta[k] = v
	}
	targets := make([]string, len(p.TargetTransactions))
	copy(targets, p.TargetTransactions)

	return Opportunity{
		ID:                  id,
		StrategyName:        p.StrategyName,
		ExpectedProfitETH:   p.ExpectedProfitETH,
		EstimatedGasCostETH: p.EstimatedGasCostETH,
		NetProfitETH:        p.ExpectedProfitETH - p.EstimatedGasCostETH,
		SlippagePercent:     p.SlippagePercent,
		GasLimit:            p.GasLimit,
		GasPriceGwei:        p.GasPriceGwei,
		Timestamp:           ts,
		TargetTransactions:  targets,
		Metadata:            meta,
	}, nil
}

// IsProfitable reports whether the net profit is strictly positive.
func (o Opportunity) IsProfitable() bool {
	return o.NetProfitETH > 0
}

func (o Opportunity) IsWithinSlippageLimit(maxSlippagePercent float64) bool {
	return o.SlippagePercent <= maxSlippagePercent
}

func (o Opportunity) IsWithinGasLimit(maxGasPriceGwei float64) bool {
	return o.GasPriceGwei <= maxGasPriceGwei
}

// Overlaps reports whether o and other touch a common target transaction.
// An opportunity with no targets overlaps everything.
func (o Opportunity) Overlaps(other Opportunity) bool {
	if len(o.TargetTransactions) == 0 || len(other.TargetTransactions) == 0 {
		return true
	}
	seen := make(map[string]struct{}, len(o.TargetTransactions))
	for _, h := range o.TargetTransactions {
		seen[h] = struct{}{}
	}
	for _, h := range other.TargetTransactions {
		if _, ok := seen[h]; ok {
			return true
		}
	}
	return false
}

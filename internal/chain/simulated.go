package chain

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/alanyoungcy/mevsim/internal/domain"
)

// DefaultBlockGasLimit is the per-block gas ceiling of the simulated chain.
const DefaultBlockGasLimit = 30_000_000

// SimulatedChain is an in-process BlockchainInterface for synthetic runs.
// Bundles are included when they fit the remaining block gas and pass a
// seeded inclusion draw.
type SimulatedChain struct {
	mu            sync.Mutex
	rng           *rand.Rand
	inclusionRate float64
	gasLimit      uint64
	block         uint64
	gasUsed       uint64
	submitted     uint64
	included      uint64
}

// NewSimulatedChain returns a chain including bundles with probability
// inclusionRate (clamped to [0, 1]).
func NewSimulatedChain(seed int64, inclusionRate float64) *SimulatedChain {
	if inclusionRate < 0 {
		inclusionRate = 0
	}
	if inclusionRate > 1 {
		inclusionRate = 1
	}
	return &SimulatedChain{
		rng:           rand.New(rand.NewSource(seed)),
		inclusionRate: inclusionRate,
		gasLimit:      DefaultBlockGasLimit,
	}
}

func (c *SimulatedChain) SubmitBundle(ctx context.Context, bundle *domain.Bundle) (domain.SubmissionResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.SubmissionResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if bundle.BlockNumber != c.block {
		c.block, c.gasUsed = bundle.BlockNumber, 0
	}
	c.submitted++
	res := domain.SubmissionResult{BundleID: bundle.ID}
	gas := bundle.TotalGasLimit()
	switch {
	case bundle.Len() == 0:
		res.Reason = "empty bundle"
	case c.gasUsed+gas > c.gasLimit:
		res.Reason = fmt.Sprintf("block %d gas limit reached", bundle.BlockNumber)
	case c.rng.Float64() >= c.inclusionRate:
		res.Reason = "outbid by competing bundle"
	default:
		c.gasUsed += gas
		c.included++
		res.Included = true
		res.GasUsed = gas
	}
	return res, nil
}

// Counts returns submitted and included bundle totals.
func (c *SimulatedChain) Counts() (submitted, included uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitted, c.included
}

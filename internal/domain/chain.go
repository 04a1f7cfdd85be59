package domain

import "context"

// BlockTick is what a BlockSource yields for one tick.
type BlockTick struct {
	BlockNumber     uint64
	Timestamp       uint64
	BaseFeeGwei     float64
	GasPriceGwei    float64
	PriorityFeeGwei float64
	Transactions    []PendingTx
}

// BlockSource yields the next block and its pending transactions. It
// returns ErrSourceExhausted when a bounded replay has no more blocks.
type BlockSource interface {
	Next(ctx context.Context) (BlockTick, error)
}

// BlockchainInterface accepts bundles for inclusion. Implementations own
// retry policy and bound every call by their configured timeout.
type BlockchainInterface interface {
	SubmitBundle(ctx context.Context, bundle *Bundle) (SubmissionResult, error)
}

// Reconnector is implemented by collaborators that can re-establish their
// connections after a failure.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

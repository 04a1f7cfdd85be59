package domain

import (
	"time"

	"github.com/google/uuid"
)

// TxKind labels a transaction's role inside a bundle.
type TxKind string

const (
	TxSwap     TxKind = "swap"
	TxFrontrun TxKind = "frontrun"
	TxBackrun  TxKind = "backrun"
	TxVictim   TxKind = "victim"
)

// Transaction is one unsigned call inside a Bundle.
type Transaction struct {
	Kind         TxKind
	Hash         string // set for victim transactions already in the mempool
	To           string
	PoolID       string
	DexType      DexType
	TokenIn      string
	TokenOut     string
	AmountIn     float64
	MinAmountOut float64
	ValueETH     float64
	GasLimit     uint64
	GasPriceGwei float64
	Data         []byte
}

// Bundle is an ordered set of transactions meant for atomic inclusion.
type Bundle struct {
	ID             string
	BlockNumber    uint64
	Transactions   []Transaction
	OpportunityIDs []string
	CreatedAt      time.Time
}

// NewBundle returns an empty bundle targeting blockNumber.
func NewBundle(blockNumber uint64) *Bundle {
	return &Bundle{
		ID:          uuid.Must(uuid.NewRandom()).String(),
		BlockNumber: blockNumber,
		CreatedAt:   time.Now().UTC(),
	}
}

// Add appends txs in order.
func (b *Bundle) Add(txs ...Transaction) {
	b.Transactions = append(b.Transactions, txs...)
}

func (b *Bundle) Len() int { return len(b.Transactions) }

// TotalGasLimit sums the gas limits of every transaction.
func (b *Bundle) TotalGasLimit() uint64 {
	var total uint64
	for _, tx := range b.Transactions {
		total += tx.GasLimit
	}
	return total
}

// Truncate drops every transaction from index n onward.
func (b *Bundle) Truncate(n int) {
	if n < len(b.Transactions) {
		b.Transactions = b.Transactions[:n]
	}
}

// SubmissionResult is what a BlockchainInterface reports for one bundle.
type SubmissionResult struct {
	BundleID string
	Included bool
	GasUsed  uint64
	Reason   string
}

package chain

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/mevsim/internal/domain"
)

// BlockReader is the subset of ethclient.Client the block source uses.
type BlockReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Router addresses whose calldata is attributed to a protocol.
var knownRouters = map[common.Address]string{
	common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"): "uniswap_v2",
	common.HexToAddress("0xE592427A0AEce92A2Ddd9a51C2e18d7FE8E8c7aE"): "uniswap_v3",
	common.HexToAddress("0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F"): "sushiswap",
}

// RPCBlockSourceConfig configures an RPCBlockSource.
type RPCBlockSourceConfig struct {
	URL     string
	ChainID int64
	// StartBlock is the first block to emit. Zero follows the chain head.
	StartBlock uint64
	// BlockCount bounds a historical replay. Zero means unbounded.
	BlockCount   uint64
	PollInterval time.Duration
	CallTimeout  time.Duration
	// MaxTxs caps the transactions reported per block.
	MaxTxs int
}

// RPCBlockSource yields blocks read over JSON-RPC: either following the
// head (realtime) or replaying a fixed range (historical).
type RPCBlockSource struct {
	cfg    RPCBlockSourceConfig
	logger *slog.Logger
	signer types.Signer

	mu     sync.Mutex
	client BlockReader
	dial   func(ctx context.Context) (BlockReader, error)
	next   uint64
	end    uint64 // exclusive; 0 when following the head
}

// DialRPCBlockSource connects to cfg.URL.
func DialRPCBlockSource(ctx context.Context, cfg RPCBlockSourceConfig, logger *slog.Logger) (*RPCBlockSource, error) {
	dial := func(ctx context.Context) (BlockReader, error) {
		c, err := ethclient.DialContext(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("chain: dial %s: %w", cfg.URL, err)
		}
		return c, nil
	}
	client, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	s := NewRPCBlockSource(client, cfg, logger)
	s.dial = dial
	return s, nil
}

// NewRPCBlockSource wraps an existing client.
func NewRPCBlockSource(client BlockReader, cfg RPCBlockSourceConfig, logger *slog.Logger) *RPCBlockSource {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 1
	}
	s := &RPCBlockSource{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "rpc_block_source")),
		signer: types.LatestSignerForChainID(big.NewInt(cfg.ChainID)),
		client: client,
		next:   cfg.StartBlock,
	}
	if cfg.StartBlock > 0 && cfg.BlockCount > 0 {
		s.end = cfg.StartBlock + cfg.BlockCount
	}
	return s
}

// Next blocks until the next block is available and returns it. A finished
// historical range returns domain.ErrSourceExhausted.
func (s *RPCBlockSource) Next(ctx context.Context) (domain.BlockTick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.end > 0 && s.next >= s.end {
		return domain.BlockTick{}, domain.ErrSourceExhausted
	}
	if s.next == 0 {
		head, err := s.head(ctx)
		if err != nil {
			return domain.BlockTick{}, err
		}
		s.next = head
	}

	for {
		head, err := s.head(ctx)
		if err != nil {
			return domain.BlockTick{}, err
		}
		if head >= s.next {
			break
		}
		select {
		case <-ctx.Done():
			return domain.BlockTick{}, ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	block, err := s.client.BlockByNumber(cctx, new(big.Int).SetUint64(s.next))
	if err != nil {
		return domain.BlockTick{}, fmt.Errorf("chain: block %d: %w: %w", s.next, domain.ErrCollaborator, err)
	}
	gasPrice, err := s.client.SuggestGasPrice(cctx)
	if err != nil {
		s.logger.WarnContext(ctx, "gas price suggestion failed", slog.String("error", err.Error()))
	}

	tick := s.toTick(block, gasPrice)
	s.next++
	return tick, nil
}

func (s *RPCBlockSource) head(ctx context.Context) (uint64, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	n, err := s.client.BlockNumber(cctx)
	if err != nil {
		return 0, fmt.Errorf("chain: block number: %w: %w", domain.ErrCollaborator, err)
	}
	return n, nil
}

func (s *RPCBlockSource) toTick(block *types.Block, suggested *big.Int) domain.BlockTick {
	tick := domain.BlockTick{
		BlockNumber: block.NumberU64(),
		Timestamp:   block.Time(),
		BaseFeeGwei: GweiFromWei(block.BaseFee()),
	}
	tick.GasPriceGwei = GweiFromWei(suggested)
	if tick.GasPriceGwei <= 0 {
		tick.GasPriceGwei = tick.BaseFeeGwei
	}
	if tip := tick.GasPriceGwei - tick.BaseFeeGwei; tip > 0 {
		tick.PriorityFeeGwei = tip
	}

	seen := time.Unix(int64(block.Time()), 0).UTC()
	for _, tx := range block.Transactions() {
		if s.cfg.MaxTxs > 0 && len(tick.Transactions) >= s.cfg.MaxTxs {
			break
		}
		tick.Transactions = append(tick.Transactions, s.pending(tx, seen))
	}
	return tick
}

func (s *RPCBlockSource) pending(tx *types.Transaction, seen time.Time) domain.PendingTx {
	p := domain.PendingTx{
		Hash:         tx.Hash().Hex(),
		ValueETH:     ETHFromWei(tx.Value()),
		GasPriceGwei: GweiFromWei(tx.GasPrice()),
		SeenAt:       seen,
	}
	if from, err := types.Sender(s.signer, tx); err == nil {
		p.From = from.Hex()
	}
	if to := tx.To(); to != nil {
		p.To = to.Hex()
		p.Protocol = knownRouters[*to]
	}
	if data := tx.Data(); len(data) >= 4 {
		p.Selector = "0x" + hex.EncodeToString(data[:4])
	}
	return p
}

// Reconnect redials the RPC endpoint. Sources built from an existing client
// cannot redial and return nil.
func (s *RPCBlockSource) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dial == nil {
		return nil
	}
	if c, ok := s.client.(interface{ Close() }); ok {
		c.Close()
	}
	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	s.client = client
	s.logger.InfoContext(ctx, "reconnected", slog.String("url", redactURL(s.cfg.URL)))
	return nil
}

// Close releases the RPC connection.
func (s *RPCBlockSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.client.(interface{ Close() }); ok {
		c.Close()
	}
}

// redactURL drops the path and query, which often carry provider API keys.
func redactURL(u string) string {
	if i := strings.Index(u, "://"); i >= 0 {
		if j := strings.Index(u[i+3:], "/"); j >= 0 {
			return u[:i+3+j]
		}
	}
	return u
}

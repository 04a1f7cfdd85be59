package chain

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/alanyoungcy/mevsim/internal/domain"
)

// SyntheticConfig shapes generated flow.
type SyntheticConfig struct {
	TransactionRate uint64 // transactions per second
	DurationSeconds uint64
	BlockTime       time.Duration
	MaxTxsPerBlock  int
	StartBlock      uint64
	Seed            int64
	BaseFeeGwei     float64
}

// SyntheticMarket generates blocks of pending swaps against a fixed set of
// pools whose reserves random-walk from block to block. It serves both as
// the block source and as the reserve source of a synthetic run.
type SyntheticMarket struct {
	cfg SyntheticConfig

	mu      sync.Mutex
	rng     *rand.Rand
	pools   map[string]domain.TokenPair
	addrs   []string
	block   uint64
	emitted uint64
	clock   time.Time
}

// syntheticPools is the starting market: two venues per pair so cross-dex
// cycles exist, plus a triangle through USDC and DAI.
func syntheticPools() []domain.TokenPair {
	return []domain.TokenPair{
		{Token0: "WETH", Token1: "USDC", PairAddress: "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc", DexType: domain.DexUniswapV2, Reserve0: 20_000, Reserve1: 60_000_000, FeePercent: 0.3},
		{Token0: "WETH", Token1: "USDC", PairAddress: "0x397FF1542f962076d0BFE58eA045FfA2d347ACa0", DexType: domain.DexSushiswap, Reserve0: 8_000, Reserve1: 24_000_000, FeePercent: 0.3},
		{Token0: "WETH", Token1: "DAI", PairAddress: "0xA478c2975Ab1Ea89e8196811F51A7B7Ade33eB11", DexType: domain.DexUniswapV2, Reserve0: 5_000, Reserve1: 15_000_000, FeePercent: 0.3},
		{Token0: "WETH", Token1: "DAI", PairAddress: "0xC3D03e4F041Fd4cD388c549Ee2A29a9E5075882f", DexType: domain.DexSushiswap, Reserve0: 3_000, Reserve1: 9_000_000, FeePercent: 0.3},
		{Token0: "DAI", Token1: "USDC", PairAddress: "0xAE461cA67B15dc8dc81CE7615e0320dA1A9aB8D5", DexType: domain.DexUniswapV2, Reserve0: 10_000_000, Reserve1: 10_000_000, FeePercent: 0.3},
		{Token0: "WETH", Token1: "WBTC", PairAddress: "0xBb2b8038a1640196FbE3e38816F3e67Cba72D940", DexType: domain.DexUniswapV2, Reserve0: 4_000, Reserve1: 200, FeePercent: 0.3},
		{Token0: "WETH", Token1: "WBTC", PairAddress: "0xCEfF51756c56CeFFCA006cD410B03FFC46dd3a58", DexType: domain.DexSushiswap, Reserve0: 2_000, Reserve1: 100, FeePercent: 0.3},
	}
}

// NewSyntheticMarket returns a market seeded from cfg.Seed.
func NewSyntheticMarket(cfg SyntheticConfig) *SyntheticMarket {
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = 12 * time.Second
	}
	if cfg.BaseFeeGwei <= 0 {
		cfg.BaseFeeGwei = 20
	}
	if cfg.StartBlock == 0 {
		cfg.StartBlock = 1
	}
	m := &SyntheticMarket{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		pools: make(map[string]domain.TokenPair),
		block: cfg.StartBlock,
		clock: time.Unix(1_700_000_000, 0).UTC(),
	}
	for _, p := range syntheticPools() {
		m.pools[p.PairAddress] = p
		m.addrs = append(m.addrs, p.PairAddress)
	}
	sort.Strings(m.addrs)
	return m
}

// TotalBlocks is the number of blocks the configured duration spans, 0 when
// unbounded.
func (m *SyntheticMarket) TotalBlocks() uint64 {
	if m.cfg.DurationSeconds == 0 {
		return 0
	}
	per := uint64(m.cfg.BlockTime / time.Second)
	if per == 0 {
		per = 1
	}
	return (m.cfg.DurationSeconds + per - 1) / per
}

// Next generates the next block. Once the configured duration has elapsed it
// returns domain.ErrSourceExhausted.
func (m *SyntheticMarket) Next(ctx context.Context) (domain.BlockTick, error) {
	if err := ctx.Err(); err != nil {
		return domain.BlockTick{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if total := m.TotalBlocks(); total > 0 && m.emitted >= total {
		return domain.BlockTick{}, domain.ErrSourceExhausted
	}

	m.drift()
	n := m.block
	baseFee := m.cfg.BaseFeeGwei * (0.8 + 0.4*m.rng.Float64())
	tip := 1 + 2*m.rng.Float64()
	tick := domain.BlockTick{
		BlockNumber:     n,
		Timestamp:       uint64(m.clock.Unix()),
		BaseFeeGwei:     baseFee,
		PriorityFeeGwei: tip,
		GasPriceGwei:    baseFee + tip,
	}

	count := int(float64(m.cfg.TransactionRate) * m.cfg.BlockTime.Seconds())
	if m.cfg.MaxTxsPerBlock > 0 && count > m.cfg.MaxTxsPerBlock {
		count = m.cfg.MaxTxsPerBlock
	}
	for i := 0; i < count; i++ {
		tick.Transactions = append(tick.Transactions, m.transaction(n, i, tick.GasPriceGwei))
	}

	m.block++
	m.emitted++
	m.clock = m.clock.Add(m.cfg.BlockTime)
	return tick, nil
}

func (m *SyntheticMarket) transaction(block uint64, i int, gasPrice float64) domain.PendingTx {
	addr := m.addrs[m.rng.Intn(len(m.addrs))]
	pool := m.pools[addr]
	// Log-normal sizes: most swaps are small, a few are whales.
	value := math.Exp(m.rng.NormFloat64()*1.5 - 1)
	return domain.PendingTx{
		Hash:         syntheticHash(m.cfg.Seed, block, i),
		From:         fmt.Sprintf("0x%040x", m.rng.Uint64()),
		To:           pool.PairAddress,
		Protocol:     pool.DexType.String(),
		Selector:     "0x38ed1739",
		ValueETH:     value,
		GasPriceGwei: gasPrice * (0.9 + 0.3*m.rng.Float64()),
		PoolID:       pool.PairAddress,
		SeenAt:       m.clock,
	}
}

// drift moves every pool's reserves by an independent small shock, which
// opens and closes price gaps between venues.
func (m *SyntheticMarket) drift() {
	for _, addr := range m.addrs {
		p := m.pools[addr]
		shock := 1 + m.rng.NormFloat64()*0.004
		if shock <= 0.5 {
			shock = 0.5
		}
		p.Reserve0 *= shock
		p.Reserve1 /= shock
		m.pools[addr] = p
	}
}

// Reserves returns the current pool states.
func (m *SyntheticMarket) Reserves(ctx context.Context) ([]domain.TokenPair, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TokenPair, 0, len(m.addrs))
	for _, a := range m.addrs {
		out = append(out, m.pools[a])
	}
	return out, nil
}

// syntheticHash derives a stable Keccak-256 transaction hash.
func syntheticHash(seed int64, block uint64, i int) string {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:], uint64(seed))
	binary.BigEndian.PutUint64(buf[8:], block)
	binary.BigEndian.PutUint64(buf[16:], uint64(i))
	h := sha3.NewLegacyKeccak256()
	h.Write(buf[:])
	return fmt.Sprintf("0x%x", h.Sum(nil))
}

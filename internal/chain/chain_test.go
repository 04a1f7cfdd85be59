package chain_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/mevsim/internal/chain"
	"github.com/alanyoungcy/mevsim/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeReader serves blocks up to head.
type fakeReader struct {
	mu   sync.Mutex
	head uint64
	txs  []*types.Transaction
}

func (f *fakeReader) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeReader) BlockByNumber(_ context.Context, n *big.Int) (*types.Block, error) {
	header := &types.Header{
		Number:  new(big.Int).Set(n),
		Time:    1_700_000_000 + n.Uint64()*12,
		BaseFee: big.NewInt(15_000_000_000),
	}
	return types.NewBlockWithHeader(header).WithBody(types.Body{Transactions: f.txs}), nil
}

func (f *fakeReader) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(18_000_000_000), nil
}

func TestRPCBlockSourceHistoricalRange(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	router := common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	tx, err := types.SignNewTx(key, types.LatestSignerForChainID(big.NewInt(1)), &types.LegacyTx{
		Nonce:    1,
		To:       &router,
		Value:    big.NewInt(2_000_000_000_000_000_000),
		Gas:      200_000,
		GasPrice: big.NewInt(25_000_000_000),
		Data:     []byte{0x7f, 0xf3, 0x6a, 0xb5, 0x00},
	})
	if err != nil {
		t.Fatal(err)
	}
	reader := &fakeReader{head: 200, txs: []*types.Transaction{tx}}
	src := chain.NewRPCBlockSource(reader, chain.RPCBlockSourceConfig{StartBlock: 100, BlockCount: 2}, discardLogger())

	ctx := context.Background()
	first, err := src.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if first.BlockNumber != 100 || first.BaseFeeGwei != 15 || first.GasPriceGwei != 18 || first.PriorityFeeGwei != 3 {
		t.Errorf("tick = %+v", first)
	}
	if len(first.Transactions) != 1 {
		t.Fatalf("txs = %d", len(first.Transactions))
	}
	ptx := first.Transactions[0]
	if ptx.From != ethcrypto.PubkeyToAddress(key.PublicKey).Hex() {
		t.Errorf("sender = %s", ptx.From)
	}
	if ptx.Protocol != "uniswap_v2" || ptx.ValueETH != 2 || ptx.GasPriceGwei != 25 || ptx.Selector != "0x7ff36ab5" {
		t.Errorf("pending tx = %+v", ptx)
	}

	if second, err := src.Next(ctx); err != nil || second.BlockNumber != 101 {
		t.Fatalf("second = %d, %v", second.BlockNumber, err)
	}
	if _, err := src.Next(ctx); !errors.Is(err, domain.ErrSourceExhausted) {
		t.Errorf("err = %v, want exhausted", err)
	}
}

func TestRPCBlockSourceWaitsForHead(t *testing.T) {
	reader := &fakeReader{head: 50}
	src := chain.NewRPCBlockSource(reader, chain.RPCBlockSourceConfig{PollInterval: 5 * time.Millisecond}, discardLogger())
	ctx := context.Background()

	if tick, err := src.Next(ctx); err != nil || tick.BlockNumber != 50 {
		t.Fatalf("first = %d, %v", tick.BlockNumber, err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		reader.mu.Lock()
		reader.head = 51
		reader.mu.Unlock()
	}()
	if tick, err := src.Next(ctx); err != nil || tick.BlockNumber != 51 {
		t.Fatalf("second = %d, %v", tick.BlockNumber, err)
	}

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := src.Next(cctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded while head is stuck", err)
	}
}

func TestSyntheticMarketIsDeterministicAndBounded(t *testing.T) {
	cfg := chain.SyntheticConfig{TransactionRate: 10, DurationSeconds: 36, BlockTime: 12 * time.Second, MaxTxsPerBlock: 50, Seed: 7}
	a, b := chain.NewSyntheticMarket(cfg), chain.NewSyntheticMarket(cfg)
	ctx := context.Background()

	if a.TotalBlocks() != 3 {
		t.Fatalf("TotalBlocks = %d", a.TotalBlocks())
	}
	for i := 0; i < 3; i++ {
		ta, err := a.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		tb, _ := b.Next(ctx)
		if len(ta.Transactions) != 50 {
			t.Errorf("block %d has %d txs, want capped 50", i, len(ta.Transactions))
		}
		if ta.Transactions[0].Hash != tb.Transactions[0].Hash || ta.Transactions[0].ValueETH != tb.Transactions[0].ValueETH {
			t.Error("same seed produced different flow")
		}
		if !strings.HasPrefix(ta.Transactions[0].Hash, "0x") || len(ta.Transactions[0].Hash) != 66 {
			t.Errorf("hash %q is not a 32-byte hex", ta.Transactions[0].Hash)
		}
	}
	if _, err := a.Next(ctx); !errors.Is(err, domain.ErrSourceExhausted) {
		t.Errorf("err = %v, want exhausted", err)
	}

	pools, err := a.Reserves(ctx)
	if err != nil || len(pools) == 0 {
		t.Fatalf("Reserves = %d, %v", len(pools), err)
	}
	for _, p := range pools {
		if p.Reserve0 <= 0 || p.Reserve1 <= 0 {
			t.Errorf("pool %s drained: %+v", p.PairAddress, p)
		}
	}
}

type fakeEstimator struct {
	calls int
	fail  int
	err   error
}

func (f *fakeEstimator) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	f.calls++
	if f.calls <= f.fail {
		return 0, f.err
	}
	return 120_000, nil
}

func forkBundle() *domain.Bundle {
	b := domain.NewBundle(10)
	b.Add(
		domain.Transaction{Kind: domain.TxSwap, To: "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc", GasLimit: 150_000, GasPriceGwei: 20},
		domain.Transaction{Kind: domain.TxVictim, Hash: "0xabc"},
		domain.Transaction{Kind: domain.TxSwap, To: "pool-1", GasLimit: 90_000},
	)
	return b
}

func TestForkSimulatorRetriesTransportErrors(t *testing.T) {
	est := &fakeEstimator{fail: 2, err: errors.New("connection reset")}
	sim := chain.NewForkSimulator(est, chain.ForkSimulatorConfig{RetryAttempts: 3, RetryBackoff: time.Millisecond}, discardLogger())

	res, err := sim.SubmitBundle(context.Background(), forkBundle())
	if err != nil {
		t.Fatalf("SubmitBundle: %v", err)
	}
	if !res.Included || res.GasUsed != 210_000 {
		t.Errorf("result %+v, want included with 120000 estimated + 90000 declared", res)
	}
	if est.calls != 3 {
		t.Errorf("calls = %d, want 3", est.calls)
	}
}

func TestForkSimulatorGivesUp(t *testing.T) {
	est := &fakeEstimator{fail: 10, err: errors.New("connection reset")}
	sim := chain.NewForkSimulator(est, chain.ForkSimulatorConfig{RetryAttempts: 2, RetryBackoff: time.Millisecond}, discardLogger())
	if _, err := sim.SubmitBundle(context.Background(), forkBundle()); !errors.Is(err, domain.ErrCollaborator) {
		t.Errorf("err = %v, want collaborator error", err)
	}
}

func TestForkSimulatorReportsRevert(t *testing.T) {
	est := &fakeEstimator{fail: 10, err: errors.New("execution reverted: UniswapV2: K")}
	sim := chain.NewForkSimulator(est, chain.ForkSimulatorConfig{RetryAttempts: 3}, discardLogger())
	res, err := sim.SubmitBundle(context.Background(), forkBundle())
	if err != nil {
		t.Fatalf("SubmitBundle: %v", err)
	}
	if res.Included || !strings.Contains(res.Reason, "reverts") || est.calls != 1 {
		t.Errorf("result %+v after %d calls", res, est.calls)
	}
}

func TestSimulatedChainGasLimit(t *testing.T) {
	c := chain.NewSimulatedChain(1, 1)
	ctx := context.Background()

	full := domain.NewBundle(5)
	full.Add(domain.Transaction{GasLimit: chain.DefaultBlockGasLimit - 100_000})
	if res, _ := c.SubmitBundle(ctx, full); !res.Included {
		t.Fatalf("first bundle rejected: %s", res.Reason)
	}
	small := domain.NewBundle(5)
	small.Add(domain.Transaction{GasLimit: 200_000})
	if res, _ := c.SubmitBundle(ctx, small); res.Included {
		t.Error("bundle exceeding block gas was included")
	}
	next := domain.NewBundle(6)
	next.Add(domain.Transaction{GasLimit: 200_000})
	if res, _ := c.SubmitBundle(ctx, next); !res.Included {
		t.Errorf("next block bundle rejected: %s", res.Reason)
	}
	if sub, inc := c.Counts(); sub != 3 || inc != 2 {
		t.Errorf("counts = %d/%d", sub, inc)
	}
}

type fakeCaller struct{ out []byte }

func (f fakeCaller) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return f.out, nil
}

func TestReserveReader(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(`[{"name":"getReserves","type":"function","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]}]`))
	if err != nil {
		t.Fatal(err)
	}
	r0 := big.NewInt(3_000_000_000_000) // 3,000,000 USDC
	r1 := new(big.Int).Mul(big.NewInt(1_000), big.NewInt(1_000_000_000_000_000_000))
	out, err := parsed.Methods["getReserves"].Outputs.Pack(r0, r1, uint32(1_700_000_000))
	if err != nil {
		t.Fatal(err)
	}

	reader := chain.NewReserveReader(fakeCaller{out: out}, chain.DefaultPoolSpecs()[:1], time.Second)
	pools, err := reader.Reserves(context.Background())
	if err != nil {
		t.Fatalf("Reserves: %v", err)
	}
	if len(pools) != 1 || pools[0].Reserve0 != 3_000_000 || pools[0].Reserve1 != 1_000 || pools[0].DexType != domain.DexUniswapV2 {
		t.Errorf("pools = %+v", pools)
	}
}

func TestKeyFileRoundTrip(t *testing.T) {
	const keyHex = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
	key, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		t.Fatal(err)
	}
	want := ethcrypto.PubkeyToAddress(key.PublicKey)

	sealed, err := chain.SealKeyFile("0x"+keyHex, "hunter2")
	if err != nil {
		t.Fatalf("SealKeyFile: %v", err)
	}
	path := filepath.Join(t.TempDir(), "searcher.json")
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := chain.SearcherAddress(chain.SearcherKey{EncryptedKeyPath: path, Password: "hunter2"})
	if err != nil {
		t.Fatalf("SearcherAddress: %v", err)
	}
	if got != want {
		t.Errorf("address = %s, want %s", got.Hex(), want.Hex())
	}
	if _, err := chain.SearcherAddress(chain.SearcherKey{EncryptedKeyPath: path, Password: "wrong"}); err == nil {
		t.Error("wrong password accepted")
	}
	if addr, err := chain.SearcherAddress(chain.SearcherKey{}); err != nil || addr != (common.Address{}) {
		t.Errorf("no key = %s, %v", addr.Hex(), err)
	}
	if _, err := chain.LoadSearcherKey(chain.SearcherKey{PrivateKey: "nothex"}); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("err = %v, want configuration error", err)
	}
}

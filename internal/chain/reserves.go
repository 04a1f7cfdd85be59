package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/mevsim/internal/domain"
)

const pairABIJSON = `[{"constant":true,"inputs":[],"name":"getReserves","outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}],"payable":false,"stateMutability":"view","type":"function"}]`

var pairABI = mustParseABI(pairABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ContractCaller is the subset of ethclient.Client the reserve reader uses.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// PoolSpec identifies a constant-product pair to watch.
type PoolSpec struct {
	Address    string
	Token0     string
	Token1     string
	Decimals0  uint8
	Decimals1  uint8
	Dex        domain.DexType
	FeePercent float64
}

// ReserveReader reads UniswapV2-style reserves with getReserves.
type ReserveReader struct {
	caller  ContractCaller
	pools   []PoolSpec
	timeout time.Duration
}

func NewReserveReader(caller ContractCaller, pools []PoolSpec, timeout time.Duration) *ReserveReader {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ReserveReader{caller: caller, pools: pools, timeout: timeout}
}

// Reserves returns the latest state of every watched pool. The first
// failing call aborts the read.
func (r *ReserveReader) Reserves(ctx context.Context) ([]domain.TokenPair, error) {
	out := make([]domain.TokenPair, 0, len(r.pools))
	for _, spec := range r.pools {
		r0, r1, err := r.getReserves(ctx, common.HexToAddress(spec.Address))
		if err != nil {
			return nil, fmt.Errorf("chain: reserves of %s: %w: %w", spec.Address, domain.ErrCollaborator, err)
		}
		out = append(out, domain.TokenPair{
			Token0:      spec.Token0,
			Token1:      spec.Token1,
			PairAddress: spec.Address,
			DexType:     spec.Dex,
			Reserve0:    TokenAmount(r0, spec.Decimals0),
			Reserve1:    TokenAmount(r1, spec.Decimals1),
			FeePercent:  spec.FeePercent,
		})
	}
	return out, nil
}

func (r *ReserveReader) getReserves(ctx context.Context, pair common.Address) (*big.Int, *big.Int, error) {
	input, err := pairABI.Pack("getReserves")
	if err != nil {
		return nil, nil, fmt.Errorf("pack getReserves: %w", err)
	}
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := r.caller.CallContract(cctx, ethereum.CallMsg{To: &pair, Data: input}, nil)
	if err != nil {
		return nil, nil, err
	}
	values, err := pairABI.Unpack("getReserves", data)
	if err != nil {
		return nil, nil, fmt.Errorf("unpack getReserves: %w", err)
	}
	if len(values) < 2 {
		return nil, nil, fmt.Errorf("getReserves returned %d values", len(values))
	}
	r0, ok0 := values[0].(*big.Int)
	r1, ok1 := values[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, fmt.Errorf("getReserves: unexpected types %T, %T", values[0], values[1])
	}
	return r0, r1, nil
}

// DefaultPoolSpecs are mainnet UniswapV2 and Sushiswap WETH pairs.
func DefaultPoolSpecs() []PoolSpec {
	return []PoolSpec{
		{Address: "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc", Token0: "USDC", Token1: "WETH", Decimals0: 6, Decimals1: 18, Dex: domain.DexUniswapV2, FeePercent: 0.3},
		{Address: "0x397FF1542f962076d0BFE58eA045FfA2d347ACa0", Token0: "USDC", Token1: "WETH", Decimals0: 6, Decimals1: 18, Dex: domain.DexSushiswap, FeePercent: 0.3},
		{Address: "0xA478c2975Ab1Ea89e8196811F51A7B7Ade33eB11", Token0: "DAI", Token1: "WETH", Decimals0: 18, Decimals1: 18, Dex: domain.DexUniswapV2, FeePercent: 0.3},
		{Address: "0xC3D03e4F041Fd4cD388c549Ee2A29a9E5075882f", Token0: "DAI", Token1: "WETH", Decimals0: 18, Decimals1: 18, Dex: domain.DexSushiswap, FeePercent: 0.3},
		{Address: "0xAE461cA67B15dc8dc81CE7615e0320dA1A9aB8D5", Token0: "DAI", Token1: "USDC", Decimals0: 18, Decimals1: 6, Dex: domain.DexUniswapV2, FeePercent: 0.3},
	}
}

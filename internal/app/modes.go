package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/mevsim/internal/chain"
	"github.com/alanyoungcy/mevsim/internal/config"
	"github.com/alanyoungcy/mevsim/internal/domain"
	"github.com/alanyoungcy/mevsim/internal/feed"
)

// syntheticInclusionRate is the share of bundles the in-process chain
// includes.
const syntheticInclusionRate = 0.85

// referencePrices seed the price feed in USD so liquidity and profit
// conversions work before an oracle publishes.
var referencePrices = map[string]float64{
	"WETH": 3000,
	"USDC": 1,
	"DAI":  1,
	"USDT": 1,
	"WBTC": 60000,
}

// runSources are the mode-specific collaborators of one run.
type runSources struct {
	source domain.BlockSource
	chain  domain.BlockchainInterface
	pools  *feed.PoolRefresher
	prices map[string]float64
	close  []func()
}

func (r *runSources) closeAll() {
	for i := len(r.close) - 1; i >= 0; i-- {
		r.close[i]()
	}
}

// sources builds the block source, blockchain interface and pool source for
// the configured mode.
func (a *App) sources(ctx context.Context, cfg *config.Config) (runSources, error) {
	switch mode := strings.ToLower(cfg.Simulation.Mode); mode {
	case config.ModeSynthetic:
		return a.syntheticSources(ctx, cfg)
	case config.ModeRealtime, config.ModeHistorical:
		return a.rpcSources(ctx, cfg, mode)
	default:
		return runSources{}, fmt.Errorf("app: %w: unsupported mode %q", domain.ErrConfiguration, cfg.Simulation.Mode)
	}
}

// syntheticSources generates blocks in process. Bundles go to the simulated
// chain unless a fork is configured.
func (a *App) syntheticSources(ctx context.Context, cfg *config.Config) (runSources, error) {
	syn := cfg.Simulation.Synthetic
	market := chain.NewSyntheticMarket(chain.SyntheticConfig{
		TransactionRate: syn.TransactionRate,
		DurationSeconds: syn.DurationSeconds,
		BlockTime:       blockTime(cfg),
		MaxTxsPerBlock:  syn.MaxTxsPerBlock,
		StartBlock:      cfg.Simulation.StartBlock,
		Seed:            syn.Seed,
	})
	run := runSources{
		source: market,
		pools:  feed.NewPoolRefresher(market, 0, 0, a.logger, a.sink),
		prices: referencePrices,
	}

	if cfg.Blockchain.Fork.Enabled {
		fork, err := a.forkSimulator(ctx, cfg, cfg.Blockchain.Fork.URL)
		if err != nil {
			return runSources{}, err
		}
		run.chain = fork
		run.close = append(run.close, fork.Close)
	} else {
		run.chain = chain.NewSimulatedChain(syn.Seed, syntheticInclusionRate)
	}

	a.logger.InfoContext(ctx, "synthetic market ready",
		slog.Uint64("transaction_rate", syn.TransactionRate),
		slog.Uint64("blocks", market.TotalBlocks()),
		slog.Bool("fork", cfg.Blockchain.Fork.Enabled),
	)
	return run, nil
}

// rpcSources reads blocks over JSON-RPC: following the head in realtime
// mode, replaying block_count blocks from start_block in historical mode.
func (a *App) rpcSources(ctx context.Context, cfg *config.Config, mode string) (runSources, error) {
	eth := cfg.Blockchain.Ethereum
	srcCfg := chain.RPCBlockSourceConfig{
		URL:          eth.RPCURL,
		ChainID:      eth.ChainID,
		PollInterval: time.Second,
		CallTimeout:  callTimeout(cfg),
		MaxTxs:       cfg.Simulation.Synthetic.MaxTxsPerBlock,
	}
	if mode == config.ModeHistorical {
		srcCfg.StartBlock = cfg.Simulation.StartBlock
		srcCfg.BlockCount = cfg.Simulation.BlockCount
	}

	var run runSources
	src, err := chain.DialRPCBlockSource(ctx, srcCfg, a.logger)
	if err != nil {
		return runSources{}, fmt.Errorf("app: block source: %w", err)
	}
	run.source = src
	run.close = append(run.close, src.Close)

	ec, err := ethclient.DialContext(ctx, eth.RPCURL)
	if err != nil {
		run.closeAll()
		return runSources{}, fmt.Errorf("app: reserve reader: %w", err)
	}
	run.close = append(run.close, ec.Close)
	reader := chain.NewReserveReader(ec, chain.DefaultPoolSpecs(), callTimeout(cfg))
	tick := cfg.TickInterval()
	run.pools = feed.NewPoolRefresher(reader, tick/2, 5*tick, a.logger, a.sink)

	forkURL := eth.RPCURL
	if cfg.Blockchain.Fork.Enabled && cfg.Blockchain.Fork.URL != "" {
		forkURL = cfg.Blockchain.Fork.URL
	}
	fork, err := a.forkSimulator(ctx, cfg, forkURL)
	if err != nil {
		run.closeAll()
		return runSources{}, err
	}
	run.chain = fork
	run.close = append(run.close, fork.Close)
	run.prices = referencePrices

	a.logger.InfoContext(ctx, "rpc sources ready",
		slog.String("mode", mode),
		slog.Uint64("start_block", srcCfg.StartBlock),
		slog.Uint64("block_count", srcCfg.BlockCount),
	)
	return run, nil
}

// forkSimulator dials url and checks bundles from the searcher's address.
func (a *App) forkSimulator(ctx context.Context, cfg *config.Config, url string) (*chain.ForkSimulator, error) {
	s := cfg.Blockchain.Searcher
	from, err := chain.SearcherAddress(chain.SearcherKey{
		PrivateKey:       s.PrivateKey,
		EncryptedKeyPath: s.EncryptedKeyPath,
		Password:         s.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("app: searcher key: %w", err)
	}
	fork, err := chain.DialForkSimulator(ctx, chain.ForkSimulatorConfig{
		URL:           url,
		From:          from,
		RetryAttempts: cfg.Trading.Bundle.RetryAttempts,
		Timeout:       time.Duration(cfg.Blockchain.Flashbots.BundleTimeoutMs) * time.Millisecond,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: fork simulator: %w", err)
	}
	return fork, nil
}

func blockTime(cfg *config.Config) time.Duration {
	if s := cfg.Blockchain.Ethereum.BlockTimeSeconds; s > 0 {
		return time.Duration(s) * time.Second
	}
	return 12 * time.Second
}

func callTimeout(cfg *config.Config) time.Duration {
	if ms := cfg.Security.Validation.TimeoutMs; ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return 5 * time.Second
}

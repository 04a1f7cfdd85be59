package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/mevsim/internal/domain"
)

// GasEstimator is the subset of ethclient.Client the fork simulator uses.
type GasEstimator interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// ForkSimulatorConfig configures a ForkSimulator.
type ForkSimulatorConfig struct {
	URL           string
	From          common.Address
	RetryAttempts int
	Timeout       time.Duration
	RetryBackoff  time.Duration
}

// ForkSimulator checks bundles against a forked node by estimating gas for
// every searcher transaction in order. A bundle is considered included when
// every call would succeed. Nothing is signed or broadcast.
type ForkSimulator struct {
	client GasEstimator
	cfg    ForkSimulatorConfig
	logger *slog.Logger
}

// DialForkSimulator connects to cfg.URL.
func DialForkSimulator(ctx context.Context, cfg ForkSimulatorConfig, logger *slog.Logger) (*ForkSimulator, error) {
	c, err := ethclient.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial fork %s: %w", redactURL(cfg.URL), err)
	}
	return NewForkSimulator(c, cfg, logger), nil
}

func NewForkSimulator(client GasEstimator, cfg ForkSimulatorConfig, logger *slog.Logger) *ForkSimulator {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	return &ForkSimulator{
		client: client,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "fork_simulator")),
	}
}

// SubmitBundle estimates each searcher transaction. Victim transactions are
// already in the mempool and are skipped; transactions without an on-chain
// destination fall back to their declared gas limit.
func (f *ForkSimulator) SubmitBundle(ctx context.Context, bundle *domain.Bundle) (domain.SubmissionResult, error) {
	res := domain.SubmissionResult{BundleID: bundle.ID}
	for i, tx := range bundle.Transactions {
		if tx.Kind == domain.TxVictim {
			continue
		}
		if !common.IsHexAddress(tx.To) {
			res.GasUsed += tx.GasLimit
			continue
		}
		to := common.HexToAddress(tx.To)
		msg := ethereum.CallMsg{
			From:     f.cfg.From,
			To:       &to,
			Gas:      tx.GasLimit,
			GasPrice: WeiFromGwei(tx.GasPriceGwei),
			Value:    WeiFromETH(tx.ValueETH),
			Data:     tx.Data,
		}
		gas, err := f.estimate(ctx, msg)
		if err != nil {
			if errors.Is(err, domain.ErrCollaborator) {
				return res, err
			}
			res.Reason = fmt.Sprintf("tx %d (%s) reverts: %v", i, tx.Kind, err)
			return res, nil
		}
		res.GasUsed += gas
	}
	res.Included = true
	return res, nil
}

// Close releases the fork connection.
func (f *ForkSimulator) Close() {
	if c, ok := f.client.(interface{ Close() }); ok {
		c.Close()
	}
}

// estimate retries transport failures. A revert is returned immediately as
// a plain error; exhausting retries wraps domain.ErrCollaborator.
func (f *ForkSimulator) estimate(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var lastErr error
	for attempt := 1; attempt <= f.cfg.RetryAttempts; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
		gas, err := f.client.EstimateGas(cctx, msg)
		cancel()
		if err == nil {
			return gas, nil
		}
		if isRevert(err) {
			return 0, err
		}
		lastErr = err
		f.logger.WarnContext(ctx, "gas estimation failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt < f.cfg.RetryAttempts {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(f.cfg.RetryBackoff * time.Duration(attempt)):
			}
		}
	}
	return 0, fmt.Errorf("chain: estimate gas: %w: %w", domain.ErrCollaborator, lastErr)
}

// isRevert recognizes execution errors, which retrying cannot fix.
func isRevert(err error) bool {
	var de interface{ ErrorData() interface{} }
	if errors.As(err, &de) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"execution reverted", "insufficient funds", "gas required exceeds"} {
		if containsFold(msg, s) {
			return true
		}
	}
	return false
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/mevsim/internal/arbitrage"
	s3blob "github.com/alanyoungcy/mevsim/internal/blob/s3"
	"github.com/alanyoungcy/mevsim/internal/cache/redis"
	"github.com/alanyoungcy/mevsim/internal/config"
	"github.com/alanyoungcy/mevsim/internal/domain"
	"github.com/alanyoungcy/mevsim/internal/feed"
	"github.com/alanyoungcy/mevsim/internal/simulator"
	"github.com/alanyoungcy/mevsim/internal/store/postgres"
)

// Dependencies are the long-lived connections shared by every run of one
// process. Each field is nil when its backend is disabled.
type Dependencies struct {
	Redis       *redis.Client
	Bus         *redis.Bus
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	Postgres         *postgres.Client
	RunStore         *postgres.RunStore
	OpportunityStore *postgres.OpportunityStore

	BlobWriter *s3blob.Writer
	BlobReader *s3blob.Reader
	Archiver   *s3blob.RunArchiver
}

// minPartSize is the multipart upload part size for exports and archives.
const minPartSize = 5 << 20

// Wire opens every enabled backend and returns the dependencies with a
// cleanup function releasing them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ConfigFrom(cfg.Postgres))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Postgres = pg
		deps.RunStore = postgres.NewRunStore(pg.Pool())
		deps.OpportunityStore = postgres.NewOpportunityStore(pg.Pool())
	}

	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ConfigFrom(cfg.Redis))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.Redis = rc
		deps.Bus = redis.NewBus(rc, cfg.Redis.StreamMaxLen)
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.LockManager = redis.NewLockManager(rc, logger)
	}

	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ConfigFrom(cfg.S3))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.BlobWriter = s3blob.NewWriter(sc, minPartSize)
		deps.BlobReader = s3blob.NewReader(sc)
		if deps.OpportunityStore != nil {
			deps.Archiver = s3blob.NewRunArchiver(deps.BlobWriter, deps.OpportunityStore)
		}
	}

	return deps, cleanup, nil
}

// wiring returns the simulator's per-run collaborator builder. Mode
// specific sources come from modes.go; sinks and the price feed are shared.
func (a *App) wiring(deps *Dependencies, viz simulator.StatsSink) simulator.Wiring {
	return func(ctx context.Context, cfg *config.Config) (simulator.Collaborators, error) {
		var closers []func()
		closeAll := func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}

		run, err := a.sources(ctx, cfg)
		if err != nil {
			return simulator.Collaborators{}, err
		}
		closers = append(closers, run.close...)

		c := simulator.Collaborators{
			Source:     run.source,
			Chain:      run.chain,
			Pools:      run.pools,
			Visualizer: viz,
		}

		pf, stop := a.priceFeed(cfg, deps, run.prices)
		c.PriceFeed = pf
		if stop != nil {
			closers = append(closers, stop)
		}

		if deps.Bus != nil {
			pub := redis.NewStatsPublisher(deps.Bus)
			c.Stats = append(c.Stats, pub)
			c.Executions = append(c.Executions, pub)
		}
		if deps.RunStore != nil {
			c.Stats = append(c.Stats, deps.RunStore)
		}
		if deps.OpportunityStore != nil {
			c.Executions = append(c.Executions, deps.OpportunityStore)
		}
		if deps.BlobWriter != nil {
			c.Blobs = deps.BlobWriter
			c.BlobReader = deps.BlobReader
		}
		c.Close = closeAll
		return c, nil
	}
}

// priceFeed returns the Redis-backed feed fed by the price listener when
// Redis is enabled, otherwise an in-memory feed seeded with seed. The
// returned stop function ends the listener.
func (a *App) priceFeed(cfg *config.Config, deps *Dependencies, seed map[string]float64) (domain.PriceFeed, func()) {
	if deps.Redis == nil {
		pf := arbitrage.NewSimplePriceFeed()
		pf.SetTokenPrices(seed)
		return pf, nil
	}

	ttl := time.Duration(cfg.Data.Cache.TTLSeconds) * time.Second
	pf := redis.NewPriceFeed(deps.Redis, ttl, a.logger)
	for token, price := range seed {
		pf.SetTokenPrice(token, price)
	}

	ctx, cancel := context.WithCancel(context.Background())
	listener := feed.NewPriceListener(deps.Bus, pf, a.logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Warn("price listener exited", slog.String("error", err.Error()))
		}
	}()
	return pf, func() {
		cancel()
		<-done
	}
}

// Package app wires the simulator to its backends and runs it to
// completion. It owns the process-level resources: connections, the run
// lock, the HTTP server and notifications.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/mevsim/internal/config"
	"github.com/alanyoungcy/mevsim/internal/domain"
	"github.com/alanyoungcy/mevsim/internal/feed"
	"github.com/alanyoungcy/mevsim/internal/metrics"
	"github.com/alanyoungcy/mevsim/internal/notify"
	"github.com/alanyoungcy/mevsim/internal/server"
	"github.com/alanyoungcy/mevsim/internal/server/handler"
	"github.com/alanyoungcy/mevsim/internal/server/ws"
	"github.com/alanyoungcy/mevsim/internal/simulator"
)

const (
	lockTTL         = 30 * time.Second
	shutdownTimeout = 15 * time.Second
	profilingAddr   = "localhost:6060"
)

// App is the root application object. It owns the configuration, logger,
// metrics and a list of cleanup functions called in reverse order on
// shutdown.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	sink     metrics.Sink
	registry *metrics.Registry
	closers  []func()
}

// New creates an App. Metrics are collected into a Prometheus registry when
// monitoring.metrics is enabled.
func New(cfg *config.Config, logger *slog.Logger) *App {
	a := &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
		sink:   metrics.Nop(),
	}
	if cfg.Monitoring.Metrics.Enabled {
		a.registry = metrics.New("mevsim").WithRuntimeCollectors()
		a.sink = a.registry
	}
	return a
}

// stateHooks fans a state transition out to every registered listener.
type stateHooks []simulator.StateChange

func (h *stateHooks) fire(from, to domain.SimulationState, err error) {
	for _, fn := range *h {
		fn(from, to, err)
	}
}

// Run wires the backends, runs one simulation to completion and returns
// the error that ended it. Cancelling ctx stops the simulation gracefully.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Simulation.Mode),
		slog.Any("strategies", a.cfg.EnabledStrategies()),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if deps.LockManager != nil {
		unlock, err := deps.LockManager.Acquire(ctx, "run:"+a.cfg.Simulation.Mode, lockTTL)
		if err != nil {
			return fmt.Errorf("app: acquire run lock: %w", err)
		}
		a.closers = append(a.closers, unlock)
	}

	factory, err := NewFactory(a.logger, a.sink)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	var hooks stateHooks
	var viz simulator.StatsSink
	sim := simulator.New(a.cfg, simulator.Options{
		Factory: factory,
		Wire: func(ctx context.Context, cfg *config.Config) (simulator.Collaborators, error) {
			return a.wiring(deps, viz)(ctx, cfg)
		},
		Logger:        a.logger,
		Sink:          a.sink,
		OnStateChange: hooks.fire,
	})

	notifier := notify.FromConfig(a.cfg.Notify, a.logger)
	if notifier != nil {
		hooks = append(hooks, notifier.StateHook(sim.RunID()))
		a.closers = append(a.closers, notifier.Wait)
	}

	var hub *ws.Hub
	if a.cfg.Server.Enabled {
		var sub feed.Subscriber
		if deps.Bus != nil {
			sub = deps.Bus
		}
		hub = ws.NewHub(sim, sub, a.logger)
		hooks = append(hooks, hub.BroadcastState)
		viz = hub
	}

	g, gctx := errgroup.WithContext(ctx)
	srvCtx, stopServers := context.WithCancel(gctx)

	if hub != nil {
		g.Go(func() error {
			if err := hub.Run(srvCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		a.serve(srvCtx, g, "api", server.NewServer(a.serverConfig(deps), server.Handlers{
			Health:     handler.NewHealthHandler(sim),
			Simulation: handler.NewSimulationHandler(sim, a.logger),
			Hub:        hub,
			Metrics:    a.metricsHandler(),
		}, a.logger))
	} else if h := a.metricsHandler(); h != nil {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", h)
		a.serve(srvCtx, g, "metrics", &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Monitoring.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}
	if a.cfg.Simulation.EnableProfiling {
		a.serve(srvCtx, g, "pprof", &http.Server{
			Addr:              profilingAddr,
			Handler:           profilingMux(),
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	g.Go(func() error {
		defer stopServers()
		return a.simulate(gctx, sim, deps)
	})
	return g.Wait()
}

// simulate initializes, runs and finalizes one simulation.
func (a *App) simulate(ctx context.Context, sim *simulator.Simulator, deps *Dependencies) error {
	if err := sim.Initialize(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if path := a.cfg.Simulation.LoadState; path != "" {
		if err := sim.LoadState(ctx, path); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}
	if deps.RunStore != nil {
		err := deps.RunStore.CreateRun(ctx, domain.RunRecord{
			ID:        sim.RunID(),
			Mode:      a.cfg.Simulation.Mode,
			State:     domain.StateRunning.String(),
			StartedAt: time.Now().UTC(),
		})
		if err != nil {
			a.logger.WarnContext(ctx, "run record not stored", slog.String("error", err.Error()))
		}
	}

	if err := sim.Start(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	runErr := sim.WaitForCompletion(context.WithoutCancel(ctx))

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	a.finalize(fctx, sim, deps)
	if err := sim.Shutdown(fctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// finalize exports results, saves state, archives executions and closes the
// run record. Failures are logged; the run's outcome is already decided.
func (a *App) finalize(ctx context.Context, sim *simulator.Simulator, deps *Dependencies) {
	runID := sim.RunID()
	snap := sim.Snapshot()
	a.logger.InfoContext(ctx, "simulation finished",
		slog.String("run_id", runID),
		slog.String("state", sim.State().String()),
		slog.Uint64("blocks", snap.Simulation.BlocksProcessed),
		slog.Float64("profit_eth", snap.Simulation.TotalProfitETH),
	)

	if formats := a.cfg.Simulation.ExportFormats; len(formats) > 0 {
		if _, err := sim.ExportResults(ctx, formats); err != nil {
			a.logger.ErrorContext(ctx, "export failed", slog.String("error", err.Error()))
		}
	}
	if path := a.cfg.Simulation.StateFile; path != "" {
		if err := sim.SaveState(ctx, path); err != nil {
			a.logger.ErrorContext(ctx, "save state failed", slog.String("error", err.Error()))
		}
	}
	if deps.Archiver != nil {
		n, err := deps.Archiver.ArchiveRun(ctx, runID)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive failed", slog.String("error", err.Error()))
		} else {
			a.logger.InfoContext(ctx, "executions archived", slog.Int("count", n))
		}
	}
	if deps.RunStore != nil {
		if err := deps.RunStore.SaveSnapshot(ctx, snap); err != nil {
			a.logger.WarnContext(ctx, "final snapshot not stored", slog.String("error", err.Error()))
		}
		if err := deps.RunStore.FinishRun(ctx, runID, sim.State().String(), time.Now().UTC()); err != nil {
			a.logger.WarnContext(ctx, "run record not closed", slog.String("error", err.Error()))
		}
	}
}

// httpServer is satisfied by *http.Server and *server.Server.
type httpServer interface {
	Shutdown(ctx context.Context) error
}

// serve runs srv in g and shuts it down when ctx is done.
func (a *App) serve(ctx context.Context, g *errgroup.Group, name string, srv httpServer) {
	g.Go(func() error {
		var err error
		switch s := srv.(type) {
		case *server.Server:
			err = s.Start()
		case *http.Server:
			a.logger.InfoContext(ctx, "listening", slog.String("server", name), slog.String("addr", s.Addr))
			if err = s.ListenAndServe(); errors.Is(err, http.ErrServerClosed) {
				err = nil
			}
		}
		if err != nil {
			return fmt.Errorf("app: %s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}

func (a *App) serverConfig(deps *Dependencies) server.Config {
	cfg := server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}
	if rl := a.cfg.Security.RateLimiting; rl.Enabled && deps.RateLimiter != nil {
		cfg.RateLimit = server.RateLimit{
			Limiter: deps.RateLimiter,
			Limit:   rl.RequestsPerSecond + rl.BurstSize,
			Window:  time.Second,
		}
	}
	return cfg
}

func (a *App) metricsHandler() http.Handler {
	if a.registry == nil {
		return nil
	}
	return a.registry.Handler()
}

func profilingMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

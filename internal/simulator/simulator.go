// Package simulator drives the strategy engine against a stream of blocks.
//
// A Simulator owns its collaborators (block source, blockchain interface,
// pool and price sources, statistics sinks) and runs three long-lived
// tasks: the main loop that processes one block per tick, the statistics
// loop that publishes snapshots and runs the self-tuning hooks, and an
// optional visualization loop. Lifecycle follows
//
//	Initializing -> Running <-> Paused -> Stopping -> Stopped
//
// with any state able to fall into Error, from which only Initialize
// recovers.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/mevsim/internal/config"
	"github.com/alanyoungcy/mevsim/internal/domain"
	"github.com/alanyoungcy/mevsim/internal/executor"
	"github.com/alanyoungcy/mevsim/internal/metrics"
	"github.com/alanyoungcy/mevsim/internal/strategy"
)

// PoolSource supplies the pool set a tick is evaluated against.
type PoolSource interface {
	Pools(ctx context.Context) ([]domain.TokenPair, error)
}

// StatsSink receives statistics snapshots.
type StatsSink interface {
	PublishStats(ctx context.Context, snap domain.StatsSnapshot) error
}

// ExecutionSink receives one record per executed opportunity.
type ExecutionSink interface {
	RecordExecution(ctx context.Context, rec domain.ExecutionRecord) error
}

// Collaborators are the external dependencies of one simulation run.
// Source and Chain are required; the rest are optional.
type Collaborators struct {
	Source     domain.BlockSource
	Chain      domain.BlockchainInterface
	Pools      PoolSource
	PriceFeed  domain.PriceFeed
	Stats      []StatsSink
	Visualizer StatsSink
	Executions []ExecutionSink
	Blobs      domain.BlobWriter
	BlobReader domain.BlobReader
	// Close releases connections opened by the wiring.
	Close func()
}

// Wiring builds the collaborators for cfg. It runs on every Initialize.
type Wiring func(ctx context.Context, cfg *config.Config) (Collaborators, error)

// StateChange is called after every state transition. err is set for
// transitions into StateError.
type StateChange func(from, to domain.SimulationState, err error)

// Options configure a Simulator.
type Options struct {
	Factory       *strategy.Factory
	Wire          Wiring
	Logger        *slog.Logger
	Sink          metrics.Sink
	OnStateChange StateChange
}

type transition struct {
	from, to domain.SimulationState
	err      error
}

// poolConsumer is implemented by strategies that track pool reserves.
type poolConsumer interface {
	UpdateTokenPairs(pairs []domain.TokenPair)
}

// priceConsumer is implemented by strategies that read a price feed.
type priceConsumer interface {
	SetPriceFeed(feed domain.PriceFeed)
}

// Simulator orchestrates one simulation run.
type Simulator struct {
	opts   Options
	logger *slog.Logger
	runID  string

	mu        sync.Mutex
	cfg       *config.Config
	state     domain.SimulationState
	collab    Collaborators
	engine    *strategy.Engine
	submitter *executor.Submitter
	done      chan struct{}
	lastErr   error
	stopWatch func() bool
	pending   []transition

	pauseReq atomic.Bool
	stopReq  atomic.Bool
	wake     chan struct{}

	// Main loop only.
	recoveryFailures int

	statsMu sync.Mutex
	stats   domain.SimulationStats

	m simMetrics
}

type simMetrics struct {
	state       metrics.Gauge
	blocks      metrics.Counter
	txs         metrics.Counter
	errors      metrics.Counter
	recoveries  metrics.Counter
	profit      metrics.Counter
	tickLatency metrics.Histogram
	concurrency metrics.Gauge
	heap        metrics.Gauge
}

// New creates a Simulator in the Initializing state. Initialize must be
// called before Start.
func New(cfg *config.Config, opts Options) *Simulator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sink == nil {
		opts.Sink = metrics.Nop()
	}
	sink := opts.Sink
	return &Simulator{
		opts:   opts,
		logger: opts.Logger.With(slog.String("component", "simulator")),
		runID:  uuid.NewString(),
		cfg:    cfg,
		state:  domain.StateInitializing,
		wake:   make(chan struct{}, 1),
		m: simMetrics{
			state:       sink.Gauge("simulation_state", "Current simulation state as its enum value.", nil),
			blocks:      sink.Counter("blocks_processed_total", "Blocks processed by the main loop.", nil),
			txs:         sink.Counter("transactions_processed_total", "Pending transactions observed.", nil),
			errors:      sink.Counter("simulation_errors_total", "Errors caught at the tick boundary.", nil),
			recoveries:  sink.Counter("simulation_recovery_failures_total", "Failed recovery attempts.", nil),
			profit:      sink.Counter("realized_profit_eth_total", "Net profit of included bundles.", nil),
			tickLatency: sink.Histogram("tick_latency_seconds", "End-to-end latency of one tick.", nil, nil),
			concurrency: sink.Gauge("engine_concurrency", "Detection fan-out limit.", nil),
			heap:        sink.Gauge("heap_alloc_bytes", "Heap bytes in use at the last memory check.", nil),
		},
	}
}

// RunID identifies this simulator's run in exports and stores.
func (s *Simulator) RunID() string { return s.runID }

// Initialize validates the configuration, wires the collaborators and
// builds every enabled strategy. It is legal before the first Start, after
// Stop has completed, and from Error.
func (s *Simulator) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()

	switch s.state {
	case domain.StateInitializing, domain.StateStopped, domain.StateError:
	default:
		return fmt.Errorf("simulator: initialize while %s: %w", s.state, domain.ErrInvalidState)
	}
	if s.opts.Factory == nil || s.opts.Wire == nil {
		return fmt.Errorf("simulator: %w: factory and wiring are required", domain.ErrConfiguration)
	}
	if err := s.cfg.Validate(); err != nil {
		return fmt.Errorf("simulator: initialize: %w", err)
	}

	s.teardownLocked(ctx)

	collab, err := s.opts.Wire(ctx, s.cfg)
	if err != nil {
		return fmt.Errorf("simulator: wire collaborators: %w", err)
	}
	if collab.Source == nil || collab.Chain == nil {
		closeCollaborators(collab)
		return fmt.Errorf("simulator: %w: block source and blockchain interface are required", domain.ErrConfiguration)
	}

	built, err := s.opts.Factory.BuildEnabled(ctx, s.cfg)
	if err != nil {
		closeCollaborators(collab)
		return fmt.Errorf("simulator: build strategies: %w", err)
	}
	registry := strategy.NewRegistry()
	for _, st := range built {
		if err := registry.Register(st); err != nil {
			closeCollaborators(collab)
			return fmt.Errorf("simulator: %w: %w", domain.ErrConfiguration, err)
		}
		if pc, ok := st.(priceConsumer); ok && collab.PriceFeed != nil {
			pc.SetPriceFeed(collab.PriceFeed)
		}
	}

	s.collab = collab
	s.engine = strategy.NewEngine(registry, s.cfg.Performance.ThreadPoolSize, s.opts.Logger, s.opts.Sink)
	s.submitter = executor.NewSubmitter(collab.Chain,
		time.Duration(s.cfg.Trading.Bundle.TimeoutMs)*time.Millisecond,
		2*s.cfg.TickInterval(),
		s.opts.Logger, s.opts.Sink)
	s.recoveryFailures = 0
	s.lastErr = nil
	s.m.concurrency.Set(float64(s.engine.Concurrency()))

	prev := s.state
	s.state = domain.StateInitializing
	s.notifyLocked(prev, domain.StateInitializing, nil)

	s.logger.InfoContext(ctx, "simulator initialized",
		slog.String("run_id", s.runID),
		slog.String("mode", s.cfg.Simulation.Mode),
		slog.Any("strategies", registry.List()),
		slog.Int("concurrency", s.engine.Concurrency()),
	)
	return nil
}

// teardownLocked releases the previous run's strategies and collaborators.
func (s *Simulator) teardownLocked(ctx context.Context) {
	if s.engine != nil {
		if err := s.engine.Shutdown(ctx); err != nil {
			s.logger.WarnContext(ctx, "strategy shutdown failed", slog.String("error", err.Error()))
		}
		s.engine = nil
	}
	closeCollaborators(s.collab)
	s.collab = Collaborators{}
}

func closeCollaborators(c Collaborators) {
	if c.Close != nil {
		c.Close()
	}
}

// Start spawns the main, statistics and (if enabled) visualization loops.
// It is a no-op when already running or paused. Cancelling ctx stops the
// simulator cooperatively.
func (s *Simulator) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()

	switch s.state {
	case domain.StateRunning, domain.StatePaused:
		return nil
	case domain.StateInitializing, domain.StateStopped:
	default:
		return fmt.Errorf("simulator: start while %s: %w", s.state, domain.ErrInvalidState)
	}
	if s.engine == nil {
		return fmt.Errorf("simulator: start before initialize: %w", domain.ErrInvalidState)
	}

	s.pauseReq.Store(false)
	s.stopReq.Store(false)
	s.drainWake()
	s.done = make(chan struct{})

	s.statsMu.Lock()
	if s.stats.StartTime.IsZero() {
		s.stats.StartTime = time.Now().UTC()
	}
	s.statsMu.Unlock()

	prev := s.state
	s.state = domain.StateRunning
	s.notifyLocked(prev, domain.StateRunning, nil)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.stopWatch = context.AfterFunc(ctx, func() { _ = s.Stop() })

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		s.mainLoop(runCtx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.statsLoop(runCtx)
	}()
	if s.cfg.Simulation.EnableVisualization && s.collab.Visualizer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.visualizationLoop(runCtx)
		}()
	}

	done := s.done
	go func() {
		wg.Wait()
		s.finish()
		close(done)
	}()

	s.logger.InfoContext(ctx, "simulation started",
		slog.String("run_id", s.runID),
		slog.Duration("tick_interval", s.cfg.TickInterval()),
	)
	return nil
}

// finish runs once every task has exited.
func (s *Simulator) finish() {
	s.mu.Lock()
	defer s.unlock()
	if s.stopWatch != nil {
		s.stopWatch()
		s.stopWatch = nil
	}
	if s.state == domain.StateError {
		return
	}
	prev := s.state
	s.state = domain.StateStopped
	s.notifyLocked(prev, domain.StateStopped, nil)
	s.logger.Info("simulation stopped", slog.String("run_id", s.runID))
}

// Stop asks the main loop to exit at the next tick boundary. In-flight
// detections and executions complete. Stop is idempotent.
func (s *Simulator) Stop() error {
	s.mu.Lock()
	defer s.unlock()

	switch s.state {
	case domain.StateRunning, domain.StatePaused:
		prev := s.state
		s.state = domain.StateStopping
		s.notifyLocked(prev, domain.StateStopping, nil)
	case domain.StateInitializing:
		s.state = domain.StateStopped
		s.notifyLocked(domain.StateInitializing, domain.StateStopped, nil)
		return nil
	default:
		return nil
	}
	s.stopReq.Store(true)
	s.signal()
	return nil
}

// Pause asks the main loop to stop taking ticks. The state becomes Paused
// once the loop reaches a tick boundary.
func (s *Simulator) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case domain.StateRunning, domain.StatePaused:
		s.pauseReq.Store(true)
		return nil
	default:
		return fmt.Errorf("simulator: pause while %s: %w", s.state, domain.ErrInvalidState)
	}
}

// Resume clears a pause request.
func (s *Simulator) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case domain.StateRunning, domain.StatePaused:
		s.pauseReq.Store(false)
		s.signal()
		return nil
	default:
		return fmt.Errorf("simulator: resume while %s: %w", s.state, domain.ErrInvalidState)
	}
}

// WaitForCompletion blocks until every task started by Start has exited or
// ctx is done. It returns the unrecoverable error that ended the run, if
// any.
func (s *Simulator) WaitForCompletion(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// State returns the current lifecycle state.
func (s *Simulator) State() domain.SimulationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Simulator) IsRunning() bool { return s.State() == domain.StateRunning }

func (s *Simulator) IsPaused() bool { return s.State() == domain.StatePaused }

// Err returns the error that moved the simulator into StateError.
func (s *Simulator) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Config returns the active configuration.
func (s *Simulator) Config() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Engine returns the strategy engine built by Initialize, or nil.
func (s *Simulator) Engine() *strategy.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// Stats returns a copy of the aggregated simulation statistics.
func (s *Simulator) Stats() domain.SimulationStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// Snapshot copies the simulation and per-strategy statistics.
func (s *Simulator) Snapshot() domain.StatsSnapshot {
	snap := domain.StatsSnapshot{
		RunID:      s.runID,
		Simulation: s.Stats(),
		Strategies: map[string]domain.StrategyStats{},
		TakenAt:    time.Now().UTC(),
	}
	if e := s.Engine(); e != nil {
		snap.Strategies = e.StrategyStats()
	}
	return snap
}

// ResetStats zeroes simulation and strategy statistics. A running
// simulation restarts its throughput clock.
func (s *Simulator) ResetStats() {
	running := s.State() == domain.StateRunning
	s.statsMu.Lock()
	s.stats = domain.SimulationStats{}
	if running {
		s.stats.StartTime = time.Now().UTC()
	}
	s.statsMu.Unlock()
	if e := s.Engine(); e != nil {
		e.ResetStats()
	}
}

// UpdateConfig validates cfg and applies it to the running simulation:
// strategy settings and enablement, detection concurrency and cadence.
// Strategies that were not built at Initialize are not added.
func (s *Simulator) UpdateConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("simulator: update config: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if s.engine == nil {
		return nil
	}
	for _, st := range s.engine.Registry().All() {
		sc, ok := cfg.Strategies[st.Name()]
		if !ok {
			st.SetEnabled(false)
			continue
		}
		st.UpdateConfig(sc)
		st.SetEnabled(sc.Enabled)
	}
	s.engine.SetConcurrency(cfg.Performance.ThreadPoolSize)
	s.m.concurrency.Set(float64(s.engine.Concurrency()))
	s.logger.Info("configuration updated")
	return nil
}

// Shutdown stops the simulation, waits for it and releases collaborators.
func (s *Simulator) Shutdown(ctx context.Context) error {
	_ = s.Stop()
	err := s.WaitForCompletion(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked(ctx)
	return err
}

// fail moves the simulator into StateError.
func (s *Simulator) fail(err error) {
	s.mu.Lock()
	defer s.unlock()
	s.lastErr = fmt.Errorf("simulator: %w: %w", domain.ErrUnrecoverable, err)
	prev := s.state
	s.state = domain.StateError
	s.notifyLocked(prev, domain.StateError, s.lastErr)
}

// setState moves between states the main loop owns.
func (s *Simulator) setState(from, to domain.SimulationState) bool {
	s.mu.Lock()
	defer s.unlock()
	if s.state != from {
		return false
	}
	s.state = to
	s.notifyLocked(from, to, nil)
	return true
}

func (s *Simulator) notifyLocked(from, to domain.SimulationState, err error) {
	s.m.state.Set(float64(to))
	if from != to {
		s.pending = append(s.pending, transition{from: from, to: to, err: err})
	}
}

// unlock releases s.mu and then delivers queued state changes, so the hook
// may call back into the simulator.
func (s *Simulator) unlock() {
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	if s.opts.OnStateChange == nil {
		return
	}
	for _, t := range pending {
		s.opts.OnStateChange(t.from, t.to, t.err)
	}
}

// signal wakes the main loop from a cadence sleep or pause wait.
func (s *Simulator) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Simulator) drainWake() {
	select {
	case <-s.wake:
	default:
	}
}

func (s *Simulator) tickInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.TickInterval()
}

package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/mevsim/internal/domain"
	"github.com/alanyoungcy/mevsim/internal/metrics"
)

// defaultStrategyTimeout bounds a strategy whose config has no
// bundle_timeout_ms.
const defaultStrategyTimeout = time.Second

// Execution is one executed opportunity and the bundle it produced.
type Execution struct {
	Opportunity domain.Opportunity
	Result      domain.StrategyResult
	Bundle      *domain.Bundle
	Latency     time.Duration
}

// TickReport summarizes one engine pass.
type TickReport struct {
	BlockNumber      uint64
	StrategiesRun    int
	Detected         []domain.Opportunity
	Rejected         map[string]domain.StrategyResult // opportunity id -> reason
	Selected         []domain.Opportunity
	Executions       []Execution
	TimedOut         []string
	Failed           []string
	Skipped          []string // strategies still busy from an earlier tick
	DetectionLatency time.Duration
	BuildLatency     time.Duration
}

// Bundles returns the bundles of successful executions in execution order.
func (r TickReport) Bundles() []*domain.Bundle {
	var out []*domain.Bundle
	for _, ex := range r.Executions {
		if ex.Result.IsSuccess() && ex.Bundle != nil {
			out = append(out, ex.Bundle)
		}
	}
	return out
}

// Engine fans a StrategyContext out to every enabled strategy, orders the
// resulting opportunities by net profit and executes the winners.
type Engine struct {
	registry *Registry
	logger   *slog.Logger

	concurrency atomic.Int64

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	ticks      metrics.Counter
	timeouts   metrics.Counter
	rejections metrics.Counter
	detectHist metrics.Histogram
}

// NewEngine creates an Engine over registry. concurrency bounds how many
// strategies detect in parallel; values below 1 mean 1.
func NewEngine(registry *Registry, concurrency int, logger *slog.Logger, sink metrics.Sink) *Engine {
	if sink == nil {
		sink = metrics.Nop()
	}
	e := &Engine{
		registry:   registry,
		logger:     logger.With(slog.String("component", "strategy_engine")),
		locks:      make(map[string]*sync.Mutex),
		ticks:      sink.Counter("engine_ticks_total", "Engine passes.", nil),
		timeouts:   sink.Counter("engine_strategy_timeouts_total", "Strategies that exceeded their time budget.", nil),
		rejections: sink.Counter("engine_rejected_opportunities_total", "Opportunities rejected by validation.", nil),
		detectHist: sink.Histogram("engine_detection_latency_seconds", "Wall time of the detection fan-out.", nil, nil),
	}
	e.SetConcurrency(concurrency)
	return e
}

// Registry returns the engine's strategy registry.
func (e *Engine) Registry() *Registry { return e.registry }

// SetConcurrency changes the detection fan-out bound.
func (e *Engine) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	e.concurrency.Store(int64(n))
}

// Concurrency returns the current detection fan-out bound.
func (e *Engine) Concurrency() int { return int(e.concurrency.Load()) }

// StrategyStats returns a snapshot of every registered strategy's stats.
func (e *Engine) StrategyStats() map[string]domain.StrategyStats {
	out := make(map[string]domain.StrategyStats)
	for _, s := range e.registry.All() {
		out[s.Name()] = s.Stats()
	}
	return out
}

// ResetStats clears the statistics of every registered strategy.
func (e *Engine) ResetStats() {
	for _, s := range e.registry.All() {
		s.ResetStats()
	}
}

// Shutdown calls Shutdown on every registered strategy.
func (e *Engine) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, s := range e.registry.All() {
		if err := s.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("strategy %s shutdown: %w", s.Name(), err)
		}
	}
	return firstErr
}

func (e *Engine) lockFor(name string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[name]
	if !ok {
		l = &sync.Mutex{}
		e.locks[name] = l
	}
	return l
}

type detection struct {
	strategy Strategy
	opp      *domain.Opportunity
	err      error
	latency  time.Duration
	timedOut bool
	skipped  bool
}

// Process runs one engine pass over sc. Strategy failures never abort the
// pass; they are recorded in the report. Process returns an error only
// when ctx is cancelled.
func (e *Engine) Process(ctx context.Context, sc *domain.StrategyContext) (TickReport, error) {
	report := TickReport{
		BlockNumber: sc.BlockNumber,
		Rejected:    make(map[string]domain.StrategyResult),
	}
	e.ticks.Inc()

	strategies := e.registry.Enabled()
	report.StrategiesRun = len(strategies)
	if len(strategies) == 0 {
		return report, nil
	}

	detectStart := time.Now()
	results := make([]detection, len(strategies))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Concurrency())
	for i, s := range strategies {
		g.Go(func() error {
			results[i] = e.detect(gctx, s, sc)
			return nil
		})
	}
	_ = g.Wait()
	report.DetectionLatency = time.Since(detectStart)
	e.detectHist.Observe(report.DetectionLatency.Seconds())

	if err := ctx.Err(); err != nil {
		return report, err
	}

	byName := make(map[string]Strategy, len(strategies))
	var candidates []domain.Opportunity
	for _, d := range results {
		name := d.strategy.Name()
		byName[name] = d.strategy
		switch {
		case d.skipped:
			report.Skipped = append(report.Skipped, name)
		case d.timedOut:
			report.TimedOut = append(report.TimedOut, name)
			e.timeouts.Inc()
			e.logger.WarnContext(ctx, "strategy detection timed out",
				slog.String("strategy", name),
				slog.Uint64("block", sc.BlockNumber),
			)
		case d.err != nil:
			report.Failed = append(report.Failed, name)
			e.logger.WarnContext(ctx, "strategy detection failed",
				slog.String("strategy", name),
				slog.String("error", d.err.Error()),
			)
		case d.opp != nil:
			d.strategy.RecordDetection(d.latency)
			report.Detected = append(report.Detected, *d.opp)
			if verdict := d.strategy.ValidateOpportunity(*d.opp); verdict != domain.ResultSuccess {
				report.Rejected[d.opp.ID] = verdict
				d.strategy.RecordOutcome(*d.opp, verdict, 0)
				e.rejections.Inc()
				continue
			}
			candidates = append(candidates, *d.opp)
		}
	}

	SortOpportunities(candidates)
	report.Selected = SelectNonOverlapping(candidates)

	buildStart := time.Now()
	for _, opp := range report.Selected {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Executions = append(report.Executions, e.execute(ctx, byName[opp.StrategyName], opp, sc.BlockNumber))
	}
	report.BuildLatency = time.Since(buildStart)

	return report, nil
}

// detect runs one strategy's detection under its time budget. A detection
// that overruns keeps the strategy locked until it returns, so the strategy
// is skipped by later ticks rather than run concurrently with itself.
func (e *Engine) detect(ctx context.Context, s Strategy, sc *domain.StrategyContext) detection {
	lock := e.lockFor(s.Name())
	if !lock.TryLock() {
		return detection{strategy: s, skipped: true}
	}

	dctx, cancel := context.WithTimeout(ctx, budget(s))
	defer cancel()
	done := make(chan detection, 1)
	start := time.Now()
	go func() {
		d := safeDetect(dctx, s, sc)
		d.latency = time.Since(start)
		lock.Unlock()
		done <- d
	}()

	select {
	case d := <-done:
		return d
	case <-dctx.Done():
		return detection{strategy: s, timedOut: true, latency: time.Since(start)}
	}
}

func safeDetect(ctx context.Context, s Strategy, sc *domain.StrategyContext) (d detection) {
	d.strategy = s
	defer func() {
		if r := recover(); r != nil {
			d.opp = nil
			d.err = fmt.Errorf("panic in detect: %v", r)
		}
	}()
	d.opp, d.err = s.Detect(ctx, sc)
	return d
}

// execute runs Execute on a private bundle under the strategy's time budget
// and records the terminal result. The bundle is only kept when the
// strategy finishes in time.
func (e *Engine) execute(ctx context.Context, s Strategy, opp domain.Opportunity, block uint64) Execution {
	if s == nil {
		return Execution{Opportunity: opp, Result: domain.ResultError}
	}
	lock := e.lockFor(s.Name())
	lock.Lock()

	ectx, cancel := context.WithTimeout(ctx, budget(s))
	defer cancel()
	done := make(chan Execution, 1)
	start := time.Now()
	go func() {
		ex := e.safeExecute(ectx, s, opp, block)
		lock.Unlock()
		done <- ex
	}()

	var ex Execution
	select {
	case ex = <-done:
	case <-ectx.Done():
		ex = Execution{Opportunity: opp, Result: domain.ResultTimeout}
		e.timeouts.Inc()
	}
	ex.Latency = time.Since(start)
	s.RecordOutcome(opp, ex.Result, ex.Latency)
	return ex
}

func (e *Engine) safeExecute(ctx context.Context, s Strategy, opp domain.Opportunity, block uint64) (ex Execution) {
	ex = Execution{Opportunity: opp, Result: domain.ResultError}
	defer func() {
		if r := recover(); r != nil {
			ex.Result = domain.ResultError
			ex.Bundle = nil
			e.logger.Error("panic in execute",
				slog.String("strategy", s.Name()),
				slog.Any("panic", r),
			)
		}
	}()

	bundle := domain.NewBundle(block)
	bundle.OpportunityIDs = []string{opp.ID}
	ex.Result = s.Execute(ctx, opp, bundle)
	if !ex.Result.IsSuccess() {
		return ex
	}
	if err := s.ValidateBundle(bundle); err != nil {
		e.logger.Warn("bundle rejected",
			slog.String("strategy", s.Name()),
			slog.String("error", err.Error()),
		)
		ex.Result = domain.ResultFailed
		return ex
	}
	ex.Bundle = bundle
	return ex
}

func budget(s Strategy) time.Duration {
	if d := s.Config().BundleTimeout(); d > 0 {
		return d
	}
	return defaultStrategyTimeout
}

// SortOpportunities orders opps by net profit descending, then by earlier
// detection time, then by id.
func SortOpportunities(opps []domain.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		a, b := opps[i], opps[j]
		if a.NetProfitETH != b.NetProfitETH {
			return a.NetProfitETH > b.NetProfitETH
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.ID < b.ID
	})
}

// SelectNonOverlapping walks sorted opportunities and keeps the first one
// plus every later one whose target set is disjoint from all kept ones.
func SelectNonOverlapping(sorted []domain.Opportunity) []domain.Opportunity {
	var picked []domain.Opportunity
	for _, opp := range sorted {
		clash := false
		for _, p := range picked {
			if opp.Overlaps(p) {
				clash = true
				break
			}
		}
		if !clash {
			picked = append(picked, opp)
		}
	}
	return picked
}

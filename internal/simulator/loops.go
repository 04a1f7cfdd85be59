package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/mevsim/internal/domain"
	"github.com/alanyoungcy/mevsim/internal/feed"
	"github.com/alanyoungcy/mevsim/internal/strategy"
)

const (
	defaultStatsInterval = 10 * time.Second
	sinkTimeout          = 5 * time.Second
)

// mainLoop processes one block per tick until stopped, the source is
// exhausted, or recovery gives up.
func (s *Simulator) mainLoop(ctx context.Context) {
	s.logger.Info("main loop started")
	defer s.logger.Info("main loop stopped")

	for {
		if s.stopReq.Load() {
			return
		}
		if s.pauseReq.Load() {
			if s.setState(domain.StateRunning, domain.StatePaused) {
				s.logger.Info("simulation paused")
			}
			select {
			case <-s.wake:
			case <-ctx.Done():
				return
			}
			continue
		}
		if s.setState(domain.StatePaused, domain.StateRunning) {
			s.logger.Info("simulation resumed")
		}

		start := time.Now()
		err := s.processTick(ctx)
		s.m.tickLatency.Observe(time.Since(start).Seconds())

		switch {
		case err == nil:
		case errors.Is(err, domain.ErrSourceExhausted):
			s.logger.Info("block source exhausted")
			_ = s.Stop()
			return
		case ctx.Err() != nil:
			return
		default:
			if !s.handleError(ctx, err) {
				return
			}
		}
		s.sleepUntilNextTick(ctx, start)
	}
}

// sleepUntilNextTick waits out the rest of the tick cadence. Stop, Resume
// and cancellation cut the wait short.
func (s *Simulator) sleepUntilNextTick(ctx context.Context, tickStart time.Time) {
	wait := s.tickInterval() - time.Since(tickStart)
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.wake:
	case <-ctx.Done():
	}
}

// processTick pulls the next block, runs the engine over it, submits the
// resulting bundles and folds everything into the statistics.
func (s *Simulator) processTick(ctx context.Context) error {
	s.mu.Lock()
	collab, engine, submitter := s.collab, s.engine, s.submitter
	s.mu.Unlock()

	fetchStart := time.Now()
	tick, err := collab.Source.Next(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrSourceExhausted) {
			return err
		}
		return fmt.Errorf("simulator: next block: %w", err)
	}
	mempoolLatency := time.Since(fetchStart)

	sc, err := s.buildContext(ctx, collab, engine, tick)
	if err != nil {
		return err
	}

	report, err := engine.Process(ctx, sc)
	if err != nil {
		return fmt.Errorf("simulator: engine pass for block %d: %w", tick.BlockNumber, err)
	}

	var (
		submitErr         error
		submitted         uint64
		included          uint64
		profitETH         float64
		gasUsed           float64
		submissionLatency []time.Duration
		records           = make([]domain.ExecutionRecord, 0, len(report.Executions))
		executedAt        = time.Now().UTC()
	)
	for _, ex := range report.Executions {
		rec := domain.ExecutionRecord{
			RunID:       s.runID,
			Opportunity: ex.Opportunity,
			BlockNumber: tick.BlockNumber,
			Result:      ex.Result,
			ExecutedAt:  executedAt,
		}
		if ex.Result.IsSuccess() && ex.Bundle != nil {
			rec.BundleID = ex.Bundle.ID
			sub, err := submitter.Submit(ctx, ex.Bundle, ex.Opportunity.TargetTransactions)
			switch {
			case err != nil:
				submitErr = errors.Join(submitErr, err)
				rec.Reason = err.Error()
			case sub.Duplicate:
				rec.Reason = sub.Result.Reason
			default:
				submitted++
				submissionLatency = append(submissionLatency, sub.Latency)
				rec.Included = sub.Result.Included
				rec.Reason = sub.Result.Reason
				if sub.Result.Included {
					included++
					profitETH += ex.Opportunity.NetProfitETH
					gasUsed += float64(sub.Result.GasUsed)
				}
			}
		}
		records = append(records, rec)
	}

	s.statsMu.Lock()
	st := &s.stats
	st.BlocksProcessed++
	st.TransactionsProcessed += uint64(len(tick.Transactions))
	st.StrategiesExecuted += uint64(report.StrategiesRun)
	st.ProfitableOpportunities += uint64(profitableCount(report))
	st.BundlesSubmitted += submitted
	st.BundlesIncluded += included
	st.TotalProfitETH += profitETH
	st.TotalGasUsed += gasUsed
	st.ObserveTickLatencies(micros(mempoolLatency), micros(report.DetectionLatency), micros(report.BuildLatency))
	for _, l := range submissionLatency {
		st.ObserveSubmissionLatency(micros(l))
	}
	st.UpdateThroughput(time.Now().UTC())
	s.statsMu.Unlock()

	s.m.blocks.Inc()
	s.m.txs.Add(float64(len(tick.Transactions)))
	s.m.profit.Add(profitETH)

	s.recordExecutions(ctx, collab.Executions, records)

	s.logger.DebugContext(ctx, "tick processed",
		slog.Uint64("block", tick.BlockNumber),
		slog.Int("txs", len(tick.Transactions)),
		slog.Int("detected", len(report.Detected)),
		slog.Int("executed", len(report.Executions)),
		slog.Uint64("included", included),
	)
	if submitErr != nil {
		return fmt.Errorf("simulator: submit bundles for block %d: %w", tick.BlockNumber, submitErr)
	}
	return nil
}

// buildContext assembles the read-only snapshot every strategy sees this
// tick. Pool reserves are pushed into strategies that track them before
// the snapshot is shared.
func (s *Simulator) buildContext(ctx context.Context, collab Collaborators, engine *strategy.Engine, tick domain.BlockTick) (*domain.StrategyContext, error) {
	sc := &domain.StrategyContext{
		BlockNumber:         tick.BlockNumber,
		BlockTimestamp:      tick.Timestamp,
		CurrentGasPriceGwei: tick.GasPriceGwei,
		BaseFeeGwei:         tick.BaseFeeGwei,
		PriorityFeeGwei:     tick.PriorityFeeGwei,
		MempoolTransactions: make([]string, 0, len(tick.Transactions)),
		PendingTxs:          make(map[string]domain.PendingTx, len(tick.Transactions)),
		StartTime:           time.Now(),
	}
	for _, tx := range tick.Transactions {
		sc.MempoolTransactions = append(sc.MempoolTransactions, tx.Hash)
		sc.PendingTxs[tx.Hash] = tx
	}

	var pools []domain.TokenPair
	if collab.Pools != nil {
		var err error
		if pools, err = collab.Pools.Pools(ctx); err != nil {
			return nil, fmt.Errorf("simulator: pools for block %d: %w", tick.BlockNumber, err)
		}
		for _, st := range engine.Registry().All() {
			if pc, ok := st.(poolConsumer); ok {
				pc.UpdateTokenPairs(pools)
			}
		}
	}

	prices := map[string]float64{}
	if collab.PriceFeed != nil && len(pools) > 0 {
		p, err := collab.PriceFeed.GetTokenPrices(ctx, feed.Tokens(pools))
		if err != nil {
			s.logger.WarnContext(ctx, "token prices unavailable", slog.String("error", err.Error()))
		} else {
			prices = p
		}
	}
	sc.TokenPrices = prices
	sc.DexLiquidity = feed.Liquidity(pools, prices)
	sc.EndTime = time.Now()
	return sc, nil
}

// profitableCount counts detections that were profitable and passed
// validation.
func profitableCount(r strategy.TickReport) int {
	n := 0
	for _, opp := range r.Detected {
		if _, rejected := r.Rejected[opp.ID]; !rejected && opp.IsProfitable() {
			n++
		}
	}
	return n
}

func micros(d time.Duration) float64 { return float64(d) / float64(time.Microsecond) }

func (s *Simulator) recordExecutions(ctx context.Context, sinks []ExecutionSink, records []domain.ExecutionRecord) {
	if len(sinks) == 0 || len(records) == 0 {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()
	for _, sink := range sinks {
		for _, rec := range records {
			if err := sink.RecordExecution(cctx, rec); err != nil {
				s.logger.WarnContext(ctx, "execution record failed",
					slog.String("opportunity_id", rec.Opportunity.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// statsLoop publishes snapshots and runs the self-tuning hooks on the
// configured interval. A final snapshot is published on exit.
func (s *Simulator) statsLoop(ctx context.Context) {
	interval := s.Config().StatsInterval()
	if interval <= 0 {
		interval = defaultStatsInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.publishStats(context.WithoutCancel(ctx), s.collabStats())
			return
		case <-ticker.C:
			s.publishStats(ctx, s.collabStats())
			s.adjustThreadPoolSize()
			s.optimizePerformance()
			s.checkMemoryUsage()
		}
	}
}

// visualizationLoop pushes snapshots to the visualizer.
func (s *Simulator) visualizationLoop(ctx context.Context) {
	interval := s.Config().VisualizationInterval()
	if interval <= 0 {
		interval = time.Second
	}
	s.mu.Lock()
	viz := s.collab.Visualizer
	s.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publishStats(ctx, []StatsSink{viz})
		}
	}
}

func (s *Simulator) collabStats() []StatsSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collab.Stats
}

// publishStats copies the statistics once and hands the copy to every sink.
func (s *Simulator) publishStats(ctx context.Context, sinks []StatsSink) {
	if len(sinks) == 0 {
		return
	}
	snap := s.Snapshot()
	cctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()
	for _, sink := range sinks {
		if err := sink.PublishStats(cctx, snap); err != nil {
			s.logger.WarnContext(ctx, "stats publish failed", slog.String("error", err.Error()))
		}
	}
}

package simulator

import (
	"log/slog"
	"runtime"
	"runtime/debug"
	"time"
)

// adjustThreadPoolSize widens the detection fan-out by one while average
// detection latency is above target, up to the smaller of the configured
// pool size and the number of enabled strategies.
func (s *Simulator) adjustThreadPoolSize() {
	engine := s.Engine()
	if engine == nil {
		return
	}
	cfg := s.Config()
	stats := s.Stats()

	limit := min(cfg.Performance.ThreadPoolSize, max(1, len(engine.Registry().Enabled())))
	cur := engine.Concurrency()
	next := cur
	switch {
	case cur > limit:
		next = limit
	case stats.LatencySamples > 0 &&
		cfg.Performance.LatencyTargetUs > 0 &&
		stats.AvgStrategyDetectionLatencyUs > float64(cfg.Performance.LatencyTargetUs) &&
		cur < limit:
		next = cur + 1
	}
	if next == cur {
		return
	}
	engine.SetConcurrency(next)
	s.m.concurrency.Set(float64(next))
	s.logger.Info("detection concurrency adjusted",
		slog.Int("from", cur),
		slog.Int("to", next),
	)
}

// optimizePerformance expires stale dedup entries and warns when ticks take
// longer than the cadence allows.
func (s *Simulator) optimizePerformance() {
	s.mu.Lock()
	submitter := s.submitter
	s.mu.Unlock()
	if submitter != nil {
		submitter.Cleanup()
	}

	stats := s.Stats()
	busy := time.Duration((stats.AvgMempoolLatencyUs +
		stats.AvgStrategyDetectionLatencyUs +
		stats.AvgTransactionBuildLatencyUs +
		stats.AvgBundleSubmissionLatencyUs) * float64(time.Microsecond))
	if interval := s.tickInterval(); interval > 0 && busy > interval {
		s.logger.Warn("ticks are slower than the cadence",
			slog.Duration("avg_tick", busy),
			slog.Duration("tick_interval", interval),
		)
	}
}

// checkMemoryUsage records heap usage and frees transient state when the
// heap exceeds the configured limit.
func (s *Simulator) checkMemoryUsage() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.m.heap.Set(float64(ms.HeapAlloc))

	limitMB := s.Config().Performance.MemoryLimitMB
	if limitMB <= 0 || ms.HeapAlloc <= uint64(limitMB)<<20 {
		return
	}
	s.logger.Warn("memory limit exceeded, cleaning up",
		slog.Uint64("heap_alloc_mb", ms.HeapAlloc>>20),
		slog.Int("limit_mb", limitMB),
	)
	s.cleanupMemory()
}

func (s *Simulator) cleanupMemory() {
	s.mu.Lock()
	submitter := s.submitter
	s.mu.Unlock()
	if submitter != nil {
		submitter.Reset()
	}
	debug.FreeOSMemory()
}

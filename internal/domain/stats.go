package domain

import "time"

// RunningMean folds sample x into a mean that already covers n-1 samples.
func RunningMean(avg float64, n uint64, x float64) float64 {
	if n == 0 {
		return 0
	}
	return (avg*float64(n-1) + x) / float64(n)
}

// SimulationStats aggregates counters for a whole simulation run.
type SimulationStats struct {
	BlocksProcessed         uint64    `json:"blocks_processed"`
	TransactionsProcessed   uint64    `json:"transactions_processed"`
	StrategiesExecuted      uint64    `json:"strategies_executed"`
	ProfitableOpportunities uint64    `json:"profitable_opportunities"`
	BundlesSubmitted        uint64    `json:"bundles_submitted"`
	BundlesIncluded         uint64    `json:"bundles_included"`
	Errors                  uint64    `json:"errors"`
	TotalProfitETH          float64   `json:"total_profit_eth"`
	TotalGasUsed            float64   `json:"total_gas_used"`
	StartTime               time.Time `json:"start_time"`
	LastUpdate              time.Time `json:"last_update"`

	AvgMempoolLatencyUs           float64 `json:"avg_mempool_latency_us"`
	AvgStrategyDetectionLatencyUs float64 `json:"avg_strategy_detection_latency_us"`
	AvgTransactionBuildLatencyUs  float64 `json:"avg_transaction_build_latency_us"`
	AvgBundleSubmissionLatencyUs  float64 `json:"avg_bundle_submission_latency_us"`
	LatencySamples                uint64  `json:"latency_samples"`
	SubmissionSamples             uint64  `json:"submission_samples"`

	TxPerSecond            float64 `json:"tx_per_second"`
	StrategiesPerSecond    float64 `json:"strategies_per_second"`
	OpportunitiesPerSecond float64 `json:"opportunities_per_second"`
}

// ObserveTickLatencies folds one tick's mempool, detection and build
// latencies into the running averages.
func (s *SimulationStats) ObserveTickLatencies(mempoolUs, detectionUs, buildUs float64) {
	s.LatencySamples++
	n := s.LatencySamples
	s.AvgMempoolLatencyUs = RunningMean(s.AvgMempoolLatencyUs, n, mempoolUs)
	s.AvgStrategyDetectionLatencyUs = RunningMean(s.AvgStrategyDetectionLatencyUs, n, detectionUs)
	s.AvgTransactionBuildLatencyUs = RunningMean(s.AvgTransactionBuildLatencyUs, n, buildUs)
}

// ObserveSubmissionLatency folds one bundle submission latency.
func (s *SimulationStats) ObserveSubmissionLatency(us float64) {
	s.SubmissionSamples++
	s.AvgBundleSubmissionLatencyUs = RunningMean(s.AvgBundleSubmissionLatencyUs, s.SubmissionSamples, us)
}

// UpdateThroughput recomputes per-second rates over the run so far.
func (s *SimulationStats) UpdateThroughput(now time.Time) {
	s.LastUpdate = now
	if s.StartTime.IsZero() {
		return
	}
	elapsed := now.Sub(s.StartTime).Seconds()
	if elapsed <= 0 {
		return
	}
	s.TxPerSecond = float64(s.TransactionsProcessed) / elapsed
	s.StrategiesPerSecond = float64(s.StrategiesExecuted) / elapsed
	s.OpportunitiesPerSecond = float64(s.ProfitableOpportunities) / elapsed
}

// StrategyStats aggregates detection and execution outcomes for one
// strategy instance. Min fields are 0 until the first successful execution.
type StrategyStats struct {
	OpportunitiesDetected uint64  `json:"opportunities_detected"`
	OpportunitiesExecuted uint64  `json:"opportunities_executed"`
	SuccessfulExecutions  uint64  `json:"successful_executions"`
	FailedExecutions      uint64  `json:"failed_executions"`
	TotalProfitETH        float64 `json:"total_profit_eth"`
	TotalGasUsedETH       float64 `json:"total_gas_used_eth"`
	AvgExecutionTimeUs    float64 `json:"avg_execution_time_us"`
	SuccessRate           float64 `json:"success_rate"`

	AvgDetectionLatencyUs float64 `json:"avg_detection_latency_us"`
	AvgExecutionLatencyUs float64 `json:"avg_execution_latency_us"`
	MinExecutionLatencyUs float64 `json:"min_execution_latency_us"`
	MaxExecutionLatencyUs float64 `json:"max_execution_latency_us"`

	MinProfitETH float64 `json:"min_profit_eth"`
	MaxProfitETH float64 `json:"max_profit_eth"`
	AvgProfitETH float64 `json:"avg_profit_eth"`

	Outcomes map[string]uint64 `json:"outcomes,omitempty"`
}

// RecordDetection counts a detected opportunity and its detection latency.
func (s *StrategyStats) RecordDetection(latencyUs float64) {
	s.OpportunitiesDetected++
	s.AvgDetectionLatencyUs = RunningMean(s.AvgDetectionLatencyUs, s.OpportunitiesDetected, latencyUs)
}

// RecordOutcome folds one terminal execution result into the stats.
func (s *StrategyStats) RecordOutcome(result StrategyResult, profitETH, gasETH, executionUs float64) {
	s.OpportunitiesExecuted++
	if s.Outcomes == nil {
		s.Outcomes = make(map[string]uint64)
	}
	s.Outcomes[result.String()]++
	s.AvgExecutionTimeUs = RunningMean(s.AvgExecutionTimeUs, s.OpportunitiesExecuted, executionUs)

	if result.IsSuccess() {
		s.updateSuccess(profitETH, gasETH, executionUs)
	} else {
		s.FailedExecutions++
	}
	s.SuccessRate = float64(s.SuccessfulExecutions) / float64(s.OpportunitiesExecuted)
}

func (s *StrategyStats) updateSuccess(profitETH, gasETH, executionUs float64) {
	s.SuccessfulExecutions++
	n := s.SuccessfulExecutions
	s.TotalProfitETH += profitETH
	s.TotalGasUsedETH += gasETH
	s.AvgProfitETH = RunningMean(s.AvgProfitETH, n, profitETH)
	s.AvgExecutionLatencyUs = RunningMean(s.AvgExecutionLatencyUs, n, executionUs)

	if n == 1 {
		s.MinProfitETH, s.MaxProfitETH = profitETH, profitETH
		s.MinExecutionLatencyUs, s.MaxExecutionLatencyUs = executionUs, executionUs
		return
	}
	s.MinProfitETH = min(s.MinProfitETH, profitETH)
	s.MaxProfitETH = max(s.MaxProfitETH, profitETH)
	s.MinExecutionLatencyUs = min(s.MinExecutionLatencyUs, executionUs)
	s.MaxExecutionLatencyUs = max(s.MaxExecutionLatencyUs, executionUs)
}

// Clone returns a deep copy safe to hand to readers.
func (s StrategyStats) Clone() StrategyStats {
	out := s
	if s.Outcomes != nil {
		out.Outcomes = make(map[string]uint64, len(s.Outcomes))
		for k, v := range s.Outcomes {
			out.Outcomes[k] = v
		}
	}
	return out
}

package domain

// StrategyResult is the terminal outcome of one execution attempt.
type StrategyResult int

const (
	ResultSuccess StrategyResult = iota
	ResultFailed
	ResultNoOpportunity
	ResultInsufficientProfit
	ResultHighSlippage
	ResultGasTooHigh
	ResultTimeout
	ResultError
)

var resultNames = [...]string{
	ResultSuccess:            "success",
	ResultFailed:             "failed",
	ResultNoOpportunity:      "no_opportunity",
	ResultInsufficientProfit: "insufficient_profit",
	ResultHighSlippage:       "high_slippage",
	ResultGasTooHigh:         "gas_too_high",
	ResultTimeout:            "timeout",
	ResultError:              "error",
}

func (r StrategyResult) String() string {
	if r < 0 || int(r) >= len(resultNames) {
		return "unknown"
	}
	return resultNames[r]
}

// IsSuccess reports whether r is ResultSuccess.
func (r StrategyResult) IsSuccess() bool { return r == ResultSuccess }

// ParseStrategyResult is the inverse of String. Unknown names map to
// ResultError.
func ParseStrategyResult(s string) StrategyResult {
	for i, name := range resultNames {
		if name == s {
			return StrategyResult(i)
		}
	}
	return ResultError
}

package eval

// #region eval-config
// EvalConfig holds tolerances for result validation.
type EvalConfig struct {
	CostTolerance float64 // allowed cost increase between depths
}

func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		CostTolerance: 1e-6,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string
	Value float64
	Limit float64
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of validating one perimeter result.
type EvalResult struct {
	Passed  bool
	Metrics []EvalMetric
	Reason  string
}

// #endregion eval-result

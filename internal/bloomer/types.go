package bloomer

import (
	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/danielpatrickdp/grid-rao/internal/usagelimits"
)

// #region types
// Parent is the leaf a new depth grows from.
type Parent interface {
	ActivatedNetworkActions() []*crac.NetworkAction
	ActivatedRangeActions() []*crac.RangeAction
	MostLimitingElements(n int) []*crac.FlowCnec
	VirtualCostNames() []string
	// CostlyElements returns the CNECs behind a virtual cost. A negative n returns all.
	CostlyElements(virtualCost string, n int) []*crac.FlowCnec
	Setpoint(ra *crac.RangeAction) float64
}

// Candidate is a combination to evaluate at the next depth. When RemoveRangeActions
// is set, the parent's range actions must go back to their pre-perimeter setpoints
// before the combination fits within the usage limits.
type Candidate struct {
	Combination        crac.NetworkActionCombination
	RemoveRangeActions bool
}

// Config holds the pruning parameters of one perimeter.
type Config struct {
	UsageLimits             usagelimits.RaUsageLimits
	SkipFarFromMostLimiting bool
	MaxNumberOfBoundaries   int
}

// DefaultConfig prunes on nothing.
func DefaultConfig() Config {
	return Config{
		UsageLimits:           usagelimits.Default(),
		MaxNumberOfBoundaries: 2,
	}
}

// #endregion types

package treeparams

import (
	"math"

	"github.com/danielpatrickdp/grid-rao/internal/fillers"
	"github.com/danielpatrickdp/grid-rao/internal/linearproblem"
	"github.com/danielpatrickdp/grid-rao/internal/objective"
	"github.com/danielpatrickdp/grid-rao/internal/usagelimits"
)

// virtualCostTolerance is the virtual cost below which a leaf counts as free of penalties.
const virtualCostTolerance = 1e-6

// #region search-tree-parameters
// SearchTreeParameters is the immutable configuration of one perimeter's search.
type SearchTreeParameters struct {
	StopCriterion StopCriterion
	// TargetObjectiveValue is the cost to reach under the PREVENTIVE_OBJECTIVE criteria.
	TargetObjectiveValue float64
	MaximumSearchDepth   int
	LeavesInParallel     int

	AbsoluteMinImpactThreshold float64
	RelativeMinImpactThreshold float64
	SkipFarFromMostLimiting    bool
	MaxNumberOfBoundaries      int
	PredefinedCombinations     [][]string

	UsageLimits usagelimits.RaUsageLimits

	Objective     objective.Config
	Core          fillers.CoreConfig
	Margin        fillers.MarginConfig
	Mnec          fillers.MnecConfig
	MaxIterations int
	Solver        linearproblem.SolverConfig
}

// ForPreventive builds the parameters of the preventive perimeter.
func ForPreventive(p Parameters, limits usagelimits.RaUsageLimits) SearchTreeParameters {
	sp := common(p, limits)
	sp.StopCriterion = p.Objective.PreventiveStopCriterion
	sp.LeavesInParallel = p.Parallelism.PreventiveLeaves
	return sp
}

// ForCurative builds the parameters of a curative perimeter. The PREVENTIVE_OBJECTIVE
// criteria target the preventive cost reduced by the minimum improvement.
func ForCurative(p Parameters, limits usagelimits.RaUsageLimits, preventiveCost float64) SearchTreeParameters {
	sp := common(p, limits)
	sp.StopCriterion = p.Objective.CurativeStopCriterion
	sp.TargetObjectiveValue = preventiveCost - p.Objective.CurativeMinObjImprovement
	sp.LeavesInParallel = p.Parallelism.CurativeLeaves
	return sp
}

func common(p Parameters, limits usagelimits.RaUsageLimits) SearchTreeParameters {
	core := fillers.CoreConfig{
		PenaltyCost:          copyMap(p.RangeActions.PenaltyCost),
		SensitivityThreshold: copyMap(p.RangeActions.SensitivityThreshold),
	}
	solver := linearproblem.DefaultSolverConfig()
	solver.RelativeMipGap = p.LinearOptimizer.RelativeMipGap
	solver.MaxNodes = p.LinearOptimizer.MaxNodes

	predefined := make([][]string, len(p.NetworkActions.PredefinedCombinations))
	for i, c := range p.NetworkActions.PredefinedCombinations {
		predefined[i] = append([]string(nil), c...)
	}
	return SearchTreeParameters{
		MaximumSearchDepth:         p.NetworkActions.MaxSearchTreeDepth,
		AbsoluteMinImpactThreshold: p.NetworkActions.AbsoluteMinImpactThreshold,
		RelativeMinImpactThreshold: p.NetworkActions.RelativeMinImpactThreshold,
		SkipFarFromMostLimiting:    p.NetworkActions.SkipFarFromMostLimiting,
		MaxNumberOfBoundaries:      p.NetworkActions.MaxNumberOfBoundaries,
		PredefinedCombinations:     predefined,
		UsageLimits:                limits,
		Objective: objective.Config{
			Type:                           p.Objective.Type,
			Unit:                           p.Objective.Unit,
			PtdfSumLowerBound:              p.Objective.PtdfSumLowerBound,
			MnecEnabled:                    p.Mnec.Enabled,
			MnecAcceptableDiminution:       p.Mnec.AcceptableDiminution,
			MnecViolationCost:              p.Mnec.ViolationCost,
			LoopFlowEnabled:                p.LoopFlow.Enabled,
			LoopFlowAcceptableAugmentation: p.LoopFlow.AcceptableAugmentation,
			LoopFlowViolationCost:          p.LoopFlow.ViolationCost,
			FallbackOvercost:               p.FallbackOvercost,
		},
		Core: core,
		Margin: fillers.MarginConfig{
			Unit:              p.Objective.Unit,
			PtdfSumLowerBound: p.Objective.PtdfSumLowerBound,
			BigM:              p.LinearOptimizer.BigM,
		},
		Mnec: fillers.MnecConfig{
			AcceptableDiminution: p.Mnec.AcceptableDiminution,
			ViolationCost:        p.Mnec.ViolationCost,
		},
		MaxIterations: p.LinearOptimizer.MaxIterations,
		Solver:        solver,
	}
}

func copyMap[K comparable](m map[K]float64) map[K]float64 {
	out := make(map[K]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// #endregion search-tree-parameters

// #region stop-machine
// StopState is the state of a perimeter's search.
type StopState string

const (
	StateSearching      StopState = "SEARCHING"
	StateSecureReached  StopState = "SECURE_REACHED"
	StateDepthExhausted StopState = "DEPTH_EXHAUSTED"
	StateFailed         StopState = "FAILED"
)

// StopMachine decides after every depth whether the search goes on.
type StopMachine struct {
	params        SearchTreeParameters
	purelyVirtual bool
	state         StopState
	depth         int
}

// NewStopMachine starts SEARCHING. purelyVirtual is true when the perimeter has no
// optimized CNEC, so only virtual costs decide.
func NewStopMachine(params SearchTreeParameters, purelyVirtual bool) *StopMachine {
	return &StopMachine{params: params, purelyVirtual: purelyVirtual, state: StateSearching}
}

func (m *StopMachine) State() StopState { return m.state }
func (m *StopMachine) Depth() int       { return m.depth }

// Terminal is true once no further depth may be scheduled.
func (m *StopMachine) Terminal() bool { return m.state != StateSearching }

// Reached reports whether a leaf with these costs satisfies the stop criterion.
// A leaf with a virtual cost never does.
func (m *StopMachine) Reached(functionalCost, virtualCost float64) bool {
	if virtualCost > virtualCostTolerance {
		return false
	}
	if m.purelyVirtual {
		return true
	}
	cost := functionalCost + virtualCost
	switch m.params.StopCriterion {
	case Secure:
		return cost <= 0
	case PreventiveObjective:
		return cost <= m.params.TargetObjectiveValue
	case PreventiveObjectiveAndSecure:
		return cost <= math.Min(0, m.params.TargetObjectiveValue)
	}
	return false
}

// ImprovedEnough tells whether a leaf beats the previous depth's best by the configured
// impact thresholds. A leaf that improves and reaches the stop criterion always does.
func (m *StopMachine) ImprovedEnough(previousCost, functionalCost, virtualCost float64) bool {
	cost := functionalCost + virtualCost
	if previousCost > cost && m.Reached(functionalCost, virtualCost) {
		return true
	}
	relative := (1 - sign(previousCost)*m.params.RelativeMinImpactThreshold) * previousCost
	return previousCost-m.params.AbsoluteMinImpactThreshold > cost && relative > cost
}

// Observe records the best leaf after depth and moves the machine.
func (m *StopMachine) Observe(depth int, functionalCost, virtualCost float64, improved bool) StopState {
	if m.Terminal() {
		return m.state
	}
	m.depth = depth
	switch {
	case m.Reached(functionalCost, virtualCost):
		m.state = StateSecureReached
	case depth >= m.params.MaximumSearchDepth, !improved:
		m.state = StateDepthExhausted
	}
	return m.state
}

// Fail marks the search as failed. It is terminal.
func (m *StopMachine) Fail() {
	m.state = StateFailed
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// #endregion stop-machine

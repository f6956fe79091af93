package objective

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/danielpatrickdp/grid-rao/internal/sensitivity"
	"gonum.org/v1/gonum/floats"
)

var (
	ErrSensitivityFailure = errors.New("sensitivity computation failed")
	ErrUnknownObjective   = errors.New("unknown objective function type")
	ErrUnconvertibleCnec  = errors.New("cnec margin cannot be expressed in the objective unit")
)

// #region config
// Type selects the functional cost.
type Type string

const (
	MaxMinMargin         Type = "MAX_MIN_MARGIN"
	MaxMinRelativeMargin Type = "MAX_MIN_RELATIVE_MARGIN"
)

// Config selects the functional cost and toggles the virtual ones.
type Config struct {
	Type              Type
	Unit              crac.Unit
	PtdfSumLowerBound float64

	MnecEnabled              bool
	MnecAcceptableDiminution float64
	MnecViolationCost        float64

	LoopFlowEnabled                bool
	LoopFlowAcceptableAugmentation float64
	LoopFlowViolationCost          float64

	// FallbackOvercost is charged when the computation used its fallback method. Zero disables it.
	FallbackOvercost float64
}

// DefaultConfig returns a min-margin objective in MW without virtual costs.
func DefaultConfig() Config {
	return Config{Type: MaxMinMargin, Unit: crac.Megawatt, PtdfSumLowerBound: 0.01}
}

// #endregion config

// #region function
// Function evaluates the total cost of a computation over one perimeter.
type Function struct {
	functional CostEvaluator
	virtual    []CostEvaluator
}

// New builds the objective of perimeter. prePerimeter is the computation before any
// remedial action of the perimeter, used by the MNEC and loop-flow terms.
func New(perimeter *crac.OptimizationPerimeter, prePerimeter FlowResult, config Config) (*Function, error) {
	if err := checkUnit(perimeter.OptimizedCnecs, config.Unit); err != nil {
		return nil, err
	}
	f := &Function{}
	switch config.Type {
	case MaxMinMargin:
		f.functional = NewMinMarginEvaluator(perimeter.OptimizedCnecs, config.Unit)
	case MaxMinRelativeMargin:
		f.functional = NewMinRelativeMarginEvaluator(perimeter.OptimizedCnecs, config.Unit, config.PtdfSumLowerBound)
	default:
		return nil, fmt.Errorf("new objective %q: %w", config.Type, ErrUnknownObjective)
	}
	if config.MnecEnabled && len(perimeter.MonitoredOnlyCnecs) > 0 {
		f.virtual = append(f.virtual, NewMnecViolationEvaluator(perimeter.MonitoredOnlyCnecs, prePerimeter,
			config.MnecAcceptableDiminution, config.MnecViolationCost))
	}
	if config.LoopFlowEnabled && len(perimeter.LoopFlowCnecs) > 0 {
		f.virtual = append(f.virtual, NewLoopFlowViolationEvaluator(perimeter.LoopFlowCnecs, prePerimeter,
			config.LoopFlowAcceptableAugmentation, config.LoopFlowViolationCost))
	}
	if config.FallbackOvercost > 0 {
		f.virtual = append(f.virtual, NewSensitivityFallbackOvercostEvaluator(config.FallbackOvercost))
	}
	return f, nil
}

// checkUnit rejects optimized CNECs lacking the nominal voltage (and Imax for
// PERCENT_IMAX) needed to convert their MW margin into unit.
func checkUnit(cnecs []*crac.FlowCnec, unit crac.Unit) error {
	if unit != crac.Ampere && unit != crac.PercentImax {
		return nil
	}
	for _, c := range cnecs {
		for _, side := range c.Sides() {
			if c.NominalVoltage[side] <= 0 {
				return fmt.Errorf("new objective: %s has no nominal voltage on side %s for unit %s: %w", c.ID, side, unit, ErrUnconvertibleCnec)
			}
			if unit == crac.PercentImax && c.IMax[side] <= 0 {
				return fmt.Errorf("new objective: %s has no Imax on side %s: %w", c.ID, side, ErrUnconvertibleCnec)
			}
		}
	}
	return nil
}

// VirtualCostNames lists the virtual terms in evaluation order.
func (f *Function) VirtualCostNames() []string {
	names := make([]string, len(f.virtual))
	for i, e := range f.virtual {
		names[i] = e.Name()
	}
	return names
}

// Evaluate scores flows. A FAILURE status has no cost and returns ErrSensitivityFailure.
func (f *Function) Evaluate(flows FlowResult) (*Result, error) {
	if flows.Status() == sensitivity.StatusFailure {
		return nil, ErrSensitivityFailure
	}
	r := &Result{
		FunctionalCost: f.functional.Cost(flows),
		VirtualCosts:   make(map[string]float64, len(f.virtual)),
		flows:          flows,
		function:       f,
	}
	for _, e := range f.virtual {
		r.VirtualCosts[e.Name()] = e.Cost(flows)
	}
	return r, nil
}

// #endregion function

// #region result
// Result is the immutable score of one computation.
type Result struct {
	FunctionalCost float64
	VirtualCosts   map[string]float64

	flows    FlowResult
	function *Function

	limitingOnce sync.Once
	limiting     []*crac.FlowCnec
}

// Cost is the functional cost plus every virtual cost.
func (r *Result) Cost() float64 {
	return r.FunctionalCost + r.VirtualCost()
}

// VirtualCost sums the virtual costs in name order so the total is reproducible.
func (r *Result) VirtualCost() float64 {
	names := r.VirtualCostNames()
	values := make([]float64, len(names))
	for i, n := range names {
		values[i] = r.VirtualCosts[n]
	}
	return floats.Sum(values)
}

// VirtualCostOf returns one named virtual cost, 0 when the term is disabled.
func (r *Result) VirtualCostOf(name string) float64 {
	return r.VirtualCosts[name]
}

// VirtualCostNames returns the sorted names of the virtual costs.
func (r *Result) VirtualCostNames() []string {
	names := make([]string, 0, len(r.VirtualCosts))
	for n := range r.VirtualCosts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// MostLimitingElements returns the n optimized CNECs with the smallest margins.
// The ranking is computed once per result; callers get their own copy.
func (r *Result) MostLimitingElements(n int) []*crac.FlowCnec {
	r.limitingOnce.Do(func() {
		r.limiting = r.function.functional.CostlyElements(r.flows, -1)
	})
	switch {
	case n < 0:
		n = 0
	case n > len(r.limiting):
		n = len(r.limiting)
	}
	return slices.Clone(r.limiting[:n])
}

// CostlyElements returns up to n CNECs driving the named virtual cost.
func (r *Result) CostlyElements(name string, n int) []*crac.FlowCnec {
	for _, e := range r.function.virtual {
		if e.Name() == name {
			return e.CostlyElements(r.flows, n)
		}
	}
	return nil
}

// Flows returns the scored computation.
func (r *Result) Flows() FlowResult { return r.flows }

// #endregion result

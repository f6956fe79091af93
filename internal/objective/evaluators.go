package objective

import (
	"math"
	"sort"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/danielpatrickdp/grid-rao/internal/sensitivity"
)

// #region contracts
// FlowResult is what evaluators read from a computation. *sensitivity.Result implements it.
type FlowResult interface {
	Status() sensitivity.Status
	Margin(cnec *crac.FlowCnec, unit crac.Unit) float64
	RelativeMargin(cnec *crac.FlowCnec, unit crac.Unit, ptdfFloor float64) float64
	LoopFlow(cnec *crac.FlowCnec, side crac.Side) float64
}

// CostEvaluator turns a computation into one cost term.
type CostEvaluator interface {
	Name() string
	Cost(flows FlowResult) float64
	// CostlyElements returns up to n CNECs contributing to the cost, worst first.
	// A negative n returns all of them.
	CostlyElements(flows FlowResult, n int) []*crac.FlowCnec
}

// #endregion contracts

// #region min-margin
// MinMarginEvaluator is the functional cost: minus the smallest margin over the
// optimized CNECs. Positive margins are divided by the PTDF sum in relative mode.
type MinMarginEvaluator struct {
	cnecs     []*crac.FlowCnec
	unit      crac.Unit
	relative  bool
	ptdfFloor float64
}

func NewMinMarginEvaluator(cnecs []*crac.FlowCnec, unit crac.Unit) *MinMarginEvaluator {
	return &MinMarginEvaluator{cnecs: cnecs, unit: unit}
}

func NewMinRelativeMarginEvaluator(cnecs []*crac.FlowCnec, unit crac.Unit, ptdfFloor float64) *MinMarginEvaluator {
	return &MinMarginEvaluator{cnecs: cnecs, unit: unit, relative: true, ptdfFloor: ptdfFloor}
}

func (e *MinMarginEvaluator) Name() string { return "min-margin" }

func (e *MinMarginEvaluator) margin(flows FlowResult, cnec *crac.FlowCnec) float64 {
	if e.relative {
		return flows.RelativeMargin(cnec, e.unit, e.ptdfFloor)
	}
	return flows.Margin(cnec, e.unit)
}

// Cost is 0 without optimized CNECs or when no CNEC carries a finite margin.
func (e *MinMarginEvaluator) Cost(flows FlowResult) float64 {
	limiting := e.CostlyElements(flows, 1)
	if len(limiting) == 0 {
		return 0
	}
	m := e.margin(flows, limiting[0])
	if math.IsInf(m, 0) {
		return 0
	}
	return -m
}

// CostlyElements sorts optimized CNECs by ascending margin, ties by declaration order.
func (e *MinMarginEvaluator) CostlyElements(flows FlowResult, n int) []*crac.FlowCnec {
	type entry struct {
		cnec   *crac.FlowCnec
		margin float64
	}
	entries := make([]entry, len(e.cnecs))
	for i, c := range e.cnecs {
		entries[i] = entry{c, e.margin(flows, c)}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].margin != entries[j].margin {
			return entries[i].margin < entries[j].margin
		}
		return entries[i].cnec.Order() < entries[j].cnec.Order()
	})
	out := make([]*crac.FlowCnec, 0, len(entries))
	for _, en := range entries {
		if len(out) == n {
			break
		}
		out = append(out, en.cnec)
	}
	return out
}

// #endregion min-margin

// #region mnec
// MnecViolationEvaluator charges monitored-only CNECs whose margin drops below
// min(0, pre-perimeter margin - acceptable diminution).
type MnecViolationEvaluator struct {
	cnecs                []*crac.FlowCnec
	prePerimeter         FlowResult
	acceptableDiminution float64
	violationCost        float64
}

func NewMnecViolationEvaluator(cnecs []*crac.FlowCnec, prePerimeter FlowResult, acceptableDiminution, violationCost float64) *MnecViolationEvaluator {
	return &MnecViolationEvaluator{cnecs: cnecs, prePerimeter: prePerimeter, acceptableDiminution: acceptableDiminution, violationCost: violationCost}
}

func (e *MnecViolationEvaluator) Name() string { return "mnec-cost" }

func (e *MnecViolationEvaluator) violation(flows FlowResult, cnec *crac.FlowCnec) float64 {
	pre := e.prePerimeter.Margin(cnec, crac.Megawatt)
	floor := math.Min(0, pre-e.acceptableDiminution)
	return math.Max(0, floor-flows.Margin(cnec, crac.Megawatt))
}

func (e *MnecViolationEvaluator) Cost(flows FlowResult) float64 {
	total := 0.0
	for _, c := range e.cnecs {
		total += e.violation(flows, c)
	}
	return total * e.violationCost
}

func (e *MnecViolationEvaluator) CostlyElements(flows FlowResult, n int) []*crac.FlowCnec {
	return worstViolations(e.cnecs, n, func(c *crac.FlowCnec) float64 { return e.violation(flows, c) })
}

// #endregion mnec

// #region loop-flow
// LoopFlowViolationEvaluator charges loop-flows above max(threshold, |initial| + acceptable augmentation).
type LoopFlowViolationEvaluator struct {
	cnecs                  []*crac.FlowCnec
	prePerimeter           FlowResult
	acceptableAugmentation float64
	violationCost          float64
}

func NewLoopFlowViolationEvaluator(cnecs []*crac.FlowCnec, prePerimeter FlowResult, acceptableAugmentation, violationCost float64) *LoopFlowViolationEvaluator {
	return &LoopFlowViolationEvaluator{cnecs: cnecs, prePerimeter: prePerimeter, acceptableAugmentation: acceptableAugmentation, violationCost: violationCost}
}

func (e *LoopFlowViolationEvaluator) Name() string { return "loop-flow-cost" }

func (e *LoopFlowViolationEvaluator) excess(flows FlowResult, cnec *crac.FlowCnec) float64 {
	if cnec.LoopFlowThreshold == nil {
		return 0
	}
	total := 0.0
	for _, side := range cnec.Sides() {
		bound := math.Max(cnec.LoopFlowThreshold.Value, math.Abs(e.prePerimeter.LoopFlow(cnec, side))+e.acceptableAugmentation)
		total += math.Max(0, math.Abs(flows.LoopFlow(cnec, side))-bound)
	}
	return total
}

func (e *LoopFlowViolationEvaluator) Cost(flows FlowResult) float64 {
	total := 0.0
	for _, c := range e.cnecs {
		total += e.excess(flows, c)
	}
	return total * e.violationCost
}

func (e *LoopFlowViolationEvaluator) CostlyElements(flows FlowResult, n int) []*crac.FlowCnec {
	return worstViolations(e.cnecs, n, func(c *crac.FlowCnec) float64 { return e.excess(flows, c) })
}

// #endregion loop-flow

// #region fallback
// SensitivityFallbackOvercostEvaluator adds a flat cost when the computation used its
// degraded fallback method.
type SensitivityFallbackOvercostEvaluator struct {
	overcost float64
}

func NewSensitivityFallbackOvercostEvaluator(overcost float64) *SensitivityFallbackOvercostEvaluator {
	return &SensitivityFallbackOvercostEvaluator{overcost: overcost}
}

func (e *SensitivityFallbackOvercostEvaluator) Name() string { return "sensitivity-failure-cost" }

func (e *SensitivityFallbackOvercostEvaluator) Cost(flows FlowResult) float64 {
	if flows.Status() == sensitivity.StatusFallback {
		return e.overcost
	}
	return 0
}

func (e *SensitivityFallbackOvercostEvaluator) CostlyElements(FlowResult, int) []*crac.FlowCnec {
	return nil
}

// #endregion fallback

// worstViolations returns up to n CNECs with a positive violation, largest first.
func worstViolations(cnecs []*crac.FlowCnec, n int, violation func(*crac.FlowCnec) float64) []*crac.FlowCnec {
	type entry struct {
		cnec *crac.FlowCnec
		v    float64
	}
	var entries []entry
	for _, c := range cnecs {
		if v := violation(c); v > 0 {
			entries = append(entries, entry{c, v})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].v != entries[j].v {
			return entries[i].v > entries[j].v
		}
		return entries[i].cnec.Order() < entries[j].cnec.Order()
	})
	if n >= 0 && len(entries) > n {
		entries = entries[:n]
	}
	out := make([]*crac.FlowCnec, len(entries))
	for i, en := range entries {
		out[i] = en.cnec
	}
	return out
}

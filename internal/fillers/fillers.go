package fillers

import (
	"fmt"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/danielpatrickdp/grid-rao/internal/linearproblem"
	"github.com/danielpatrickdp/grid-rao/internal/sensitivity"
)

// setpointEpsilon widens the is-varied big-M so that a range action varied up to its
// range boundary is not rejected.
const setpointEpsilon = 1e-4

// #region input
// Input is what every filler reads while building one leaf's linear problem.
type Input struct {
	Perimeter *crac.OptimizationPerimeter
	// RangeActions are the range actions optimized in this problem. Empty when the
	// leaf must keep range actions at their pre-perimeter setpoints.
	RangeActions []*crac.RangeAction
	// Flows is the computation the problem linearizes around, taken at ReferenceSetpoints.
	Flows              *sensitivity.Result
	ReferenceSetpoints map[string]float64
	// PrePerimeterFlows and PrePerimeterSetpoints describe the grid before the perimeter
	// was optimized. Variations and MNEC bounds are measured from there.
	PrePerimeterFlows     *sensitivity.Result
	PrePerimeterSetpoints map[string]float64
}

func (in Input) prePerimeterSetpoint(ra *crac.RangeAction) float64 {
	if v, ok := in.PrePerimeterSetpoints[ra.ID]; ok {
		return v
	}
	return ra.InitialSetpoint
}

func (in Input) referenceSetpoint(ra *crac.RangeAction) float64 {
	if v, ok := in.ReferenceSetpoints[ra.ID]; ok {
		return v
	}
	return in.prePerimeterSetpoint(ra)
}

// flowCnecs returns the CNECs that get a flow variable: optimized and monitored ones.
func (in Input) flowCnecs() []*crac.FlowCnec {
	var out []*crac.FlowCnec
	for _, cnec := range in.Perimeter.FlowCnecs {
		if cnec.Optimized || cnec.Monitored {
			out = append(out, cnec)
		}
	}
	return out
}

// #endregion input

// #region chain
// ProblemFiller adds variables, constraints and objective terms to a model.
// A filler is called exactly once per model.
type ProblemFiller interface {
	Name() string
	Fill(m *linearproblem.Model, in Input) error
}

// Chain runs fillers in order. Later fillers may reference variables of earlier ones.
type Chain []ProblemFiller

// Fill builds the model. The first failing filler stops the chain.
func (c Chain) Fill(m *linearproblem.Model, in Input) error {
	if in.Perimeter == nil || in.Flows == nil {
		return fmt.Errorf("fill chain: perimeter and flows are required")
	}
	for _, f := range c {
		if err := f.Fill(m, in); err != nil {
			return fmt.Errorf("%s filler: %w", f.Name(), err)
		}
	}
	return nil
}

// Build creates a fresh model and fills it.
func (c Chain) Build(in Input) (*linearproblem.Model, error) {
	m := linearproblem.NewModel()
	if err := c.Fill(m, in); err != nil {
		return nil, err
	}
	return m, nil
}

// #endregion chain

package fillers

import (
	"math"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/danielpatrickdp/grid-rao/internal/linearproblem"
)

// MnecConfig configures the soft constraints of monitored-only CNECs. Values are in MW.
type MnecConfig struct {
	AcceptableDiminution float64
	ViolationCost        float64
}

func DefaultMnecConfig() MnecConfig {
	return MnecConfig{AcceptableDiminution: 50, ViolationCost: 10}
}

// MnecFiller lets a monitored-only CNEC exceed its threshold, or degrade by more than
// the acceptable diminution when it was already over it, at a cost per MW.
type MnecFiller struct {
	config MnecConfig
}

func NewMnecFiller(config MnecConfig) *MnecFiller {
	return &MnecFiller{config: config}
}

func (f *MnecFiller) Name() string { return "mnec" }

func (f *MnecFiller) Fill(m *linearproblem.Model, in Input) error {
	for _, cnec := range in.Perimeter.MonitoredOnlyCnecs {
		for _, side := range cnec.Sides() {
			fv, err := m.Variable(linearproblem.FlowVariableID(cnec, side))
			if err != nil {
				return err
			}
			vv, err := m.AddVariable(linearproblem.MnecViolationID(cnec, side), 0, linearproblem.Infinity)
			if err != nil {
				return err
			}
			initial := f.initialFlow(in, cnec, side)

			if upper, ok := cnec.UpperBound(side, crac.Megawatt); ok {
				// F - V <= max(U, F_init + diminution)
				c, err := m.AddConstraint(linearproblem.MnecConstraintID(cnec, side, true),
					-linearproblem.Infinity, math.Max(upper, initial+f.config.AcceptableDiminution))
				if err != nil {
					return err
				}
				c.SetCoefficient(fv, 1)
				c.SetCoefficient(vv, -1)
			}
			if lower, ok := cnec.LowerBound(side, crac.Megawatt); ok {
				// F + V >= min(L, F_init - diminution)
				c, err := m.AddConstraint(linearproblem.MnecConstraintID(cnec, side, false),
					math.Min(lower, initial-f.config.AcceptableDiminution), linearproblem.Infinity)
				if err != nil {
					return err
				}
				c.SetCoefficient(fv, 1)
				c.SetCoefficient(vv, 1)
			}
			m.SetObjectiveCoefficient(vv, f.config.ViolationCost)
		}
	}
	return nil
}

func (f *MnecFiller) initialFlow(in Input, cnec *crac.FlowCnec, side crac.Side) float64 {
	if in.PrePerimeterFlows != nil {
		return in.PrePerimeterFlows.Flow(cnec, side, crac.Megawatt)
	}
	return in.Flows.Flow(cnec, side, crac.Megawatt)
}

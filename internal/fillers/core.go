package fillers

import (
	"math"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/danielpatrickdp/grid-rao/internal/linearproblem"
)

// #region config
// CoreConfig holds the per-type range action parameters.
type CoreConfig struct {
	PenaltyCost          map[crac.RangeActionType]float64
	SensitivityThreshold map[crac.RangeActionType]float64
}

// DefaultCoreConfig returns the usual penalties: 0.01 per degree of PST and 0.001 per MW of
// HVDC or injection.
func DefaultCoreConfig() CoreConfig {
	return CoreConfig{
		PenaltyCost: map[crac.RangeActionType]float64{
			crac.RangePst:          0.01,
			crac.RangeHvdc:         0.001,
			crac.RangeInjection:    0.001,
			crac.RangeCounterTrade: 0.001,
		},
		SensitivityThreshold: map[crac.RangeActionType]float64{
			crac.RangePst:          0,
			crac.RangeHvdc:         0,
			crac.RangeInjection:    0,
			crac.RangeCounterTrade: 0,
		},
	}
}

// #endregion config

// #region core
// CoreProblemFiller creates flow variables, setpoint variables and the variation
// variables that link them to the pre-perimeter setpoints.
type CoreProblemFiller struct {
	config CoreConfig
}

func NewCoreProblemFiller(config CoreConfig) *CoreProblemFiller {
	return &CoreProblemFiller{config: config}
}

func (f *CoreProblemFiller) Name() string { return "core" }

func (f *CoreProblemFiller) Fill(m *linearproblem.Model, in Input) error {
	for _, ra := range in.RangeActions {
		if err := f.addRangeAction(m, in, ra); err != nil {
			return err
		}
	}
	for _, cnec := range in.flowCnecs() {
		for _, side := range cnec.Sides() {
			if err := f.addFlow(m, in, cnec, side); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *CoreProblemFiller) addRangeAction(m *linearproblem.Model, in Input, ra *crac.RangeAction) error {
	pre := in.prePerimeterSetpoint(ra)
	lo, hi := ra.AdmissibleRange(pre)

	s, err := m.AddVariable(linearproblem.SetpointVariableID(ra), lo, hi)
	if err != nil {
		return err
	}
	up, err := m.AddVariable(linearproblem.UpwardVariationID(ra), 0, linearproblem.Infinity)
	if err != nil {
		return err
	}
	down, err := m.AddVariable(linearproblem.DownwardVariationID(ra), 0, linearproblem.Infinity)
	if err != nil {
		return err
	}
	av, err := m.AddVariable(linearproblem.AbsoluteVariationID(ra), 0, linearproblem.Infinity)
	if err != nil {
		return err
	}

	// S - up + down = S_pre
	sc, err := m.AddConstraint(linearproblem.SetpointConstraintID(ra), pre, pre)
	if err != nil {
		return err
	}
	sc.SetCoefficient(s, 1)
	sc.SetCoefficient(up, -1)
	sc.SetCoefficient(down, 1)

	// AV = up + down
	ac, err := m.AddConstraint(linearproblem.AbsoluteVariationConstraintID(ra), 0, 0)
	if err != nil {
		return err
	}
	ac.SetCoefficient(av, 1)
	ac.SetCoefficient(up, -1)
	ac.SetCoefficient(down, -1)

	m.SetObjectiveCoefficient(av, f.config.PenaltyCost[ra.Type])
	return nil
}

func (f *CoreProblemFiller) addFlow(m *linearproblem.Model, in Input, cnec *crac.FlowCnec, side crac.Side) error {
	fv, err := m.AddVariable(linearproblem.FlowVariableID(cnec, side), -linearproblem.Infinity, linearproblem.Infinity)
	if err != nil {
		return err
	}
	// F - sum(sens * S) = F_ref - sum(sens * S_ref)
	rhs := in.Flows.Flow(cnec, side, crac.Megawatt)
	type term struct {
		v    *linearproblem.Variable
		sens float64
	}
	var terms []term
	for _, ra := range in.RangeActions {
		sens := in.Flows.Sensitivity(ra, cnec, side)
		if sens == 0 || math.Abs(sens) < f.config.SensitivityThreshold[ra.Type] {
			continue
		}
		s, err := m.Variable(linearproblem.SetpointVariableID(ra))
		if err != nil {
			return err
		}
		rhs -= sens * in.referenceSetpoint(ra)
		terms = append(terms, term{s, sens})
	}
	c, err := m.AddConstraint(linearproblem.FlowConstraintID(cnec, side), rhs, rhs)
	if err != nil {
		return err
	}
	c.SetCoefficient(fv, 1)
	for _, t := range terms {
		c.SetCoefficient(t.v, -t.sens)
	}
	return nil
}

// #endregion core

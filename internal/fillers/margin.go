package fillers

import (
	"math"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/danielpatrickdp/grid-rao/internal/linearproblem"
)

// #region config
// MarginConfig configures both margin fillers.
type MarginConfig struct {
	Unit crac.Unit
	// PtdfSumLowerBound floors the PTDF sum dividing relative margins.
	PtdfSumLowerBound float64
	// BigM bounds the relative margin and relaxes its constraints when the margin is negative.
	BigM float64
}

func DefaultMarginConfig() MarginConfig {
	return MarginConfig{Unit: crac.Megawatt, PtdfSumLowerBound: 0.01, BigM: 1e5}
}

// marginFactor converts one unit of margin into MW on side.
func marginFactor(cnec *crac.FlowCnec, side crac.Side, unit crac.Unit) float64 {
	return cnec.Convert(1, unit, crac.Megawatt, side)
}

// #endregion config

// #region max-min-margin
// MaxMinMarginFiller maximizes the smallest margin over the optimized CNECs:
//
//	F + c*M <= U and F - c*M >= L
//
// with c converting the margin unit into MW and -M in the objective.
type MaxMinMarginFiller struct {
	config MarginConfig
}

func NewMaxMinMarginFiller(config MarginConfig) *MaxMinMarginFiller {
	return &MaxMinMarginFiller{config: config}
}

func (f *MaxMinMarginFiller) Name() string { return "max-min-margin" }

func (f *MaxMinMarginFiller) Fill(m *linearproblem.Model, in Input) error {
	_, err := addMinMargin(m, in, f.config.Unit)
	return err
}

func addMinMargin(m *linearproblem.Model, in Input, unit crac.Unit) (*linearproblem.Variable, error) {
	ub := linearproblem.Infinity
	if len(in.Perimeter.OptimizedCnecs) == 0 {
		// nothing bounds the margin from above
		ub = 0
	}
	mv, err := m.AddVariable(linearproblem.MinimumMarginID, -linearproblem.Infinity, ub)
	if err != nil {
		return nil, err
	}
	for _, cnec := range in.Perimeter.OptimizedCnecs {
		for _, side := range cnec.Sides() {
			fv, err := m.Variable(linearproblem.FlowVariableID(cnec, side))
			if err != nil {
				return nil, err
			}
			factor := marginFactor(cnec, side, unit)
			if upper, ok := cnec.UpperBound(side, crac.Megawatt); ok {
				c, err := m.AddConstraint(linearproblem.MinMarginConstraintID(cnec, side, true), -linearproblem.Infinity, upper)
				if err != nil {
					return nil, err
				}
				c.SetCoefficient(fv, 1)
				c.SetCoefficient(mv, factor)
			}
			if lower, ok := cnec.LowerBound(side, crac.Megawatt); ok {
				c, err := m.AddConstraint(linearproblem.MinMarginConstraintID(cnec, side, false), lower, linearproblem.Infinity)
				if err != nil {
					return nil, err
				}
				c.SetCoefficient(fv, 1)
				c.SetCoefficient(mv, -factor)
			}
		}
	}
	m.SetObjectiveCoefficient(mv, -1)
	return mv, nil
}

// #endregion max-min-margin

// #region max-min-relative-margin
// MaxMinRelativeMarginFiller adds a relative margin on top of the absolute one. The
// relative margin M_rel counts only when the binary P says every margin is positive:
//
//	M_rel <= bigM*P
//	M_abs - bigM*P >= -bigM
//	F + c*ptdf*M_rel + bigM*P <= U + bigM
//	F - c*ptdf*M_rel - bigM*P >= L - bigM
//
// and -M_abs - M_rel in the objective.
type MaxMinRelativeMarginFiller struct {
	config MarginConfig
}

func NewMaxMinRelativeMarginFiller(config MarginConfig) *MaxMinRelativeMarginFiller {
	return &MaxMinRelativeMarginFiller{config: config}
}

func (f *MaxMinRelativeMarginFiller) Name() string { return "max-min-relative-margin" }

func (f *MaxMinRelativeMarginFiller) Fill(m *linearproblem.Model, in Input) error {
	abs, err := addMinMargin(m, in, f.config.Unit)
	if err != nil {
		return err
	}
	if len(in.Perimeter.OptimizedCnecs) == 0 {
		return nil
	}
	bigM := f.config.BigM
	rel, err := m.AddVariable(linearproblem.MinimumRelativeMarginID, 0, bigM)
	if err != nil {
		return err
	}
	pos, err := m.AddBinaryVariable(linearproblem.PositiveMinMarginID)
	if err != nil {
		return err
	}

	gate, err := m.AddConstraint(linearproblem.MinimumRelativeMarginID+"_gate_constraint", -linearproblem.Infinity, 0)
	if err != nil {
		return err
	}
	gate.SetCoefficient(rel, 1)
	gate.SetCoefficient(pos, -bigM)

	sign, err := m.AddConstraint(linearproblem.PositiveMinMarginID+"_sign_constraint", -bigM, linearproblem.Infinity)
	if err != nil {
		return err
	}
	sign.SetCoefficient(abs, 1)
	sign.SetCoefficient(pos, -bigM)

	for _, cnec := range in.Perimeter.OptimizedCnecs {
		for _, side := range cnec.Sides() {
			fv, err := m.Variable(linearproblem.FlowVariableID(cnec, side))
			if err != nil {
				return err
			}
			ptdf := math.Max(in.Flows.PtdfZonalSum(cnec, side), f.config.PtdfSumLowerBound)
			coef := marginFactor(cnec, side, f.config.Unit) * ptdf
			if upper, ok := cnec.UpperBound(side, crac.Megawatt); ok {
				c, err := m.AddConstraint(linearproblem.MinRelMarginConstraintID(cnec, side, true), -linearproblem.Infinity, upper+bigM)
				if err != nil {
					return err
				}
				c.SetCoefficient(fv, 1)
				c.SetCoefficient(rel, coef)
				c.SetCoefficient(pos, bigM)
			}
			if lower, ok := cnec.LowerBound(side, crac.Megawatt); ok {
				c, err := m.AddConstraint(linearproblem.MinRelMarginConstraintID(cnec, side, false), lower-bigM, linearproblem.Infinity)
				if err != nil {
					return err
				}
				c.SetCoefficient(fv, 1)
				c.SetCoefficient(rel, -coef)
				c.SetCoefficient(pos, -bigM)
			}
		}
	}
	m.SetObjectiveCoefficient(rel, -1)
	return nil
}

// #endregion max-min-relative-margin

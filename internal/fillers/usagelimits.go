package fillers

import (
	"math"
	"sort"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/danielpatrickdp/grid-rao/internal/linearproblem"
	"github.com/danielpatrickdp/grid-rao/internal/usagelimits"
)

// RaUsageLimitsFiller turns usage limits into hard constraints on range actions.
// A binary is-varied indicator is linked to each absolute variation, and unset
// limits emit no constraint.
type RaUsageLimitsFiller struct {
	limits usagelimits.RaUsageLimits
}

// NewRaUsageLimitsFiller expects limits already reduced by the network actions the
// leaf applies.
func NewRaUsageLimitsFiller(limits usagelimits.RaUsageLimits) *RaUsageLimitsFiller {
	return &RaUsageLimitsFiller{limits: limits}
}

func (f *RaUsageLimitsFiller) Name() string { return "ra-usage-limits" }

func (f *RaUsageLimitsFiller) Fill(m *linearproblem.Model, in Input) error {
	if len(in.RangeActions) == 0 || !f.limits.Limited() {
		return nil
	}
	isVaried := make(map[string]*linearproblem.Variable, len(in.RangeActions))
	for _, ra := range in.RangeActions {
		v, err := f.addIsVaried(m, in, ra)
		if err != nil {
			return err
		}
		isVaried[ra.ID] = v
	}

	if f.limits.HasMaxRa() && f.limits.MaxRa < len(in.RangeActions) {
		c, err := m.AddConstraint(linearproblem.MaxRaConstraintID(), -linearproblem.Infinity, float64(f.limits.MaxRa))
		if err != nil {
			return err
		}
		for _, ra := range in.RangeActions {
			c.SetCoefficient(isVaried[ra.ID], 1)
		}
	}
	if err := f.addMaxTso(m, in, isVaried); err != nil {
		return err
	}
	if err := f.addPerTso(m, in, isVaried); err != nil {
		return err
	}
	return f.addMaxElementaryActionsPerTso(m, in)
}

func (f *RaUsageLimitsFiller) addIsVaried(m *linearproblem.Model, in Input, ra *crac.RangeAction) (*linearproblem.Variable, error) {
	av, err := m.Variable(linearproblem.AbsoluteVariationID(ra))
	if err != nil {
		return nil, err
	}
	v, err := m.AddBinaryVariable(linearproblem.IsVariationID(ra))
	if err != nil {
		return nil, err
	}
	pre := in.prePerimeterSetpoint(ra)
	lo, hi := ra.AdmissibleRange(pre)
	width := math.Max(hi, pre) - math.Min(lo, pre)

	// AV <= (width + eps) * isVaried
	c, err := m.AddConstraint(linearproblem.IsVariationConstraintID(ra), -linearproblem.Infinity, 0)
	if err != nil {
		return nil, err
	}
	c.SetCoefficient(av, 1)
	c.SetCoefficient(v, -(width + setpointEpsilon))
	return v, nil
}

func (f *RaUsageLimitsFiller) addMaxTso(m *linearproblem.Model, in Input, isVaried map[string]*linearproblem.Variable) error {
	if !f.limits.HasMaxTso() {
		return nil
	}
	byTso := f.rangeActionsByTso(in, false)
	tsos := make([]string, 0, len(byTso))
	for tso := range byTso {
		if !f.limits.Excluded(tso) {
			tsos = append(tsos, tso)
		}
	}
	if f.limits.MaxTso >= len(tsos) {
		return nil
	}
	sort.Strings(tsos)

	total, err := m.AddConstraint(linearproblem.MaxTsoConstraintID(), -linearproblem.Infinity, float64(f.limits.MaxTso))
	if err != nil {
		return err
	}
	for _, tso := range tsos {
		used, err := m.AddBinaryVariable(linearproblem.TsoRaUsedID(tso))
		if err != nil {
			return err
		}
		total.SetCoefficient(used, 1)
		for _, ra := range byTso[tso] {
			// tsoUsed >= isVaried
			c, err := m.AddConstraint(linearproblem.TsoRaUsedConstraintID(tso, ra), 0, linearproblem.Infinity)
			if err != nil {
				return err
			}
			c.SetCoefficient(used, 1)
			c.SetCoefficient(isVaried[ra.ID], -1)
		}
	}
	return nil
}

func (f *RaUsageLimitsFiller) addPerTso(m *linearproblem.Model, in Input, isVaried map[string]*linearproblem.Variable) error {
	byTso := f.rangeActionsByTso(in, false)
	for _, tso := range sortedTsos(byTso) {
		ras := byTso[tso]
		limit, ok := f.limits.RaPerTso(tso)
		if !ok || limit >= len(ras) {
			continue
		}
		c, err := m.AddConstraint(linearproblem.MaxRaPerTsoConstraintID(tso), -linearproblem.Infinity, float64(limit))
		if err != nil {
			return err
		}
		for _, ra := range ras {
			c.SetCoefficient(isVaried[ra.ID], 1)
		}
	}
	pstsByTso := f.rangeActionsByTso(in, true)
	for _, tso := range sortedTsos(pstsByTso) {
		psts := pstsByTso[tso]
		limit, ok := f.limits.PstPerTso(tso)
		if !ok || limit >= len(psts) {
			continue
		}
		c, err := m.AddConstraint(linearproblem.MaxPstPerTsoConstraintID(tso), -linearproblem.Infinity, float64(limit))
		if err != nil {
			return err
		}
		for _, ra := range psts {
			c.SetCoefficient(isVaried[ra.ID], 1)
		}
	}
	return nil
}

// addMaxElementaryActionsPerTso counts every PST tap moved away from the pre-perimeter
// tap as one elementary action. The tap variation is an integer bounding the absolute
// variation in units of the smallest tap step, so rounding the setpoint to the
// closest tap never moves more taps than counted.
func (f *RaUsageLimitsFiller) addMaxElementaryActionsPerTso(m *linearproblem.Model, in Input) error {
	if len(f.limits.MaxElementaryActionsPerTso) == 0 {
		return nil
	}
	pstsByTso := f.rangeActionsByTso(in, true)
	for _, tso := range sortedTsos(pstsByTso) {
		limit, ok := f.limits.ElementaryActionsPerTso(tso)
		if !ok {
			continue
		}
		var total *linearproblem.Constraint
		for _, ra := range pstsByTso[tso] {
			step := ra.MinTapStep()
			if step == 0 {
				continue
			}
			av, err := m.Variable(linearproblem.AbsoluteVariationID(ra))
			if err != nil {
				return err
			}
			taps, err := m.AddIntegerVariable(linearproblem.TapVariationID(ra), 0, float64(len(ra.TapAngles)-1))
			if err != nil {
				return err
			}
			// AV <= step * taps
			c, err := m.AddConstraint(linearproblem.TapVariationConstraintID(ra), -linearproblem.Infinity, 0)
			if err != nil {
				return err
			}
			c.SetCoefficient(av, 1)
			c.SetCoefficient(taps, -step)

			if total == nil {
				total, err = m.AddConstraint(linearproblem.MaxElementaryActionsPerTsoConstraintID(tso), -linearproblem.Infinity, float64(limit))
				if err != nil {
					return err
				}
			}
			total.SetCoefficient(taps, 1)
		}
	}
	return nil
}

func (f *RaUsageLimitsFiller) rangeActionsByTso(in Input, pstOnly bool) map[string][]*crac.RangeAction {
	out := make(map[string][]*crac.RangeAction)
	for _, ra := range in.RangeActions {
		if pstOnly && ra.Type != crac.RangePst {
			continue
		}
		out[ra.Operator] = append(out[ra.Operator], ra)
	}
	return out
}

func sortedTsos(byTso map[string][]*crac.RangeAction) []string {
	tsos := make([]string, 0, len(byTso))
	for tso := range byTso {
		tsos = append(tsos, tso)
	}
	sort.Strings(tsos)
	return tsos
}

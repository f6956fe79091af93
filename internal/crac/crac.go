package crac

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

const sqrt3 = 1.7320508075688772

var (
	ErrDuplicateID      = errors.New("duplicate identifier")
	ErrUnknownReference = errors.New("unknown reference")
	ErrInvalidCnec      = errors.New("invalid cnec")
	ErrInvalidRange     = errors.New("invalid range action")
)

// #region cnec-bounds
// Sides returns the sides that carry at least one threshold, in side order.
func (c *FlowCnec) Sides() []Side {
	var one, two bool
	for _, t := range c.Thresholds {
		switch t.Side {
		case SideOne:
			one = true
		case SideTwo:
			two = true
		default:
			one = true
		}
	}
	var sides []Side
	if one {
		sides = append(sides, SideOne)
	}
	if two {
		sides = append(sides, SideTwo)
	}
	return sides
}

// MegawattPerAmpere is the factor converting a current on the given side into active power.
func (c *FlowCnec) MegawattPerAmpere(side Side) float64 {
	return c.NominalVoltage[side] * sqrt3 / 1000
}

// Convert expresses value (given in from) in the unit to, on the given side.
func (c *FlowCnec) Convert(value float64, from, to Unit, side Side) float64 {
	if from == to {
		return value
	}
	mw := value
	switch from {
	case Ampere:
		mw = value * c.MegawattPerAmpere(side)
	case PercentImax:
		mw = value / 100 * c.IMax[side] * c.MegawattPerAmpere(side)
	}
	switch to {
	case Ampere:
		return mw / c.MegawattPerAmpere(side)
	case PercentImax:
		return mw / c.MegawattPerAmpere(side) / c.IMax[side] * 100
	}
	return mw
}

// UpperBound returns the tightest upper threshold on side, in unit, reduced by the reliability margin.
func (c *FlowCnec) UpperBound(side Side, unit Unit) (float64, bool) {
	bound, found := math.Inf(1), false
	for _, t := range c.Thresholds {
		if t.Max == nil || !t.appliesTo(side) {
			continue
		}
		v := c.Convert(*t.Max, t.Unit, unit, side)
		if v < bound {
			bound = v
		}
		found = true
	}
	if !found {
		return 0, false
	}
	return bound - c.Convert(c.ReliabilityMargin, Megawatt, unit, side), true
}

// LowerBound returns the tightest lower threshold on side, in unit, raised by the reliability margin.
func (c *FlowCnec) LowerBound(side Side, unit Unit) (float64, bool) {
	bound, found := math.Inf(-1), false
	for _, t := range c.Thresholds {
		if t.Min == nil || !t.appliesTo(side) {
			continue
		}
		v := c.Convert(*t.Min, t.Unit, unit, side)
		if v > bound {
			bound = v
		}
		found = true
	}
	if !found {
		return 0, false
	}
	return bound + c.Convert(c.ReliabilityMargin, Megawatt, unit, side), true
}

func (t Threshold) appliesTo(side Side) bool {
	return t.Side == "" || t.Side == side
}

func (c *FlowCnec) validate() error {
	if len(c.Thresholds) == 0 && (c.Optimized || c.Monitored) {
		return fmt.Errorf("%w: %s has no threshold", ErrInvalidCnec, c.ID)
	}
	for _, t := range c.Thresholds {
		if t.Unit != Ampere && t.Unit != PercentImax {
			continue
		}
		for _, side := range c.Sides() {
			if c.NominalVoltage[side] <= 0 {
				return fmt.Errorf("%w: %s needs a nominal voltage on side %s", ErrInvalidCnec, c.ID, side)
			}
			if t.Unit == PercentImax && c.IMax[side] <= 0 {
				return fmt.Errorf("%w: %s needs an Imax on side %s", ErrInvalidCnec, c.ID, side)
			}
		}
	}
	return nil
}

// #endregion cnec-bounds

// #region usage-method
// UsageMethod resolves the strongest usage rule applying to state.
// Rules declared for the state's own instant win. Without any, an action made
// available at an earlier instant stays available unless a rule says otherwise.
func (ra *RemedialAction) UsageMethod(state State, instants map[string]Instant) UsageMethod {
	current := UsageUndefined
	for _, r := range ra.UsageRules {
		if r.InstantID != state.Instant.ID || !r.matches(state) {
			continue
		}
		current = strongest(current, r.Method)
	}
	if current != UsageUndefined {
		return current
	}
	for _, r := range ra.UsageRules {
		inst, ok := instants[r.InstantID]
		if !ok || !inst.ComesBefore(state.Instant) || !r.matches(state) {
			continue
		}
		if r.Method == UsageAvailable || r.Method == UsageForced {
			current = UsageAvailable
		}
	}
	return current
}

func (r UsageRule) matches(state State) bool {
	return r.ContingencyID == "" || r.ContingencyID == state.ContingencyID()
}

// strongest orders UNAVAILABLE > FORCED > AVAILABLE > UNDEFINED.
func strongest(a, b UsageMethod) UsageMethod {
	rank := map[UsageMethod]int{UsageUndefined: 0, UsageAvailable: 1, UsageForced: 2, UsageUnavailable: 3}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// #endregion usage-method

// #region range-action-methods
// AdmissibleRange intersects all ranges of the action. previous is the setpoint at the
// start of the optimized perimeter.
func (ra *RangeAction) AdmissibleRange(previous float64) (float64, float64) {
	lo, hi := math.Inf(-1), math.Inf(1)
	for _, r := range ra.Ranges {
		var rmin, rmax float64
		switch r.Kind {
		case RangeRelativeToInitial:
			rmin, rmax = ra.InitialSetpoint+r.Min, ra.InitialSetpoint+r.Max
		case RangeRelativeToPrevious:
			rmin, rmax = previous+r.Min, previous+r.Max
		default:
			rmin, rmax = r.Min, r.Max
		}
		lo = math.Max(lo, rmin)
		hi = math.Min(hi, rmax)
	}
	if lo > hi {
		// empty intersection: the action is frozen at its previous setpoint
		return previous, previous
	}
	return lo, hi
}

// RoundToTap snaps a PST angle to the closest tap angle within [min, max].
// Other range actions are returned unchanged.
func (ra *RangeAction) RoundToTap(setpoint, min, max float64) float64 {
	if ra.Type != RangePst || len(ra.TapAngles) == 0 {
		return setpoint
	}
	best, bestDist := setpoint, math.Inf(1)
	for _, angle := range ra.TapAngles {
		if angle < min-1e-9 || angle > max+1e-9 {
			continue
		}
		if d := math.Abs(angle - setpoint); d < bestDist {
			best, bestDist = angle, d
		}
	}
	return best
}

// Tap returns the tap position whose angle is closest to setpoint, or 0 when the
// action has no tap table.
func (ra *RangeAction) Tap(setpoint float64) int {
	tap, bestDist := 0, math.Inf(1)
	for i, angle := range ra.TapAngles {
		if d := math.Abs(angle - setpoint); d < bestDist {
			tap, bestDist = i, d
		}
	}
	return tap
}

// TapVariation is the number of taps between the positions closest to from and to.
func (ra *RangeAction) TapVariation(from, to float64) int {
	moved := ra.Tap(to) - ra.Tap(from)
	if moved < 0 {
		return -moved
	}
	return moved
}

// MinTapStep is the smallest angle difference between adjacent taps, 0 without a
// tap table.
func (ra *RangeAction) MinTapStep() float64 {
	step := 0.0
	for i := 1; i < len(ra.TapAngles); i++ {
		d := math.Abs(ra.TapAngles[i] - ra.TapAngles[i-1])
		if d > 0 && (step == 0 || d < step) {
			step = d
		}
	}
	return step
}

// #endregion range-action-methods

// #region crac
// Crac is the read-only catalogue of one optimization case.
type Crac struct {
	ID             string
	instants       []Instant
	instantsByID   map[string]Instant
	contingencies  []*Contingency
	cnecs          []*FlowCnec
	networkActions []*NetworkAction
	rangeActions   []*RangeAction
	naByID         map[string]*NetworkAction
	raByID         map[string]*RangeAction
}

// NewCrac validates the catalogue and freezes declaration order.
func NewCrac(id string, instants []Instant, contingencies []*Contingency, cnecs []*FlowCnec, networkActions []*NetworkAction, rangeActions []*RangeAction) (*Crac, error) {
	c := &Crac{
		ID:             id,
		instants:       append([]Instant(nil), instants...),
		instantsByID:   make(map[string]Instant),
		contingencies:  contingencies,
		cnecs:          cnecs,
		networkActions: networkActions,
		rangeActions:   rangeActions,
		naByID:         make(map[string]*NetworkAction),
		raByID:         make(map[string]*RangeAction),
	}
	sort.SliceStable(c.instants, func(i, j int) bool { return c.instants[i].Order < c.instants[j].Order })
	if len(c.instants) == 0 || !c.instants[0].IsPreventive() {
		return nil, fmt.Errorf("new crac %s: first instant must be preventive", id)
	}
	for _, inst := range c.instants {
		if _, dup := c.instantsByID[inst.ID]; dup {
			return nil, fmt.Errorf("instant %s: %w", inst.ID, ErrDuplicateID)
		}
		c.instantsByID[inst.ID] = inst
	}

	contingencyIDs := make(map[string]bool)
	for _, co := range contingencies {
		if contingencyIDs[co.ID] {
			return nil, fmt.Errorf("contingency %s: %w", co.ID, ErrDuplicateID)
		}
		contingencyIDs[co.ID] = true
	}

	cnecIDs := make(map[string]bool)
	for i, cnec := range cnecs {
		if cnecIDs[cnec.ID] {
			return nil, fmt.Errorf("cnec %s: %w", cnec.ID, ErrDuplicateID)
		}
		cnecIDs[cnec.ID] = true
		if _, ok := c.instantsByID[cnec.State.Instant.ID]; !ok {
			return nil, fmt.Errorf("cnec %s instant %s: %w", cnec.ID, cnec.State.Instant.ID, ErrUnknownReference)
		}
		if cnec.State.Contingency != nil && !contingencyIDs[cnec.State.Contingency.ID] {
			return nil, fmt.Errorf("cnec %s contingency %s: %w", cnec.ID, cnec.State.Contingency.ID, ErrUnknownReference)
		}
		if err := cnec.validate(); err != nil {
			return nil, err
		}
		cnec.order = i
	}

	for _, na := range networkActions {
		if _, dup := c.naByID[na.ID]; dup {
			return nil, fmt.Errorf("network action %s: %w", na.ID, ErrDuplicateID)
		}
		c.naByID[na.ID] = na
	}
	for _, ra := range rangeActions {
		if _, dup := c.raByID[ra.ID]; dup {
			return nil, fmt.Errorf("range action %s: %w", ra.ID, ErrDuplicateID)
		}
		if _, dup := c.naByID[ra.ID]; dup {
			return nil, fmt.Errorf("range action %s: %w", ra.ID, ErrDuplicateID)
		}
		if len(ra.Ranges) == 0 {
			return nil, fmt.Errorf("%w: %s has no range", ErrInvalidRange, ra.ID)
		}
		c.raByID[ra.ID] = ra
	}
	return c, nil
}

func (c *Crac) Instants() []Instant              { return c.instants }
func (c *Crac) Contingencies() []*Contingency    { return c.contingencies }
func (c *Crac) FlowCnecs() []*FlowCnec           { return c.cnecs }
func (c *Crac) NetworkActions() []*NetworkAction { return c.networkActions }
func (c *Crac) RangeActions() []*RangeAction     { return c.rangeActions }

// Instant looks an instant up by ID.
func (c *Crac) Instant(id string) (Instant, bool) {
	inst, ok := c.instantsByID[id]
	return inst, ok
}

// NetworkAction looks a network action up by ID.
func (c *Crac) NetworkAction(id string) (*NetworkAction, bool) {
	na, ok := c.naByID[id]
	return na, ok
}

// RangeAction looks a range action up by ID.
func (c *Crac) RangeAction(id string) (*RangeAction, bool) {
	ra, ok := c.raByID[id]
	return ra, ok
}

// PreventiveState returns the base-case state.
func (c *Crac) PreventiveState() State {
	return State{Instant: c.instants[0]}
}

// States lists the preventive state followed by every post-contingency state that
// carries a CNEC, ordered by contingency declaration then instant.
func (c *Crac) States() []State {
	states := []State{c.PreventiveState()}
	for _, co := range c.contingencies {
		for _, inst := range c.instants[1:] {
			s := State{Instant: inst, Contingency: co}
			if len(c.FlowCnecsAt(s)) > 0 {
				states = append(states, s)
			}
		}
	}
	return states
}

// FlowCnecsAt returns the CNECs monitored at state, in declaration order.
func (c *Crac) FlowCnecsAt(state State) []*FlowCnec {
	var out []*FlowCnec
	for _, cnec := range c.cnecs {
		if cnec.State.ID() == state.ID() {
			out = append(out, cnec)
		}
	}
	return out
}

// AvailableNetworkActions returns network actions whose usage method at state is AVAILABLE.
func (c *Crac) AvailableNetworkActions(state State) []*NetworkAction {
	var out []*NetworkAction
	for _, na := range c.networkActions {
		if na.UsageMethod(state, c.instantsByID) == UsageAvailable {
			out = append(out, na)
		}
	}
	return out
}

// ForcedNetworkActions returns network actions that must be applied at state.
func (c *Crac) ForcedNetworkActions(state State) []*NetworkAction {
	var out []*NetworkAction
	for _, na := range c.networkActions {
		if na.UsageMethod(state, c.instantsByID) == UsageForced {
			out = append(out, na)
		}
	}
	return out
}

// AvailableRangeActions returns range actions usable at state (AVAILABLE or FORCED).
func (c *Crac) AvailableRangeActions(state State) []*RangeAction {
	var out []*RangeAction
	for _, ra := range c.rangeActions {
		m := ra.UsageMethod(state, c.instantsByID)
		if m == UsageAvailable || m == UsageForced {
			out = append(out, ra)
		}
	}
	return out
}

// #endregion crac

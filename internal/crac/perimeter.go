package crac

import "sort"

// #region perimeter
// OptimizationPerimeter gathers what one search optimizes: the main state, the
// CNECs it watches and the remedial actions it may use.
type OptimizationPerimeter struct {
	MainState          State
	FlowCnecs          []*FlowCnec
	OptimizedCnecs     []*FlowCnec
	MonitoredOnlyCnecs []*FlowCnec
	LoopFlowCnecs      []*FlowCnec
	NetworkActions     []*NetworkAction
	RangeActions       []*RangeAction
}

// IsPurelyVirtual is true when no CNEC is optimized, so only virtual costs matter.
func (p *OptimizationPerimeter) IsPurelyVirtual() bool {
	return len(p.OptimizedCnecs) == 0
}

// NewPreventivePerimeter covers the preventive state, every outage state, and the
// post-contingency states in which no curative remedial action exists.
func NewPreventivePerimeter(c *Crac) *OptimizationPerimeter {
	main := c.PreventiveState()
	var cnecs []*FlowCnec
	for _, s := range c.States() {
		switch {
		case s.IsPreventive(), s.Instant.Kind == InstantOutage:
			cnecs = append(cnecs, c.FlowCnecsAt(s)...)
		case !hasCurativeActions(c, s):
			cnecs = append(cnecs, c.FlowCnecsAt(s)...)
		}
	}
	return newPerimeter(main, sortByOrder(cnecs), c.AvailableNetworkActions(main), c.AvailableRangeActions(main))
}

// NewCurativePerimeter covers a single post-contingency state.
func NewCurativePerimeter(c *Crac, state State) *OptimizationPerimeter {
	return newPerimeter(state, c.FlowCnecsAt(state), c.AvailableNetworkActions(state), c.AvailableRangeActions(state))
}

// CurativeStates lists post-contingency curative states that carry CNECs and at
// least one usable remedial action.
func CurativeStates(c *Crac) []State {
	var out []State
	for _, s := range c.States() {
		if s.Instant.IsCurative() && hasCurativeActions(c, s) {
			out = append(out, s)
		}
	}
	return out
}

func hasCurativeActions(c *Crac, s State) bool {
	if !s.Instant.IsCurative() {
		return false
	}
	return len(c.AvailableNetworkActions(s)) > 0 || len(c.AvailableRangeActions(s)) > 0 || len(c.ForcedNetworkActions(s)) > 0
}

func newPerimeter(main State, cnecs []*FlowCnec, nas []*NetworkAction, ras []*RangeAction) *OptimizationPerimeter {
	p := &OptimizationPerimeter{
		MainState:      main,
		FlowCnecs:      cnecs,
		NetworkActions: nas,
		RangeActions:   ras,
	}
	for _, cnec := range cnecs {
		if cnec.Optimized {
			p.OptimizedCnecs = append(p.OptimizedCnecs, cnec)
		} else if cnec.Monitored {
			p.MonitoredOnlyCnecs = append(p.MonitoredOnlyCnecs, cnec)
		}
		if cnec.LoopFlowThreshold != nil {
			p.LoopFlowCnecs = append(p.LoopFlowCnecs, cnec)
		}
	}
	return p
}

func sortByOrder(cnecs []*FlowCnec) []*FlowCnec {
	out := append([]*FlowCnec(nil), cnecs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

// #endregion perimeter

package sensitivity

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
)

// #region linear-model
// LinearModel describes a grid whose flows are affine in the applied actions:
//
//	flow = base + sum(network action deltas) + sum(sensitivity * (setpoint - initial))
//
// It is shared read-only by every LinearNetwork cloned from the same root.
type LinearModel struct {
	BaseFlows           map[CnecSide]float64
	NetworkActionDeltas map[string]map[CnecSide]float64
	Sensitivities       map[string]map[CnecSide]float64
	PtdfSums            map[CnecSide]float64
	CommercialFlows     map[CnecSide]float64
	InitialSetpoints    map[string]float64

	// FailOn and FallbackOn list sets of network actions; once all actions of a set are
	// applied the computation reports FAILURE or FALLBACK. An empty set always matches.
	FailOn     [][]string
	FallbackOn [][]string
}

// NewLinearModel returns a model with all maps allocated.
func NewLinearModel() *LinearModel {
	return &LinearModel{
		BaseFlows:           make(map[CnecSide]float64),
		NetworkActionDeltas: make(map[string]map[CnecSide]float64),
		Sensitivities:       make(map[string]map[CnecSide]float64),
		PtdfSums:            make(map[CnecSide]float64),
		CommercialFlows:     make(map[CnecSide]float64),
		InitialSetpoints:    make(map[string]float64),
	}
}

// #endregion linear-model

// #region linear-network
// LinearNetwork is a working copy over a LinearModel.
type LinearNetwork struct {
	model     *LinearModel
	applied   map[string]bool
	setpoints map[string]float64
}

// NewLinearNetwork creates a network with no action applied and initial setpoints.
func NewLinearNetwork(model *LinearModel) *LinearNetwork {
	return &LinearNetwork{
		model:     model,
		applied:   make(map[string]bool),
		setpoints: make(map[string]float64),
	}
}

// Clone copies the applied actions and setpoints; the model is shared.
func (n *LinearNetwork) Clone() Network {
	c := NewLinearNetwork(n.model)
	for id := range n.applied {
		c.applied[id] = true
	}
	for id, v := range n.setpoints {
		c.setpoints[id] = v
	}
	return c
}

func (n *LinearNetwork) ApplyNetworkAction(na *crac.NetworkAction) error {
	if na == nil {
		return fmt.Errorf("apply network action: %w", ErrUnknownAction)
	}
	n.applied[na.ID] = true
	return nil
}

func (n *LinearNetwork) ApplyRangeAction(ra *crac.RangeAction, setpoint float64) error {
	if ra == nil {
		return fmt.Errorf("apply range action: %w", ErrUnknownAction)
	}
	n.setpoints[ra.ID] = setpoint
	return nil
}

// AppliedNetworkActions returns the sorted IDs of applied network actions.
func (n *LinearNetwork) AppliedNetworkActions() []string {
	ids := make([]string, 0, len(n.applied))
	for id := range n.applied {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Setpoints returns the current setpoint of every range action known to the model.
func (n *LinearNetwork) Setpoints() map[string]float64 {
	out := make(map[string]float64, len(n.model.InitialSetpoints))
	for id, v := range n.model.InitialSetpoints {
		out[id] = v
	}
	for id, v := range n.setpoints {
		out[id] = v
	}
	return out
}

func (n *LinearNetwork) flow(key CnecSide) float64 {
	f := n.model.BaseFlows[key]
	for id := range n.applied {
		f += n.model.NetworkActionDeltas[id][key]
	}
	for id, sp := range n.setpoints {
		f += n.model.Sensitivities[id][key] * (sp - n.model.InitialSetpoints[id])
	}
	return f
}

func (n *LinearNetwork) status() Status {
	for _, set := range n.model.FailOn {
		if n.appliedAll(set) {
			return StatusFailure
		}
	}
	for _, set := range n.model.FallbackOn {
		if n.appliedAll(set) {
			return StatusFallback
		}
	}
	return StatusSuccess
}

func (n *LinearNetwork) appliedAll(ids []string) bool {
	for _, id := range ids {
		if !n.applied[id] {
			return false
		}
	}
	return true
}

// #endregion linear-network

// #region linear-provider
// LinearProvider computes flows and sensitivities of a LinearNetwork exactly.
type LinearProvider struct {
	calls atomic.Int64
}

// NewLinearProvider creates a provider for LinearNetwork instances.
func NewLinearProvider() *LinearProvider {
	return &LinearProvider{}
}

// Compute evaluates the network. A FAILURE status carries no flows.
func (p *LinearProvider) Compute(ctx context.Context, network Network, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("linear compute: %w", err)
	}
	ln, ok := network.(*LinearNetwork)
	if !ok {
		return nil, fmt.Errorf("linear compute: %w", ErrUnsupportedNetwork)
	}
	p.calls.Add(1)

	res := NewResult(ln.status())
	if res.Status() == StatusFailure {
		return res, nil
	}
	for _, cnec := range req.Cnecs {
		for _, side := range cnec.Sides() {
			key := CnecSide{cnec.ID, side}
			res.SetFlow(cnec.ID, side, ln.flow(key))
			res.SetPtdfSum(cnec.ID, side, ln.model.PtdfSums[key])
			res.SetCommercialFlow(cnec.ID, side, ln.model.CommercialFlows[key])
			for _, ra := range req.RangeActions {
				if s, ok := ln.model.Sensitivities[ra.ID][key]; ok {
					res.SetSensitivity(ra.ID, cnec.ID, side, s)
				}
			}
		}
	}
	return res, nil
}

// Calls counts completed computations.
func (p *LinearProvider) Calls() int64 {
	return p.calls.Load()
}

// #endregion linear-provider

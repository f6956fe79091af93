package sensitivity

import (
	"math"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
)

// #region result
// Result holds flows (MW), sensitivities (MW per setpoint unit), zonal PTDF sums and
// commercial flows for a computation. It is filled once by a provider and then read only.
type Result struct {
	status          Status
	flows           map[CnecSide]float64
	sensitivities   map[SensitivityKey]float64
	ptdfSums        map[CnecSide]float64
	commercialFlows map[CnecSide]float64
}

// NewResult returns an empty result with the given status.
func NewResult(status Status) *Result {
	return &Result{
		status:          status,
		flows:           make(map[CnecSide]float64),
		sensitivities:   make(map[SensitivityKey]float64),
		ptdfSums:        make(map[CnecSide]float64),
		commercialFlows: make(map[CnecSide]float64),
	}
}

func (r *Result) SetFlow(cnecID string, side crac.Side, mw float64) {
	r.flows[CnecSide{cnecID, side}] = mw
}

func (r *Result) SetSensitivity(raID, cnecID string, side crac.Side, value float64) {
	r.sensitivities[SensitivityKey{raID, CnecSide{cnecID, side}}] = value
}

func (r *Result) SetPtdfSum(cnecID string, side crac.Side, value float64) {
	r.ptdfSums[CnecSide{cnecID, side}] = value
}

func (r *Result) SetCommercialFlow(cnecID string, side crac.Side, mw float64) {
	r.commercialFlows[CnecSide{cnecID, side}] = mw
}

// #endregion result

// #region accessors
// Status is the computation status.
func (r *Result) Status() Status { return r.status }

// Flow returns the flow on a CNEC side in unit.
func (r *Result) Flow(cnec *crac.FlowCnec, side crac.Side, unit crac.Unit) float64 {
	return cnec.Convert(r.flows[CnecSide{cnec.ID, side}], crac.Megawatt, unit, side)
}

// Sensitivity returns dFlow/dSetpoint in MW per setpoint unit.
func (r *Result) Sensitivity(ra *crac.RangeAction, cnec *crac.FlowCnec, side crac.Side) float64 {
	return r.sensitivities[SensitivityKey{ra.ID, CnecSide{cnec.ID, side}}]
}

// PtdfZonalSum returns the sum of absolute zonal PTDFs of a CNEC side.
func (r *Result) PtdfZonalSum(cnec *crac.FlowCnec, side crac.Side) float64 {
	return r.ptdfSums[CnecSide{cnec.ID, side}]
}

// LoopFlow is the flow not explained by commercial exchanges, in MW.
func (r *Result) LoopFlow(cnec *crac.FlowCnec, side crac.Side) float64 {
	key := CnecSide{cnec.ID, side}
	return r.flows[key] - r.commercialFlows[key]
}

// SideMargin is the distance to the nearest threshold on one side; negative when violated.
// A side without thresholds has an infinite margin.
func (r *Result) SideMargin(cnec *crac.FlowCnec, side crac.Side, unit crac.Unit) float64 {
	flow := r.Flow(cnec, side, unit)
	margin := math.Inf(1)
	if ub, ok := cnec.UpperBound(side, unit); ok {
		margin = math.Min(margin, ub-flow)
	}
	if lb, ok := cnec.LowerBound(side, unit); ok {
		margin = math.Min(margin, flow-lb)
	}
	return margin
}

// Margin is the smallest side margin of the CNEC.
func (r *Result) Margin(cnec *crac.FlowCnec, unit crac.Unit) float64 {
	margin := math.Inf(1)
	for _, side := range cnec.Sides() {
		margin = math.Min(margin, r.SideMargin(cnec, side, unit))
	}
	return margin
}

// RelativeMargin divides positive margins by the PTDF sum, floored at ptdfFloor.
// Negative margins are returned as is.
func (r *Result) RelativeMargin(cnec *crac.FlowCnec, unit crac.Unit, ptdfFloor float64) float64 {
	margin := math.Inf(1)
	for _, side := range cnec.Sides() {
		m := r.SideMargin(cnec, side, unit)
		if m > 0 {
			m /= math.Max(r.PtdfZonalSum(cnec, side), ptdfFloor)
		}
		margin = math.Min(margin, m)
	}
	return margin
}

// #endregion accessors

// #region entries
// The entry accessors expose the raw maps for serialization. Callers must not mutate them.
func (r *Result) FlowEntries() map[CnecSide]float64              { return r.flows }
func (r *Result) SensitivityEntries() map[SensitivityKey]float64 { return r.sensitivities }
func (r *Result) PtdfEntries() map[CnecSide]float64              { return r.ptdfSums }
func (r *Result) CommercialFlowEntries() map[CnecSide]float64    { return r.commercialFlows }

// #endregion entries

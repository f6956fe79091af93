package linearproblem

import "github.com/danielpatrickdp/grid-rao/internal/crac"

// #region variable-ids
func FlowVariableID(cnec *crac.FlowCnec, side crac.Side) string {
	return cnec.ID + "_" + string(side) + "_flow_variable"
}

func SetpointVariableID(ra *crac.RangeAction) string {
	return ra.ID + "_setpoint_variable"
}

func AbsoluteVariationID(ra *crac.RangeAction) string {
	return ra.ID + "_absolutevariation_variable"
}

func UpwardVariationID(ra *crac.RangeAction) string {
	return ra.ID + "_upwardvariation_variable"
}

func DownwardVariationID(ra *crac.RangeAction) string {
	return ra.ID + "_downwardvariation_variable"
}

func IsVariationID(ra *crac.RangeAction) string {
	return ra.ID + "_isvariation_variable"
}

func TsoRaUsedID(tso string) string {
	return tso + "_tsoraused_variable"
}

func TapVariationID(ra *crac.RangeAction) string {
	return ra.ID + "_tapvariation_variable"
}

func MnecViolationID(cnec *crac.FlowCnec, side crac.Side) string {
	return cnec.ID + "_" + string(side) + "_mnecviolation_variable"
}

const (
	MinimumMarginID         = "minmargin_variable"
	MinimumRelativeMarginID = "minrelmargin_variable"
	PositiveMinMarginID     = "positiveminmargin_variable"
)

// #endregion variable-ids

// #region constraint-ids
func FlowConstraintID(cnec *crac.FlowCnec, side crac.Side) string {
	return cnec.ID + "_" + string(side) + "_flow_constraint"
}

func SetpointConstraintID(ra *crac.RangeAction) string {
	return ra.ID + "_setpoint_constraint"
}

func AbsoluteVariationConstraintID(ra *crac.RangeAction) string {
	return ra.ID + "_absolutevariation_constraint"
}

func MinMarginConstraintID(cnec *crac.FlowCnec, side crac.Side, upper bool) string {
	if upper {
		return cnec.ID + "_" + string(side) + "_minmargin_upper_constraint"
	}
	return cnec.ID + "_" + string(side) + "_minmargin_lower_constraint"
}

func MinRelMarginConstraintID(cnec *crac.FlowCnec, side crac.Side, upper bool) string {
	if upper {
		return cnec.ID + "_" + string(side) + "_minrelmargin_upper_constraint"
	}
	return cnec.ID + "_" + string(side) + "_minrelmargin_lower_constraint"
}

func MnecConstraintID(cnec *crac.FlowCnec, side crac.Side, upper bool) string {
	if upper {
		return cnec.ID + "_" + string(side) + "_mnec_upper_constraint"
	}
	return cnec.ID + "_" + string(side) + "_mnec_lower_constraint"
}

func IsVariationConstraintID(ra *crac.RangeAction) string {
	return ra.ID + "_isvariation_constraint"
}

func TsoRaUsedConstraintID(tso string, ra *crac.RangeAction) string {
	return tso + "_" + ra.ID + "_tsoraused_constraint"
}

func MaxTsoConstraintID() string { return "maxtso_constraint" }
func MaxRaConstraintID() string  { return "maxra_constraint" }

func MaxRaPerTsoConstraintID(tso string) string {
	return tso + "_maxrapertso_constraint"
}

func MaxPstPerTsoConstraintID(tso string) string {
	return tso + "_maxpstpertso_constraint"
}

func TapVariationConstraintID(ra *crac.RangeAction) string {
	return ra.ID + "_tapvariation_constraint"
}

func MaxElementaryActionsPerTsoConstraintID(tso string) string {
	return tso + "_maxelementaryactionspertso_constraint"
}

// #endregion constraint-ids

package treeparams

import (
	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/danielpatrickdp/grid-rao/internal/objective"
	"github.com/danielpatrickdp/grid-rao/internal/usagelimits"
)

// #region stop-criterion
// StopCriterion says when a search may stop before exhausting its depth.
type StopCriterion string

const (
	MinObjective                 StopCriterion = "MIN_OBJECTIVE"
	Secure                       StopCriterion = "SECURE"
	PreventiveObjective          StopCriterion = "PREVENTIVE_OBJECTIVE"
	PreventiveObjectiveAndSecure StopCriterion = "PREVENTIVE_OBJECTIVE_AND_SECURE"
)

// #endregion stop-criterion

// #region parameters
// Parameters is the full configuration of an optimization run.
type Parameters struct {
	Objective       ObjectiveParameters       `yaml:"objective"`
	NetworkActions  NetworkActionParameters   `yaml:"network_actions"`
	RangeActions    RangeActionParameters     `yaml:"range_actions"`
	LinearOptimizer LinearOptimizerParameters `yaml:"linear_optimizer"`
	Mnec            MnecParameters            `yaml:"mnec"`
	LoopFlow        LoopFlowParameters        `yaml:"loop_flow"`
	Parallelism     ParallelismParameters     `yaml:"parallelism"`
	// FallbackOvercost is added to leaves computed with the fallback sensitivity method.
	FallbackOvercost float64 `yaml:"fallback_overcost" validate:"gte=0"`
	// UsageLimits are keyed by instant ID.
	UsageLimits usagelimits.Params `yaml:"usage_limits"`
}

// ObjectiveParameters selects the cost function and the stop criteria.
type ObjectiveParameters struct {
	Type                      objective.Type `yaml:"type" validate:"oneof=MAX_MIN_MARGIN MAX_MIN_RELATIVE_MARGIN"`
	Unit                      crac.Unit      `yaml:"unit" validate:"oneof=MEGAWATT AMPERE"`
	PreventiveStopCriterion   StopCriterion  `yaml:"preventive_stop_criterion" validate:"oneof=MIN_OBJECTIVE SECURE"`
	CurativeStopCriterion     StopCriterion  `yaml:"curative_stop_criterion" validate:"oneof=MIN_OBJECTIVE SECURE PREVENTIVE_OBJECTIVE PREVENTIVE_OBJECTIVE_AND_SECURE"`
	CurativeMinObjImprovement float64        `yaml:"curative_min_obj_improvement" validate:"gte=0"`
	PtdfSumLowerBound         float64        `yaml:"ptdf_sum_lower_bound" validate:"gt=0"`
}

// NetworkActionParameters bounds the search depth and filters network action candidates.
type NetworkActionParameters struct {
	MaxSearchTreeDepth         int     `yaml:"max_search_tree_depth" validate:"gte=0"`
	AbsoluteMinImpactThreshold float64 `yaml:"absolute_min_impact_threshold" validate:"gte=0"`
	RelativeMinImpactThreshold float64 `yaml:"relative_min_impact_threshold" validate:"gte=0,lte=1"`
	SkipFarFromMostLimiting    bool    `yaml:"skip_far_from_most_limiting"`
	MaxNumberOfBoundaries      int     `yaml:"max_number_of_boundaries" validate:"gte=0"`
	// PredefinedCombinations lists groups of network action IDs tried together.
	PredefinedCombinations [][]string `yaml:"predefined_combinations" validate:"dive,min=2"`
}

// RangeActionParameters holds per-type penalties and sensitivity thresholds of range actions.
type RangeActionParameters struct {
	PenaltyCost          map[crac.RangeActionType]float64 `yaml:"penalty_cost" validate:"dive,gte=0"`
	SensitivityThreshold map[crac.RangeActionType]float64 `yaml:"sensitivity_threshold" validate:"dive,gte=0"`
}

// LinearOptimizerParameters tunes the iterated linear problem and its MIP solver.
type LinearOptimizerParameters struct {
	MaxIterations  int     `yaml:"max_iterations" validate:"gte=1"`
	RelativeMipGap float64 `yaml:"relative_mip_gap" validate:"gte=0"`
	MaxNodes       int     `yaml:"max_nodes" validate:"gte=1"`
	BigM           float64 `yaml:"big_m" validate:"gt=0"`
}

// MnecParameters configures the virtual cost of monitored-only CNECs.
type MnecParameters struct {
	Enabled              bool    `yaml:"enabled"`
	AcceptableDiminution float64 `yaml:"acceptable_diminution" validate:"gte=0"`
	ViolationCost        float64 `yaml:"violation_cost" validate:"gte=0"`
}

// LoopFlowParameters configures the loop-flow virtual cost.
type LoopFlowParameters struct {
	Enabled                bool    `yaml:"enabled"`
	AcceptableAugmentation float64 `yaml:"acceptable_augmentation" validate:"gte=0"`
	ViolationCost          float64 `yaml:"violation_cost" validate:"gte=0"`
}

// ParallelismParameters sets how many leaves and contingency scenarios run concurrently.
type ParallelismParameters struct {
	PreventiveLeaves     int `yaml:"preventive_leaves" validate:"gte=1"`
	CurativeLeaves       int `yaml:"curative_leaves" validate:"gte=1"`
	ContingencyScenarios int `yaml:"contingency_scenarios" validate:"gte=1"`
}

// #endregion parameters

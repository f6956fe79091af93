package treeparams

import (
	"fmt"
	"os"
	"strconv"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/danielpatrickdp/grid-rao/internal/objective"
	"github.com/danielpatrickdp/grid-rao/internal/usagelimits"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// #region defaults
// DefaultParameters returns a depth-2 MW min-margin search that stops once secure.
func DefaultParameters() Parameters {
	return Parameters{
		Objective: ObjectiveParameters{
			Type:                    objective.MaxMinMargin,
			Unit:                    crac.Megawatt,
			PreventiveStopCriterion: Secure,
			CurativeStopCriterion:   MinObjective,
			PtdfSumLowerBound:       0.01,
		},
		NetworkActions: NetworkActionParameters{
			MaxSearchTreeDepth:    2,
			MaxNumberOfBoundaries: 2,
		},
		RangeActions: RangeActionParameters{
			PenaltyCost: map[crac.RangeActionType]float64{
				crac.RangePst:          0.01,
				crac.RangeHvdc:         0.001,
				crac.RangeInjection:    0.001,
				crac.RangeCounterTrade: 0.001,
			},
			SensitivityThreshold: map[crac.RangeActionType]float64{},
		},
		LinearOptimizer: LinearOptimizerParameters{
			MaxIterations:  10,
			RelativeMipGap: 1e-4,
			MaxNodes:       5000,
			BigM:           1e5,
		},
		Mnec: MnecParameters{
			AcceptableDiminution: 50,
			ViolationCost:        10,
		},
		LoopFlow: LoopFlowParameters{
			ViolationCost: 10,
		},
		Parallelism: ParallelismParameters{
			PreventiveLeaves:     1,
			CurativeLeaves:       1,
			ContingencyScenarios: 1,
		},
		UsageLimits: usagelimits.Params{},
	}
}

// #endregion defaults

// #region load
// LoadParameters merges defaults, the YAML file at path (optional) and RAO_*
// environment variables, then validates the result.
func LoadParameters(path string) (Parameters, error) {
	params := DefaultParameters()
	if path != "" {
		if err := loadParametersFile(path, &params); err != nil {
			return params, fmt.Errorf("load parameters file: %w", err)
		}
	}
	loadParametersFromEnv(&params)
	if err := params.Validate(); err != nil {
		return params, fmt.Errorf("invalid parameters: %w", err)
	}
	return params, nil
}

func loadParametersFile(path string, params *Parameters) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return ParseParameters(data, params)
}

// ParseParameters decodes YAML on top of params; absent keys keep their value.
func ParseParameters(data []byte, params *Parameters) error {
	if err := yaml.Unmarshal(data, params); err != nil {
		return fmt.Errorf("parse parameters: %w", err)
	}
	return nil
}

func loadParametersFromEnv(params *Parameters) {
	if v := os.Getenv("RAO_MAX_SEARCH_TREE_DEPTH"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			params.NetworkActions.MaxSearchTreeDepth = i
		}
	}
	if v := os.Getenv("RAO_PREVENTIVE_LEAVES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			params.Parallelism.PreventiveLeaves = i
		}
	}
	if v := os.Getenv("RAO_CURATIVE_LEAVES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			params.Parallelism.CurativeLeaves = i
		}
	}
	if v := os.Getenv("RAO_CONTINGENCY_SCENARIOS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			params.Parallelism.ContingencyScenarios = i
		}
	}
	if v := os.Getenv("RAO_MAX_ITERATIONS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			params.LinearOptimizer.MaxIterations = i
		}
	}
	if v := os.Getenv("RAO_PREVENTIVE_STOP_CRITERION"); v != "" {
		params.Objective.PreventiveStopCriterion = StopCriterion(v)
	}
	if v := os.Getenv("RAO_CURATIVE_STOP_CRITERION"); v != "" {
		params.Objective.CurativeStopCriterion = StopCriterion(v)
	}
	if v := os.Getenv("RAO_OBJECTIVE_TYPE"); v != "" {
		params.Objective.Type = objective.Type(v)
	}
	if v := os.Getenv("RAO_OBJECTIVE_UNIT"); v != "" {
		params.Objective.Unit = crac.Unit(v)
	}
	if v := os.Getenv("RAO_SKIP_FAR_FROM_MOST_LIMITING"); v != "" {
		params.NetworkActions.SkipFarFromMostLimiting = v == "true" || v == "1"
	}
	if v := os.Getenv("RAO_MAX_NUMBER_OF_BOUNDARIES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			params.NetworkActions.MaxNumberOfBoundaries = i
		}
	}
}

// #endregion load

// #region validate
// Validate checks struct tags, then the rules that span several fields.
func (p Parameters) Validate() error {
	if err := validate.Struct(p); err != nil {
		return err
	}
	for instant, l := range p.UsageLimits {
		if l.MaxRa < usagelimits.Unlimited || l.MaxTso < usagelimits.Unlimited {
			return fmt.Errorf("usage limits of %s: negative limit", instant)
		}
		for _, m := range []map[string]int{l.MaxRaPerTso, l.MaxTopoPerTso, l.MaxPstPerTso, l.MaxElementaryActionsPerTso} {
			for tso, v := range m {
				if v < 0 {
					return fmt.Errorf("usage limits of %s: negative limit for %s", instant, tso)
				}
			}
		}
	}
	return nil
}

// #endregion validate

package leaf

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/danielpatrickdp/grid-rao/internal/bloomer"
	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/danielpatrickdp/grid-rao/internal/fillers"
	"github.com/danielpatrickdp/grid-rao/internal/linearoptimizer"
	"github.com/danielpatrickdp/grid-rao/internal/linearproblem"
	"github.com/danielpatrickdp/grid-rao/internal/objective"
	"github.com/danielpatrickdp/grid-rao/internal/sensitivity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ bloomer.Parent = (*Leaf)(nil)

// #region helpers
var preventive = crac.Instant{ID: "preventive", Kind: crac.InstantPreventive}

func ptr(v float64) *float64 { return &v }

type fixture struct {
	perimeter *crac.OptimizationPerimeter
	open      *crac.NetworkAction
	pst       *crac.RangeAction
	model     *sensitivity.LinearModel
	base      *sensitivity.LinearNetwork
	provider  *sensitivity.LinearProvider
	objective *objective.Function
	preFlows  *sensitivity.Result
}

// newFixture: one line in [-100, 100] MW at 150 MW. Opening the parallel line brings it
// to 80 MW; the PST shifts 10 MW per degree within [-5, 5].
func newFixture(t *testing.T, withPst bool) *fixture {
	t.Helper()
	line := &crac.FlowCnec{
		ID:         "line-fr-be",
		State:      crac.State{Instant: preventive},
		Thresholds: []crac.Threshold{{Unit: crac.Megawatt, Side: crac.SideOne, Min: ptr(-100), Max: ptr(100)}},
		Optimized:  true,
	}
	rule := []crac.UsageRule{{InstantID: preventive.ID, Method: crac.UsageAvailable}}
	open := &crac.NetworkAction{
		RemedialAction:    crac.RemedialAction{ID: "open-parallel", Name: "Open parallel line", Operator: "FR", UsageRules: rule},
		ElementaryActions: []crac.ElementaryAction{{NetworkElement: "parallel", Kind: crac.ElementaryTopology}},
	}
	var ras []*crac.RangeAction
	pst := &crac.RangeAction{
		RemedialAction: crac.RemedialAction{ID: "pst-fr", Operator: "FR", UsageRules: rule},
		Type:           crac.RangePst,
		Ranges:         []crac.Range{{Kind: crac.RangeAbsolute, Min: -5, Max: 5}},
	}
	if withPst {
		ras = append(ras, pst)
	}
	c, err := crac.NewCrac("leaf", []crac.Instant{preventive}, nil, []*crac.FlowCnec{line}, []*crac.NetworkAction{open}, ras)
	require.NoError(t, err)
	perimeter := crac.NewPreventivePerimeter(c)

	model := sensitivity.NewLinearModel()
	key := sensitivity.CnecSide{CnecID: line.ID, Side: crac.SideOne}
	model.BaseFlows[key] = 150
	model.NetworkActionDeltas[open.ID] = map[sensitivity.CnecSide]float64{key: -70}
	model.Sensitivities[pst.ID] = map[sensitivity.CnecSide]float64{key: 10}
	model.InitialSetpoints[pst.ID] = 0

	f := &fixture{
		perimeter: perimeter,
		open:      open,
		pst:       pst,
		model:     model,
		base:      sensitivity.NewLinearNetwork(model),
		provider:  sensitivity.NewLinearProvider(),
	}
	f.preFlows, err = f.provider.Compute(context.Background(), f.base,
		sensitivity.Request{Cnecs: perimeter.FlowCnecs, RangeActions: perimeter.RangeActions})
	require.NoError(t, err)
	f.objective, err = objective.New(perimeter, f.preFlows, objective.DefaultConfig())
	require.NoError(t, err)
	return f
}

func (f *fixture) optimizeInput(chain fillers.Chain) OptimizeInput {
	return OptimizeInput{
		Provider:          f.provider,
		Objective:         f.objective,
		Chain:             chain,
		PrePerimeterFlows: f.preFlows,
	}
}

func marginChain() fillers.Chain {
	return fillers.Chain{
		fillers.NewCoreProblemFiller(fillers.DefaultCoreConfig()),
		fillers.NewMaxMinMarginFiller(fillers.DefaultMarginConfig()),
	}
}

type infeasibleFiller struct{}

func (infeasibleFiller) Name() string { return "infeasible" }

func (infeasibleFiller) Fill(m *linearproblem.Model, _ fillers.Input) error {
	x, err := m.AddVariable("x", 0, 1)
	if err != nil {
		return err
	}
	c, err := m.AddConstraint("x_above_two", 2, linearproblem.Infinity)
	if err != nil {
		return err
	}
	c.SetCoefficient(x, 1)
	return nil
}

// brokenNetwork refuses every network action.
type brokenNetwork struct{ sensitivity.Network }

func (n brokenNetwork) Clone() sensitivity.Network { return n }

func (brokenNetwork) ApplyNetworkAction(*crac.NetworkAction) error {
	return errors.New("switch stuck")
}

// #endregion helpers

func TestRootLeafEvaluation(t *testing.T) {
	f := newFixture(t, false)
	root := NewRootLeaf(f.perimeter, f.base, nil)
	assert.Equal(t, StatusCreated, root.Status())
	assert.True(t, root.IsRoot())
	assert.True(t, math.IsInf(root.Cost(), 1), "unscored leaf never wins")

	require.NoError(t, root.Evaluate(context.Background(), f.provider, f.objective))
	assert.Equal(t, StatusEvaluated, root.Status())
	assert.InDelta(t, 50, root.Cost(), 1e-9)
	assert.InDelta(t, 50, root.FunctionalCost(), 1e-9)
	assert.Zero(t, root.VirtualCost())
	assert.Equal(t, "Root leaf", root.Identifier())
	require.Len(t, root.MostLimitingElements(5), 1)
	assert.Equal(t, "line-fr-be", root.MostLimitingElements(1)[0].ID)

	calls := f.provider.Calls()
	require.NoError(t, root.Evaluate(context.Background(), f.provider, f.objective))
	assert.Equal(t, calls, f.provider.Calls(), "second evaluation is a no-op")
}

func TestChildLeafAppliesCombination(t *testing.T) {
	f := newFixture(t, false)
	root := NewRootLeaf(f.perimeter, f.base, nil)
	require.NoError(t, root.Evaluate(context.Background(), f.provider, f.objective))

	child := NewLeaf(f.base, root, crac.NewCombination(false, f.open), false)
	require.NoError(t, child.Evaluate(context.Background(), f.provider, f.objective))
	assert.InDelta(t, -20, child.Cost(), 1e-9)
	assert.False(t, child.IsRoot())
	assert.Equal(t, []*crac.NetworkAction{f.open}, child.ActivatedNetworkActions())
	assert.Equal(t, "network action(s): Open parallel line", child.Identifier())
	assert.Empty(t, f.base.AppliedNetworkActions(), "base network untouched")

	combo, ok := child.Combination()
	require.True(t, ok)
	assert.Equal(t, "open-parallel", combo.ID())

	grandchild := NewLeaf(f.base, child, crac.NewCombination(false, f.open), false)
	assert.Len(t, grandchild.ActivatedNetworkActions(), 1, "actions are applied once")
}

func TestEvaluateFailureMarksError(t *testing.T) {
	f := newFixture(t, false)
	f.model.FailOn = [][]string{{f.open.ID}}
	root := NewRootLeaf(f.perimeter, f.base, nil)
	require.NoError(t, root.Evaluate(context.Background(), f.provider, f.objective))

	child := NewLeaf(f.base, root, crac.NewCombination(false, f.open), false)
	err := child.Evaluate(context.Background(), f.provider, f.objective)
	require.ErrorIs(t, err, objective.ErrSensitivityFailure)
	assert.Equal(t, StatusError, child.Status())
	assert.Nil(t, child.Result())
	assert.True(t, math.IsInf(child.Cost(), 1))
	assert.ErrorIs(t, child.Evaluate(context.Background(), f.provider, f.objective), objective.ErrSensitivityFailure)

	err = child.Optimize(context.Background(), linearoptimizer.NewOptimizer(linearoptimizer.DefaultConfig()), f.optimizeInput(marginChain()))
	assert.ErrorIs(t, err, ErrNotEvaluated)
}

func TestApplyFailureMarksError(t *testing.T) {
	f := newFixture(t, false)
	root := NewRootLeaf(f.perimeter, f.base, nil)
	require.NoError(t, root.Evaluate(context.Background(), f.provider, f.objective))

	child := NewLeaf(brokenNetwork{f.base}, root, crac.NewCombination(false, f.open), false)
	assert.Equal(t, StatusError, child.Status())
	assert.ErrorIs(t, child.Err(), ErrApply)
}

func TestOptimizeMovesRangeActions(t *testing.T) {
	f := newFixture(t, true)
	root := NewRootLeaf(f.perimeter, f.base, map[string]float64{f.pst.ID: 0})
	require.NoError(t, root.Evaluate(context.Background(), f.provider, f.objective))
	assert.Empty(t, root.ActivatedRangeActions())

	opt := linearoptimizer.NewOptimizer(linearoptimizer.DefaultConfig())
	require.NoError(t, root.Optimize(context.Background(), opt, f.optimizeInput(marginChain())))
	assert.Equal(t, StatusOptimized, root.Status())
	assert.False(t, root.OptimizationFailed())
	assert.InDelta(t, 0, root.Cost(), 1e-6)
	assert.InDelta(t, 50, root.PreOptimResult().Cost(), 1e-9)
	assert.InDelta(t, -5, root.Setpoint(f.pst), 1e-6)
	assert.Equal(t, []*crac.RangeAction{f.pst}, root.ActivatedRangeActions())
	assert.Contains(t, root.String(), "range action(s): pst-fr")

	kept := NewLeaf(f.base, root, crac.NewCombination(false, f.open), false)
	assert.InDelta(t, -5, kept.Setpoint(f.pst), 1e-6)
	removed := NewLeaf(f.base, root, crac.NewCombination(false, f.open), true)
	assert.InDelta(t, 0, removed.Setpoint(f.pst), 1e-9)
	assert.Empty(t, removed.ActivatedRangeActions())
}

func TestOptimizeWithoutSolutionKeepsEvaluatedResult(t *testing.T) {
	f := newFixture(t, true)
	root := NewRootLeaf(f.perimeter, f.base, nil)
	require.NoError(t, root.Evaluate(context.Background(), f.provider, f.objective))

	opt := linearoptimizer.NewOptimizer(linearoptimizer.DefaultConfig())
	chain := append(marginChain(), infeasibleFiller{})
	require.NoError(t, root.Optimize(context.Background(), opt, f.optimizeInput(chain)))
	assert.Equal(t, StatusEvaluated, root.Status())
	assert.True(t, root.OptimizationFailed())
	assert.Equal(t, linearoptimizer.StatusInfeasible, root.OptimizationStatus())
	assert.InDelta(t, 50, root.Cost(), 1e-9)
}

func TestReleasedLeafKeepsScore(t *testing.T) {
	f := newFixture(t, true)
	root := NewRootLeaf(f.perimeter, f.base, nil)
	require.NoError(t, root.Evaluate(context.Background(), f.provider, f.objective))
	root.Release()
	assert.Nil(t, root.Network())
	assert.InDelta(t, 50, root.Cost(), 1e-9)

	opt := linearoptimizer.NewOptimizer(linearoptimizer.DefaultConfig())
	assert.ErrorIs(t, root.Optimize(context.Background(), opt, f.optimizeInput(marginChain())), ErrReleased)
}

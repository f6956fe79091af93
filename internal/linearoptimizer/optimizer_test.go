package linearoptimizer

import (
	"context"
	"testing"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/danielpatrickdp/grid-rao/internal/fillers"
	"github.com/danielpatrickdp/grid-rao/internal/linearproblem"
	"github.com/danielpatrickdp/grid-rao/internal/objective"
	"github.com/danielpatrickdp/grid-rao/internal/sensitivity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// #region helpers
var preventive = crac.Instant{ID: "preventive", Kind: crac.InstantPreventive}

func ptr(v float64) *float64 { return &v }

type fixture struct {
	perimeter *crac.OptimizationPerimeter
	pst       *crac.RangeAction
	network   *sensitivity.LinearNetwork
	provider  *sensitivity.LinearProvider
	objective *objective.Function
	flows     *sensitivity.Result
	result    *objective.Result
}

// newFixture builds one line limited to [-100, 100] MW carrying 150 MW, and a PST
// shifting 10 MW per degree on it.
func newFixture(t *testing.T, tapAngles []float64) *fixture {
	t.Helper()
	line := &crac.FlowCnec{
		ID:         "line-fr-be",
		State:      crac.State{Instant: preventive},
		Thresholds: []crac.Threshold{{Unit: crac.Megawatt, Side: crac.SideOne, Min: ptr(-100), Max: ptr(100)}},
		Optimized:  true,
	}
	pst := &crac.RangeAction{
		RemedialAction: crac.RemedialAction{ID: "pst-fr", Operator: "FR",
			UsageRules: []crac.UsageRule{{InstantID: preventive.ID, Method: crac.UsageAvailable}}},
		Type:      crac.RangePst,
		Ranges:    []crac.Range{{Kind: crac.RangeAbsolute, Min: -5, Max: 5}},
		TapAngles: tapAngles,
	}
	c, err := crac.NewCrac("test", []crac.Instant{preventive}, nil, []*crac.FlowCnec{line}, nil, []*crac.RangeAction{pst})
	require.NoError(t, err)
	perimeter := crac.NewPreventivePerimeter(c)

	model := sensitivity.NewLinearModel()
	key := sensitivity.CnecSide{CnecID: line.ID, Side: crac.SideOne}
	model.BaseFlows[key] = 150
	model.Sensitivities[pst.ID] = map[sensitivity.CnecSide]float64{key: 10}
	model.InitialSetpoints[pst.ID] = 0

	f := &fixture{
		perimeter: perimeter,
		pst:       pst,
		network:   sensitivity.NewLinearNetwork(model),
		provider:  sensitivity.NewLinearProvider(),
	}
	f.flows, err = f.provider.Compute(context.Background(), f.network,
		sensitivity.Request{Cnecs: perimeter.FlowCnecs, RangeActions: perimeter.RangeActions})
	require.NoError(t, err)
	f.objective, err = objective.New(perimeter, f.flows, objective.DefaultConfig())
	require.NoError(t, err)
	f.result, err = f.objective.Evaluate(f.flows)
	require.NoError(t, err)
	return f
}

func (f *fixture) input(chain fillers.Chain) Input {
	return Input{
		Perimeter:             f.perimeter,
		RangeActions:          f.perimeter.RangeActions,
		Network:               f.network,
		Provider:              f.provider,
		Objective:             f.objective,
		Chain:                 chain,
		PrePerimeterFlows:     f.flows,
		PrePerimeterSetpoints: map[string]float64{f.pst.ID: 0},
		InitialFlows:          f.flows,
		InitialResult:         f.result,
		InitialSetpoints:      map[string]float64{f.pst.ID: 0},
	}
}

func defaultChain() fillers.Chain {
	return fillers.Chain{
		fillers.NewCoreProblemFiller(fillers.DefaultCoreConfig()),
		fillers.NewMaxMinMarginFiller(fillers.DefaultMarginConfig()),
	}
}

// infeasibleFiller asks for a variable above its own upper bound.
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

// failingProvider lets the first n computations through, then reports FAILURE.
type failingProvider struct {
	inner *sensitivity.LinearProvider
	n     int
}

func (p *failingProvider) Compute(ctx context.Context, network sensitivity.Network, req sensitivity.Request) (*sensitivity.Result, error) {
	if p.n <= 0 {
		return sensitivity.NewResult(sensitivity.StatusFailure), nil
	}
	p.n--
	return p.inner.Compute(ctx, network, req)
}

// #endregion helpers

func TestOptimizeMovesPstToRestoreMargin(t *testing.T) {
	f := newFixture(t, nil)
	require.InDelta(t, 50, f.result.Cost(), 1e-6)

	res, err := NewOptimizer(DefaultConfig()).Optimize(context.Background(), f.input(defaultChain()))
	require.NoError(t, err)
	assert.Equal(t, StatusOptimal, res.Status)
	assert.InDelta(t, -5, res.Setpoints[f.pst.ID], 1e-6)
	assert.InDelta(t, 0, res.Objective.Cost(), 1e-6)
	assert.Equal(t, 2, res.Iterations, "second iteration finds the same setpoints")
	assert.InDelta(t, -5, f.network.Setpoints()[f.pst.ID], 1e-6)
}

func TestOptimizeRoundsPstToTap(t *testing.T) {
	f := newFixture(t, []float64{-4.5, -3, -1.5, 0, 1.5, 3, 4.5})

	res, err := NewOptimizer(DefaultConfig()).Optimize(context.Background(), f.input(defaultChain()))
	require.NoError(t, err)
	assert.InDelta(t, -4.5, res.Setpoints[f.pst.ID], 1e-9)
	assert.InDelta(t, 5, res.Objective.Cost(), 1e-6)
	assert.Equal(t, 0, f.pst.Tap(res.Setpoints[f.pst.ID]), "lowest tap")
}

func TestOptimizeWithoutRangeActionsKeepsInitialResult(t *testing.T) {
	f := newFixture(t, nil)
	in := f.input(defaultChain())
	in.RangeActions = nil

	res, err := NewOptimizer(DefaultConfig()).Optimize(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, StatusOptimal, res.Status)
	assert.Same(t, f.result, res.Objective)
	assert.Equal(t, int64(1), f.provider.Calls())
}

func TestOptimizeReportsInfeasibleFirstIteration(t *testing.T) {
	f := newFixture(t, nil)
	chain := append(defaultChain(), infeasibleFiller{})

	res, err := NewOptimizer(DefaultConfig()).Optimize(context.Background(), f.input(chain))
	require.NoError(t, err)
	assert.Equal(t, StatusInfeasible, res.Status)
	assert.True(t, res.Status.Failed())
	assert.Same(t, f.result, res.Objective)
	assert.Equal(t, 1, res.Iterations)
}

func TestOptimizeKeepsBestOnSensitivityFailure(t *testing.T) {
	f := newFixture(t, nil)
	in := f.input(defaultChain())
	in.Provider = &failingProvider{inner: f.provider}

	res, err := NewOptimizer(DefaultConfig()).Optimize(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, StatusSensitivityFailed, res.Status)
	assert.False(t, res.Status.Failed())
	assert.InDelta(t, 50, res.Objective.Cost(), 1e-6)
	assert.InDelta(t, 0, f.network.Setpoints()[f.pst.ID], 1e-9, "network restored to the best setpoints")
}

func TestOptimizeStopsAtMaxIterations(t *testing.T) {
	f := newFixture(t, nil)
	config := DefaultConfig()
	config.MaxIterations = 1

	res, err := NewOptimizer(config).Optimize(context.Background(), f.input(defaultChain()))
	require.NoError(t, err)
	assert.Equal(t, StatusMaxIterationReached, res.Status)
	assert.InDelta(t, 0, res.Objective.Cost(), 1e-6)
}

func TestOptimizeFillerErrorIsFatal(t *testing.T) {
	f := newFixture(t, nil)
	// the margin filler needs the flow variables of the core filler
	chain := fillers.Chain{fillers.NewMaxMinMarginFiller(fillers.DefaultMarginConfig())}

	_, err := NewOptimizer(DefaultConfig()).Optimize(context.Background(), f.input(chain))
	require.ErrorIs(t, err, linearproblem.ErrMissingVariable)
}

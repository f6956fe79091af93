package objective

import (
	"errors"
	"math"
	"testing"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/danielpatrickdp/grid-rao/internal/sensitivity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var preventive = crac.Instant{ID: "preventive", Kind: crac.InstantPreventive}

func ptr(v float64) *float64 { return &v }

func cnec(id string, optimized bool) *crac.FlowCnec {
	return &crac.FlowCnec{
		ID:         id,
		State:      crac.State{Instant: preventive},
		Thresholds: []crac.Threshold{{Unit: crac.Megawatt, Side: crac.SideOne, Min: ptr(-100), Max: ptr(100)}},
		Optimized:  optimized,
		Monitored:  !optimized,
	}
}

func perimeter(t *testing.T, cnecs ...*crac.FlowCnec) *crac.OptimizationPerimeter {
	t.Helper()
	c, err := crac.NewCrac("test", []crac.Instant{preventive}, nil, cnecs, nil, nil)
	require.NoError(t, err)
	return crac.NewPreventivePerimeter(c)
}

func flows(status sensitivity.Status, values map[string]float64) *sensitivity.Result {
	r := sensitivity.NewResult(status)
	for id, v := range values {
		r.SetFlow(id, crac.SideOne, v)
	}
	return r
}

func TestFunctionalCostIsMinusWorstMargin(t *testing.T) {
	a, b := cnec("a", true), cnec("b", true)
	f, err := New(perimeter(t, a, b), nil, DefaultConfig())
	require.NoError(t, err)

	res, err := f.Evaluate(flows(sensitivity.StatusSuccess, map[string]float64{"a": 150, "b": 20}))
	require.NoError(t, err)
	assert.InDelta(t, 50, res.FunctionalCost, 1e-9)
	assert.InDelta(t, 50, res.Cost(), 1e-9)
	assert.Equal(t, []*crac.FlowCnec{a, b}, res.MostLimitingElements(5))

	res, err = f.Evaluate(flows(sensitivity.StatusSuccess, map[string]float64{"a": 80, "b": 20}))
	require.NoError(t, err)
	assert.InDelta(t, -20, res.FunctionalCost, 1e-9)
}

func TestMarginSignConvention(t *testing.T) {
	a := cnec("a", true)
	r := flows(sensitivity.StatusSuccess, map[string]float64{"a": 60})
	assert.InDelta(t, 40, r.Margin(a, crac.Megawatt), 1e-9)

	r = flows(sensitivity.StatusSuccess, map[string]float64{"a": -130})
	assert.InDelta(t, -30, r.Margin(a, crac.Megawatt), 1e-9)
}

func TestTiesFollowDeclarationOrder(t *testing.T) {
	a, b, c := cnec("a", true), cnec("b", true), cnec("c", true)
	f, err := New(perimeter(t, c, a, b), nil, DefaultConfig())
	require.NoError(t, err)

	res, err := f.Evaluate(flows(sensitivity.StatusSuccess, map[string]float64{"a": 90, "b": 90, "c": 90}))
	require.NoError(t, err)
	assert.Equal(t, []*crac.FlowCnec{c, a}, res.MostLimitingElements(2))
	// memoized ranking is stable across calls
	assert.Equal(t, res.MostLimitingElements(3), res.MostLimitingElements(3))
	assert.Empty(t, res.MostLimitingElements(0))
}

func TestAppendingToLimitingElementsKeepsRanking(t *testing.T) {
	a, b, c := cnec("a", true), cnec("b", true), cnec("c", true)
	f, err := New(perimeter(t, a, b, c), nil, DefaultConfig())
	require.NoError(t, err)
	res, err := f.Evaluate(flows(sensitivity.StatusSuccess, map[string]float64{"a": 95, "b": 90, "c": 10}))
	require.NoError(t, err)

	first := res.MostLimitingElements(1)
	require.Equal(t, []*crac.FlowCnec{a}, first)
	_ = append(first, c)

	assert.Equal(t, []*crac.FlowCnec{a, b}, res.MostLimitingElements(2))
	assert.Equal(t, []*crac.FlowCnec{a, b, c}, res.MostLimitingElements(3))
}

func TestPurelyVirtualPerimeterHasZeroFunctionalCost(t *testing.T) {
	m := cnec("m", false)
	f, err := New(perimeter(t, m), nil, DefaultConfig())
	require.NoError(t, err)
	res, err := f.Evaluate(flows(sensitivity.StatusSuccess, map[string]float64{"m": 500}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.FunctionalCost)
	assert.Empty(t, res.MostLimitingElements(1))
}

func TestRelativeMarginObjective(t *testing.T) {
	a := cnec("a", true)
	config := DefaultConfig()
	config.Type = MaxMinRelativeMargin
	f, err := New(perimeter(t, a), nil, config)
	require.NoError(t, err)

	r := flows(sensitivity.StatusSuccess, map[string]float64{"a": 50})
	r.SetPtdfSum("a", crac.SideOne, 0.25)
	res, err := f.Evaluate(r)
	require.NoError(t, err)
	assert.InDelta(t, -200, res.FunctionalCost, 1e-9)

	// negative margins are not scaled
	r = flows(sensitivity.StatusSuccess, map[string]float64{"a": 110})
	r.SetPtdfSum("a", crac.SideOne, 0.25)
	res, err = f.Evaluate(r)
	require.NoError(t, err)
	assert.InDelta(t, 10, res.FunctionalCost, 1e-9)
}

func TestMnecCost(t *testing.T) {
	a, m := cnec("a", true), cnec("m", false)
	config := DefaultConfig()
	config.MnecEnabled = true
	config.MnecAcceptableDiminution = 10
	config.MnecViolationCost = 2

	pre := flows(sensitivity.StatusSuccess, map[string]float64{"a": 0, "m": 105})
	f, err := New(perimeter(t, a, m), pre, config)
	require.NoError(t, err)

	// pre margin -5, tolerated floor -15, current margin -25: 10 MW over
	res, err := f.Evaluate(flows(sensitivity.StatusSuccess, map[string]float64{"a": 0, "m": 125}))
	require.NoError(t, err)
	assert.InDelta(t, 20, res.VirtualCostOf("mnec-cost"), 1e-9)
	assert.InDelta(t, -100+20, res.Cost(), 1e-9)
	assert.Equal(t, []*crac.FlowCnec{m}, res.CostlyElements("mnec-cost", 3))

	// a positive margin never costs anything
	res, err = f.Evaluate(flows(sensitivity.StatusSuccess, map[string]float64{"a": 0, "m": 95}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.VirtualCostOf("mnec-cost"))
	assert.Empty(t, res.CostlyElements("mnec-cost", 3))
}

func TestLoopFlowCost(t *testing.T) {
	a := cnec("a", true)
	a.LoopFlowThreshold = &crac.LoopFlowThreshold{Value: 30}
	config := DefaultConfig()
	config.LoopFlowEnabled = true
	config.LoopFlowAcceptableAugmentation = 5
	config.LoopFlowViolationCost = 3

	pre := flows(sensitivity.StatusSuccess, map[string]float64{"a": 40})
	pre.SetCommercialFlow("a", crac.SideOne, 0)
	f, err := New(perimeter(t, a), pre, config)
	require.NoError(t, err)

	// bound = max(30, 40 + 5) = 45; loop-flow 50 exceeds it by 5
	cur := flows(sensitivity.StatusSuccess, map[string]float64{"a": 60})
	cur.SetCommercialFlow("a", crac.SideOne, 10)
	res, err := f.Evaluate(cur)
	require.NoError(t, err)
	assert.InDelta(t, 15, res.VirtualCostOf("loop-flow-cost"), 1e-9)
	assert.Equal(t, []string{"loop-flow-cost"}, res.VirtualCostNames())
}

func TestFallbackOvercostAndFailure(t *testing.T) {
	a := cnec("a", true)
	config := DefaultConfig()
	config.FallbackOvercost = 1000
	f, err := New(perimeter(t, a), nil, config)
	require.NoError(t, err)
	assert.Equal(t, []string{"sensitivity-failure-cost"}, f.VirtualCostNames())

	res, err := f.Evaluate(flows(sensitivity.StatusFallback, map[string]float64{"a": 0}))
	require.NoError(t, err)
	assert.InDelta(t, 900, res.Cost(), 1e-9)

	res, err = f.Evaluate(flows(sensitivity.StatusSuccess, map[string]float64{"a": 0}))
	require.NoError(t, err)
	assert.InDelta(t, -100, res.Cost(), 1e-9)

	_, err = f.Evaluate(flows(sensitivity.StatusFailure, nil))
	assert.True(t, errors.Is(err, ErrSensitivityFailure))
}

func TestAmpereObjectiveNeedsNominalVoltage(t *testing.T) {
	a := cnec("a", true)
	config := DefaultConfig()
	config.Unit = crac.Ampere

	_, err := New(perimeter(t, a), nil, config)
	assert.True(t, errors.Is(err, ErrUnconvertibleCnec))

	a.NominalVoltage = map[crac.Side]float64{crac.SideOne: 400}
	config.Unit = crac.PercentImax
	_, err = New(perimeter(t, a), nil, config)
	assert.True(t, errors.Is(err, ErrUnconvertibleCnec))

	config.Unit = crac.Ampere
	f, err := New(perimeter(t, a), nil, config)
	require.NoError(t, err)
	res, err := f.Evaluate(flows(sensitivity.StatusSuccess, map[string]float64{"a": 150}))
	require.NoError(t, err)
	assert.InDelta(t, 50/a.MegawattPerAmpere(crac.SideOne), res.FunctionalCost, 1e-9)
	assert.False(t, math.IsNaN(res.Cost()))

	// monitored-only CNECs are scored in MW and need no conversion
	m := cnec("m", false)
	_, err = New(perimeter(t, a, m), nil, config)
	assert.NoError(t, err)
}

func TestUnknownObjective(t *testing.T) {
	config := DefaultConfig()
	config.Type = "MAX_SUM"
	_, err := New(perimeter(t, cnec("a", true)), nil, config)
	assert.True(t, errors.Is(err, ErrUnknownObjective))
}

package bloomer

import (
	"testing"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/danielpatrickdp/grid-rao/internal/graph"
	"github.com/danielpatrickdp/grid-rao/internal/usagelimits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeParent struct {
	networkActions []*crac.NetworkAction
	rangeActions   []*crac.RangeAction
	setpoints      map[string]float64
	limiting       []*crac.FlowCnec
	virtual        map[string][]*crac.FlowCnec
}

func (p *fakeParent) ActivatedNetworkActions() []*crac.NetworkAction { return p.networkActions }
func (p *fakeParent) ActivatedRangeActions() []*crac.RangeAction     { return p.rangeActions }
func (p *fakeParent) Setpoint(ra *crac.RangeAction) float64          { return p.setpoints[ra.ID] }

func (p *fakeParent) MostLimitingElements(n int) []*crac.FlowCnec {
	if n < len(p.limiting) {
		return p.limiting[:n]
	}
	return p.limiting
}

func (p *fakeParent) VirtualCostNames() []string {
	var names []string
	for name := range p.virtual {
		names = append(names, name)
	}
	return names
}

func (p *fakeParent) CostlyElements(name string, _ int) []*crac.FlowCnec { return p.virtual[name] }

func networkAction(id, operator string, location ...string) *crac.NetworkAction {
	return &crac.NetworkAction{
		RemedialAction:    crac.RemedialAction{ID: id, Operator: operator, Location: location},
		ElementaryActions: []crac.ElementaryAction{{NetworkElement: id + "-switch", Kind: crac.ElementaryTopology}},
	}
}

func ids(candidates []Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.Combination.ID()
	}
	return out
}

func find(t *testing.T, candidates []Candidate, id string) Candidate {
	t.Helper()
	for _, c := range candidates {
		if c.Combination.ID() == id {
			return c
		}
	}
	require.Failf(t, "candidate not found", "%s not in %v", id, ids(candidates))
	return Candidate{}
}

func TestBloomEnumeratesPredefinedAndSingletons(t *testing.T) {
	a, b, c := networkAction("na-a", "FR"), networkAction("na-b", "FR"), networkAction("na-c", "BE")
	predefined := []crac.NetworkActionCombination{
		crac.NewCombination(true, a, b),
		crac.NewCombination(true, b, a), // duplicate
		crac.NewCombination(true, a, networkAction("na-unavailable", "FR")),
	}
	bl := NewBloomer(DefaultConfig(), predefined, nil)
	require.Len(t, bl.Predefined(), 2)

	got := bl.Bloom(&fakeParent{}, []*crac.NetworkAction{a, b, c})
	require.Len(t, got, 4)
	assert.Equal(t, "na-a + na-b", got[0].Combination.ID(), "predefined combinations come first")
	assert.ElementsMatch(t, []string{"na-a + na-b", "na-a", "na-b", "na-c"}, ids(got))
	for _, cand := range got {
		assert.False(t, cand.RemoveRangeActions)
	}
}

func TestBloomIsDeterministic(t *testing.T) {
	var available []*crac.NetworkAction
	for _, id := range []string{"na-1", "na-2", "na-3", "na-4", "na-5"} {
		available = append(available, networkAction(id, "FR"))
	}
	bl := NewBloomer(DefaultConfig(), nil, nil)
	first := ids(bl.Bloom(&fakeParent{}, available))
	reversed := []*crac.NetworkAction{available[4], available[3], available[2], available[1], available[0]}
	assert.Equal(t, first, ids(bl.Bloom(&fakeParent{}, reversed)))
}

func TestBloomRemovesActivatedAndTested(t *testing.T) {
	a, b, c := networkAction("na-a", "FR"), networkAction("na-b", "FR"), networkAction("na-c", "FR")
	predefined := []crac.NetworkActionCombination{crac.NewCombination(true, a, b)}
	bl := NewBloomer(DefaultConfig(), predefined, nil)

	got := bl.Bloom(&fakeParent{networkActions: []*crac.NetworkAction{a}}, []*crac.NetworkAction{a, b, c})
	// na-a is active, so na-a + na-b goes; na-b alone was already tested through the combination
	assert.Equal(t, []string{"na-c"}, ids(got))

	detected := []crac.NetworkActionCombination{crac.NewDetectedCombination(a, b)}
	bl = NewBloomer(DefaultConfig(), detected, nil)
	got = bl.Bloom(&fakeParent{networkActions: []*crac.NetworkAction{a}}, []*crac.NetworkAction{a, b, c})
	assert.ElementsMatch(t, []string{"na-b", "na-c"}, ids(got))
}

func TestBloomMaxRa(t *testing.T) {
	a, b := networkAction("na-a", "FR"), networkAction("na-b", "FR")
	pst := &crac.RangeAction{RemedialAction: crac.RemedialAction{ID: "pst", Operator: "FR"}, Type: crac.RangePst}
	config := DefaultConfig()
	config.UsageLimits.MaxRa = 1
	bl := NewBloomer(config, []crac.NetworkActionCombination{crac.NewCombination(true, a, b)}, nil)

	got := bl.Bloom(&fakeParent{}, []*crac.NetworkAction{a, b})
	assert.ElementsMatch(t, []string{"na-a", "na-b"}, ids(got))
	for _, cand := range got {
		assert.False(t, cand.RemoveRangeActions)
	}

	got = bl.Bloom(&fakeParent{rangeActions: []*crac.RangeAction{pst}}, []*crac.NetworkAction{a, b})
	require.Len(t, got, 2)
	for _, cand := range got {
		assert.True(t, cand.RemoveRangeActions, cand.Combination.ID())
	}

	assert.Empty(t, bl.Bloom(&fakeParent{networkActions: []*crac.NetworkAction{a}}, []*crac.NetworkAction{a, b}))
}

func TestBloomMaxRaPerTso(t *testing.T) {
	fr1, fr2, be := networkAction("fr-1", "FR"), networkAction("fr-2", "FR"), networkAction("be-1", "BE")
	pst := &crac.RangeAction{RemedialAction: crac.RemedialAction{ID: "pst-be", Operator: "BE"}, Type: crac.RangePst}
	config := DefaultConfig()
	config.UsageLimits.MaxTopoPerTso = map[string]int{"FR": 1}
	config.UsageLimits.MaxRaPerTso = map[string]int{"BE": 1}
	bl := NewBloomer(config, []crac.NetworkActionCombination{crac.NewCombination(true, fr1, fr2)}, nil)

	got := bl.Bloom(&fakeParent{rangeActions: []*crac.RangeAction{pst}}, []*crac.NetworkAction{fr1, fr2, be})
	assert.ElementsMatch(t, []string{"fr-1", "fr-2", "be-1"}, ids(got))
	assert.True(t, find(t, got, "be-1").RemoveRangeActions)
	assert.False(t, find(t, got, "fr-1").RemoveRangeActions)
}

func TestBloomMaxTso(t *testing.T) {
	fr, be, nl := networkAction("fr-1", "FR"), networkAction("be-1", "BE"), networkAction("nl-1", "NL")
	pst := &crac.RangeAction{RemedialAction: crac.RemedialAction{ID: "pst-nl", Operator: "NL"}, Type: crac.RangePst}
	config := DefaultConfig()
	config.UsageLimits.MaxTso = 1
	config.UsageLimits.MaxTsoExclusion = []string{"BE"}
	bl := NewBloomer(config, nil, nil)

	got := bl.Bloom(&fakeParent{networkActions: []*crac.NetworkAction{fr}}, []*crac.NetworkAction{fr, be, nl})
	// FR already acts, NL would be a second TSO, BE does not count
	assert.Equal(t, []string{"be-1"}, ids(got))
	assert.False(t, got[0].RemoveRangeActions)

	got = bl.Bloom(&fakeParent{rangeActions: []*crac.RangeAction{pst}}, []*crac.NetworkAction{fr, nl})
	assert.True(t, find(t, got, "fr-1").RemoveRangeActions, "FR only fits once NL range actions are removed")
	assert.False(t, find(t, got, "nl-1").RemoveRangeActions)
}

func TestBloomSkipsFarFromMostLimitingElement(t *testing.T) {
	g := graph.NewCountryGraph([]graph.Boundary{
		{CountryA: "BE", CountryB: "FR"},
		{CountryA: "BE", CountryB: "NL"},
		{CountryA: "DE", CountryB: "NL"},
	})
	config := DefaultConfig()
	config.SkipFarFromMostLimiting = true
	config.MaxNumberOfBoundaries = 1
	bl := NewBloomer(config, nil, nil, WithCountryGraph(g))

	fr, be, nl, anywhere := networkAction("fr", "FR", "FR"), networkAction("be", "BE", "BE"), networkAction("nl", "NL", "NL"), networkAction("unknown", "DE")
	parent := &fakeParent{limiting: []*crac.FlowCnec{{ID: "line-fr", Location: []string{"FR"}}}}
	got := bl.Bloom(parent, []*crac.NetworkAction{fr, be, nl, anywhere})
	assert.ElementsMatch(t, []string{"fr", "be", "unknown"}, ids(got))

	// an element carrying a virtual cost brings its own neighbourhood
	parent.virtual = map[string][]*crac.FlowCnec{"mnec-cost": {{ID: "line-de", Location: []string{"DE"}}}}
	got = bl.Bloom(parent, []*crac.NetworkAction{fr, be, nl, anywhere})
	assert.ElementsMatch(t, []string{"fr", "be", "nl", "unknown"}, ids(got))

	// unknown CNEC location keeps everything
	parent = &fakeParent{limiting: []*crac.FlowCnec{{ID: "line-x"}}}
	assert.Len(t, bl.Bloom(parent, []*crac.NetworkAction{fr, be, nl}), 3)
}

func TestBloomLeavesParentRankingUntouched(t *testing.T) {
	g := graph.NewCountryGraph([]graph.Boundary{{CountryA: "BE", CountryB: "FR"}})
	config := DefaultConfig()
	config.SkipFarFromMostLimiting = true
	config.MaxNumberOfBoundaries = 1
	bl := NewBloomer(config, nil, nil, WithCountryGraph(g))

	first := &crac.FlowCnec{ID: "line-fr", Location: []string{"FR"}}
	second := &crac.FlowCnec{ID: "line-be", Location: []string{"BE"}}
	parent := &fakeParent{
		limiting: []*crac.FlowCnec{first, second},
		virtual:  map[string][]*crac.FlowCnec{"mnec-cost": {{ID: "line-de", Location: []string{"DE"}}}},
	}
	bl.Bloom(parent, []*crac.NetworkAction{networkAction("fr", "FR", "FR")})

	assert.Equal(t, []*crac.FlowCnec{first, second}, parent.limiting)
}

func TestBloomMaxElementaryActionsPerTso(t *testing.T) {
	small := networkAction("small", "FR")
	big := networkAction("big", "FR")
	big.ElementaryActions = append(big.ElementaryActions,
		crac.ElementaryAction{NetworkElement: "b2"}, crac.ElementaryAction{NetworkElement: "b3"})
	pst := &crac.RangeAction{
		RemedialAction:  crac.RemedialAction{ID: "pst-fr", Operator: "FR"},
		Type:            crac.RangePst,
		InitialSetpoint: 0,
		TapAngles:       []float64{-2, -1, 0, 1, 2},
	}
	config := DefaultConfig()
	config.UsageLimits.MaxElementaryActionsPerTso = map[string]int{"FR": 2}
	bl := NewBloomer(config, nil, map[string]float64{"pst-fr": 0})

	parent := &fakeParent{rangeActions: []*crac.RangeAction{pst}, setpoints: map[string]float64{"pst-fr": 2}}
	got := bl.Bloom(parent, []*crac.NetworkAction{small, big})
	require.Equal(t, []string{"small"}, ids(got))
	assert.True(t, got[0].RemoveRangeActions, "two moved taps plus one elementary action exceed the limit")
}

func TestResolveCombinations(t *testing.T) {
	a, b := networkAction("na-a", "FR"), networkAction("na-b", "FR")
	lookup := func(id string) (*crac.NetworkAction, bool) {
		switch id {
		case "na-a":
			return a, true
		case "na-b":
			return b, true
		}
		return nil, false
	}
	combos, skipped := ResolveCombinations([][]string{{"na-a", "na-b"}, {"na-a", "na-x"}}, lookup)
	require.Len(t, combos, 1)
	assert.True(t, combos[0].IsPredefined())
	assert.Equal(t, [][]string{{"na-a", "na-x"}}, skipped)
	assert.Equal(t, usagelimits.Unlimited, DefaultConfig().UsageLimits.MaxRa)
}

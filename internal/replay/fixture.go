package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/danielpatrickdp/grid-rao/internal/graph"
	"github.com/danielpatrickdp/grid-rao/internal/orchestrator"
	"github.com/danielpatrickdp/grid-rao/internal/sensitivity"
	"github.com/danielpatrickdp/grid-rao/internal/treeparams"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture: one case, its
// linear network and the expected optimization outcome.
type Fixture struct {
	Description    string                 `json:"description"`
	CaseID         string                 `json:"case_id"`
	Instants       []FixtureInstant       `json:"instants"`
	Contingencies  []FixtureContingency   `json:"contingencies"`
	Cnecs          []FixtureCnec          `json:"cnecs"`
	NetworkActions []FixtureNetworkAction `json:"network_actions"`
	RangeActions   []FixtureRangeAction   `json:"range_actions"`
	Network        FixtureNetwork         `json:"network"`
	// ParametersYAML is decoded on top of the default parameters.
	ParametersYAML string            `json:"parameters_yaml"`
	Boundaries     []FixtureBoundary `json:"boundaries"`
	Expected       FixtureExpected   `json:"expected"`
}

type FixtureInstant struct {
	ID    string           `json:"id"`
	Kind  crac.InstantKind `json:"kind"`
	Order int              `json:"order"`
}

type FixtureContingency struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Elements []string `json:"elements"`
}

type FixtureThreshold struct {
	Unit crac.Unit `json:"unit"`
	Side crac.Side `json:"side"`
	Min  *float64  `json:"min"`
	Max  *float64  `json:"max"`
}

// FixtureCnec mirrors crac.FlowCnec. Contingency is empty for preventive CNECs.
type FixtureCnec struct {
	ID                string                `json:"id"`
	Name              string                `json:"name"`
	NetworkElement    string                `json:"network_element"`
	Operator          string                `json:"operator"`
	Location          []string              `json:"location"`
	Instant           string                `json:"instant"`
	Contingency       string                `json:"contingency"`
	Thresholds        []FixtureThreshold    `json:"thresholds"`
	Optimized         bool                  `json:"optimized"`
	Monitored         bool                  `json:"monitored"`
	NominalVoltage    map[crac.Side]float64 `json:"nominal_voltage"`
	IMax              map[crac.Side]float64 `json:"imax"`
	ReliabilityMargin float64               `json:"reliability_margin"`
	LoopFlowThreshold *float64              `json:"loop_flow_threshold"`
}

type FixtureUsageRule struct {
	Instant     string           `json:"instant"`
	Contingency string           `json:"contingency"`
	Method      crac.UsageMethod `json:"method"`
}

type FixtureElementaryAction struct {
	NetworkElement string                    `json:"network_element"`
	Kind           crac.ElementaryActionKind `json:"kind"`
	Value          float64                   `json:"value"`
}

type FixtureNetworkAction struct {
	ID                string                    `json:"id"`
	Name              string                    `json:"name"`
	Operator          string                    `json:"operator"`
	Location          []string                  `json:"location"`
	UsageRules        []FixtureUsageRule        `json:"usage_rules"`
	ElementaryActions []FixtureElementaryAction `json:"elementary_actions"`
}

type FixtureRange struct {
	Kind crac.RangeKind `json:"kind"`
	Min  float64        `json:"min"`
	Max  float64        `json:"max"`
}

type FixtureRangeAction struct {
	ID              string               `json:"id"`
	Name            string               `json:"name"`
	Operator        string               `json:"operator"`
	Location        []string             `json:"location"`
	UsageRules      []FixtureUsageRule   `json:"usage_rules"`
	Type            crac.RangeActionType `json:"type"`
	GroupID         string               `json:"group_id"`
	NetworkElements []string             `json:"network_elements"`
	InitialSetpoint float64              `json:"initial_setpoint"`
	Ranges          []FixtureRange       `json:"ranges"`
	TapAngles       []float64            `json:"tap_angles"`
}

// FixtureFlow is one value on one CNEC side. Side defaults to ONE.
type FixtureFlow struct {
	Cnec  string    `json:"cnec"`
	Side  crac.Side `json:"side"`
	Value float64   `json:"mw"`
}

// FixtureNetwork holds the coefficients of a sensitivity.LinearModel.
type FixtureNetwork struct {
	Flows           []FixtureFlow            `json:"flows"`
	Deltas          map[string][]FixtureFlow `json:"deltas"`
	Sensitivities   map[string][]FixtureFlow `json:"sensitivities"`
	PtdfSums        []FixtureFlow            `json:"ptdf_sums"`
	CommercialFlows []FixtureFlow            `json:"commercial_flows"`
	FailOn          [][]string               `json:"fail_on"`
	FallbackOn      [][]string               `json:"fallback_on"`
}

type FixtureBoundary struct {
	A string `json:"a"`
	B string `json:"b"`
}

// FixtureExpected is the outcome a replay must reproduce. Perimeters not listed
// are not checked.
type FixtureExpected struct {
	Status     string                     `json:"status"`
	Perimeters []FixtureExpectedPerimeter `json:"perimeters"`
}

// FixtureExpectedPerimeter checks one perimeter. Cost and Setpoints are optional.
type FixtureExpectedPerimeter struct {
	State          string             `json:"state"`
	Status         string             `json:"status"`
	NetworkActions []string           `json:"network_actions"`
	Cost           *float64           `json:"cost,omitempty"`
	Setpoints      map[string]float64 `json:"setpoints,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// Build converts the fixture into an optimizable case and validated parameters.
func (f *Fixture) Build() (orchestrator.Case, treeparams.Parameters, error) {
	params := treeparams.DefaultParameters()
	if f.ParametersYAML != "" {
		if err := treeparams.ParseParameters([]byte(f.ParametersYAML), &params); err != nil {
			return orchestrator.Case{}, params, fmt.Errorf("build fixture %s: %w", f.CaseID, err)
		}
	}
	if err := params.Validate(); err != nil {
		return orchestrator.Case{}, params, fmt.Errorf("build fixture %s: %w", f.CaseID, err)
	}

	c, err := f.ToCrac()
	if err != nil {
		return orchestrator.Case{}, params, fmt.Errorf("build fixture %s: %w", f.CaseID, err)
	}
	out := orchestrator.Case{
		ID:      f.CaseID,
		Crac:    c,
		Network: sensitivity.NewLinearNetwork(f.Network.ToLinearModel(f.RangeActions)),
	}
	if len(f.Boundaries) > 0 {
		out.Graph = f.ToCountryGraph()
	}
	return out, params, nil
}

// ToCrac converts the catalogue part of the fixture.
func (f *Fixture) ToCrac() (*crac.Crac, error) {
	instants := make([]crac.Instant, len(f.Instants))
	byID := make(map[string]crac.Instant, len(f.Instants))
	for i, fi := range f.Instants {
		instants[i] = crac.Instant{ID: fi.ID, Kind: fi.Kind, Order: fi.Order}
		byID[fi.ID] = instants[i]
	}

	contingencies := make([]*crac.Contingency, len(f.Contingencies))
	coByID := make(map[string]*crac.Contingency, len(f.Contingencies))
	for i, fc := range f.Contingencies {
		contingencies[i] = &crac.Contingency{ID: fc.ID, Name: fc.Name, Elements: fc.Elements}
		coByID[fc.ID] = contingencies[i]
	}

	cnecs := make([]*crac.FlowCnec, len(f.Cnecs))
	for i, fc := range f.Cnecs {
		fc := fc
		instant, ok := byID[fc.Instant]
		if !ok {
			// unknown references are reported by crac.NewCrac
			instant = crac.Instant{ID: fc.Instant}
		}
		state := crac.State{Instant: instant}
		if fc.Contingency != "" {
			state.Contingency = coByID[fc.Contingency]
			if state.Contingency == nil {
				state.Contingency = &crac.Contingency{ID: fc.Contingency}
			}
		}
		cnecs[i] = fc.toFlowCnec(state)
	}

	nas := make([]*crac.NetworkAction, len(f.NetworkActions))
	for i, fna := range f.NetworkActions {
		na := &crac.NetworkAction{RemedialAction: crac.RemedialAction{
			ID:         fna.ID,
			Name:       fna.Name,
			Operator:   fna.Operator,
			Location:   fna.Location,
			UsageRules: toUsageRules(fna.UsageRules),
		}}
		for _, ea := range fna.ElementaryActions {
			na.ElementaryActions = append(na.ElementaryActions, crac.ElementaryAction{
				NetworkElement: ea.NetworkElement,
				Kind:           ea.Kind,
				Value:          ea.Value,
			})
		}
		nas[i] = na
	}

	ras := make([]*crac.RangeAction, len(f.RangeActions))
	for i, fra := range f.RangeActions {
		ra := &crac.RangeAction{
			RemedialAction: crac.RemedialAction{
				ID:         fra.ID,
				Name:       fra.Name,
				Operator:   fra.Operator,
				Location:   fra.Location,
				UsageRules: toUsageRules(fra.UsageRules),
			},
			Type:            fra.Type,
			GroupID:         fra.GroupID,
			NetworkElements: fra.NetworkElements,
			InitialSetpoint: fra.InitialSetpoint,
			TapAngles:       fra.TapAngles,
		}
		for _, r := range fra.Ranges {
			ra.Ranges = append(ra.Ranges, crac.Range{Kind: r.Kind, Min: r.Min, Max: r.Max})
		}
		ras[i] = ra
	}

	id := f.CaseID
	if id == "" {
		id = "fixture"
	}
	return crac.NewCrac(id, instants, contingencies, cnecs, nas, ras)
}

func (fc *FixtureCnec) toFlowCnec(state crac.State) *crac.FlowCnec {
	cnec := &crac.FlowCnec{
		ID:                fc.ID,
		Name:              fc.Name,
		NetworkElement:    fc.NetworkElement,
		Operator:          fc.Operator,
		Location:          fc.Location,
		State:             state,
		Optimized:         fc.Optimized,
		Monitored:         fc.Monitored,
		NominalVoltage:    fc.NominalVoltage,
		IMax:              fc.IMax,
		ReliabilityMargin: fc.ReliabilityMargin,
	}
	for _, t := range fc.Thresholds {
		side := t.Side
		if side == "" {
			side = crac.SideOne
		}
		unit := t.Unit
		if unit == "" {
			unit = crac.Megawatt
		}
		cnec.Thresholds = append(cnec.Thresholds, crac.Threshold{Unit: unit, Side: side, Min: t.Min, Max: t.Max})
	}
	if fc.LoopFlowThreshold != nil {
		cnec.LoopFlowThreshold = &crac.LoopFlowThreshold{Value: *fc.LoopFlowThreshold}
	}
	return cnec
}

func toUsageRules(rules []FixtureUsageRule) []crac.UsageRule {
	out := make([]crac.UsageRule, len(rules))
	for i, r := range rules {
		out[i] = crac.UsageRule{InstantID: r.Instant, ContingencyID: r.Contingency, Method: r.Method}
	}
	return out
}

// ToLinearModel converts the network coefficients. Initial setpoints come from the
// range actions.
func (fn *FixtureNetwork) ToLinearModel(ras []FixtureRangeAction) *sensitivity.LinearModel {
	m := sensitivity.NewLinearModel()
	fill(m.BaseFlows, fn.Flows)
	fill(m.PtdfSums, fn.PtdfSums)
	fill(m.CommercialFlows, fn.CommercialFlows)
	for id, flows := range fn.Deltas {
		m.NetworkActionDeltas[id] = make(map[sensitivity.CnecSide]float64, len(flows))
		fill(m.NetworkActionDeltas[id], flows)
	}
	for id, flows := range fn.Sensitivities {
		m.Sensitivities[id] = make(map[sensitivity.CnecSide]float64, len(flows))
		fill(m.Sensitivities[id], flows)
	}
	for _, ra := range ras {
		m.InitialSetpoints[ra.ID] = ra.InitialSetpoint
	}
	m.FailOn = fn.FailOn
	m.FallbackOn = fn.FallbackOn
	return m
}

func fill(dst map[sensitivity.CnecSide]float64, flows []FixtureFlow) {
	for _, fl := range flows {
		side := fl.Side
		if side == "" {
			side = crac.SideOne
		}
		dst[sensitivity.CnecSide{CnecID: fl.Cnec, Side: side}] += fl.Value
	}
}

// ToCountryGraph converts the boundaries into an in-memory graph.
func (f *Fixture) ToCountryGraph() *graph.CountryGraph {
	boundaries := make([]graph.Boundary, 0, len(f.Boundaries))
	for _, b := range f.Boundaries {
		a, c := b.A, b.B
		if c < a {
			a, c = c, a
		}
		boundaries = append(boundaries, graph.Boundary{CountryA: a, CountryB: c})
	}
	return graph.NewCountryGraph(boundaries)
}

// #endregion fixture-loader

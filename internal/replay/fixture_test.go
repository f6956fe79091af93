package replay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/danielpatrickdp/grid-rao/internal/sensitivity"
)

// #region fixture-tests

// TestFixtures replays every fixture under testdata and requires its expectations
// to hold. This is the regression baseline for the whole optimization pipeline.
func TestFixtures(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "*.json"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(paths) == 0 {
		t.Fatal("no fixtures found")
	}

	for _, path := range paths {
		path := path
		t.Run(filepath.Base(path), func(t *testing.T) {
			f, err := LoadFixture(path)
			if err != nil {
				t.Fatalf("LoadFixture: %v", err)
			}
			res, err := Replay(context.Background(), f, DefaultReplayConfig(), quiet())
			if err != nil {
				t.Fatalf("Replay: %v", err)
			}
			for _, m := range res.Mismatches {
				t.Errorf("%s: %s", f.CaseID, m)
			}
			for _, p := range res.Perimeters {
				for _, m := range p.Mismatches {
					t.Errorf("%s %s: %s", f.CaseID, p.StateID, m)
				}
				if !p.Eval.Passed {
					t.Errorf("%s %s: %s", f.CaseID, p.StateID, p.Eval.Reason)
				}
			}
			if !res.Passed() {
				t.Errorf("expected %s to pass", f.CaseID)
			}
		})
	}
}

func TestBuildConvertsCatalogue(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "preventive_curative.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	c, params, err := f.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if c.ID != "preventive-curative" {
		t.Errorf("expected case id preventive-curative, got %s", c.ID)
	}
	if params.Parallelism.ContingencyScenarios != 2 {
		t.Errorf("expected parameters from yaml, got %d scenarios", params.Parallelism.ContingencyScenarios)
	}
	if params.NetworkActions.MaxSearchTreeDepth != 2 {
		t.Errorf("expected default depth 2, got %d", params.NetworkActions.MaxSearchTreeDepth)
	}
	if got := len(c.Crac.FlowCnecs()); got != 2 {
		t.Fatalf("expected 2 cnecs, got %d", got)
	}
	cur := c.Crac.FlowCnecs()[1]
	if cur.State.ID() != "co1 - curative" {
		t.Errorf("expected curative state, got %s", cur.State.ID())
	}
	if cur.Thresholds[0].Side != crac.SideOne || *cur.Thresholds[0].Max != 100 {
		t.Errorf("unexpected threshold %+v", cur.Thresholds[0])
	}
	if _, ok := c.Crac.NetworkAction("curative-switch"); !ok {
		t.Error("expected curative-switch in the catalogue")
	}

	if c.Graph == nil {
		t.Fatal("expected a country graph")
	}
	if d, ok := c.Graph.Distance("FR", "NL"); !ok || d != 2 {
		t.Errorf("expected FR-NL distance 2, got %d (%v)", d, ok)
	}
}

func TestBuildDefaultsSideAndUnit(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "preventive_pst.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	c, _, err := f.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	th := c.Crac.FlowCnecs()[0].Thresholds[0]
	if th.Side != crac.SideOne || th.Unit != crac.Megawatt {
		t.Errorf("expected side ONE in MEGAWATT, got %s %s", th.Side, th.Unit)
	}
	if c.Graph != nil {
		t.Error("expected no graph without boundaries")
	}
	if sp := c.Network.Setpoints()["pst-fr"]; sp != 0 {
		t.Errorf("expected initial setpoint 0, got %f", sp)
	}
}

func TestToLinearModel(t *testing.T) {
	fn := FixtureNetwork{
		Flows:  []FixtureFlow{{Cnec: "a", Value: 10}, {Cnec: "a", Side: crac.SideTwo, Value: -10}},
		Deltas: map[string][]FixtureFlow{"na": {{Cnec: "a", Value: -3}}},
		FailOn: [][]string{{"na"}},
	}
	m := fn.ToLinearModel([]FixtureRangeAction{{ID: "pst", InitialSetpoint: 2}})

	if got := m.BaseFlows[sensitivity.CnecSide{CnecID: "a", Side: crac.SideOne}]; got != 10 {
		t.Errorf("expected side ONE flow 10, got %f", got)
	}
	if got := m.BaseFlows[sensitivity.CnecSide{CnecID: "a", Side: crac.SideTwo}]; got != -10 {
		t.Errorf("expected side TWO flow -10, got %f", got)
	}
	if got := m.NetworkActionDeltas["na"][sensitivity.CnecSide{CnecID: "a", Side: crac.SideOne}]; got != -3 {
		t.Errorf("expected delta -3, got %f", got)
	}
	if m.InitialSetpoints["pst"] != 2 {
		t.Errorf("expected initial setpoint 2, got %f", m.InitialSetpoints["pst"])
	}
	if len(m.FailOn) != 1 {
		t.Errorf("expected fail_on to carry over")
	}
}

func TestBuildRejectsUnknownInstant(t *testing.T) {
	f := &Fixture{
		CaseID:   "broken",
		Instants: []FixtureInstant{{ID: "preventive", Kind: crac.InstantPreventive}},
		Cnecs:    []FixtureCnec{{ID: "c", Instant: "curative", Optimized: true}},
	}
	_, _, err := f.Build()
	if !errors.Is(err, crac.ErrUnknownReference) {
		t.Fatalf("expected ErrUnknownReference, got %v", err)
	}
}

func TestBuildRejectsBadParameters(t *testing.T) {
	f := &Fixture{
		CaseID:         "bad-params",
		Instants:       []FixtureInstant{{ID: "preventive", Kind: crac.InstantPreventive}},
		ParametersYAML: "network_actions:\n  max_search_tree_depth: -1\n",
	}
	if _, _, err := f.Build(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadFixtureErrors(t *testing.T) {
	if _, err := LoadFixture(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFixture(path); err == nil {
		t.Error("expected parse error")
	}
}

// #endregion fixture-tests

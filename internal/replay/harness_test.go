package replay

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danielpatrickdp/grid-rao/internal/eval"
	"github.com/danielpatrickdp/grid-rao/internal/logging"
	"github.com/danielpatrickdp/grid-rao/internal/orchestrator"
	"github.com/danielpatrickdp/grid-rao/internal/searchtree"
	"github.com/danielpatrickdp/grid-rao/internal/store"
)

// helper: orchestrator option that discards logs.
func quiet() orchestrator.Option {
	return orchestrator.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func load(t *testing.T, name string) *Fixture {
	t.Helper()
	f, err := LoadFixture(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	return f
}

func costPtr(v float64) *float64 { return &v }

// 1. Outcomes carry every perimeter, preventive first.
func TestReplay_ReportsPerimeters(t *testing.T) {
	res, err := Replay(context.Background(), load(t, "preventive_curative.json"), DefaultReplayConfig(), quiet())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if res.RunID == "" {
		t.Error("expected a run id")
	}
	if len(res.Perimeters) != 2 {
		t.Fatalf("expected 2 perimeters, got %d", len(res.Perimeters))
	}
	if res.Perimeters[0].StateID != "preventive" {
		t.Errorf("expected preventive first, got %s", res.Perimeters[0].StateID)
	}
	if res.Perimeters[1].StateID != "co1 - curative" {
		t.Errorf("expected curative second, got %s", res.Perimeters[1].StateID)
	}
	if res.Status != searchtree.StatusSecure {
		t.Errorf("expected SECURE, got %s", res.Status)
	}
}

// 2. Wrong expectations are reported as mismatches, not errors.
func TestReplay_ReportsMismatches(t *testing.T) {
	f := load(t, "preventive_topology.json")
	f.Expected = FixtureExpected{
		Status: "UNSECURE",
		Perimeters: []FixtureExpectedPerimeter{
			{State: "preventive", Status: "SECURE", NetworkActions: []string{"close-coupler"}, Cost: costPtr(-5)},
			{State: "co9 - curative"},
		},
	}
	res, err := Replay(context.Background(), f, DefaultReplayConfig(), quiet())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if res.Passed() {
		t.Fatal("expected replay to fail")
	}
	if len(res.Mismatches) != 2 {
		t.Fatalf("expected status and missing perimeter mismatches, got %v", res.Mismatches)
	}
	if !strings.Contains(res.Mismatches[1], "co9 - curative") {
		t.Errorf("unexpected mismatch %q", res.Mismatches[1])
	}
	p := res.Perimeters[0]
	if len(p.Mismatches) != 2 {
		t.Fatalf("expected network action and cost mismatches, got %v", p.Mismatches)
	}
	if !p.Eval.Passed {
		t.Errorf("eval should still pass: %s", p.Eval.Reason)
	}
}

// 3. Setpoint expectations are compared with tolerance.
func TestReplay_ComparesSetpoints(t *testing.T) {
	f := load(t, "preventive_pst.json")
	f.Expected.Perimeters[0].Setpoints = map[string]float64{"pst-fr": -5, "pst-be": 1}

	res, err := Replay(context.Background(), f, DefaultReplayConfig(), quiet())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	p := res.Perimeters[0]
	if len(p.Mismatches) != 2 {
		t.Fatalf("expected two setpoint mismatches, got %v", p.Mismatches)
	}
	if got := p.Setpoints["pst-fr"]; got > -5.999 || got < -6.001 {
		t.Errorf("expected pst-fr at -6, got %f", got)
	}
}

// 4. Usage limits from the parameters reach the eval harness.
func TestReplay_EvalSeesUsageLimits(t *testing.T) {
	f := load(t, "preventive_topology.json")
	f.ParametersYAML = "usage_limits:\n  preventive:\n    max_ra: 1\n"

	res, err := Replay(context.Background(), f, DefaultReplayConfig(), quiet())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	p := res.Perimeters[0]
	if !p.Eval.Passed {
		t.Fatalf("expected eval pass, got %s", p.Eval.Reason)
	}
	found := false
	for _, m := range p.Eval.Metrics {
		if m.Name == "max_ra" {
			found = true
			if m.Limit != 1 || m.Value != 1 {
				t.Errorf("unexpected max_ra metric %+v", m)
			}
		}
	}
	if !found {
		t.Error("expected a max_ra metric")
	}
}

// 5. Replays can persist through the orchestrator's store.
func TestReplay_PersistsWithStore(t *testing.T) {
	s, err := store.NewStore(filepath.Join(t.TempDir(), "replay.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()

	res, err := Replay(context.Background(), load(t, "preventive_topology.json"), DefaultReplayConfig(),
		quiet(), orchestrator.WithStore(s))
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	run, err := s.GetRun(res.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.CaseID != "preventive-topology" || run.Status != store.RunSecure {
		t.Errorf("unexpected run %+v", run)
	}
	records, err := s.ListPerimeterResults(res.RunID)
	if err != nil {
		t.Fatalf("ListPerimeterResults: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 perimeter record, got %d", len(records))
	}
	entries, err := logging.ListLeafLog(s.DB(), records[0].SearchID)
	if err != nil {
		t.Fatalf("ListLeafLog: %v", err)
	}
	if len(entries) == 0 {
		t.Error("expected leaf log entries")
	}
}

// 6. A broken fixture is an error.
func TestReplay_BuildError(t *testing.T) {
	f := &Fixture{CaseID: "empty"}
	if _, err := Replay(context.Background(), f, DefaultReplayConfig(), quiet()); err == nil {
		t.Fatal("expected error for a fixture without instants")
	}
}

func TestSummarize(t *testing.T) {
	pass := eval.EvalResult{Passed: true}
	results := []*ReplayResult{
		{
			CaseID: "a",
			Perimeters: []PerimeterOutcome{
				{StateID: "preventive", Status: searchtree.StatusSecure, Eval: pass},
				{StateID: "co1 - curative", Status: searchtree.StatusUnsecure, Eval: pass},
			},
		},
		{
			CaseID:     "b",
			Mismatches: []string{"status: expected SECURE, got FAILED"},
			Perimeters: []PerimeterOutcome{
				{StateID: "preventive", Status: searchtree.StatusFailed, Eval: eval.EvalResult{Passed: false}},
			},
		},
	}

	s := Summarize(results)
	if s.TotalCases != 2 || s.Passed != 1 || s.Failed != 1 {
		t.Errorf("unexpected case counts %+v", s)
	}
	if s.Perimeters != 3 || s.Secure != 1 || s.Unsecure != 1 || s.FailedPerimeters != 1 {
		t.Errorf("unexpected perimeter counts %+v", s)
	}
	if s.EvalFailures != 1 {
		t.Errorf("expected 1 eval failure, got %d", s.EvalFailures)
	}
}

package replay

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/danielpatrickdp/grid-rao/internal/eval"
	"github.com/danielpatrickdp/grid-rao/internal/orchestrator"
	"github.com/danielpatrickdp/grid-rao/internal/searchtree"
	"github.com/danielpatrickdp/grid-rao/internal/sensitivity"
	"github.com/danielpatrickdp/grid-rao/internal/treeparams"
	"github.com/danielpatrickdp/grid-rao/internal/usagelimits"
)

// #region types
// ReplayConfig holds the comparison tolerances of a replay run.
type ReplayConfig struct {
	EvalConfig        eval.EvalConfig
	CostTolerance     float64
	SetpointTolerance float64
}

func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{
		EvalConfig:        eval.DefaultEvalConfig(),
		CostTolerance:     1e-6,
		SetpointTolerance: 1e-3,
	}
}

// PerimeterOutcome is what one perimeter of a replayed case produced.
type PerimeterOutcome struct {
	StateID        string
	Status         searchtree.PerimeterStatus
	NetworkActions []string
	Cost           float64
	Setpoints      map[string]float64

	Eval eval.EvalResult
	// Mismatches lists the expectations this perimeter did not meet.
	Mismatches []string
}

// ReplayResult captures the outcome of replaying one fixture.
type ReplayResult struct {
	Description string
	CaseID      string
	RunID       string
	Status      searchtree.PerimeterStatus
	Perimeters  []PerimeterOutcome
	// Mismatches lists case-level expectations that were not met.
	Mismatches []string
}

// Passed is true when every expectation was met and every perimeter passed eval.
func (r *ReplayResult) Passed() bool {
	if len(r.Mismatches) > 0 {
		return false
	}
	for _, p := range r.Perimeters {
		if len(p.Mismatches) > 0 || !p.Eval.Passed {
			return false
		}
	}
	return true
}

// ReplaySummary provides aggregate stats over replayed fixtures.
type ReplaySummary struct {
	TotalCases       int
	Passed           int
	Failed           int
	Perimeters       int
	Secure           int
	Unsecure         int
	FailedPerimeters int
	EvalFailures     int
}

// #endregion types

// #region replay
// Replay builds the fixture, optimizes it on the linear provider and compares the
// result with the fixture's expectations. Errors are fixture or input problems;
// unmet expectations are reported in the result.
func Replay(ctx context.Context, f *Fixture, config ReplayConfig, opts ...orchestrator.Option) (*ReplayResult, error) {
	c, params, err := f.Build()
	if err != nil {
		return nil, err
	}

	o := orchestrator.NewOrchestrator(sensitivity.NewLinearProvider(), opts...)
	res, err := o.Run(ctx, c, params)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", f.CaseID, err)
	}

	out := &ReplayResult{
		Description: f.Description,
		CaseID:      f.CaseID,
		RunID:       res.RunID,
		Status:      res.Status,
	}
	harness := eval.NewEvalHarness(config.EvalConfig)
	byState := make(map[string]int)
	for _, r := range res.Perimeters() {
		p := outcome(r)
		p.Eval = harness.Run(r, limitsFor(c, params, r))
		byState[p.StateID] = len(out.Perimeters)
		out.Perimeters = append(out.Perimeters, p)
	}

	if f.Expected.Status != "" && f.Expected.Status != string(res.Status) {
		out.Mismatches = append(out.Mismatches,
			fmt.Sprintf("status: expected %s, got %s", f.Expected.Status, res.Status))
	}
	for _, exp := range f.Expected.Perimeters {
		i, ok := byState[exp.State]
		if !ok {
			out.Mismatches = append(out.Mismatches, fmt.Sprintf("perimeter %s: not optimized", exp.State))
			continue
		}
		compare(&out.Perimeters[i], exp, config)
	}
	return out, nil
}

// limitsFor returns the usage limits the search of r ran with. Curative searches
// start with the forced actions already counted.
func limitsFor(c orchestrator.Case, params treeparams.Parameters, r *searchtree.Result) usagelimits.RaUsageLimits {
	limits := params.UsageLimits.ForState(r.State)
	if r.State.IsPreventive() {
		return limits
	}
	return limits.Remaining(c.Crac.ForcedNetworkActions(r.State))
}

func outcome(r *searchtree.Result) PerimeterOutcome {
	p := PerimeterOutcome{
		StateID:   r.State.ID(),
		Status:    r.Status,
		Cost:      math.NaN(),
		Setpoints: map[string]float64{},
	}
	if r.Best == nil {
		return p
	}
	p.Cost = r.Best.Cost()
	for _, na := range r.Best.ActivatedNetworkActions() {
		p.NetworkActions = append(p.NetworkActions, na.ID)
	}
	slices.Sort(p.NetworkActions)
	for _, ra := range r.Best.ActivatedRangeActions() {
		p.Setpoints[ra.ID] = r.Best.Setpoint(ra)
	}
	return p
}

func compare(p *PerimeterOutcome, exp FixtureExpectedPerimeter, config ReplayConfig) {
	if exp.Status != "" && exp.Status != string(p.Status) {
		p.Mismatches = append(p.Mismatches, fmt.Sprintf("status: expected %s, got %s", exp.Status, p.Status))
	}
	want := slices.Clone(exp.NetworkActions)
	slices.Sort(want)
	if !slices.Equal(want, p.NetworkActions) {
		p.Mismatches = append(p.Mismatches,
			fmt.Sprintf("network actions: expected %v, got %v", want, p.NetworkActions))
	}
	if exp.Cost != nil && !(math.Abs(*exp.Cost-p.Cost) <= config.CostTolerance) {
		p.Mismatches = append(p.Mismatches, fmt.Sprintf("cost: expected %.6f, got %.6f", *exp.Cost, p.Cost))
	}
	for id, sp := range exp.Setpoints {
		got, ok := p.Setpoints[id]
		if !ok {
			p.Mismatches = append(p.Mismatches, fmt.Sprintf("setpoint %s: not activated", id))
			continue
		}
		if math.Abs(sp-got) > config.SetpointTolerance {
			p.Mismatches = append(p.Mismatches, fmt.Sprintf("setpoint %s: expected %.4f, got %.4f", id, sp, got))
		}
	}
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []*ReplayResult) ReplaySummary {
	s := ReplaySummary{TotalCases: len(results)}
	for _, r := range results {
		if r.Passed() {
			s.Passed++
		} else {
			s.Failed++
		}
		for _, p := range r.Perimeters {
			s.Perimeters++
			switch p.Status {
			case searchtree.StatusSecure:
				s.Secure++
			case searchtree.StatusUnsecure:
				s.Unsecure++
			case searchtree.StatusFailed:
				s.FailedPerimeters++
			}
			if !p.Eval.Passed {
				s.EvalFailures++
			}
		}
	}
	return s
}

// #endregion replay

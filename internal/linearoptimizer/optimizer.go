package linearoptimizer

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/danielpatrickdp/grid-rao/internal/fillers"
	"github.com/danielpatrickdp/grid-rao/internal/linearproblem"
	"github.com/danielpatrickdp/grid-rao/internal/objective"
	"github.com/danielpatrickdp/grid-rao/internal/sensitivity"
)

// setpointTolerance is the smallest setpoint change that counts as a move.
const setpointTolerance = 1e-6

// #region types
// Status is the outcome of an iterating optimization.
type Status string

const (
	StatusOptimal             Status = "OPTIMAL"
	StatusFeasible            Status = "FEASIBLE"
	StatusInfeasible          Status = "INFEASIBLE"
	StatusUnbounded           Status = "UNBOUNDED"
	StatusAbnormal            Status = "ABNORMAL"
	StatusSensitivityFailed   Status = "SENSITIVITY_COMPUTATION_FAILED"
	StatusMaxIterationReached Status = "MAX_ITERATION_REACHED"
)

// Failed is true when the first linear problem had no solution. The result then
// carries the pre-optimization state.
func (s Status) Failed() bool {
	return s == StatusInfeasible || s == StatusUnbounded || s == StatusAbnormal
}

// Input is one leaf's optimization problem. Network is the leaf's own working copy;
// the optimizer leaves it at the best setpoints found.
type Input struct {
	Perimeter *crac.OptimizationPerimeter
	// RangeActions are optimized. Empty means range actions stay where they are.
	RangeActions []*crac.RangeAction
	Network      sensitivity.Network
	Provider     sensitivity.Provider
	Objective    *objective.Function
	Chain        fillers.Chain

	PrePerimeterFlows     *sensitivity.Result
	PrePerimeterSetpoints map[string]float64

	// InitialFlows, InitialResult and InitialSetpoints describe the leaf before optimization.
	InitialFlows     *sensitivity.Result
	InitialResult    *objective.Result
	InitialSetpoints map[string]float64
}

// Result is the best iteration found.
type Result struct {
	Status     Status
	Iterations int
	Flows      *sensitivity.Result
	Objective  *objective.Result
	Setpoints  map[string]float64
}

// Config bounds the iterations and tunes the solver.
type Config struct {
	MaxIterations int
	Solver        linearproblem.SolverConfig
}

func DefaultConfig() Config {
	return Config{MaxIterations: 10, Solver: linearproblem.DefaultSolverConfig()}
}

// #endregion types

// #region optimizer
// Optimizer linearizes flows around the current setpoints, solves, rounds PST taps
// and recomputes flows until the setpoints settle or the cost stops improving.
type Optimizer struct {
	config Config
	solver *linearproblem.Solver
	logger *slog.Logger
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Optimizer) {
		if l != nil {
			o.logger = l
		}
	}
}

func NewOptimizer(config Config, opts ...Option) *Optimizer {
	if config.MaxIterations < 1 {
		config.MaxIterations = 1
	}
	o := &Optimizer{config: config, solver: linearproblem.NewSolver(config.Solver), logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Optimize runs the iterations. Errors are fatal: a filler failed or the input is
// incomplete. Solver and computation failures are reported through Status.
func (o *Optimizer) Optimize(ctx context.Context, in Input) (*Result, error) {
	if in.InitialFlows == nil || in.InitialResult == nil {
		return nil, fmt.Errorf("optimize: initial flows and result are required")
	}
	best := &Result{
		Status:    StatusOptimal,
		Flows:     in.InitialFlows,
		Objective: in.InitialResult,
		Setpoints: maps.Clone(in.InitialSetpoints),
	}
	if best.Setpoints == nil {
		best.Setpoints = make(map[string]float64)
	}
	if len(in.RangeActions) == 0 {
		return best, nil
	}

	req := sensitivity.Request{Cnecs: in.Perimeter.FlowCnecs, RangeActions: in.Perimeter.RangeActions}
	flows, previous := in.InitialFlows, best.Setpoints
	for iteration := 1; iteration <= o.config.MaxIterations; iteration++ {
		best.Iterations = iteration
		model, err := in.Chain.Build(fillers.Input{
			Perimeter:             in.Perimeter,
			RangeActions:          in.RangeActions,
			Flows:                 flows,
			ReferenceSetpoints:    previous,
			PrePerimeterFlows:     in.PrePerimeterFlows,
			PrePerimeterSetpoints: in.PrePerimeterSetpoints,
		})
		if err != nil {
			return nil, fmt.Errorf("build linear problem: %w", err)
		}

		sol, err := o.solver.Solve(ctx, model)
		if err != nil || !sol.Status.HasSolution() {
			o.logger.Debug("linear optimization failed",
				slog.String("component", "linear"),
				slog.Int("iteration", iteration),
				slog.String("status", string(sol.Status)))
			if iteration == 1 {
				best.Status = failureStatus(sol.Status)
				return best, nil
			}
			best.Status = StatusFeasible
			return o.restore(in, best)
		}
		if sol.Status == linearproblem.StatusFeasible {
			o.logger.Debug("solver interrupted before optimality",
				slog.String("component", "linear"),
				slog.Int("iteration", iteration))
		}

		setpoints, err := o.roundedSetpoints(sol, in, previous)
		if err != nil {
			return nil, err
		}
		if !changed(setpoints, previous, in.RangeActions) {
			return o.restore(in, best)
		}

		for _, ra := range in.RangeActions {
			if err := in.Network.ApplyRangeAction(ra, setpoints[ra.ID]); err != nil {
				return nil, fmt.Errorf("apply range action %s: %w", ra.ID, err)
			}
		}
		computed, err := in.Provider.Compute(ctx, in.Network, req)
		if err != nil || computed.Status() == sensitivity.StatusFailure {
			o.logger.Warn("sensitivity computation failed during linear optimization",
				slog.String("component", "linear"),
				slog.Int("iteration", iteration),
				slog.Any("error", err))
			best.Status = StatusSensitivityFailed
			return o.restore(in, best)
		}
		scored, err := in.Objective.Evaluate(computed)
		if err != nil {
			best.Status = StatusSensitivityFailed
			return o.restore(in, best)
		}
		o.logger.Debug("linear optimization iteration",
			slog.String("component", "linear"),
			slog.Int("iteration", iteration),
			slog.Float64("cost", scored.Cost()),
			slog.Float64("best_cost", best.Objective.Cost()))

		if scored.Cost() >= best.Objective.Cost() {
			return o.restore(in, best)
		}
		best = &Result{
			Status:     StatusOptimal,
			Iterations: iteration,
			Flows:      computed,
			Objective:  scored,
			Setpoints:  setpoints,
		}
		flows, previous = computed, setpoints
	}
	best.Status = StatusMaxIterationReached
	return o.restore(in, best)
}

// restore puts the network back at the best setpoints.
func (o *Optimizer) restore(in Input, best *Result) (*Result, error) {
	for _, ra := range in.RangeActions {
		sp, ok := best.Setpoints[ra.ID]
		if !ok {
			sp = prePerimeterSetpoint(in, ra)
		}
		if err := in.Network.ApplyRangeAction(ra, sp); err != nil {
			return nil, fmt.Errorf("restore range action %s: %w", ra.ID, err)
		}
	}
	return best, nil
}

// roundedSetpoints reads the optimized setpoints and snaps PSTs to their taps.
func (o *Optimizer) roundedSetpoints(sol linearproblem.Solution, in Input, previous map[string]float64) (map[string]float64, error) {
	out := maps.Clone(previous)
	for _, ra := range in.RangeActions {
		v, err := sol.ValueOf(linearproblem.SetpointVariableID(ra))
		if err != nil {
			return nil, fmt.Errorf("read setpoint: %w", err)
		}
		pre := prePerimeterSetpoint(in, ra)
		lo, hi := ra.AdmissibleRange(pre)
		v = ra.RoundToTap(v, lo, hi)
		if math.Abs(v-pre) < setpointTolerance {
			v = pre
		}
		out[ra.ID] = v
	}
	return out, nil
}

func prePerimeterSetpoint(in Input, ra *crac.RangeAction) float64 {
	if v, ok := in.PrePerimeterSetpoints[ra.ID]; ok {
		return v
	}
	return ra.InitialSetpoint
}

func changed(next, previous map[string]float64, ras []*crac.RangeAction) bool {
	for _, ra := range ras {
		p, ok := previous[ra.ID]
		if !ok {
			p = ra.InitialSetpoint
		}
		if math.Abs(next[ra.ID]-p) >= setpointTolerance {
			return true
		}
	}
	return false
}

func failureStatus(s linearproblem.Status) Status {
	switch s {
	case linearproblem.StatusInfeasible:
		return StatusInfeasible
	case linearproblem.StatusUnbounded:
		return StatusUnbounded
	}
	return StatusAbnormal
}

// #endregion optimizer

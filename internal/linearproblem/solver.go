package linearproblem

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// #region status
// Status is the outcome of a solve.
type Status string

const (
	StatusOptimal    Status = "OPTIMAL"
	StatusFeasible   Status = "FEASIBLE"
	StatusInfeasible Status = "INFEASIBLE"
	StatusUnbounded  Status = "UNBOUNDED"
	StatusAbnormal   Status = "ABNORMAL"
)

// HasSolution is true for OPTIMAL and FEASIBLE.
func (s Status) HasSolution() bool {
	return s == StatusOptimal || s == StatusFeasible
}

// #endregion status

// #region config
// SolverConfig tunes the branch-and-bound search.
type SolverConfig struct {
	RelativeMipGap       float64 // prune nodes whose bound is within this share of the incumbent
	IntegralityTolerance float64
	MaxNodes             int     // node budget; FEASIBLE is returned when exhausted
	Tolerance            float64 // simplex tolerance
}

// DefaultSolverConfig returns sensible defaults.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		RelativeMipGap:       1e-4,
		IntegralityTolerance: 1e-6,
		MaxNodes:             5000,
		Tolerance:            1e-10,
	}
}

// #endregion config

// #region solution
// Solution holds the variable values of a solve.
type Solution struct {
	Status    Status
	Objective float64
	Nodes     int

	values []float64
	model  *Model
}

// Value returns the value of v. Zero when the solve produced no solution.
func (s Solution) Value(v *Variable) float64 {
	if v.index >= len(s.values) {
		return 0
	}
	return s.values[v.index]
}

// ValueOf looks the variable up by ID.
func (s Solution) ValueOf(id string) (float64, error) {
	if s.model == nil {
		return 0, fmt.Errorf("value of %s: no model", id)
	}
	v, err := s.model.Variable(id)
	if err != nil {
		return 0, err
	}
	return s.Value(v), nil
}

// #endregion solution

// #region solver
// Solver solves a Model. Continuous relaxations go through the gonum simplex;
// binary and integer variables are resolved by depth-first branch-and-bound.
type Solver struct {
	config SolverConfig
}

// NewSolver creates a solver with the given configuration.
func NewSolver(config SolverConfig) *Solver {
	return &Solver{config: config}
}

type node struct {
	lb, ub []float64
}

// Solve minimizes the model objective. Infeasibility and unboundedness are
// reported through the Status, not as errors.
func (s *Solver) Solve(ctx context.Context, m *Model) (Solution, error) {
	n := len(m.variables)
	root := node{lb: make([]float64, n), ub: make([]float64, n)}
	var integers []int
	for i, v := range m.variables {
		root.lb[i], root.ub[i] = v.LB, v.UB
		if v.Integer {
			integers = append(integers, i)
		}
	}

	status, obj, x := s.relax(m, root.lb, root.ub)
	if status != StatusOptimal {
		return Solution{Status: status, model: m, Nodes: 1}, nil
	}
	if len(integers) == 0 {
		return Solution{Status: StatusOptimal, Objective: obj, values: x, model: m, Nodes: 1}, nil
	}

	var (
		incumbent    []float64
		incumbentObj = math.Inf(1)
		nodes        int
		exhausted    = true
	)
	stack := []node{root}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			exhausted = false
			break
		}
		if s.config.MaxNodes > 0 && nodes >= s.config.MaxNodes {
			exhausted = false
			break
		}
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nodes++

		st, val, sol := s.relax(m, cur.lb, cur.ub)
		if st != StatusOptimal {
			continue
		}
		if val >= incumbentObj-s.gap(incumbentObj) {
			continue
		}
		branch, frac := -1, 0.0
		for _, i := range integers {
			f := math.Abs(sol[i] - math.Round(sol[i]))
			if f > s.config.IntegralityTolerance && f > frac {
				branch, frac = i, f
			}
		}
		if branch < 0 {
			for _, i := range integers {
				sol[i] = math.Round(sol[i])
			}
			incumbent, incumbentObj = sol, val
			continue
		}
		down, up := cur.clone(), cur.clone()
		down.ub[branch] = math.Floor(sol[branch])
		up.lb[branch] = math.Ceil(sol[branch])
		// explore the closer rounding first
		if sol[branch]-math.Floor(sol[branch]) >= 0.5 {
			stack = append(stack, down, up)
		} else {
			stack = append(stack, up, down)
		}
	}

	switch {
	case incumbent == nil && exhausted:
		return Solution{Status: StatusInfeasible, model: m, Nodes: nodes}, nil
	case incumbent == nil:
		return Solution{Status: StatusAbnormal, model: m, Nodes: nodes}, ctx.Err()
	case exhausted:
		return Solution{Status: StatusOptimal, Objective: incumbentObj, values: incumbent, model: m, Nodes: nodes}, nil
	}
	return Solution{Status: StatusFeasible, Objective: incumbentObj, values: incumbent, model: m, Nodes: nodes}, nil
}

func (s *Solver) gap(incumbent float64) float64 {
	if math.IsInf(incumbent, 1) {
		return 0
	}
	return math.Max(1e-9, s.config.RelativeMipGap*math.Abs(incumbent))
}

func (n node) clone() node {
	return node{lb: append([]float64(nil), n.lb...), ub: append([]float64(nil), n.ub...)}
}

// #endregion solver

// #region relaxation
// relax solves the continuous relaxation under the given bounds. Every constraint
// and finite bound becomes a row of G x <= h, which lp.Convert turns into the
// standard form [G -G I] consumed by lp.Simplex.
func (s *Solver) relax(m *Model, lb, ub []float64) (Status, float64, []float64) {
	n := len(m.variables)
	for i := 0; i < n; i++ {
		if lb[i] > ub[i]+1e-9 {
			return StatusInfeasible, 0, nil
		}
	}

	type row struct {
		coefs map[int]float64
		rhs   float64
	}
	var rows []row
	used := make([]bool, n)
	for _, c := range m.constraints {
		if len(c.coefficients) == 0 {
			if c.LB > 1e-9 || c.UB < -1e-9 {
				return StatusInfeasible, 0, nil
			}
			continue
		}
		for j := range c.coefficients {
			used[j] = true
		}
		if !math.IsInf(c.UB, 1) {
			rows = append(rows, row{coefs: c.coefficients, rhs: c.UB})
		}
		if !math.IsInf(c.LB, -1) {
			neg := make(map[int]float64, len(c.coefficients))
			for j, a := range c.coefficients {
				neg[j] = -a
			}
			rows = append(rows, row{coefs: neg, rhs: -c.LB})
		}
	}
	for i := 0; i < n; i++ {
		if !math.IsInf(ub[i], 1) {
			rows = append(rows, row{coefs: map[int]float64{i: 1}, rhs: ub[i]})
			used[i] = true
		}
		if !math.IsInf(lb[i], -1) {
			rows = append(rows, row{coefs: map[int]float64{i: -1}, rhs: -lb[i]})
			used[i] = true
		}
	}

	// Columns appearing in no row are free: they either drive the objective to
	// -inf or stay at zero. Simplex rejects zero columns, so they are removed.
	x := make([]float64, n)
	col := make([]int, n)
	var kept []int
	for i := 0; i < n; i++ {
		if !used[i] {
			if m.objective[i] != 0 {
				return StatusUnbounded, 0, nil
			}
			col[i] = -1
			continue
		}
		col[i] = len(kept)
		kept = append(kept, i)
	}
	if len(kept) == 0 {
		return StatusOptimal, 0, x
	}

	c := make([]float64, len(kept))
	for k, i := range kept {
		c[k] = m.objective[i]
	}
	g := mat.NewDense(len(rows), len(kept), nil)
	h := make([]float64, len(rows))
	for r, rw := range rows {
		for j, a := range rw.coefs {
			if col[j] >= 0 {
				g.Set(r, col[j], a)
			}
		}
		h[r] = rw.rhs
	}

	cStd, aStd, bStd := lp.Convert(c, g, h, nil, nil)
	opt, xStd, err := lp.Simplex(cStd, aStd, bStd, s.config.Tolerance, nil)
	if err != nil {
		switch {
		case errors.Is(err, lp.ErrInfeasible):
			return StatusInfeasible, 0, nil
		case errors.Is(err, lp.ErrUnbounded):
			return StatusUnbounded, 0, nil
		}
		return StatusAbnormal, 0, nil
	}
	for k, i := range kept {
		x[i] = xStd[k] - xStd[len(kept)+k]
	}
	return StatusOptimal, opt, x
}

// #endregion relaxation

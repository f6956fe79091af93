package linearproblem

import (
	"errors"
	"fmt"
	"math"
)

// Infinity is used for unbounded variables and constraints.
var Infinity = math.Inf(1)

var (
	// ErrMissingVariable means a filler referenced a variable no earlier filler created.
	ErrMissingVariable     = errors.New("variable not created")
	ErrDuplicateVariable   = errors.New("variable already created")
	ErrMissingConstraint   = errors.New("constraint not created")
	ErrDuplicateConstraint = errors.New("constraint already created")
)

// #region types
// Variable is a decision variable of the model.
type Variable struct {
	ID      string
	LB      float64
	UB      float64
	Binary  bool
	Integer bool

	index int
}

// Index is the column of the variable in the model.
func (v *Variable) Index() int { return v.index }

// Constraint is LB <= sum(coef * var) <= UB.
type Constraint struct {
	ID string
	LB float64
	UB float64

	coefficients map[int]float64
}

// SetCoefficient sets the coefficient of v, replacing any previous value.
func (c *Constraint) SetCoefficient(v *Variable, coef float64) {
	c.coefficients[v.index] = coef
}

// Coefficient returns the coefficient of v, 0 when unset.
func (c *Constraint) Coefficient(v *Variable) float64 {
	return c.coefficients[v.index]
}

// Model is a mixed-integer linear program minimizing its objective.
type Model struct {
	variables   []*Variable
	varsByID    map[string]*Variable
	constraints []*Constraint
	consByID    map[string]*Constraint
	objective   map[int]float64
}

// #endregion types

// #region constructor
// NewModel returns an empty minimization model.
func NewModel() *Model {
	return &Model{
		varsByID:  make(map[string]*Variable),
		consByID:  make(map[string]*Constraint),
		objective: make(map[int]float64),
	}
}

// #endregion constructor

// #region variables
// AddVariable creates a continuous variable bounded by [lb, ub].
func (m *Model) AddVariable(id string, lb, ub float64) (*Variable, error) {
	if _, dup := m.varsByID[id]; dup {
		return nil, fmt.Errorf("add variable %s: %w", id, ErrDuplicateVariable)
	}
	v := &Variable{ID: id, LB: lb, UB: ub, index: len(m.variables)}
	m.variables = append(m.variables, v)
	m.varsByID[id] = v
	return v, nil
}

// AddBinaryVariable creates a {0, 1} variable.
func (m *Model) AddBinaryVariable(id string) (*Variable, error) {
	v, err := m.AddVariable(id, 0, 1)
	if err != nil {
		return nil, err
	}
	v.Binary, v.Integer = true, true
	return v, nil
}

// AddIntegerVariable creates an integer variable bounded by [lb, ub].
func (m *Model) AddIntegerVariable(id string, lb, ub float64) (*Variable, error) {
	v, err := m.AddVariable(id, lb, ub)
	if err != nil {
		return nil, err
	}
	v.Integer = true
	return v, nil
}

// Variable looks a variable up. A miss is a filler ordering error.
func (m *Model) Variable(id string) (*Variable, error) {
	v, ok := m.varsByID[id]
	if !ok {
		return nil, fmt.Errorf("variable %s: %w", id, ErrMissingVariable)
	}
	return v, nil
}

// HasVariable reports whether id exists.
func (m *Model) HasVariable(id string) bool {
	_, ok := m.varsByID[id]
	return ok
}

func (m *Model) Variables() []*Variable { return m.variables }
func (m *Model) NumVariables() int      { return len(m.variables) }

// #endregion variables

// #region constraints
// AddConstraint creates an empty constraint lb <= . <= ub.
func (m *Model) AddConstraint(id string, lb, ub float64) (*Constraint, error) {
	if _, dup := m.consByID[id]; dup {
		return nil, fmt.Errorf("add constraint %s: %w", id, ErrDuplicateConstraint)
	}
	c := &Constraint{ID: id, LB: lb, UB: ub, coefficients: make(map[int]float64)}
	m.constraints = append(m.constraints, c)
	m.consByID[id] = c
	return c, nil
}

// Constraint looks a constraint up.
func (m *Model) Constraint(id string) (*Constraint, error) {
	c, ok := m.consByID[id]
	if !ok {
		return nil, fmt.Errorf("constraint %s: %w", id, ErrMissingConstraint)
	}
	return c, nil
}

func (m *Model) Constraints() []*Constraint { return m.constraints }
func (m *Model) NumConstraints() int        { return len(m.constraints) }

// #endregion constraints

// #region objective
// SetObjectiveCoefficient sets the cost of v in the minimized objective.
func (m *Model) SetObjectiveCoefficient(v *Variable, coef float64) {
	m.objective[v.index] = coef
}

// ObjectiveCoefficient returns the cost of v.
func (m *Model) ObjectiveCoefficient(v *Variable) float64 {
	return m.objective[v.index]
}

// #endregion objective

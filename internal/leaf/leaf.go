package leaf

import (
	"context"
	"fmt"
	"maps"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/danielpatrickdp/grid-rao/internal/linearoptimizer"
	"github.com/danielpatrickdp/grid-rao/internal/objective"
	"github.com/danielpatrickdp/grid-rao/internal/sensitivity"
)

// activationTolerance is how far a setpoint must move from its pre-perimeter value
// for the range action to count as activated.
const activationTolerance = 1e-6

// Leaf is one node of the search tree: the network actions applied so far, the range
// action setpoints found on top of them and the score of the resulting flows.
//
// A leaf owns its network copy. It is evaluated and optimized by one goroutine; once
// scored, every accessor is safe for concurrent use.
type Leaf struct {
	id          string
	perimeter   *crac.OptimizationPerimeter
	network     sensitivity.Network
	combination *crac.NetworkActionCombination
	applied     []*crac.NetworkAction

	inherited             map[string]float64
	prePerimeterSetpoints map[string]float64

	status             Status
	err                error
	flows              *sensitivity.Result
	preOptim           *objective.Result
	optimized          *linearoptimizer.Result
	optimizationStatus linearoptimizer.Status
	optimizationFailed bool
}

// #region constructors
// NewRootLeaf creates the depth-0 leaf on a copy of base. Range actions start at
// their pre-perimeter setpoints.
func NewRootLeaf(perimeter *crac.OptimizationPerimeter, base sensitivity.Network, prePerimeterSetpoints map[string]float64) *Leaf {
	l := &Leaf{
		id:                    uuid.NewString(),
		perimeter:             perimeter,
		network:               base.Clone(),
		inherited:             restrict(perimeter, prePerimeterSetpoints),
		prePerimeterSetpoints: maps.Clone(prePerimeterSetpoints),
		status:                StatusCreated,
	}
	l.applySetpoints()
	return l
}

// NewLeaf creates a child of parent on a fresh copy of base: the parent's network
// actions plus combination are applied once each, then the parent's range action
// setpoints, or the pre-perimeter ones when removeRangeActions is set. A network
// action that cannot be applied leaves the child in ERROR.
func NewLeaf(base sensitivity.Network, parent *Leaf, combination crac.NetworkActionCombination, removeRangeActions bool) *Leaf {
	inherited := parent.Setpoints()
	if removeRangeActions {
		inherited = restrict(parent.perimeter, parent.prePerimeterSetpoints)
	}
	l := &Leaf{
		id:                    uuid.NewString(),
		perimeter:             parent.perimeter,
		network:               base.Clone(),
		combination:           &combination,
		inherited:             inherited,
		prePerimeterSetpoints: parent.prePerimeterSetpoints,
		status:                StatusCreated,
	}

	seen := make(map[string]bool)
	for _, na := range append(parent.ActivatedNetworkActions(), combination.Actions()...) {
		if seen[na.ID] {
			continue
		}
		seen[na.ID] = true
		if err := l.network.ApplyNetworkAction(na); err != nil {
			l.status = StatusError
			l.err = fmt.Errorf("%w: %s: %v", ErrApply, na.ID, err)
			return l
		}
		l.applied = append(l.applied, na)
	}
	sort.Slice(l.applied, func(i, j int) bool { return l.applied[i].ID < l.applied[j].ID })
	l.applySetpoints()
	return l
}

func (l *Leaf) applySetpoints() {
	for _, ra := range l.perimeter.RangeActions {
		if err := l.network.ApplyRangeAction(ra, l.inherited[ra.ID]); err != nil {
			l.status = StatusError
			l.err = fmt.Errorf("apply range action %s: %w", ra.ID, err)
			return
		}
	}
}

// restrict keeps the setpoints of the perimeter's range actions, defaulting to the
// catalogue's initial setpoint.
func restrict(perimeter *crac.OptimizationPerimeter, setpoints map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(perimeter.RangeActions))
	for _, ra := range perimeter.RangeActions {
		v, ok := setpoints[ra.ID]
		if !ok {
			v = ra.InitialSetpoint
		}
		out[ra.ID] = v
	}
	return out
}

// #endregion constructors

// #region lifecycle
// Evaluate runs the sensitivity computation and scores it. A FAILURE status or a
// provider error leaves the leaf in ERROR and is returned. Evaluating twice is a no-op.
func (l *Leaf) Evaluate(ctx context.Context, provider sensitivity.Provider, obj *objective.Function) error {
	switch l.status {
	case StatusEvaluated, StatusOptimized:
		return nil
	case StatusError:
		return l.err
	}
	if l.network == nil {
		return ErrReleased
	}
	flows, err := provider.Compute(ctx, l.network, sensitivity.Request{
		Cnecs:        l.perimeter.FlowCnecs,
		RangeActions: l.perimeter.RangeActions,
	})
	if err != nil {
		return l.fail(fmt.Errorf("evaluate %s: %w", l.Identifier(), err))
	}
	res, err := obj.Evaluate(flows)
	if err != nil {
		return l.fail(fmt.Errorf("evaluate %s: %w", l.Identifier(), err))
	}
	l.flows, l.preOptim = flows, res
	l.status = StatusEvaluated
	return nil
}

func (l *Leaf) fail(err error) error {
	l.status = StatusError
	l.err = err
	return err
}

// Optimize runs the iterating linear optimizer on the leaf's range actions. When the
// first linear problem has no solution the leaf stays EVALUATED and
// OptimizationFailed reports it. Errors are fatal.
func (l *Leaf) Optimize(ctx context.Context, opt *linearoptimizer.Optimizer, in OptimizeInput) error {
	switch l.status {
	case StatusOptimized:
		return nil
	case StatusCreated, StatusError:
		return fmt.Errorf("optimize %s: %w", l.Identifier(), ErrNotEvaluated)
	}
	if l.network == nil {
		return ErrReleased
	}
	res, err := opt.Optimize(ctx, linearoptimizer.Input{
		Perimeter:             l.perimeter,
		RangeActions:          l.perimeter.RangeActions,
		Network:               l.network,
		Provider:              in.Provider,
		Objective:             in.Objective,
		Chain:                 in.Chain,
		PrePerimeterFlows:     in.PrePerimeterFlows,
		PrePerimeterSetpoints: l.prePerimeterSetpoints,
		InitialFlows:          l.flows,
		InitialResult:         l.preOptim,
		InitialSetpoints:      l.inherited,
	})
	if err != nil {
		return fmt.Errorf("optimize %s: %w", l.Identifier(), err)
	}
	l.optimizationStatus = res.Status
	if res.Status.Failed() {
		l.optimizationFailed = true
		return nil
	}
	l.optimized = res
	l.status = StatusOptimized
	return nil
}

// Release drops the network copy. Scores and setpoints stay readable.
func (l *Leaf) Release() {
	l.network = nil
}

// #endregion lifecycle

// #region accessors
// ID is unique per leaf instance.
func (l *Leaf) ID() string { return l.id }

func (l *Leaf) Status() Status { return l.status }

// Err is the reason of an ERROR status.
func (l *Leaf) Err() error { return l.err }

func (l *Leaf) IsRoot() bool { return l.combination == nil }

// Combination is the combination this leaf added to its parent.
func (l *Leaf) Combination() (crac.NetworkActionCombination, bool) {
	if l.combination == nil {
		return crac.NetworkActionCombination{}, false
	}
	return *l.combination, true
}

// OptimizationFailed reports that the linear problem of the leaf had no solution.
func (l *Leaf) OptimizationFailed() bool { return l.optimizationFailed }

// OptimizationStatus is the last linear optimizer status, "" before Optimize.
func (l *Leaf) OptimizationStatus() linearoptimizer.Status { return l.optimizationStatus }

// Network is the leaf's working copy, nil once released.
func (l *Leaf) Network() sensitivity.Network { return l.network }

// Result is the current score: the optimized one, else the evaluated one. Nil before
// evaluation or after an error.
func (l *Leaf) Result() *objective.Result {
	switch l.status {
	case StatusOptimized:
		return l.optimized.Objective
	case StatusEvaluated:
		return l.preOptim
	}
	return nil
}

// PreOptimResult is the score before range action optimization.
func (l *Leaf) PreOptimResult() *objective.Result { return l.preOptim }

// Flows is the computation behind Result.
func (l *Leaf) Flows() *sensitivity.Result {
	if l.status == StatusOptimized {
		return l.optimized.Flows
	}
	return l.flows
}

// Cost is +Inf for a leaf without a score so it never wins a comparison.
func (l *Leaf) Cost() float64 {
	if r := l.Result(); r != nil {
		return r.Cost()
	}
	return math.Inf(1)
}

func (l *Leaf) FunctionalCost() float64 {
	if r := l.Result(); r != nil {
		return r.FunctionalCost
	}
	return math.Inf(1)
}

func (l *Leaf) VirtualCost() float64 {
	if r := l.Result(); r != nil {
		return r.VirtualCost()
	}
	return math.Inf(1)
}

func (l *Leaf) VirtualCostOf(name string) float64 {
	if r := l.Result(); r != nil {
		return r.VirtualCostOf(name)
	}
	return math.Inf(1)
}

func (l *Leaf) VirtualCostNames() []string {
	if r := l.Result(); r != nil {
		return r.VirtualCostNames()
	}
	return nil
}

// MostLimitingElements returns the n optimized CNECs with the lowest margins.
func (l *Leaf) MostLimitingElements(n int) []*crac.FlowCnec {
	if r := l.Result(); r != nil {
		return r.MostLimitingElements(n)
	}
	return nil
}

func (l *Leaf) CostlyElements(virtualCost string, n int) []*crac.FlowCnec {
	if r := l.Result(); r != nil {
		return r.CostlyElements(virtualCost, n)
	}
	return nil
}

// ActivatedNetworkActions are sorted by ID.
func (l *Leaf) ActivatedNetworkActions() []*crac.NetworkAction {
	return append([]*crac.NetworkAction(nil), l.applied...)
}

// Setpoints returns a copy of the range action setpoints of the leaf.
func (l *Leaf) Setpoints() map[string]float64 {
	if l.status == StatusOptimized {
		return maps.Clone(l.optimized.Setpoints)
	}
	return maps.Clone(l.inherited)
}

func (l *Leaf) Setpoint(ra *crac.RangeAction) float64 {
	if l.status == StatusOptimized {
		if v, ok := l.optimized.Setpoints[ra.ID]; ok {
			return v
		}
	}
	if v, ok := l.inherited[ra.ID]; ok {
		return v
	}
	return ra.InitialSetpoint
}

// PrePerimeterSetpoint is the setpoint of ra before the perimeter was optimized.
func (l *Leaf) PrePerimeterSetpoint(ra *crac.RangeAction) float64 {
	if v, ok := l.prePerimeterSetpoints[ra.ID]; ok {
		return v
	}
	return ra.InitialSetpoint
}

// ActivatedRangeActions lists, in perimeter order, the range actions moved away from
// their pre-perimeter setpoint.
func (l *Leaf) ActivatedRangeActions() []*crac.RangeAction {
	var out []*crac.RangeAction
	for _, ra := range l.perimeter.RangeActions {
		if math.Abs(l.Setpoint(ra)-l.PrePerimeterSetpoint(ra)) > activationTolerance {
			out = append(out, ra)
		}
	}
	return out
}

// Identifier names the leaf by its network actions.
func (l *Leaf) Identifier() string {
	if len(l.applied) == 0 && l.combination == nil {
		return "Root leaf"
	}
	names := make([]string, len(l.applied))
	for i, na := range l.applied {
		names[i] = na.ID
		if na.Name != "" {
			names[i] = na.Name
		}
	}
	return "network action(s): " + strings.Join(names, ", ")
}

func (l *Leaf) String() string {
	switch l.status {
	case StatusError:
		return l.Identifier() + ", error"
	case StatusCreated:
		return l.Identifier() + ", not evaluated"
	}
	s := fmt.Sprintf("%s, cost: %.2f (functional: %.2f, virtual: %.2f)",
		l.Identifier(), l.Cost(), l.FunctionalCost(), l.VirtualCost())
	if ras := l.ActivatedRangeActions(); len(ras) > 0 {
		ids := make([]string, len(ras))
		for i, ra := range ras {
			ids[i] = ra.ID
		}
		s += ", range action(s): " + strings.Join(ids, ", ")
	}
	return s
}

// #endregion accessors

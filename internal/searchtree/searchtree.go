package searchtree

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/grid-rao/internal/bloomer"
	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/danielpatrickdp/grid-rao/internal/leaf"
	"github.com/danielpatrickdp/grid-rao/internal/linearoptimizer"
	"github.com/danielpatrickdp/grid-rao/internal/objective"
	"github.com/danielpatrickdp/grid-rao/internal/treeparams"
)

// costTolerance separates two leaf costs considered equal.
const costTolerance = 1e-9

// loggedElements is how many most limiting elements are logged per leaf.
const loggedElements = 2

// #region search-tree
// SearchTree explores network action combinations depth by depth. One SearchTree may
// run several perimeters, sequentially or concurrently.
type SearchTree struct {
	logger   *slog.Logger
	tracer   trace.Tracer
	recorder Recorder
}

// Option configures a SearchTree.
type Option func(*SearchTree)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *SearchTree) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithTracerProvider sets where spans go. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(t *SearchTree) {
		if tp != nil {
			t.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithRecorder receives every leaf event.
func WithRecorder(r Recorder) Option {
	return func(t *SearchTree) { t.recorder = r }
}

// New returns a search tree logging to slog.Default and tracing with the global provider.
func New(opts ...Option) *SearchTree {
	t := &SearchTree{logger: slog.Default(), tracer: otel.Tracer(tracerName)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run searches one perimeter. Computation failures and unsolvable linear problems are
// contained: the first gives a FAILED result when it hits the root, the second
// discards the leaf. Errors are fatal: invalid input, configuration or filler
// ordering problems, and context cancellation.
func (t *SearchTree) Run(ctx context.Context, in Input, params treeparams.SearchTreeParameters) (res *Result, err error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	obj, err := objective.New(in.Perimeter, in.PrePerimeterFlows, params.Objective)
	if err != nil {
		return nil, fmt.Errorf("search tree: %w", err)
	}

	r := &run{
		tree:   t,
		in:     in,
		params: params,
		obj:    obj,
		stop:   treeparams.NewStopMachine(params, in.Perimeter.IsPurelyVirtual()),
		result: &Result{SearchID: uuid.NewString(), State: in.Perimeter.MainState},
		logger: t.logger.With(slog.String("component", "searchtree"), slog.String("state", in.Perimeter.MainState.ID())),
		optimizer: linearoptimizer.NewOptimizer(
			linearoptimizer.Config{MaxIterations: params.MaxIterations, Solver: params.Solver},
			linearoptimizer.WithLogger(t.logger)),
	}
	r.bloomer = r.newBloomer()

	ctx, span := t.startRun(ctx, r.result.SearchID, in.Perimeter.MainState.ID(), params.MaximumSearchDepth)
	defer func() { endRun(span, res, err) }()

	if err := r.search(ctx); err != nil {
		return nil, err
	}
	return r.finish(), nil
}

// #endregion search-tree

// #region run
// run is the mutable state of one Run call.
type run struct {
	tree      *SearchTree
	in        Input
	params    treeparams.SearchTreeParameters
	obj       *objective.Function
	stop      *treeparams.StopMachine
	bloomer   *bloomer.Bloomer
	optimizer *linearoptimizer.Optimizer
	logger    *slog.Logger
	result    *Result

	root     *leaf.Leaf
	previous *leaf.Leaf
	depth    int

	mu         sync.Mutex
	optimal    *leaf.Leaf
	fulfilling *crac.NetworkActionCombination
	evaluated  atomic.Int64
}

func (r *run) newBloomer() *bloomer.Bloomer {
	lookup := make(map[string]*crac.NetworkAction, len(r.in.Perimeter.NetworkActions))
	for _, na := range r.in.Perimeter.NetworkActions {
		lookup[na.ID] = na
	}
	predefined, skipped := bloomer.ResolveCombinations(r.params.PredefinedCombinations, func(id string) (*crac.NetworkAction, bool) {
		na, ok := lookup[id]
		return na, ok
	})
	for _, ids := range skipped {
		r.logger.Debug("predefined combination not available in perimeter", slog.Any("actions", ids))
	}
	combos := append(append([]crac.NetworkActionCombination(nil), r.in.Detected...), predefined...)

	opts := []bloomer.Option{bloomer.WithLogger(r.tree.logger)}
	if r.in.Graph != nil {
		opts = append(opts, bloomer.WithCountryGraph(r.in.Graph))
	}
	return bloomer.NewBloomer(bloomer.Config{
		UsageLimits:             r.params.UsageLimits,
		SkipFarFromMostLimiting: r.params.SkipFarFromMostLimiting,
		MaxNumberOfBoundaries:   r.params.MaxNumberOfBoundaries,
	}, combos, r.in.PrePerimeterSetpoints, opts...)
}

func (r *run) search(ctx context.Context) error {
	r.root = leaf.NewRootLeaf(r.in.Perimeter, r.in.Network, r.in.PrePerimeterSetpoints)
	r.optimal, r.previous = r.root, r.root

	if err := r.root.Evaluate(ctx, r.in.Provider, r.obj); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Warn("could not evaluate root leaf", slog.Any("error", err))
		r.record(ctx, r.root, EventFailed, err.Error())
		r.result.Err = err
		r.stop.Fail()
		return nil
	}
	r.evaluated.Add(1)
	r.record(ctx, r.root, EventEvaluated, "")
	r.logLeaf("root leaf evaluated", r.root)

	if !r.reached(r.root) {
		if err := r.optimize(ctx, r.root); err != nil {
			return err
		}
		if r.root.OptimizationFailed() {
			r.logger.Warn("linear optimization failed on root leaf",
				slog.String("status", string(r.root.OptimizationStatus())))
		} else {
			r.logLeaf("root leaf optimized", r.root)
		}
	}
	r.stop.Observe(0, r.root.FunctionalCost(), r.root.VirtualCost(), true)
	r.history(0, 0)

	for !r.stop.Terminal() {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.previous = r.optimal
		candidates, err := r.exploreDepth(ctx, r.depth+1)
		if err != nil {
			return err
		}
		r.depth++
		improved := r.optimal != r.previous
		r.history(r.depth, candidates)
		state := r.stop.Observe(r.depth, r.optimal.FunctionalCost(), r.optimal.VirtualCost(), improved)
		r.logger.Info("search depth completed",
			slog.Int("depth", r.depth),
			slog.Int("candidates", candidates),
			slog.Bool("improved", improved),
			slog.String("best_leaf", r.optimal.Identifier()),
			slog.Float64("cost", r.optimal.Cost()),
			slog.String("stop_state", string(state)))
	}
	return nil
}

// exploreDepth evaluates every candidate growing from the previous depth's best leaf
// and waits for all of them.
func (r *run) exploreDepth(ctx context.Context, depth int) (int, error) {
	candidates := r.bloomer.Bloom(r.previous, r.in.Perimeter.NetworkActions)
	if len(candidates) == 0 {
		r.logger.Info("no more network action available", slog.Int("depth", depth))
		return 0, nil
	}
	r.logger.Debug("leaves to evaluate", slog.Int("depth", depth), slog.Int("candidates", len(candidates)))

	start := time.Now()
	ctx, span := r.tree.startDepth(ctx, depth, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, r.params.LeavesInParallel))
	for _, c := range candidates {
		c := c
		g.Go(func() error {
			return r.optimizeOneLeaf(gctx, depth, c)
		})
	}
	err := g.Wait()
	depthDuration.Observe(time.Since(start).Seconds())
	r.mu.Lock()
	best := r.optimal.Cost()
	r.mu.Unlock()
	endDepth(span, best, r.optimal != r.previous, err)
	return len(candidates), err
}

// optimizeOneLeaf builds, evaluates and optimizes one candidate. Only fatal errors are
// returned; everything else is recorded against the leaf.
func (r *run) optimizeOneLeaf(ctx context.Context, depth int, c bloomer.Candidate) error {
	if r.dominated(c.Combination) {
		r.recordSkipped(ctx, depth, c.Combination)
		return nil
	}
	l := leaf.NewLeaf(r.in.Network, r.previous, c.Combination, c.RemoveRangeActions)
	if l.Status() == leaf.StatusError {
		r.logger.Warn("could not apply network action combination",
			slog.String("combination", c.Combination.ID()), slog.Any("error", l.Err()))
		r.recordAt(ctx, depth, l, EventFailed, l.Err().Error())
		return nil
	}
	if err := l.Evaluate(ctx, r.in.Provider, r.obj); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Warn("could not evaluate leaf", slog.String("leaf", l.Identifier()), slog.Any("error", err))
		r.recordAt(ctx, depth, l, EventFailed, err.Error())
		return nil
	}
	r.evaluated.Add(1)
	r.recordAt(ctx, depth, l, EventEvaluated, "")

	if !r.reached(l) {
		if r.dominated(c.Combination) {
			r.recordSkipped(ctx, depth, c.Combination)
		} else {
			if err := r.optimize(ctx, l); err != nil {
				return err
			}
			if l.OptimizationFailed() {
				r.logger.Warn("linear optimization failed, leaf discarded",
					slog.String("leaf", l.Identifier()),
					slog.String("status", string(l.OptimizationStatus())))
				r.recordAt(ctx, depth, l, EventDiscarded, "linear optimization "+string(l.OptimizationStatus()))
				l.Release()
				return nil
			}
			r.recordAt(ctx, depth, l, EventOptimized, "")
		}
	}
	r.logLeaf("leaf optimized", l)
	r.updateOptimalLeaf(ctx, depth, l, c.Combination)
	return nil
}

// optimize runs range action optimization when the perimeter has range actions.
func (r *run) optimize(ctx context.Context, l *leaf.Leaf) error {
	if len(r.in.Perimeter.RangeActions) == 0 {
		return nil
	}
	return l.Optimize(ctx, r.optimizer, leaf.OptimizeInput{
		Provider:          r.in.Provider,
		Objective:         r.obj,
		Chain:             r.params.FillerChain(l.ActivatedNetworkActions()),
		PrePerimeterFlows: r.in.PrePerimeterFlows,
	})
}

// updateOptimalLeaf keeps the cheapest leaf that beats the previous depth enough.
// Once a leaf reaches the stop criterion only leaves that also reach it and come
// first in candidate order may replace it. A replaced optimum of the same depth is
// released.
func (r *run) updateOptimalLeaf(ctx context.Context, depth int, l *leaf.Leaf, c crac.NetworkActionCombination) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.stop.ImprovedEnough(r.previous.Cost(), l.FunctionalCost(), l.VirtualCost()) {
		r.recordAt(ctx, depth, l, EventDiscarded, "not enough impact")
		l.Release()
		return
	}
	replaced, selected := r.optimal, false
	if r.fulfilling == nil && r.better(l, c) {
		r.optimal, selected = l, true
		if r.reached(l) {
			r.fulfilling = &c
		}
	}
	if r.fulfilling != nil && r.reached(l) && crac.CompareCombinations(c, *r.fulfilling) < 0 {
		r.optimal, r.fulfilling, selected = l, &c, true
	}
	if !selected {
		l.Release()
		return
	}
	r.recordAt(ctx, depth, l, EventSelected, "")
	if replaced != r.previous && replaced != r.root {
		replaced.Release()
	}
}

// better compares l with the current optimum of the depth. Equal costs fall back to
// candidate order so the outcome does not depend on which worker finished first.
func (r *run) better(l *leaf.Leaf, c crac.NetworkActionCombination) bool {
	diff := l.Cost() - r.optimal.Cost()
	if diff < -costTolerance {
		return true
	}
	if diff > costTolerance || r.optimal == r.previous {
		return false
	}
	current, ok := r.optimal.Combination()
	return ok && crac.CompareCombinations(c, current) < 0
}

func (r *run) reached(l *leaf.Leaf) bool {
	return r.stop.Reached(l.FunctionalCost(), l.VirtualCost())
}

// dominated is true when a combination reaching the stop criterion comes before c.
func (r *run) dominated(c crac.NetworkActionCombination) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fulfilling != nil && crac.CompareCombinations(c, *r.fulfilling) > 0
}

func (r *run) history(depth, candidates int) {
	r.result.History = append(r.result.History, DepthRecord{
		Depth:          depth,
		Leaf:           r.optimal.Identifier(),
		Cost:           r.optimal.Cost(),
		FunctionalCost: r.optimal.FunctionalCost(),
		VirtualCost:    r.optimal.VirtualCost(),
		Candidates:     candidates,
	})
}

func (r *run) finish() *Result {
	res := r.result
	res.Root, res.Best = r.root, r.optimal
	res.StopState = r.stop.State()
	res.LeavesEvaluated = int(r.evaluated.Load())
	switch {
	case res.StopState == treeparams.StateFailed:
		res.Status = StatusFailed
	case r.optimal.Cost() <= 0:
		res.Status = StatusSecure
	default:
		res.Status = StatusUnsecure
	}
	if res.Status != StatusFailed {
		r.recordAt(context.Background(), r.depth, r.optimal, EventSelected, "best leaf")
	}
	r.logger.Info("search tree completed",
		slog.String("status", string(res.Status)),
		slog.String("stop_state", string(res.StopState)),
		slog.Int("depth", res.Depth()),
		slog.Int("leaves_evaluated", res.LeavesEvaluated),
		slog.String("best_leaf", r.optimal.String()))
	return res
}

// #endregion run

// #region reporting
func (r *run) logLeaf(msg string, l *leaf.Leaf) {
	if !r.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	limiting := l.MostLimitingElements(loggedElements)
	ids := make([]string, len(limiting))
	for i, c := range limiting {
		ids[i] = c.ID
	}
	r.logger.Debug(msg,
		slog.String("leaf", l.String()),
		slog.Any("most_limiting", ids))
}

func (r *run) record(ctx context.Context, l *leaf.Leaf, event LeafEvent, detail string) {
	r.recordAt(ctx, 0, l, event, detail)
}

func (r *run) recordSkipped(ctx context.Context, depth int, c crac.NetworkActionCombination) {
	leavesTotal.WithLabelValues(string(EventSkipped)).Inc()
	if r.tree.recorder == nil {
		return
	}
	r.send(ctx, LeafRecord{
		Depth:  depth,
		Leaf:   "network action(s): " + c.ID(),
		Event:  EventSkipped,
		Cost:   math.NaN(),
		Detail: "a combination reaching the stop criterion comes first",
	})
}

func (r *run) recordAt(ctx context.Context, depth int, l *leaf.Leaf, event LeafEvent, detail string) {
	leavesTotal.WithLabelValues(string(event)).Inc()
	if r.tree.recorder == nil {
		return
	}
	r.send(ctx, LeafRecord{
		Depth:          depth,
		LeafID:         l.ID(),
		Leaf:           l.Identifier(),
		Event:          event,
		Cost:           l.Cost(),
		FunctionalCost: l.FunctionalCost(),
		VirtualCost:    l.VirtualCost(),
		Detail:         detail,
	})
}

func (r *run) send(ctx context.Context, rec LeafRecord) {
	rec.SearchID = r.result.SearchID
	rec.StateID = r.in.Perimeter.MainState.ID()
	if err := r.tree.recorder.RecordLeaf(ctx, rec); err != nil {
		r.logger.Warn("could not record leaf event", slog.String("event", string(rec.Event)), slog.Any("error", err))
	}
}

// #endregion reporting

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/danielpatrickdp/grid-rao/internal/logging"
	"github.com/danielpatrickdp/grid-rao/internal/searchtree"
	"github.com/danielpatrickdp/grid-rao/internal/sensitivity"
	"github.com/danielpatrickdp/grid-rao/internal/store"
	"github.com/danielpatrickdp/grid-rao/internal/treeparams"
)

const tracerName = "grid-rao.orchestrator"

// #region orchestrator-struct
// Orchestrator optimizes the preventive perimeter, then every curative perimeter on
// top of the preventive result.
type Orchestrator struct {
	provider sensitivity.Provider
	store    *store.Store
	logger   *slog.Logger
	tp       trace.TracerProvider
	tracer   trace.Tracer
	curative bool
}

// #endregion orchestrator-struct

// #region constructor
type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) {
		if tp != nil {
			o.tp = tp
		}
	}
}

// WithStore persists runs, perimeter results and the leaf log.
func WithStore(s *store.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithoutCurative stops after the preventive perimeter.
func WithoutCurative() Option {
	return func(o *Orchestrator) { o.curative = false }
}

func NewOrchestrator(provider sensitivity.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider: provider,
		logger:   slog.Default(),
		tp:       otel.GetTracerProvider(),
		curative: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.tracer = o.tp.Tracer(tracerName)
	o.logger = o.logger.With(slog.String("component", "orchestrator"))
	return o
}

// #endregion constructor

// #region run
// Run optimizes a case. Perimeter computation failures are reported in the result;
// returned errors are invalid input, configuration problems or cancellation.
func (o *Orchestrator) Run(ctx context.Context, c Case, params treeparams.Parameters) (res *RaoResult, err error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(attribute.String("orchestrator.case", c.ID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.String("orchestrator.run_id", res.RunID),
				attribute.String("orchestrator.status", string(res.Status)),
				attribute.Int("orchestrator.curative_perimeters", len(res.Curative)),
			)
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	res = &RaoResult{Curative: map[string]*searchtree.Result{}}
	treeOpts := []searchtree.Option{searchtree.WithLogger(o.logger), searchtree.WithTracerProvider(o.tp)}
	if o.store != nil {
		run, err := o.store.CreateRun(c.ID, parametersJSON(params))
		if err != nil {
			return nil, fmt.Errorf("orchestrator: %w", err)
		}
		res.RunID = run.RunID
		treeOpts = append(treeOpts, searchtree.WithRecorder(logging.NewRecorder(o.store.DB(), run.RunID)))
	} else {
		res.RunID = uuid.NewString()
	}
	tree := searchtree.New(treeOpts...)
	log := o.logger.With(slog.String("run_id", res.RunID), slog.String("case", c.ID))

	res.Preventive, err = o.runPreventive(ctx, tree, c, params)
	if err != nil {
		o.finish(res.RunID, searchtree.StatusFailed)
		return nil, err
	}
	o.save(res.RunID, res.Preventive)
	log.Info("preventive perimeter optimized",
		slog.String("status", string(res.Preventive.Status)),
		slog.String("best_leaf", res.Preventive.Best.Identifier()),
		slog.Float64("cost", res.Preventive.Best.Cost()))

	if o.curative && res.Preventive.Status != searchtree.StatusFailed {
		if err := o.runCurative(ctx, tree, c, params, res); err != nil {
			o.finish(res.RunID, searchtree.StatusFailed)
			return nil, err
		}
		for _, id := range sortedKeys(res.Curative) {
			o.save(res.RunID, res.Curative[id])
		}
	}

	res.Status = worst(res.Perimeters())
	o.finish(res.RunID, res.Status)
	log.Info("optimization completed",
		slog.String("status", string(res.Status)),
		slog.Int("curative_perimeters", len(res.Curative)))
	return res, nil
}

func (o *Orchestrator) runPreventive(ctx context.Context, tree *searchtree.SearchTree, c Case, params treeparams.Parameters) (*searchtree.Result, error) {
	perimeter := crac.NewPreventivePerimeter(c.Crac)
	pre, err := o.provider.Compute(ctx, c.Network, sensitivity.Request{
		Cnecs:        perimeter.FlowCnecs,
		RangeActions: perimeter.RangeActions,
	})
	if err != nil {
		return nil, fmt.Errorf("preventive pre-perimeter flows: %w", err)
	}
	limits := params.UsageLimits.ForState(perimeter.MainState)
	return tree.Run(ctx, searchtree.Input{
		Perimeter:             perimeter,
		Network:               c.Network,
		Provider:              o.provider,
		PrePerimeterFlows:     pre,
		PrePerimeterSetpoints: c.Network.Setpoints(),
		Graph:                 c.Graph,
	}, treeparams.ForPreventive(params, limits))
}

// runCurative optimizes every curative state concurrently, at most
// ContingencyScenarios at a time.
func (o *Orchestrator) runCurative(ctx context.Context, tree *searchtree.SearchTree, c Case, params treeparams.Parameters, res *RaoResult) error {
	states := crac.CurativeStates(c.Crac)
	if len(states) == 0 {
		return nil
	}
	base := res.Preventive.Best.Network()
	if base == nil {
		return fmt.Errorf("curative: preventive best leaf has no network")
	}
	target := res.Preventive.Best.Cost()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, params.Parallelism.ContingencyScenarios))
	for _, state := range states {
		state := state
		g.Go(func() error {
			r, err := o.runCurativeState(gctx, tree, c, params, base, state, target)
			if err != nil {
				return err
			}
			mu.Lock()
			res.Curative[state.ID()] = r
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) runCurativeState(ctx context.Context, tree *searchtree.SearchTree, c Case, params treeparams.Parameters,
	base sensitivity.Network, state crac.State, preventiveCost float64) (*searchtree.Result, error) {
	network := base.Clone()
	forced := c.Crac.ForcedNetworkActions(state)
	for _, na := range forced {
		if err := network.ApplyNetworkAction(na); err != nil {
			o.logger.Warn("could not apply forced network action",
				slog.String("state", state.ID()),
				slog.String("network_action", na.ID),
				slog.Any("error", err))
			return failedPerimeter(state, fmt.Errorf("apply forced network action %s: %w", na.ID, err)), nil
		}
	}

	perimeter := crac.NewCurativePerimeter(c.Crac, state)
	pre, err := o.provider.Compute(ctx, network, sensitivity.Request{
		Cnecs:        perimeter.FlowCnecs,
		RangeActions: perimeter.RangeActions,
	})
	if err != nil {
		return nil, fmt.Errorf("curative pre-perimeter flows %s: %w", state.ID(), err)
	}
	limits := params.UsageLimits.ForState(state).Remaining(forced)
	return tree.Run(ctx, searchtree.Input{
		Perimeter:             perimeter,
		Network:               network,
		Provider:              o.provider,
		PrePerimeterFlows:     pre,
		PrePerimeterSetpoints: network.Setpoints(),
		Graph:                 c.Graph,
	}, treeparams.ForCurative(params, limits, preventiveCost))
}

// #endregion run

// #region persistence
func (o *Orchestrator) save(runID string, r *searchtree.Result) {
	if o.store == nil {
		return
	}
	if err := o.store.SavePerimeterResult(store.NewPerimeterRecord(runID, r)); err != nil {
		o.logger.Warn("could not save perimeter result",
			slog.String("state", r.State.ID()), slog.Any("error", err))
	}
}

func (o *Orchestrator) finish(runID string, status searchtree.PerimeterStatus) {
	if o.store == nil {
		return
	}
	if err := o.store.FinishRun(runID, store.RunStatus(status)); err != nil {
		o.logger.Warn("could not finish run", slog.String("run_id", runID), slog.Any("error", err))
	}
}

func parametersJSON(p treeparams.Parameters) string {
	b, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(b)
}

// #endregion persistence

// #region helpers
func failedPerimeter(state crac.State, err error) *searchtree.Result {
	return &searchtree.Result{
		SearchID:  uuid.NewString(),
		State:     state,
		Status:    searchtree.StatusFailed,
		StopState: treeparams.StateFailed,
		Err:       err,
	}
}

func worst(results []*searchtree.Result) searchtree.PerimeterStatus {
	status := searchtree.StatusSecure
	for _, r := range results {
		switch r.Status {
		case searchtree.StatusFailed:
			return searchtree.StatusFailed
		case searchtree.StatusUnsecure:
			status = searchtree.StatusUnsecure
		}
	}
	return status
}

func sortedKeys[V any](m map[string]V) []string {
	var keys []string
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// #endregion helpers

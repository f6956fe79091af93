package searchtree

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "grid-rao.searchtree"

var (
	// leavesTotal counts leaves by outcome.
	//
	// Labels:
	//   - event: one of the LeafEvent values
	leavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grid_rao",
			Subsystem: "searchtree",
			Name:      "leaves_total",
			Help:      "Total search tree leaves by event",
		},
		[]string{"event"},
	)

	searchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grid_rao",
			Subsystem: "searchtree",
			Name:      "searches_total",
			Help:      "Total perimeter searches by final status",
		},
		[]string{"status"},
	)

	depthDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "grid_rao",
			Subsystem: "searchtree",
			Name:      "depth_duration_seconds",
			Help:      "Time to evaluate every candidate of one depth",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)

	searchDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "grid_rao",
			Subsystem: "searchtree",
			Name:      "final_depth",
			Help:      "Last completed depth of a perimeter search",
			Buckets:   prometheus.LinearBuckets(0, 1, 8),
		},
	)
)

func (t *SearchTree) startRun(ctx context.Context, searchID, stateID string, maxDepth int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "searchtree.run",
		trace.WithAttributes(
			attribute.String("searchtree.search_id", searchID),
			attribute.String("searchtree.state", stateID),
			attribute.Int("searchtree.max_depth", maxDepth),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func endRun(span trace.Span, res *Result, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return
	}
	if res.Status == StatusFailed {
		span.SetStatus(codes.Error, "root leaf failed")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(
		attribute.String("searchtree.status", string(res.Status)),
		attribute.String("searchtree.stop_state", string(res.StopState)),
		attribute.Int("searchtree.depth", res.Depth()),
		attribute.Int("searchtree.leaves_evaluated", res.LeavesEvaluated),
	)
	if res.Best != nil {
		span.SetAttributes(
			attribute.String("searchtree.best_leaf", res.Best.Identifier()),
			attribute.Float64("searchtree.best_cost", res.Best.Cost()),
		)
	}
	span.End()
	searchesTotal.WithLabelValues(string(res.Status)).Inc()
	searchDepth.Observe(float64(res.Depth()))
}

func (t *SearchTree) startDepth(ctx context.Context, depth, candidates int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "searchtree.depth",
		trace.WithAttributes(
			attribute.Int("searchtree.depth", depth),
			attribute.Int("searchtree.candidates", candidates),
		),
	)
}

func endDepth(span trace.Span, best float64, improved bool, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.Float64("searchtree.best_cost", best),
		attribute.Bool("searchtree.improved", improved),
	)
	span.End()
}

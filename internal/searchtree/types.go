package searchtree

import (
	"context"
	"errors"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/danielpatrickdp/grid-rao/internal/graph"
	"github.com/danielpatrickdp/grid-rao/internal/leaf"
	"github.com/danielpatrickdp/grid-rao/internal/sensitivity"
	"github.com/danielpatrickdp/grid-rao/internal/treeparams"
)

var ErrInvalidInput = errors.New("invalid search tree input")

// #region input
// Input is one perimeter to optimize.
type Input struct {
	Perimeter *crac.OptimizationPerimeter
	// Network is the pre-perimeter state. Forced actions are already applied. Every
	// leaf works on its own clone; Network itself is never modified.
	Network  sensitivity.Network
	Provider sensitivity.Provider

	PrePerimeterFlows     *sensitivity.Result
	PrePerimeterSetpoints map[string]float64

	// Graph enables the far-from-most-limiting-element pruning. Optional.
	Graph *graph.CountryGraph
	// Detected are combinations found useful by an earlier search. They are tried first.
	Detected []crac.NetworkActionCombination
}

func (in Input) validate() error {
	switch {
	case in.Perimeter == nil:
		return errors.Join(ErrInvalidInput, errors.New("perimeter is required"))
	case in.Network == nil:
		return errors.Join(ErrInvalidInput, errors.New("network is required"))
	case in.Provider == nil:
		return errors.Join(ErrInvalidInput, errors.New("provider is required"))
	case in.PrePerimeterFlows == nil:
		return errors.Join(ErrInvalidInput, errors.New("pre-perimeter flows are required"))
	}
	return nil
}

// #endregion input

// #region result
// PerimeterStatus summarizes the best leaf of a perimeter.
type PerimeterStatus string

const (
	StatusSecure   PerimeterStatus = "SECURE"
	StatusUnsecure PerimeterStatus = "UNSECURE"
	StatusFailed   PerimeterStatus = "FAILED"
)

// DepthRecord is the best leaf after one depth. Depth 0 is the root.
type DepthRecord struct {
	Depth          int
	Leaf           string
	Cost           float64
	FunctionalCost float64
	VirtualCost    float64
	Candidates     int
}

// Result is the outcome of one perimeter's search.
type Result struct {
	SearchID  string
	State     crac.State
	Status    PerimeterStatus
	StopState treeparams.StopState
	Root      *leaf.Leaf
	Best      *leaf.Leaf
	// History has one record per completed depth; costs never increase along it.
	History         []DepthRecord
	LeavesEvaluated int
	// Err is the computation failure that stopped a FAILED search.
	Err error
}

// Depth is the last completed depth.
func (r *Result) Depth() int {
	if len(r.History) == 0 {
		return 0
	}
	return r.History[len(r.History)-1].Depth
}

// #endregion result

// #region recorder
// LeafEvent is what happened to a leaf.
type LeafEvent string

const (
	EventEvaluated LeafEvent = "evaluated"
	EventOptimized LeafEvent = "optimized"
	EventFailed    LeafEvent = "failed"
	EventDiscarded LeafEvent = "discarded"
	EventSkipped   LeafEvent = "skipped"
	EventSelected  LeafEvent = "selected"
)

// LeafRecord is one leaf event of a search.
type LeafRecord struct {
	SearchID       string
	StateID        string
	Depth          int
	LeafID         string
	Leaf           string
	Event          LeafEvent
	Cost           float64
	FunctionalCost float64
	VirtualCost    float64
	Detail         string
}

// Recorder receives leaf events. It is called from concurrent leaf workers.
type Recorder interface {
	RecordLeaf(ctx context.Context, rec LeafRecord) error
}

// #endregion recorder

package orchestrator

import (
	"errors"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/danielpatrickdp/grid-rao/internal/graph"
	"github.com/danielpatrickdp/grid-rao/internal/searchtree"
	"github.com/danielpatrickdp/grid-rao/internal/sensitivity"
)

var ErrInvalidCase = errors.New("invalid case")

// #region case
// Case is one network situation to optimize.
type Case struct {
	ID      string
	Crac    *crac.Crac
	Network sensitivity.Network
	// Graph enables far-from-most-limiting-element pruning. Optional.
	Graph *graph.CountryGraph
}

func (c Case) validate() error {
	switch {
	case c.Crac == nil:
		return errors.Join(ErrInvalidCase, errors.New("crac is required"))
	case c.Network == nil:
		return errors.Join(ErrInvalidCase, errors.New("network is required"))
	}
	return nil
}

// #endregion case

// #region rao-result
// RaoResult gathers the perimeter results of one run.
type RaoResult struct {
	RunID      string
	Preventive *searchtree.Result
	// Curative is keyed by state ID. It is empty when the preventive perimeter failed.
	Curative map[string]*searchtree.Result
	// Status is the worst perimeter status: FAILED, then UNSECURE, then SECURE.
	Status searchtree.PerimeterStatus
}

// Perimeters lists the preventive result first, then curative results by state ID.
func (r *RaoResult) Perimeters() []*searchtree.Result {
	out := []*searchtree.Result{r.Preventive}
	for _, id := range sortedKeys(r.Curative) {
		out = append(out, r.Curative[id])
	}
	return out
}

// #endregion rao-result

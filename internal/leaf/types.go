package leaf

import (
	"errors"

	"github.com/danielpatrickdp/grid-rao/internal/fillers"
	"github.com/danielpatrickdp/grid-rao/internal/objective"
	"github.com/danielpatrickdp/grid-rao/internal/sensitivity"
)

var (
	ErrNotEvaluated = errors.New("leaf not evaluated")
	ErrApply        = errors.New("network action could not be applied")
	ErrReleased     = errors.New("leaf network released")
)

// #region status
// Status is where a leaf stands in its lifecycle.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusEvaluated Status = "EVALUATED"
	StatusOptimized Status = "OPTIMIZED"
	StatusError     Status = "ERROR"
)

// #endregion status

// #region inputs
// OptimizeInput is what range-action optimization needs beyond the leaf itself.
type OptimizeInput struct {
	Provider          sensitivity.Provider
	Objective         *objective.Function
	Chain             fillers.Chain
	PrePerimeterFlows *sensitivity.Result
}

// #endregion inputs

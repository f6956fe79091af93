package sensitivity

import (
	"context"
	"errors"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
)

var (
	ErrUnsupportedNetwork = errors.New("network type not supported by provider")
	ErrUnknownAction      = errors.New("unknown remedial action")
)

// #region status
// Status is what a sensitivity computation reports about itself.
type Status string

const (
	StatusSuccess  Status = "SUCCESS"
	StatusFallback Status = "FALLBACK"
	StatusFailure  Status = "FAILURE"
)

// #endregion status

// #region keys
// CnecSide identifies one side of one CNEC.
type CnecSide struct {
	CnecID string
	Side   crac.Side
}

// SensitivityKey identifies the sensitivity of one CNEC side to one range action.
type SensitivityKey struct {
	RangeActionID string
	CnecSide
}

// #endregion keys

// #region collaborators
// Network is a working copy of the grid. Every leaf owns its own copy.
type Network interface {
	Clone() Network
	ApplyNetworkAction(na *crac.NetworkAction) error
	ApplyRangeAction(ra *crac.RangeAction, setpoint float64) error
	AppliedNetworkActions() []string
	Setpoints() map[string]float64
}

// Request names the CNECs to compute flows for and the range actions to compute
// sensitivities for.
type Request struct {
	Cnecs        []*crac.FlowCnec
	RangeActions []*crac.RangeAction
}

// Provider runs a load-flow plus sensitivity computation on a network.
type Provider interface {
	Compute(ctx context.Context, network Network, req Request) (*Result, error)
}

// #endregion collaborators

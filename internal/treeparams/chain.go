package treeparams

import (
	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/danielpatrickdp/grid-rao/internal/fillers"
	"github.com/danielpatrickdp/grid-rao/internal/objective"
)

// FillerChain assembles the linear problem of a leaf that already applies the given
// network actions. The usage-limit filler only sees what those actions leave over.
func (p SearchTreeParameters) FillerChain(applied []*crac.NetworkAction) fillers.Chain {
	chain := fillers.Chain{fillers.NewCoreProblemFiller(p.Core)}
	if p.Objective.Type == objective.MaxMinRelativeMargin {
		chain = append(chain, fillers.NewMaxMinRelativeMarginFiller(p.Margin))
	} else {
		chain = append(chain, fillers.NewMaxMinMarginFiller(p.Margin))
	}
	if p.Objective.MnecEnabled {
		chain = append(chain, fillers.NewMnecFiller(p.Mnec))
	}
	if p.UsageLimits.Limited() {
		chain = append(chain, fillers.NewRaUsageLimitsFiller(p.UsageLimits.Remaining(applied)))
	}
	return chain
}

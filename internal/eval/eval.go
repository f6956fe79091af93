package eval

import (
	"fmt"
	"math"
	"sort"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/danielpatrickdp/grid-rao/internal/leaf"
	"github.com/danielpatrickdp/grid-rao/internal/searchtree"
	"github.com/danielpatrickdp/grid-rao/internal/usagelimits"
)

// #region eval-harness
// EvalHarness checks a perimeter result against the invariants every search must keep.
type EvalHarness struct {
	config EvalConfig
}

func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run validates one perimeter result. limits are the usage limits the search ran with.
func (h *EvalHarness) Run(res *searchtree.Result, limits usagelimits.RaUsageLimits) EvalResult {
	if res.Status == searchtree.StatusFailed {
		pass := res.Err != nil
		reason := "perimeter failed with its cause recorded"
		if !pass {
			reason = "eval failed: failed perimeter carries no error"
		}
		return EvalResult{
			Passed:  pass,
			Metrics: []EvalMetric{{Name: "failure_recorded", Value: boolValue(pass), Limit: 1, Pass: pass}},
			Reason:  reason,
		}
	}

	var c checks

	// 1. The best leaf never costs more than the root
	if res.Root != nil && res.Best != nil {
		c.add("best_vs_root", res.Best.Cost()-res.Root.Cost(), h.config.CostTolerance)
	}

	// 2. Depth history never worsens
	worst := 0.0
	for i := 1; i < len(res.History); i++ {
		worst = math.Max(worst, res.History[i].Cost-res.History[i-1].Cost)
	}
	c.add("history_increase", worst, h.config.CostTolerance)

	// 3. SECURE exactly when no optimized margin is negative
	if res.Best != nil {
		secure := res.Best.Cost() <= 0
		ok := secure == (res.Status == searchtree.StatusSecure)
		c.metrics = append(c.metrics, EvalMetric{Name: "status_sign", Value: res.Best.Cost(), Pass: ok})
		if !ok {
			c.fail(fmt.Sprintf("status %s does not match best cost %.4f", res.Status, res.Best.Cost()))
		}
	}

	// 4. Usage limits
	if res.Best != nil {
		h.usage(&c, res.Best, limits)
	}

	return c.result()
}

// usage counts the actions of best against limits. Moved PST taps count as
// elementary actions of their TSO.
func (h *EvalHarness) usage(c *checks, best *leaf.Leaf, limits usagelimits.RaUsageLimits) {
	nas, ras := best.ActivatedNetworkActions(), best.ActivatedRangeActions()
	perTso := map[string]int{}
	topo := map[string]int{}
	pst := map[string]int{}
	elementary := map[string]int{}
	for _, na := range nas {
		perTso[na.Operator]++
		topo[na.Operator]++
		elementary[na.Operator] += len(na.ElementaryActions)
	}
	for _, ra := range ras {
		perTso[ra.Operator]++
		if ra.Type == crac.RangePst {
			pst[ra.Operator]++
			elementary[ra.Operator] += ra.TapVariation(best.PrePerimeterSetpoint(ra), best.Setpoint(ra))
		}
	}

	if limits.HasMaxRa() {
		c.add("max_ra", float64(len(nas)+len(ras)), float64(limits.MaxRa))
	}
	if limits.HasMaxTso() {
		tsos := 0
		for tso := range perTso {
			if tso != "" && !limits.Excluded(tso) {
				tsos++
			}
		}
		c.add("max_tso", float64(tsos), float64(limits.MaxTso))
	}
	for _, tso := range sortedKeys(perTso) {
		if limit, ok := limits.RaPerTso(tso); ok {
			c.add("max_ra_per_tso:"+tso, float64(perTso[tso]), float64(limit))
		}
		if limit, ok := limits.TopoPerTso(tso); ok {
			c.add("max_topo_per_tso:"+tso, float64(topo[tso]), float64(limit))
		}
		if limit, ok := limits.PstPerTso(tso); ok {
			c.add("max_pst_per_tso:"+tso, float64(pst[tso]), float64(limit))
		}
		if limit, ok := limits.ElementaryActionsPerTso(tso); ok {
			c.add("max_elementary_actions_per_tso:"+tso, float64(elementary[tso]), float64(limit))
		}
	}
}

// #endregion eval-harness

// #region checks
type checks struct {
	metrics []EvalMetric
	reasons []string
}

// add records a metric that passes when value does not exceed limit.
func (c *checks) add(name string, value, limit float64) {
	pass := value <= limit
	c.metrics = append(c.metrics, EvalMetric{Name: name, Value: value, Limit: limit, Pass: pass})
	if !pass {
		c.fail(fmt.Sprintf("%s %.4f exceeds %.4f", name, value, limit))
	}
}

func (c *checks) fail(reason string) {
	c.reasons = append(c.reasons, reason)
}

func (c *checks) result() EvalResult {
	reason := "all checks passed"
	if len(c.reasons) == 1 {
		reason = fmt.Sprintf("eval failed: %s", c.reasons[0])
	} else if len(c.reasons) > 1 {
		reason = fmt.Sprintf("eval failed: %d checks: %s", len(c.reasons), c.reasons[0])
	}
	return EvalResult{
		Passed:  len(c.reasons) == 0,
		Metrics: c.metrics,
		Reason:  reason,
	}
}

// #endregion checks

// #region helpers
func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// #endregion helpers

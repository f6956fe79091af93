package bloomer

import (
	"log/slog"
	"math"
	"slices"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/danielpatrickdp/grid-rao/internal/graph"
)

// #region bloomer
// Bloomer enumerates the network action combinations of the next depth and prunes
// those that break a usage limit or cannot reach the binding constraint.
type Bloomer struct {
	config                Config
	predefined            []crac.NetworkActionCombination
	countries             *graph.CountryGraph
	prePerimeterSetpoints map[string]float64
	logger                *slog.Logger
}

// Option configures a Bloomer.
type Option func(*Bloomer)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Bloomer) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithCountryGraph enables distance pruning against the given border graph.
func WithCountryGraph(g *graph.CountryGraph) Option {
	return func(b *Bloomer) { b.countries = g }
}

// NewBloomer creates a bloomer. predefined holds configured and detected combinations;
// duplicates by ID are dropped, the first one wins.
func NewBloomer(config Config, predefined []crac.NetworkActionCombination, prePerimeterSetpoints map[string]float64, opts ...Option) *Bloomer {
	b := &Bloomer{
		config:                config,
		prePerimeterSetpoints: prePerimeterSetpoints,
		logger:                slog.Default(),
	}
	seen := make(map[string]bool)
	for _, c := range predefined {
		if c.Size() == 0 || seen[c.ID()] {
			continue
		}
		seen[c.ID()] = true
		b.predefined = append(b.predefined, c)
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Predefined returns the configured and detected combinations.
func (b *Bloomer) Predefined() []crac.NetworkActionCombination {
	return b.predefined
}

// Bloom returns the candidates growing from parent, in evaluation order.
func (b *Bloomer) Bloom(parent Parent, available []*crac.NetworkAction) []Candidate {
	availableIDs := make(map[string]bool, len(available))
	for _, na := range available {
		availableIDs[na.ID] = true
	}

	var candidates []Candidate
	singletons := make(map[string]bool)
	for _, c := range b.predefined {
		if !allAvailable(c, availableIDs) {
			continue
		}
		candidates = append(candidates, Candidate{Combination: c})
		if c.Size() == 1 {
			singletons[c.Actions()[0].ID] = true
		}
	}
	for _, na := range available {
		if !singletons[na.ID] {
			candidates = append(candidates, Candidate{Combination: crac.NewCombination(false, na)})
		}
	}

	candidates = b.removeAlreadyActivated(candidates, parent)
	candidates = b.removeAlreadyTested(candidates, parent)
	candidates = b.removeExceedingMaxRa(candidates, parent)
	candidates = b.removeExceedingMaxRaPerTso(candidates, parent)
	candidates = b.removeExceedingMaxTso(candidates, parent)
	candidates = b.removeFarFromMostLimitingElements(candidates, parent)
	candidates = b.removeExceedingMaxElementaryActionsPerTso(candidates, parent)

	slices.SortStableFunc(candidates, func(x, y Candidate) int {
		return crac.CompareCombinations(x.Combination, y.Combination)
	})
	return candidates
}

func allAvailable(c crac.NetworkActionCombination, ids map[string]bool) bool {
	for _, na := range c.Actions() {
		if !ids[na.ID] {
			return false
		}
	}
	return true
}

func (b *Bloomer) logFiltered(before, after int, reason string) {
	if before > after {
		b.logger.Info("network action combinations filtered out",
			slog.String("component", "bloomer"),
			slog.Int("count", before-after),
			slog.String("reason", reason))
	}
}

// #endregion bloomer

// #region filters
func (b *Bloomer) removeAlreadyActivated(candidates []Candidate, parent Parent) []Candidate {
	activated := idSet(parent.ActivatedNetworkActions())
	out := candidates[:0:0]
	for _, c := range candidates {
		if !slices.ContainsFunc(c.Combination.Actions(), func(na *crac.NetworkAction) bool { return activated[na.ID] }) {
			out = append(out, c)
		}
	}
	return out
}

// removeAlreadyTested drops the last missing action of a configured combination whose
// other actions were all selected: had it helped, the combination would have won earlier.
func (b *Bloomer) removeAlreadyTested(candidates []Candidate, parent Parent) []Candidate {
	activated := idSet(parent.ActivatedNetworkActions())
	tested := make(map[string]bool)
	for _, c := range b.predefined {
		if c.IsDetectedDuringSearch() {
			continue
		}
		var missing []*crac.NetworkAction
		for _, na := range c.Actions() {
			if !activated[na.ID] {
				missing = append(missing, na)
			}
		}
		if len(missing) == 1 {
			tested[missing[0].ID] = true
		}
	}
	out := candidates[:0:0]
	for _, c := range candidates {
		if c.Combination.Size() == 1 && tested[c.Combination.Actions()[0].ID] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// removeExceedingMaxRa keeps a combination when it fits with the parent's network
// actions. It flags range action removal when the parent's range actions make it overflow.
func (b *Bloomer) removeExceedingMaxRa(candidates []Candidate, parent Parent) []Candidate {
	limits := b.config.UsageLimits
	if !limits.HasMaxRa() {
		return candidates
	}
	activatedNa := len(parent.ActivatedNetworkActions())
	activatedRa := len(parent.ActivatedRangeActions())
	out := candidates[:0:0]
	for _, c := range candidates {
		size := c.Combination.Size()
		if size+activatedNa > limits.MaxRa {
			continue
		}
		if size+activatedNa+activatedRa > limits.MaxRa {
			c.RemoveRangeActions = true
		}
		out = append(out, c)
	}
	b.logFiltered(len(candidates), len(out), "max number of usable remedial actions reached")
	return out
}

func (b *Bloomer) removeExceedingMaxRaPerTso(candidates []Candidate, parent Parent) []Candidate {
	limits := b.config.UsageLimits
	if len(limits.MaxRaPerTso) == 0 && len(limits.MaxTopoPerTso) == 0 {
		return candidates
	}
	appliedNa := operatorCounts(parent.ActivatedNetworkActions())
	activatedRa := make(map[string]int)
	for _, ra := range parent.ActivatedRangeActions() {
		activatedRa[ra.Operator]++
	}
	allowance := make(map[string]int)
	for tso := range limits.MaxRaPerTso {
		allowance[tso] = b.networkActionAllowance(tso, appliedNa[tso])
	}
	for tso := range limits.MaxTopoPerTso {
		allowance[tso] = b.networkActionAllowance(tso, appliedNa[tso])
	}

	out := candidates[:0:0]
	for _, c := range candidates {
		keep := true
		for _, tso := range c.Combination.Operators() {
			n := c.Combination.CountForOperator(tso)
			if limit, ok := allowance[tso]; ok && n > limit {
				keep = false
				break
			}
			if limit, ok := limits.RaPerTso(tso); ok && appliedNa[tso]+activatedRa[tso]+n > limit {
				c.RemoveRangeActions = true
			}
		}
		if keep {
			out = append(out, c)
		}
	}
	b.logFiltered(len(candidates), len(out), "max number of network actions for a TSO reached")
	return out
}

// networkActionAllowance is how many more network actions tso may activate.
func (b *Bloomer) networkActionAllowance(tso string, applied int) int {
	limits := b.config.UsageLimits
	byRa, byTopo := math.MaxInt, math.MaxInt
	if v, ok := limits.RaPerTso(tso); ok {
		byRa = v - applied
	}
	if v, ok := limits.TopoPerTso(tso); ok {
		byTopo = v - applied
	}
	return min(byRa, byTopo)
}

func (b *Bloomer) removeExceedingMaxTso(candidates []Candidate, parent Parent) []Candidate {
	limits := b.config.UsageLimits
	if !limits.HasMaxTso() {
		return candidates
	}
	withNetworkActions := make(map[string]bool)
	for _, na := range parent.ActivatedNetworkActions() {
		if na.Operator != "" && !limits.Excluded(na.Operator) {
			withNetworkActions[na.Operator] = true
		}
	}
	withRangeActions := make(map[string]bool)
	for tso := range withNetworkActions {
		withRangeActions[tso] = true
	}
	for _, ra := range parent.ActivatedRangeActions() {
		if ra.Operator != "" && !limits.Excluded(ra.Operator) {
			withRangeActions[ra.Operator] = true
		}
	}

	out := candidates[:0:0]
	for _, c := range candidates {
		if b.exceedsMaxTso(c.Combination, withNetworkActions) {
			continue
		}
		if b.exceedsMaxTso(c.Combination, withRangeActions) {
			c.RemoveRangeActions = true
		}
		out = append(out, c)
	}
	b.logFiltered(len(candidates), len(out), "max number of usable TSOs reached")
	return out
}

func (b *Bloomer) exceedsMaxTso(c crac.NetworkActionCombination, already map[string]bool) bool {
	limits := b.config.UsageLimits
	involved := len(already)
	for _, tso := range c.Operators() {
		if !already[tso] && !limits.Excluded(tso) {
			involved++
		}
	}
	return involved > limits.MaxTso
}

// removeFarFromMostLimitingElements keeps combinations with at least one action within
// MaxNumberOfBoundaries of the most limiting CNEC or of a CNEC carrying a virtual cost.
// Unknown locations count as close.
func (b *Bloomer) removeFarFromMostLimitingElements(candidates []Candidate, parent Parent) []Candidate {
	if !b.config.SkipFarFromMostLimiting || b.countries == nil {
		return candidates
	}
	locations, known := b.limitingLocations(parent)
	if !known {
		return candidates
	}
	out := candidates[:0:0]
	for _, c := range candidates {
		if slices.ContainsFunc(c.Combination.Actions(), func(na *crac.NetworkAction) bool { return b.isClose(na, locations) }) {
			out = append(out, c)
		}
	}
	b.logFiltered(len(candidates), len(out), "too far from the most limiting element")
	return out
}

func (b *Bloomer) limitingLocations(parent Parent) ([]string, bool) {
	elements := slices.Clone(parent.MostLimitingElements(1))
	for _, name := range parent.VirtualCostNames() {
		elements = append(elements, parent.CostlyElements(name, -1)...)
	}
	set := make(map[string]bool)
	for _, cnec := range elements {
		if len(cnec.Location) == 0 {
			return nil, false
		}
		for _, country := range cnec.Location {
			set[country] = true
		}
	}
	if len(set) == 0 {
		return nil, false
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	slices.Sort(out)
	return out, true
}

func (b *Bloomer) isClose(na *crac.NetworkAction, locations []string) bool {
	if len(na.Location) == 0 {
		return true
	}
	d, ok := b.countries.MinDistance(na.Location, locations)
	return ok && d <= b.config.MaxNumberOfBoundaries
}

// removeExceedingMaxElementaryActionsPerTso counts the moved PST taps of the parent as
// elementary actions: a combination that only fits without them flags range action removal.
func (b *Bloomer) removeExceedingMaxElementaryActionsPerTso(candidates []Candidate, parent Parent) []Candidate {
	limits := b.config.UsageLimits
	if len(limits.MaxElementaryActionsPerTso) == 0 {
		return candidates
	}
	movedTaps := b.movedPstTapsPerTso(parent)
	out := candidates[:0:0]
	for _, c := range candidates {
		elementary := c.Combination.ElementaryActionCount()
		keep := true
		for _, tso := range c.Combination.Operators() {
			if limit, ok := limits.ElementaryActionsPerTso(tso); ok && elementary > limit {
				keep = false
				break
			}
		}
		if !keep {
			continue
		}
		for _, tso := range c.Combination.Operators() {
			if limit, ok := limits.ElementaryActionsPerTso(tso); ok && elementary+movedTaps[tso] > limit {
				c.RemoveRangeActions = true
			}
		}
		out = append(out, c)
	}
	b.logFiltered(len(candidates), len(out), "max number of elementary actions for a TSO reached")
	return out
}

func (b *Bloomer) movedPstTapsPerTso(parent Parent) map[string]int {
	out := make(map[string]int)
	for _, ra := range parent.ActivatedRangeActions() {
		if ra.Type != crac.RangePst || len(ra.TapAngles) == 0 {
			continue
		}
		pre, ok := b.prePerimeterSetpoints[ra.ID]
		if !ok {
			pre = ra.InitialSetpoint
		}
		out[ra.Operator] += ra.TapVariation(pre, parent.Setpoint(ra))
	}
	return out
}

// #endregion filters

// #region resolve
// ResolveCombinations turns configured ID lists into predefined combinations. Lists
// naming an unknown action are returned in skipped.
func ResolveCombinations(ids [][]string, lookup func(id string) (*crac.NetworkAction, bool)) (combos []crac.NetworkActionCombination, skipped [][]string) {
	for _, group := range ids {
		var actions []*crac.NetworkAction
		ok := true
		for _, id := range group {
			na, found := lookup(id)
			if !found {
				ok = false
				break
			}
			actions = append(actions, na)
		}
		if !ok {
			skipped = append(skipped, group)
			continue
		}
		combos = append(combos, crac.NewCombination(true, actions...))
	}
	return combos, skipped
}

func idSet(nas []*crac.NetworkAction) map[string]bool {
	out := make(map[string]bool, len(nas))
	for _, na := range nas {
		out[na.ID] = true
	}
	return out
}

func operatorCounts(nas []*crac.NetworkAction) map[string]int {
	out := make(map[string]int)
	for _, na := range nas {
		out[na.Operator]++
	}
	return out
}

// #endregion resolve

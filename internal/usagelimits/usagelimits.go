package usagelimits

import (
	"fmt"
	"sort"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"gopkg.in/yaml.v3"
)

// Unlimited marks a limit that is not set.
const Unlimited = -1

// #region limits
// RaUsageLimits caps how many remedial actions one state may use. Absence of a limit,
// not zero, means no constraint.
type RaUsageLimits struct {
	MaxRa                      int            `yaml:"max_ra"`
	MaxTso                     int            `yaml:"max_tso"`
	MaxTsoExclusion            []string       `yaml:"max_tso_exclusion"`
	MaxRaPerTso                map[string]int `yaml:"max_ra_per_tso"`
	MaxTopoPerTso              map[string]int `yaml:"max_topo_per_tso"`
	MaxPstPerTso               map[string]int `yaml:"max_pst_per_tso"`
	MaxElementaryActionsPerTso map[string]int `yaml:"max_elementary_actions_per_tso"`
}

// Default returns limits with nothing set.
func Default() RaUsageLimits {
	return RaUsageLimits{
		MaxRa:                      Unlimited,
		MaxTso:                     Unlimited,
		MaxRaPerTso:                map[string]int{},
		MaxTopoPerTso:              map[string]int{},
		MaxPstPerTso:               map[string]int{},
		MaxElementaryActionsPerTso: map[string]int{},
	}
}

// UnmarshalYAML decodes on top of Default so that absent keys stay unlimited.
func (l *RaUsageLimits) UnmarshalYAML(value *yaml.Node) error {
	type plain RaUsageLimits
	p := plain(Default())
	if err := value.Decode(&p); err != nil {
		return fmt.Errorf("decode usage limits: %w", err)
	}
	*l = RaUsageLimits(p)
	return nil
}

// Limited is true iff at least one limit is set.
func (l RaUsageLimits) Limited() bool {
	return l.MaxRa != Unlimited || l.MaxTso != Unlimited ||
		len(l.MaxRaPerTso) > 0 || len(l.MaxTopoPerTso) > 0 ||
		len(l.MaxPstPerTso) > 0 || len(l.MaxElementaryActionsPerTso) > 0
}

// HasMaxRa, HasMaxTso and the per-TSO lookups report whether a limit is set.
func (l RaUsageLimits) HasMaxRa() bool  { return l.MaxRa != Unlimited }
func (l RaUsageLimits) HasMaxTso() bool { return l.MaxTso != Unlimited }

func (l RaUsageLimits) RaPerTso(tso string) (int, bool) {
	v, ok := l.MaxRaPerTso[tso]
	return v, ok
}

func (l RaUsageLimits) TopoPerTso(tso string) (int, bool) {
	v, ok := l.MaxTopoPerTso[tso]
	return v, ok
}

func (l RaUsageLimits) PstPerTso(tso string) (int, bool) {
	v, ok := l.MaxPstPerTso[tso]
	return v, ok
}

func (l RaUsageLimits) ElementaryActionsPerTso(tso string) (int, bool) {
	v, ok := l.MaxElementaryActionsPerTso[tso]
	return v, ok
}

// Excluded reports whether tso does not count towards MaxTso.
func (l RaUsageLimits) Excluded(tso string) bool {
	for _, t := range l.MaxTsoExclusion {
		if t == tso {
			return true
		}
	}
	return false
}

// #endregion limits

// #region remaining
// Remaining returns the limits left once applied network actions are in place.
// TSOs that already acted count against MaxTso and join the exclusion set, so the
// actions they still take cost no extra TSO. Limits never go below zero.
func (l RaUsageLimits) Remaining(applied []*crac.NetworkAction) RaUsageLimits {
	out := l.clone()
	if len(applied) == 0 {
		return out
	}
	if out.HasMaxRa() {
		out.MaxRa = clamp(out.MaxRa - len(applied))
	}

	raCount := make(map[string]int)
	elementary := make(map[string]int)
	usedTsos := make(map[string]bool)
	for _, na := range applied {
		raCount[na.Operator]++
		elementary[na.Operator] += len(na.ElementaryActions)
		if na.Operator != "" {
			usedTsos[na.Operator] = true
		}
	}
	if out.HasMaxTso() {
		counted := 0
		for tso := range usedTsos {
			if !out.Excluded(tso) {
				counted++
			}
		}
		out.MaxTso = clamp(out.MaxTso - counted)
	}
	for tso := range usedTsos {
		if !out.Excluded(tso) {
			out.MaxTsoExclusion = append(out.MaxTsoExclusion, tso)
		}
	}
	sort.Strings(out.MaxTsoExclusion)

	for tso, n := range raCount {
		if v, ok := out.MaxRaPerTso[tso]; ok {
			out.MaxRaPerTso[tso] = clamp(v - n)
		}
		if v, ok := out.MaxTopoPerTso[tso]; ok {
			out.MaxTopoPerTso[tso] = clamp(v - n)
		}
	}
	for tso, n := range elementary {
		if v, ok := out.MaxElementaryActionsPerTso[tso]; ok {
			out.MaxElementaryActionsPerTso[tso] = clamp(v - n)
		}
	}
	return out
}

func (l RaUsageLimits) clone() RaUsageLimits {
	cp := func(m map[string]int) map[string]int {
		out := make(map[string]int, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	return RaUsageLimits{
		MaxRa:                      l.MaxRa,
		MaxTso:                     l.MaxTso,
		MaxTsoExclusion:            append([]string(nil), l.MaxTsoExclusion...),
		MaxRaPerTso:                cp(l.MaxRaPerTso),
		MaxTopoPerTso:              cp(l.MaxTopoPerTso),
		MaxPstPerTso:               cp(l.MaxPstPerTso),
		MaxElementaryActionsPerTso: cp(l.MaxElementaryActionsPerTso),
	}
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

// #endregion remaining

// #region params
// Params maps instant IDs to their limits.
type Params map[string]RaUsageLimits

// ForState returns the limits of the state's instant, or Default when none is configured.
func (p Params) ForState(state crac.State) RaUsageLimits {
	if l, ok := p[state.Instant.ID]; ok {
		return l
	}
	return Default()
}

// Limited reports whether any limit applies to state.
func (p Params) Limited(state crac.State) bool {
	return p.ForState(state).Limited()
}

// #endregion params

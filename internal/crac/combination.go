package crac

import (
	"hash/crc32"
	"sort"
	"strings"
)

// #region combination
// NetworkActionCombination is an immutable set of network actions tried as one
// candidate. Predefined combinations come from configuration; detected ones were
// found by an earlier optimization and are tried first.
type NetworkActionCombination struct {
	actions              []*NetworkAction
	predefined           bool
	detectedDuringSearch bool
}

// NewCombination builds a combination. Duplicate actions are collapsed.
func NewCombination(predefined bool, actions ...*NetworkAction) NetworkActionCombination {
	seen := make(map[string]bool, len(actions))
	var uniq []*NetworkAction
	for _, na := range actions {
		if seen[na.ID] {
			continue
		}
		seen[na.ID] = true
		uniq = append(uniq, na)
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i].ID < uniq[j].ID })
	return NetworkActionCombination{actions: uniq, predefined: predefined}
}

// NewDetectedCombination builds a combination found during a previous search.
func NewDetectedCombination(actions ...*NetworkAction) NetworkActionCombination {
	c := NewCombination(true, actions...)
	c.detectedDuringSearch = true
	return c
}

func (c NetworkActionCombination) Actions() []*NetworkAction    { return c.actions }
func (c NetworkActionCombination) Size() int                    { return len(c.actions) }
func (c NetworkActionCombination) IsPredefined() bool           { return c.predefined }
func (c NetworkActionCombination) IsDetectedDuringSearch() bool { return c.detectedDuringSearch }

// ID concatenates the sorted action IDs.
func (c NetworkActionCombination) ID() string {
	ids := make([]string, len(c.actions))
	for i, na := range c.actions {
		ids[i] = na.ID
	}
	return strings.Join(ids, " + ")
}

// Contains reports whether na belongs to the combination.
func (c NetworkActionCombination) Contains(na *NetworkAction) bool {
	for _, a := range c.actions {
		if a.ID == na.ID {
			return true
		}
	}
	return false
}

// Operators returns the sorted distinct operators of the combination.
func (c NetworkActionCombination) Operators() []string {
	set := make(map[string]bool)
	for _, na := range c.actions {
		if na.Operator != "" {
			set[na.Operator] = true
		}
	}
	return sortedKeys(set)
}

// CountForOperator counts the actions of the combination owned by operator.
func (c NetworkActionCombination) CountForOperator(operator string) int {
	n := 0
	for _, na := range c.actions {
		if na.Operator == operator {
			n++
		}
	}
	return n
}

// ElementaryActionCount sums the elementary actions of every action.
func (c NetworkActionCombination) ElementaryActionCount() int {
	n := 0
	for _, na := range c.actions {
		n += len(na.ElementaryActions)
	}
	return n
}

// #endregion combination

// #region ordering
// CompareCombinations orders candidates deterministically: detected combinations
// first, then predefined ones, then larger ones, then by CRC32 of the ID.
func CompareCombinations(a, b NetworkActionCombination) int {
	if a.detectedDuringSearch != b.detectedDuringSearch {
		if a.detectedDuringSearch {
			return -1
		}
		return 1
	}
	if a.predefined != b.predefined {
		if a.predefined {
			return -1
		}
		return 1
	}
	if a.Size() != b.Size() {
		if a.Size() > b.Size() {
			return -1
		}
		return 1
	}
	ha, hb := crc32.ChecksumIEEE([]byte(a.ID())), crc32.ChecksumIEEE([]byte(b.ID()))
	switch {
	case ha < hb:
		return -1
	case ha > hb:
		return 1
	}
	return strings.Compare(a.ID(), b.ID())
}

// #endregion ordering

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

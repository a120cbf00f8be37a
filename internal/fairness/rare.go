// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package fairness applies the two fairness corrections to section
// selections: the condition-frequency boost for patients with rare
// conditions, and age damping for elderly patients. Neither transform ever
// removes a safety-critical section.
package fairness

import (
	"math"

	"github.com/pdiddy/medscope/internal/reference"
	"github.com/pdiddy/medscope/pkg/types"
)

// ConditionAdjuster implements the condition-frequency boost.
type ConditionAdjuster struct {
	ref *reference.Reference
}

// NewConditionAdjuster creates an adjuster over the given reference tables.
func NewConditionAdjuster(ref *reference.Reference) *ConditionAdjuster {
	return &ConditionAdjuster{ref: ref}
}

// IsRare reports whether the condition's reference incidence is below the
// rarity threshold. Conditions missing from the incidence table are not rare.
func (a *ConditionAdjuster) IsRare(condition string) bool {
	v, ok := a.ref.Incidence(condition)
	return ok && v < a.ref.RarityThreshold()
}

// RareConditions returns the rare members of conditions after
// normalization and de-duplication, in first-seen order.
func (a *ConditionAdjuster) RareConditions(conditions []string) []string {
	var out []string
	for _, c := range distinct(conditions) {
		if a.IsRare(c) {
			out = append(out, c)
		}
	}
	return out
}

// RareRatio is the share of distinct conditions that are rare, or 0 when
// there are none.
func (a *ConditionAdjuster) RareRatio(conditions []string) float64 {
	all := distinct(conditions)
	if len(all) == 0 {
		return 0
	}
	return float64(len(a.RareConditions(all))) / float64(len(all))
}

// Boost is min(1 + rareRatio, maxBoost).
func (a *ConditionAdjuster) Boost(conditions []string) float64 {
	return math.Min(1+a.RareRatio(conditions), a.ref.MaxBoost())
}

// Apply returns copies of sels adjusted for boost. A boost above 1 forces
// full coverage, sets every similarity weight to boost, and marks the
// selection as overridden. A boost of 1 leaves selections unchanged.
func (a *ConditionAdjuster) Apply(sels []types.SectionSelection, boost float64) []types.SectionSelection {
	out := make([]types.SectionSelection, len(sels))
	copy(out, sels)
	if boost <= 1 {
		return out
	}
	for i := range out {
		out[i].AdjustedSections = out[i].AdjustedSections.Union(types.FullCoverage)
		out[i].SimilarityWeight = boost
		out[i].RareOverride = true
	}
	return out
}

func distinct(conditions []string) []string {
	seen := make(map[string]bool, len(conditions))
	out := make([]string, 0, len(conditions))
	for _, c := range conditions {
		n := reference.NormalizeCondition(c)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

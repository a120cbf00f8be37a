// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fairness

import (
	"math"

	"github.com/pdiddy/medscope/internal/reference"
	"github.com/pdiddy/medscope/pkg/types"
)

// OverrideResolution is recorded on every conflict between the rare-condition
// override and age damping.
const OverrideResolution = "rare-condition override kept full coverage; age damping skipped"

// AgeDampener shrinks the non-critical part of a selection for elderly patients.
type AgeDampener struct {
	ref      *reference.Reference
	priority []types.Section
}

// NewAgeDampener creates a dampener over the given reference tables.
func NewAgeDampener(ref *reference.Reference) *AgeDampener {
	return &AgeDampener{ref: ref, priority: ref.DampingPriority()}
}

// Factor returns the damping factor for age.
func (d *AgeDampener) Factor(age int) float64 {
	return d.ref.DampingFactor(age)
}

// Dampen keeps round(n * factor) of the n non-critical sections of set,
// choosing by priority, and re-unions every safety-critical section. Rounding
// is half away from zero. A factor of 1 or more returns set with the
// safety-critical sections added.
func (d *AgeDampener) Dampen(set types.SectionSet, factor float64) types.SectionSet {
	nonCritical := set.Minus(types.SafetyCritical)
	if factor >= 1 {
		return EnsureSafetyCritical(set)
	}
	keep := int(math.Round(float64(nonCritical.Len()) * factor))

	var kept types.SectionSet
	for _, s := range d.priority {
		if kept.Len() == keep {
			break
		}
		if nonCritical.Has(s) {
			kept = kept.Add(s)
		}
	}
	return EnsureSafetyCritical(kept)
}

// AgeOutcome is the result of applying age damping to a patient's selections.
type AgeOutcome struct {
	Selections []types.SectionSelection
	Factor     float64

	// Applied is true when at least one selection was dampened.
	Applied bool

	// Conflicts lists the selections where the rare-condition override won.
	Conflicts []types.FairnessOverrideConflict
}

// Apply dampens every selection of the patient. Selections carrying the
// rare-condition override are left at full coverage and reported as conflicts
// when the age factor would otherwise have dampened them.
func (d *AgeDampener) Apply(p types.PatientRiskProfile, sels []types.SectionSelection) AgeOutcome {
	factor := d.Factor(p.Age)
	out := AgeOutcome{Selections: make([]types.SectionSelection, len(sels)), Factor: factor}
	copy(out.Selections, sels)
	if factor >= 1 {
		return out
	}
	for i, sel := range out.Selections {
		if sel.RareOverride {
			out.Conflicts = append(out.Conflicts, types.FairnessOverrideConflict{
				PatientID:     p.PatientID,
				Medication:    sel.Medication,
				Age:           p.Age,
				Boost:         sel.SimilarityWeight,
				DampingFactor: factor,
				Resolution:    OverrideResolution,
			})
			continue
		}
		out.Selections[i].AdjustedSections = d.Dampen(sel.AdjustedSections, factor)
		out.Applied = true
	}
	return out
}

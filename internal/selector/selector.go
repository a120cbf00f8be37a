// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package selector maps a risk profile to the minimal set of monograph
// sections each medication needs.
package selector

import (
	"math"

	"github.com/pdiddy/medscope/pkg/types"
)

// Select returns the base selection for one medication: the minimum
// identification sections plus every section the profile triggered.
// AdjustedSections starts equal to BaseSections and SimilarityWeight at 1.0;
// the fairness stages refine both.
func Select(p types.PatientRiskProfile, med types.MedicationRef) types.SectionSelection {
	base := types.MinimumIdentification.Union(p.Triggered)
	return types.SectionSelection{
		Medication:       med,
		BaseSections:     base,
		AdjustedSections: base,
		SimilarityWeight: 1.0,
	}
}

// SelectAll returns one base selection per medication, in input order.
// Empty medication names are skipped.
func SelectAll(p types.PatientRiskProfile, meds []types.MedicationRef) []types.SectionSelection {
	out := make([]types.SectionSelection, 0, len(meds))
	for _, m := range meds {
		if m == "" {
			continue
		}
		out = append(out, Select(p, m))
	}
	return out
}

// Reduction is the percentage of sections skipped relative to exhaustive
// analysis of every section, rounded to one decimal.
func Reduction(requested, possible int) float64 {
	if possible <= 0 {
		return 0
	}
	pct := (1 - float64(requested)/float64(possible)) * 100
	return math.Round(pct*10) / 10
}

// BaseEfficiency reports the efficiency of one selection's base sections,
// before fairness adjustment.
func BaseEfficiency(sel types.SectionSelection) types.Efficiency {
	n := sel.BaseSections.Len()
	return types.Efficiency{
		SectionsRequested: n,
		SectionsPossible:  types.SectionCount,
		PercentReduction:  Reduction(n, types.SectionCount),
	}
}

// Summarize reports request-level efficiency over the sections actually
// requested, that is the adjusted sections, against full coverage of every
// medication.
func Summarize(sels []types.SectionSelection) types.Efficiency {
	var requested int
	for _, s := range sels {
		requested += s.AdjustedSections.Len()
	}
	possible := types.SectionCount * len(sels)
	return types.Efficiency{
		SectionsRequested: requested,
		SectionsPossible:  possible,
		PercentReduction:  Reduction(requested, possible),
	}
}

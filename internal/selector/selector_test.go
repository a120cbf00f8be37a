// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/medscope/internal/profile"
	"github.com/pdiddy/medscope/internal/reference"
	"github.com/pdiddy/medscope/pkg/types"
)

func build(t *testing.T, rec types.PatientRecord) types.PatientRiskProfile {
	t.Helper()
	p, err := profile.NewBuilder(reference.Default(), nil).Build(rec)
	require.NoError(t, err)
	return p
}

func TestSelectAgeScenarios(t *testing.T) {
	tests := []struct {
		name string
		age  float64
		want types.SectionSet
	}{
		{"age 64", 64, types.NewSectionSet(types.SectionNames, types.SectionPharmacology)},
		{"age 65", 65, types.NewSectionSet(types.SectionNames, types.SectionPharmacology, types.SectionMetabolism, types.SectionDosage)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := build(t, types.PatientRecord{Age: types.Measure(tt.age), Medications: []types.MedicationRef{"warfarin"}})
			sel := Select(p, "warfarin")
			assert.Equal(t, tt.want, sel.BaseSections, "got %s", sel.BaseSections)
			assert.Equal(t, sel.BaseSections, sel.AdjustedSections)
			assert.Equal(t, 1.0, sel.SimilarityWeight)
		})
	}
}

func TestSelectAllSkipsEmptyNames(t *testing.T) {
	p := build(t, types.PatientRecord{Age: types.Measure(40)})
	sels := SelectAll(p, []types.MedicationRef{"metformin", "", "lisinopril"})
	require.Len(t, sels, 2)
	assert.Equal(t, types.MedicationRef("metformin"), sels[0].Medication)
	assert.Equal(t, types.MedicationRef("lisinopril"), sels[1].Medication)
}

func TestBaseEfficiency(t *testing.T) {
	sel := types.SectionSelection{BaseSections: types.MinimumIdentification}
	eff := BaseEfficiency(sel)
	assert.Equal(t, 2, eff.SectionsRequested)
	assert.Equal(t, 7, eff.SectionsPossible)
	assert.Equal(t, 71.4, eff.PercentReduction)
}

func TestSummarize(t *testing.T) {
	sels := []types.SectionSelection{
		{AdjustedSections: types.FullCoverage},
		{AdjustedSections: types.SafetyCritical.Union(types.MinimumIdentification)},
	}
	eff := Summarize(sels)
	assert.Equal(t, 12, eff.SectionsRequested)
	assert.Equal(t, 14, eff.SectionsPossible)
	assert.Equal(t, 14.3, eff.PercentReduction)

	empty := Summarize(nil)
	assert.Equal(t, types.Efficiency{}, empty)
}

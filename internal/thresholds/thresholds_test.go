// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package thresholds

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/medscope/pkg/types"
)

func set(sections ...types.Section) types.SectionSet {
	return types.NewSectionSet(sections...)
}

func TestEvaluateBoundaries(t *testing.T) {
	table := Default()

	tests := []struct {
		name  string
		param Parameter
		value float64
		want  types.SectionSet
	}{
		{"age 64 below", ParamAge, 64, 0},
		{"age 65 triggers", ParamAge, 65, set(types.SectionMetabolism, types.SectionDosage)},
		{"age 90 triggers", ParamAge, 90, set(types.SectionMetabolism, types.SectionDosage)},
		{"eGFR 60 does not trigger", ParamEGFR, 60.0, 0},
		{"eGFR 59.9 triggers", ParamEGFR, 59.9, set(types.SectionMetabolism, types.SectionDosage, types.SectionToxicity)},
		{"creatinine 1.5 does not trigger", ParamCreatinine, 1.5, 0},
		{"creatinine 1.51 triggers", ParamCreatinine, 1.51, set(types.SectionDosage, types.SectionToxicity)},
		{"HbA1c 7.0 does not trigger", ParamHbA1c, 7.0, 0},
		{"HbA1c 7.1 triggers", ParamHbA1c, 7.1, set(types.SectionToxicity)},
		{"weight 50 does not trigger", ParamWeight, 50, 0},
		{"weight 49.5 triggers", ParamWeight, 49.5, set(types.SectionDosage)},
		{"weight 120 does not trigger", ParamWeight, 120, 0},
		{"weight 121 triggers high weight", ParamWeight, 121, set(types.SectionDosage, types.SectionMetabolism)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := table.Evaluate(tt.param, tt.value)
			assert.Equal(t, tt.want, got, "got %s, want %s", got, tt.want)
		})
	}
}

func TestHitsUnionWithoutDoubleCounting(t *testing.T) {
	hits := Default().Hits(map[Parameter]float64{
		ParamEGFR:       45,
		ParamCreatinine: 2.1,
	})
	require.Len(t, hits, 2)

	var union types.SectionSet
	for _, h := range hits {
		assert.Equal(t, types.FlagRenalImpaired, h.Flag)
		union = union.Union(h.Sections)
	}
	assert.Equal(t, set(types.SectionMetabolism, types.SectionDosage, types.SectionToxicity), union)
	assert.Equal(t, 3, union.Len())
}

func TestHitsSkipsAbsentParameters(t *testing.T) {
	hits := Default().Hits(map[Parameter]float64{ParamAge: 40})
	assert.Empty(t, hits)
}

func TestRuleLabel(t *testing.T) {
	assert.Equal(t, "eGFR < 60", Default()[1].Label())
	assert.Equal(t, "creatinine > 1.5", Default()[2].Label())
}

func TestValidate(t *testing.T) {
	require.NoError(t, Default().Validate())

	tests := []struct {
		name        string
		rule        Rule
		wantSection bool
	}{
		{"unknown operator", Rule{ParamAge, Operator("=="), 65, types.FlagElderly, []types.Section{types.SectionDosage}}, false},
		{"unknown parameter", Rule{Parameter("bmi"), OpGreater, 30, types.FlagHighWeight, []types.Section{types.SectionDosage}}, false},
		{"missing flag", Rule{ParamAge, OpGreater, 65, "", []types.Section{types.SectionDosage}}, false},
		{"no sections", Rule{ParamAge, OpGreater, 65, types.FlagElderly, nil}, false},
		{"section outside enum", Rule{ParamAge, OpGreater, 65, types.FlagElderly, []types.Section{types.Section(42)}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Table{tt.rule}.Validate()
			require.Error(t, err)
			var unknown *types.UnknownSectionError
			assert.Equal(t, tt.wantSection, errors.As(err, &unknown))
		})
	}
}

func TestParameters(t *testing.T) {
	assert.Equal(t,
		[]Parameter{ParamAge, ParamEGFR, ParamCreatinine, ParamHbA1c, ParamWeight},
		Default().Parameters())
}

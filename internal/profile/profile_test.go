// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package profile

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/medscope/internal/reference"
	"github.com/pdiddy/medscope/pkg/types"
)

func newBuilder() *Builder {
	return NewBuilder(reference.Default(), nil)
}

func set(sections ...types.Section) types.SectionSet {
	return types.NewSectionSet(sections...)
}

func decode(t *testing.T, raw string) types.PatientRecord {
	t.Helper()
	var rec types.PatientRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	return rec
}

func TestAgeBoundary(t *testing.T) {
	b := newBuilder()
	for age := 0; age < 65; age += 16 {
		p, err := b.Build(types.PatientRecord{Age: types.Measure(float64(age))})
		require.NoError(t, err)
		assert.False(t, p.Triggered.Has(types.SectionMetabolism), "age %d", age)
		assert.False(t, p.Flags.Has(types.FlagElderly), "age %d", age)
	}
	for _, age := range []int{65, 70, 85, 90, 104} {
		p, err := b.Build(types.PatientRecord{Age: types.Measure(float64(age))})
		require.NoError(t, err)
		assert.True(t, p.Triggered.Contains(set(types.SectionMetabolism, types.SectionDosage)), "age %d", age)
		assert.True(t, p.Flags.Has(types.FlagElderly), "age %d", age)
	}

	p64, err := b.Build(types.PatientRecord{Age: types.Measure(64)})
	require.NoError(t, err)
	assert.Equal(t, types.SectionSet(0), p64.Triggered)
}

func TestEGFRBoundary(t *testing.T) {
	b := newBuilder()
	tests := []struct {
		egfr         float64
		wantToxic    bool
		wantImpaired bool
	}{
		{90, false, false},
		{60.0, false, false},
		{59.9, true, true},
		{30, true, true},
	}
	for _, tt := range tests {
		rec := types.PatientRecord{
			Age:  types.Measure(50),
			Labs: map[string]types.LabValue{"eGFR": {Value: types.Measure(tt.egfr)}},
		}
		p, err := b.Build(rec)
		require.NoError(t, err)
		assert.Equal(t, tt.wantToxic, p.Triggered.Has(types.SectionToxicity), "eGFR %v", tt.egfr)
		assert.Equal(t, tt.wantImpaired, p.Flags.Has(types.FlagRenalImpaired), "eGFR %v", tt.egfr)
	}
}

func TestMissingAge(t *testing.T) {
	b := newBuilder()
	tests := []struct {
		name string
		raw  string
	}{
		{"absent", `{"patient_id":"p1"}`},
		{"null", `{"patient_id":"p1","age":null}`},
		{"non numeric", `{"patient_id":"p1","age":"unknown"}`},
		{"negative", `{"patient_id":"p1","age":-4}`},
		{"fractional", `{"patient_id":"p1","age":64.5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Build(decode(t, tt.raw))
			var incomplete *types.IncompleteProfileError
			require.True(t, errors.As(err, &incomplete), "got %v", err)
			assert.Equal(t, "age", incomplete.Field)
			assert.Equal(t, "p1", incomplete.PatientID)
		})
	}
}

func TestMalformedOptionalFieldsDegradePerRule(t *testing.T) {
	rec := decode(t, `{
		"patient_id": "p2",
		"age": 50,
		"weight_kg": "heavy",
		"labs": {
			"eGFR": {"value": "pending", "unit": "mL/min"},
			"creatinine": "1.8 mg/dL",
			"HbA1c": {"value": "7.5%"}
		}
	}`)

	p, err := newBuilder().Build(rec)
	require.NoError(t, err)

	assert.True(t, p.Flags.Has(types.FlagRenalImpaired), "creatinine still evaluated")
	assert.True(t, p.Flags.Has(types.FlagPoorGlycemicControl))
	assert.False(t, p.Flags.Has(types.FlagLowWeight))
	assert.Equal(t, set(types.SectionDosage, types.SectionToxicity), p.Triggered)
}

func TestLabAliases(t *testing.T) {
	rec := decode(t, `{"age": 40, "labs": {"serum_creatinine": 2.0, "a1c": 8.1}}`)
	p, err := newBuilder().Build(rec)
	require.NoError(t, err)
	assert.True(t, p.Flags.Has(types.FlagRenalImpaired))
	assert.True(t, p.Flags.Has(types.FlagPoorGlycemicControl))
}

func TestWeightRules(t *testing.T) {
	b := newBuilder()

	low, err := b.Build(types.PatientRecord{Age: types.Measure(30), WeightKg: types.Measure(45)})
	require.NoError(t, err)
	assert.True(t, low.Flags.Has(types.FlagLowWeight))
	assert.Equal(t, set(types.SectionDosage), low.Triggered)

	high, err := b.Build(types.PatientRecord{Age: types.Measure(30), WeightKg: types.Measure(130)})
	require.NoError(t, err)
	assert.True(t, high.Flags.Has(types.FlagHighWeight))
	assert.Equal(t, set(types.SectionDosage, types.SectionMetabolism), high.Triggered)

	fromLabs, err := b.Build(types.PatientRecord{
		Age:  types.Measure(30),
		Labs: map[string]types.LabValue{"weight": {Value: types.Measure(48)}},
	})
	require.NoError(t, err)
	assert.True(t, fromLabs.Flags.Has(types.FlagLowWeight))
}

func TestPolypharmacy(t *testing.T) {
	b := newBuilder()
	meds := []types.MedicationRef{"metformin", "lisinopril", "atorvastatin"}

	p, err := b.Build(types.PatientRecord{Age: types.Measure(50), Medications: meds})
	require.NoError(t, err)
	assert.True(t, p.Flags.Has(types.FlagPolypharmacy))
	assert.True(t, p.Triggered.Has(types.SectionInteractions))
	assert.Equal(t, 3, p.MedicationCount)

	p, err = b.Build(types.PatientRecord{
		Age:         types.Measure(50),
		Medications: meds,
		Conditions:  types.StringList{"Chronic Kidney Disease"},
	})
	require.NoError(t, err)
	assert.False(t, p.Flags.Has(types.FlagPolypharmacy), "organ dysfunction suppresses polypharmacy")

	p, err = b.Build(types.PatientRecord{Age: types.Measure(50), Medications: meds[:2]})
	require.NoError(t, err)
	assert.False(t, p.Flags.Has(types.FlagPolypharmacy))

	p, err = b.Build(types.PatientRecord{Age: types.Measure(50), MedicationCount: types.Measure(5)})
	require.NoError(t, err)
	assert.Equal(t, 5, p.MedicationCount, "explicit count wins over list length")
	assert.True(t, p.Flags.Has(types.FlagPolypharmacy))
}

func TestCategoricalFindings(t *testing.T) {
	rec := decode(t, `{
		"age": 40,
		"allergies": "penicillin",
		"labs": {"LFT": "abnormal - ALT elevated"}
	}`)
	p, err := newBuilder().Build(rec)
	require.NoError(t, err)

	assert.True(t, p.Flags.Has(types.FlagDocumentedAllergy))
	assert.True(t, p.Flags.Has(types.FlagHepaticAbnormality))
	assert.Equal(t, set(types.SectionIndications, types.SectionToxicity, types.SectionMetabolism), p.Triggered)
}

func TestConditionsNormalizedAndDeduplicated(t *testing.T) {
	p, err := newBuilder().Build(types.PatientRecord{
		Age:        types.Measure(40),
		Conditions: types.StringList{"Hypertension", " hypertension ", "Type 2  Diabetes", ""},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hypertension", "type 2 diabetes"}, p.Conditions)
}

func TestHitsRecordObservedValues(t *testing.T) {
	p, err := newBuilder().Build(types.PatientRecord{
		Age:  types.Measure(72),
		Labs: map[string]types.LabValue{"egfr": {Value: types.Measure(45)}},
	})
	require.NoError(t, err)
	require.Len(t, p.Hits, 2)
	assert.Equal(t, "age >= 65", p.Hits[0].Rule)
	assert.Equal(t, 72.0, p.Hits[0].Observed)
	assert.Equal(t, "eGFR < 60", p.Hits[1].Rule)
	assert.Equal(t, 45.0, p.Hits[1].Observed)
}

func TestRecordFieldAliases(t *testing.T) {
	b := newBuilder()
	tests := []struct {
		name string
		raw  string
		want types.RiskFlag
	}{
		{"labValues", `{"age":50,"labValues":{"eGFR":40}}`, types.FlagRenalImpaired},
		{"lab_results", `{"age":50,"lab_results":{"eGFR":40}}`, types.FlagRenalImpaired},
		{"allergic_to", `{"age":50,"allergic_to":"penicillin"}`, types.FlagDocumentedAllergy},
		{"medicationCount", `{"age":50,"medicationCount":4}`, types.FlagPolypharmacy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := b.Build(decode(t, tt.raw))
			require.NoError(t, err)
			assert.True(t, p.Flags.Has(tt.want), "flags = %v", p.Flags.Sorted())
		})
	}

	t.Run("clinical_conditions", func(t *testing.T) {
		p, err := b.Build(decode(t, `{"age":50,"clinical_conditions":["Myasthenia Gravis"]}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"myasthenia gravis"}, p.Conditions)
	})

	t.Run("patientId", func(t *testing.T) {
		rec := decode(t, `{"patientId":"camel","age":50}`)
		assert.Equal(t, "camel", rec.PatientID)
	})

	t.Run("canonical name wins", func(t *testing.T) {
		rec := decode(t, `{"age":50,"labs":{"eGFR":90},"lab_results":{"eGFR":40},"medication_count":1,"medicationCount":9}`)
		p, err := b.Build(rec)
		require.NoError(t, err)
		assert.False(t, p.Flags.Has(types.FlagRenalImpaired))
		assert.Equal(t, 1, p.MedicationCount)
	})
}

func TestAgeFromDateOfBirth(t *testing.T) {
	b := newBuilder()
	b.now = func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }

	tests := []struct {
		dob  string
		want int
	}{
		{"1960-03-15", 66},
		{"1960-03-16", 65},
		{"1961-03-16", 64},
		{"2026-01-01", 0},
	}
	for _, tt := range tests {
		p, err := b.Build(decode(t, `{"patient_id":"d","dob":"`+tt.dob+`"}`))
		require.NoError(t, err, tt.dob)
		assert.Equal(t, tt.want, p.Age, tt.dob)
	}

	p, err := b.Build(decode(t, `{"dob":"1960-03-16"}`))
	require.NoError(t, err)
	assert.True(t, p.Flags.Has(types.FlagElderly))

	p, err = b.Build(decode(t, `{"age":30,"dob":"1940-01-01"}`))
	require.NoError(t, err)
	assert.Equal(t, 30, p.Age, "explicit age wins")

	for _, bad := range []string{`{"dob":"03/15/1960"}`, `{"dob":"2030-01-01"}`, `{"age":"unknown","dob":"1960-01-01"}`} {
		_, err := b.Build(decode(t, bad))
		var incomplete *types.IncompleteProfileError
		assert.True(t, errors.As(err, &incomplete), bad)
	}
}

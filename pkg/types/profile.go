// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"sort"
)

// RiskFlag is an indicator derived from a crossed clinical threshold or a
// categorical finding in the patient record.
type RiskFlag string

const (
	FlagElderly             RiskFlag = "ELDERLY"
	FlagRenalImpaired       RiskFlag = "RENAL_IMPAIRED"
	FlagPoorGlycemicControl RiskFlag = "POOR_GLYCEMIC_CONTROL"
	FlagLowWeight           RiskFlag = "LOW_WEIGHT"
	FlagHighWeight          RiskFlag = "HIGH_WEIGHT"
	FlagPolypharmacy        RiskFlag = "POLYPHARMACY"
	FlagDocumentedAllergy   RiskFlag = "DOCUMENTED_ALLERGY"
	FlagHepaticAbnormality  RiskFlag = "HEPATIC_ABNORMALITY"
)

// FlagSet is a set of risk flags.
type FlagSet map[RiskFlag]struct{}

// Has reports whether f is set.
func (s FlagSet) Has(f RiskFlag) bool {
	_, ok := s[f]
	return ok
}

// Sorted returns the flags in lexical order.
func (s FlagSet) Sorted() []RiskFlag {
	out := make([]RiskFlag, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RuleHit records one rule that fired while building a profile.
type RuleHit struct {
	// Rule is a stable human-readable rule label, e.g. "eGFR < 60".
	Rule     string     `json:"rule" yaml:"rule"`
	Flag     RiskFlag   `json:"flag" yaml:"flag"`
	Observed float64    `json:"observed" yaml:"observed"`
	Sections SectionSet `json:"sections" yaml:"sections"`
}

// PatientRiskProfile is derived once per analysis run and never mutated.
// Flags and Triggered are a pure function of the other fields.
type PatientRiskProfile struct {
	PatientID       string
	Age             int
	Gender          string
	LabValues       map[string]LabValue
	Conditions      []string
	MedicationCount int
	Flags           FlagSet
	Hits            []RuleHit

	// Triggered is the union of the sections of every hit.
	Triggered SectionSet
}

// IncompleteProfileError reports a missing mandatory field. Age is the only
// mandatory field, since every downstream threshold decision depends on it.
type IncompleteProfileError struct {
	PatientID string
	Field     string
}

func (e *IncompleteProfileError) Error() string {
	if e.PatientID == "" {
		return fmt.Sprintf("incomplete patient profile: %s is required", e.Field)
	}
	return fmt.Sprintf("incomplete patient profile %s: %s is required", e.PatientID, e.Field)
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"time"
)

// SectionSelection is the section scope for one medication.
type SectionSelection struct {
	Medication MedicationRef `json:"medication" yaml:"medication"`

	// BaseSections come from the risk profile alone, before fairness adjustment.
	BaseSections SectionSet `json:"base_sections" yaml:"base_sections"`

	// AdjustedSections always contain every SafetyCritical section.
	AdjustedSections SectionSet `json:"adjusted_sections" yaml:"adjusted_sections"`

	// SimilarityWeight multiplies downstream relevance scores. Never below 1.0.
	SimilarityWeight float64 `json:"similarity_weight" yaml:"similarity_weight"`

	// RareOverride is set when the rare-condition full-coverage override fired.
	RareOverride bool `json:"rare_override,omitempty" yaml:"rare_override,omitempty"`
}

// Severity classifies a bias score.
type Severity string

const (
	SeverityNone     Severity = "NONE"
	SeverityModerate Severity = "MODERATE"
	SeverityHigh     Severity = "HIGH"
)

// FairnessStatus is the pass/fail verdict of the bias monitor. FAIL is a
// normal output the caller must act on, not an error.
type FairnessStatus string

const (
	FairnessPass FairnessStatus = "PASS"
	FairnessFail FairnessStatus = "FAIL"
)

// BiasLevel grades a bias score for the recommendation attached to an
// assessment. It is finer than Severity on the passing side.
type BiasLevel string

const (
	BiasMinimal    BiasLevel = "minimal"
	BiasAcceptable BiasLevel = "acceptable"
	BiasModerate   BiasLevel = "moderate"
	BiasHigh       BiasLevel = "high"
)

// BiasAssessment summarizes the fairness adjustments of one analysis run.
type BiasAssessment struct {
	RareConditionBoost float64        `json:"rare_condition_boost" yaml:"rare_condition_boost"`
	AgeDampingFactor   float64        `json:"age_damping_factor" yaml:"age_damping_factor"`
	DampingApplied     bool           `json:"damping_applied" yaml:"damping_applied"`
	BiasScore          float64        `json:"bias_score" yaml:"bias_score"`
	Severity           Severity       `json:"severity" yaml:"severity"`
	FairnessStatus     FairnessStatus `json:"fairness_status" yaml:"fairness_status"`
	Factors            []string       `json:"factors,omitempty" yaml:"factors,omitempty"`
	Level              BiasLevel      `json:"bias_level" yaml:"bias_level"`
	Recommendation     string         `json:"recommendation" yaml:"recommendation"`
}

// MedicationScope is the per-medication entry of a ScopeResult.
type MedicationScope struct {
	Medication       MedicationRef `json:"medication" yaml:"medication"`
	Sections         SectionSet    `json:"sections" yaml:"sections"`
	SimilarityWeight float64       `json:"similarity_weight" yaml:"similarity_weight"`

	// BaseEfficiency covers the risk-triggered sections alone, before the
	// fairness stages widened or narrowed them.
	BaseEfficiency Efficiency `json:"base_efficiency" yaml:"base_efficiency"`
}

// Efficiency compares the sections requested with exhaustive analysis.
type Efficiency struct {
	SectionsRequested int     `json:"sections_requested" yaml:"sections_requested"`
	SectionsPossible  int     `json:"sections_possible" yaml:"sections_possible"`
	PercentReduction  float64 `json:"percent_reduction" yaml:"percent_reduction"`
}

// FairnessOverrideConflict records that the rare-condition override and age
// damping both applied to a medication. The override wins and damping is
// skipped. It implements error so it can be logged as one, but it is never
// returned to callers.
type FairnessOverrideConflict struct {
	PatientID     string        `json:"patient_id" yaml:"patient_id"`
	Medication    MedicationRef `json:"medication" yaml:"medication"`
	Age           int           `json:"age" yaml:"age"`
	Boost         float64       `json:"boost" yaml:"boost"`
	DampingFactor float64       `json:"damping_factor" yaml:"damping_factor"`
	Resolution    string        `json:"resolution" yaml:"resolution"`
}

func (c FairnessOverrideConflict) Error() string {
	return fmt.Sprintf("fairness override conflict for %s/%s: boost %.2f vs damping %.2f, %s",
		c.PatientID, c.Medication, c.Boost, c.DampingFactor, c.Resolution)
}

// ScopeResult is the primary output of one analysis request.
type ScopeResult struct {
	PatientID      string                     `json:"patient_id" yaml:"patient_id"`
	PerMedication  []MedicationScope          `json:"per_medication" yaml:"per_medication"`
	Efficiency     Efficiency                 `json:"efficiency" yaml:"efficiency"`
	BiasAssessment BiasAssessment             `json:"bias_assessment" yaml:"bias_assessment"`
	RiskFlags      []RiskFlag                 `json:"risk_flags,omitempty" yaml:"risk_flags,omitempty"`
	Conflicts      []FairnessOverrideConflict `json:"override_conflicts,omitempty" yaml:"override_conflicts,omitempty"`

	// Fingerprint is the canonical-JSON digest of the input record.
	Fingerprint string `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`

	// Selections keeps the full per-medication detail, including base sections.
	Selections []SectionSelection `json:"-" yaml:"-"`
}

// Demographics is the demographic snapshot attached to a bias alert.
type Demographics struct {
	Age               int        `json:"age" yaml:"age"`
	Gender            string     `json:"gender,omitempty" yaml:"gender,omitempty"`
	Conditions        []string   `json:"conditions" yaml:"conditions"`
	Flags             []RiskFlag `json:"flags,omitempty" yaml:"flags,omitempty"`
	IsElderly         bool       `json:"is_elderly" yaml:"is_elderly"`
	HasRareConditions bool       `json:"has_rare_conditions" yaml:"has_rare_conditions"`
}

// BiasAlert is emitted to the alert sink whenever fairness status is FAIL.
type BiasAlert struct {
	PatientID    string       `json:"patient_id" yaml:"patient_id"`
	Demographics Demographics `json:"demographics" yaml:"demographics"`
	BiasScore    float64      `json:"bias_score" yaml:"bias_score"`
	Severity     Severity     `json:"severity" yaml:"severity"`
	Factors      []string     `json:"factors,omitempty" yaml:"factors,omitempty"`
	RaisedAt     time.Time    `json:"raised_at" yaml:"raised_at"`
}

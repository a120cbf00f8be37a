// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Measurement is an optional numeric field of a patient record. Decoding never
// fails: a value that is missing, null, or not a finite number leaves Valid
// false, so the rules that depend on it are skipped instead of aborting the
// whole record.
type Measurement struct {
	Value float64
	Valid bool

	// Raw keeps the undecodable text, if any, for audit and categorical checks.
	Raw string
}

// Measure returns a valid Measurement holding v.
func Measure(v float64) Measurement {
	return Measurement{Value: v, Valid: true}
}

// IsZero reports whether the measurement carries neither a value nor raw text.
func (m Measurement) IsZero() bool { return !m.Valid && m.Raw == "" }

// MarshalJSON renders the value, the raw text, or null.
func (m Measurement) MarshalJSON() ([]byte, error) {
	switch {
	case m.Valid:
		return json.Marshal(m.Value)
	case m.Raw != "":
		return json.Marshal(m.Raw)
	default:
		return []byte("null"), nil
	}
}

// MarshalYAML mirrors MarshalJSON.
func (m Measurement) MarshalYAML() (any, error) {
	switch {
	case m.Valid:
		return m.Value, nil
	case m.Raw != "":
		return m.Raw, nil
	default:
		return nil, nil
	}
}

// UnmarshalJSON accepts a JSON number or a numeric string such as "1.8 mg/dL"
// or "7.5%".
func (m *Measurement) UnmarshalJSON(data []byte) error {
	*m = Measurement{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			m.Raw = string(data)
			return nil
		}
		if v, ok := ParseLabNumber(s); ok {
			m.Value, m.Valid = v, true
			return nil
		}
		m.Raw = s
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		m.Raw = string(data)
		return nil
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		m.Raw = string(data)
		return nil
	}
	m.Value, m.Valid = v, true
	return nil
}

// ParseLabNumber extracts the leading number from lab text. It strips a
// trailing percent sign and ignores anything after the first space, so
// "1.8 mg/dL" yields 1.8 and "7.5%" yields 7.5.
func ParseLabNumber(s string) (float64, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(fields[0], "%"), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// LabValue is one lab result of a normalized patient record.
type LabValue struct {
	Value Measurement `json:"value" yaml:"value"`
	Unit  string      `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// UnmarshalJSON accepts either {"value": ..., "unit": ...} or a bare number or string.
func (l *LabValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		type plain LabValue
		var p plain
		if err := json.Unmarshal(trimmed, &p); err != nil {
			*l = LabValue{Value: Measurement{Raw: string(trimmed)}}
			return nil
		}
		*l = LabValue(p)
		return nil
	}
	*l = LabValue{}
	return l.Value.UnmarshalJSON(trimmed)
}

// MedicationRef identifies one medication under review by name.
type MedicationRef string

// UnmarshalJSON accepts a plain string or an object carrying drugName,
// drug_name, or name.
func (m *MedicationRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = MedicationRef(strings.TrimSpace(s))
		return nil
	}
	var obj struct {
		DrugName      string `json:"drugName"`
		DrugNameSnake string `json:"drug_name"`
		Name          string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		*m = ""
		return nil
	}
	for _, candidate := range []string{obj.DrugName, obj.DrugNameSnake, obj.Name} {
		if c := strings.TrimSpace(candidate); c != "" {
			*m = MedicationRef(c)
			return nil
		}
	}
	*m = ""
	return nil
}

// StringList decodes from either a JSON array of strings or a single string.
type StringList []string

// UnmarshalJSON accepts ["a","b"], "a", or null. Non-string array members are dropped.
func (l *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if strings.TrimSpace(single) == "" {
			*l = nil
			return nil
		}
		*l = StringList{single}
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		*l = nil
		return nil
	}
	out := make(StringList, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	*l = out
	return nil
}

// PatientRecord is the normalized patient record supplied by the upstream
// record provider. Only Age is mandatory; every other field is optional.
type PatientRecord struct {
	PatientID       string              `json:"patient_id" yaml:"patient_id"`
	Age             Measurement         `json:"age,omitzero" yaml:"age"`
	DateOfBirth     string              `json:"dob,omitempty" yaml:"dob,omitempty"`
	Gender          string              `json:"gender,omitempty" yaml:"gender,omitempty"`
	WeightKg        Measurement         `json:"weight_kg,omitzero" yaml:"weight_kg"`
	Labs            map[string]LabValue `json:"labs,omitempty" yaml:"labs,omitempty"`
	Conditions      StringList          `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Allergies       StringList          `json:"allergies,omitempty" yaml:"allergies,omitempty"`
	Medications     []MedicationRef     `json:"medications,omitempty" yaml:"medications,omitempty"`
	MedicationCount Measurement         `json:"medication_count,omitzero" yaml:"medication_count"`
}

// UnmarshalJSON decodes the record, also accepting the field names used by
// other record providers: patientId, labValues and lab_results for labs,
// clinical_conditions for conditions, allergic_to for allergies, and
// medicationCount. When both spellings are present the canonical one wins.
func (r *PatientRecord) UnmarshalJSON(data []byte) error {
	type plain PatientRecord
	var aux struct {
		plain
		PatientIDCamel       string              `json:"patientId"`
		LabValues            map[string]LabValue `json:"labValues"`
		LabResults           map[string]LabValue `json:"lab_results"`
		ClinicalConditions   StringList          `json:"clinical_conditions"`
		AllergicTo           StringList          `json:"allergic_to"`
		MedicationCountCamel Measurement         `json:"medicationCount"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	rec := PatientRecord(aux.plain)
	if rec.PatientID == "" {
		rec.PatientID = aux.PatientIDCamel
	}
	if len(rec.Labs) == 0 {
		rec.Labs = aux.LabValues
	}
	if len(rec.Labs) == 0 {
		rec.Labs = aux.LabResults
	}
	if len(rec.Conditions) == 0 {
		rec.Conditions = aux.ClinicalConditions
	}
	if len(rec.Allergies) == 0 {
		rec.Allergies = aux.AllergicTo
	}
	if rec.MedicationCount.IsZero() {
		rec.MedicationCount = aux.MedicationCountCamel
	}
	*r = rec
	return nil
}

// MedicationNames returns the non-empty medication names in record order.
func (r PatientRecord) MedicationNames() []MedicationRef {
	out := make([]MedicationRef, 0, len(r.Medications))
	for _, m := range r.Medications {
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package thresholds holds the clinical threshold rule table. Rules are data,
// not branching code: each row names a parameter, an operator, a threshold,
// the risk flag it raises, and the monograph sections it adds.
package thresholds

import (
	"fmt"
	"strconv"

	"github.com/pdiddy/medscope/pkg/types"
)

// Parameter is a numeric patient attribute a rule can test.
type Parameter string

const (
	ParamAge        Parameter = "age"
	ParamEGFR       Parameter = "eGFR"
	ParamCreatinine Parameter = "creatinine"
	ParamHbA1c      Parameter = "HbA1c"
	ParamWeight     Parameter = "weight"
)

// Known reports whether the profile builder can supply a value for p.
func (p Parameter) Known() bool {
	switch p {
	case ParamAge, ParamEGFR, ParamCreatinine, ParamHbA1c, ParamWeight:
		return true
	}
	return false
}

// Operator compares an observed value against a rule threshold.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
)

// Holds reports whether value op threshold is true.
func (op Operator) Holds(value, threshold float64) (bool, error) {
	switch op {
	case OpLess:
		return value < threshold, nil
	case OpLessEqual:
		return value <= threshold, nil
	case OpGreater:
		return value > threshold, nil
	case OpGreaterEqual:
		return value >= threshold, nil
	default:
		return false, fmt.Errorf("unknown operator %q", string(op))
	}
}

// Rule is one row of the threshold table.
type Rule struct {
	Parameter Parameter       `json:"parameter" yaml:"parameter"`
	Operator  Operator        `json:"operator" yaml:"operator"`
	Threshold float64         `json:"threshold" yaml:"threshold"`
	Flag      types.RiskFlag  `json:"flag" yaml:"flag"`
	Sections  []types.Section `json:"sections" yaml:"sections"`
}

// Label renders the rule condition, e.g. "eGFR < 60".
func (r Rule) Label() string {
	return fmt.Sprintf("%s %s %s", r.Parameter, r.Operator, strconv.FormatFloat(r.Threshold, 'f', -1, 64))
}

// SectionSet returns the rule's sections as a set.
func (r Rule) SectionSet() types.SectionSet {
	return types.NewSectionSet(r.Sections...)
}

// Table is an ordered list of rules. A Table is never mutated after
// construction; Evaluate and Hits are safe for concurrent use.
type Table []Rule

// Default returns the standard clinical threshold table.
func Default() Table {
	return Table{
		{ParamAge, OpGreaterEqual, 65, types.FlagElderly,
			[]types.Section{types.SectionMetabolism, types.SectionDosage}},
		{ParamEGFR, OpLess, 60, types.FlagRenalImpaired,
			[]types.Section{types.SectionMetabolism, types.SectionDosage, types.SectionToxicity}},
		{ParamCreatinine, OpGreater, 1.5, types.FlagRenalImpaired,
			[]types.Section{types.SectionDosage, types.SectionToxicity}},
		{ParamHbA1c, OpGreater, 7.0, types.FlagPoorGlycemicControl,
			[]types.Section{types.SectionToxicity}},
		{ParamWeight, OpLess, 50, types.FlagLowWeight,
			[]types.Section{types.SectionDosage}},
		{ParamWeight, OpGreater, 120, types.FlagHighWeight,
			[]types.Section{types.SectionDosage, types.SectionMetabolism}},
	}
}

// Validate checks every rule for a known operator, a flag, and sections
// inside the closed enum. An invalid section yields *types.UnknownSectionError.
func (t Table) Validate() error {
	for i, r := range t {
		if !r.Parameter.Known() {
			return fmt.Errorf("rule %d: unknown parameter %q", i, string(r.Parameter))
		}
		if _, err := r.Operator.Holds(0, 0); err != nil {
			return fmt.Errorf("rule %d (%s): %w", i, r.Parameter, err)
		}
		if r.Flag == "" {
			return fmt.Errorf("rule %d (%s): flag is required", i, r.Parameter)
		}
		if len(r.Sections) == 0 {
			return fmt.Errorf("rule %d (%s): at least one section is required", i, r.Parameter)
		}
		for _, s := range r.Sections {
			if !s.Valid() {
				return fmt.Errorf("rule %d (%s): %w", i, r.Parameter, &types.UnknownSectionError{Name: s.String()})
			}
		}
	}
	return nil
}

// Evaluate returns the union of sections of every rule on param that holds
// for value. Rules on other parameters are ignored.
func (t Table) Evaluate(param Parameter, value float64) types.SectionSet {
	var set types.SectionSet
	for _, r := range t {
		if r.Parameter != param {
			continue
		}
		if ok, err := r.Operator.Holds(value, r.Threshold); err == nil && ok {
			set = set.Union(r.SectionSet())
		}
	}
	return set
}

// Hits evaluates every rule whose parameter is present in values and returns
// the rules that fired, in table order. Absent parameters fire nothing.
func (t Table) Hits(values map[Parameter]float64) []types.RuleHit {
	var hits []types.RuleHit
	for _, r := range t {
		v, ok := values[r.Parameter]
		if !ok {
			continue
		}
		if held, err := r.Operator.Holds(v, r.Threshold); err == nil && held {
			hits = append(hits, types.RuleHit{
				Rule:     r.Label(),
				Flag:     r.Flag,
				Observed: v,
				Sections: r.SectionSet(),
			})
		}
	}
	return hits
}

// Parameters returns the distinct parameters the table tests, in table order.
func (t Table) Parameters() []Parameter {
	seen := make(map[Parameter]bool)
	var out []Parameter
	for _, r := range t {
		if !seen[r.Parameter] {
			seen[r.Parameter] = true
			out = append(out, r.Parameter)
		}
	}
	return out
}

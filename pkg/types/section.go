// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"strings"
)

// Section is one of the seven fixed categories of drug monograph information.
// The zero value is not a valid section.
type Section uint8

const (
	SectionNames Section = iota + 1
	SectionPharmacology
	SectionIndications
	SectionDosage
	SectionInteractions
	SectionMetabolism
	SectionToxicity
)

// AllSections lists every section in canonical order.
var AllSections = []Section{
	SectionNames,
	SectionPharmacology,
	SectionIndications,
	SectionDosage,
	SectionInteractions,
	SectionMetabolism,
	SectionToxicity,
}

// SectionCount is the size of the closed section enum.
const SectionCount = 7

var sectionNames = map[Section]string{
	SectionNames:        "NAMES",
	SectionPharmacology: "PHARMACOLOGY",
	SectionIndications:  "INDICATIONS",
	SectionDosage:       "DOSAGE",
	SectionInteractions: "INTERACTIONS",
	SectionMetabolism:   "METABOLISM",
	SectionToxicity:     "TOXICITY",
}

// UnknownSectionError reports a section name or value outside the closed enum.
// It always indicates a broken rule or reference table, never bad patient input.
type UnknownSectionError struct {
	Name string
}

func (e *UnknownSectionError) Error() string {
	return fmt.Sprintf("unknown section %q", e.Name)
}

// Valid reports whether s is a member of the enum.
func (s Section) Valid() bool {
	return s >= SectionNames && s <= SectionToxicity
}

func (s Section) String() string {
	if name, ok := sectionNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Section(%d)", uint8(s))
}

// ParseSection resolves a section name case-insensitively.
func ParseSection(name string) (Section, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for s, n := range sectionNames {
		if n == upper {
			return s, nil
		}
	}
	return 0, &UnknownSectionError{Name: name}
}

// MarshalText renders the section by name.
func (s Section) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, &UnknownSectionError{Name: s.String()}
	}
	return []byte(s.String()), nil
}

// UnmarshalText parses a section name.
func (s *Section) UnmarshalText(text []byte) error {
	parsed, err := ParseSection(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// SectionSet is a bitmask over Section. Iteration and rendering always follow
// the canonical section order, so equal sets always render identically.
type SectionSet uint8

// NewSectionSet builds a set from the given sections. Invalid sections are ignored.
func NewSectionSet(sections ...Section) SectionSet {
	var set SectionSet
	for _, s := range sections {
		set = set.Add(s)
	}
	return set
}

// FullCoverage is the set of all seven sections.
var FullCoverage = NewSectionSet(AllSections...)

// SafetyCritical holds the sections that no fairness transform may remove.
var SafetyCritical = NewSectionSet(SectionToxicity, SectionIndications, SectionInteractions)

// MinimumIdentification holds the sections every selection starts from.
var MinimumIdentification = NewSectionSet(SectionNames, SectionPharmacology)

func bit(s Section) SectionSet {
	return SectionSet(1) << (s - 1)
}

// Add returns the set with s included.
func (set SectionSet) Add(s Section) SectionSet {
	if !s.Valid() {
		return set
	}
	return set | bit(s)
}

// Remove returns the set with s excluded.
func (set SectionSet) Remove(s Section) SectionSet {
	if !s.Valid() {
		return set
	}
	return set &^ bit(s)
}

// Has reports whether s is in the set.
func (set SectionSet) Has(s Section) bool {
	return s.Valid() && set&bit(s) != 0
}

// Union returns the union of two sets.
func (set SectionSet) Union(other SectionSet) SectionSet { return set | other }

// Minus returns the sections of set not present in other.
func (set SectionSet) Minus(other SectionSet) SectionSet { return set &^ other }

// Contains reports whether every section of other is in set.
func (set SectionSet) Contains(other SectionSet) bool { return set&other == other }

// Len returns the number of sections in the set.
func (set SectionSet) Len() int { return bits.OnesCount8(uint8(set & FullCoverage)) }

// Sections returns the members in canonical order.
func (set SectionSet) Sections() []Section {
	out := make([]Section, 0, set.Len())
	for _, s := range AllSections {
		if set.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

func (set SectionSet) String() string {
	names := make([]string, 0, set.Len())
	for _, s := range set.Sections() {
		names = append(names, s.String())
	}
	return "{" + strings.Join(names, ", ") + "}"
}

// MarshalJSON renders the set as an ordered array of section names.
func (set SectionSet) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('[')
	for i, s := range set.Sections() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(s.String())
		b.WriteByte('"')
	}
	b.WriteByte(']')
	return []byte(b.String()), nil
}

// MarshalYAML renders the set as an ordered list of section names.
func (set SectionSet) MarshalYAML() (any, error) {
	names := make([]string, 0, set.Len())
	for _, s := range set.Sections() {
		names = append(names, s.String())
	}
	return names, nil
}

// UnmarshalJSON parses an array of section names.
func (set *SectionSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	var parsed SectionSet
	for _, n := range names {
		s, err := ParseSection(n)
		if err != nil {
			return err
		}
		parsed = parsed.Add(s)
	}
	*set = parsed
	return nil
}

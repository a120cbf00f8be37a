// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package reference holds the static reference data the scoping engine reads:
// the threshold rule table, condition incidence for rarity checks, fairness
// constants, and the baseline cohort used by the bias monitor.
//
// A Reference is built once at startup (Default or Load) and never mutated
// afterwards. Accessors return copies, so a Reference can be shared by any
// number of concurrent analyses without locking.
package reference

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonschema"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/medscope/internal/thresholds"
	"github.com/pdiddy/medscope/pkg/types"
)

//go:embed reference.schema.json
var schemaJSON []byte

// Rarity configures the rare-condition check.
type Rarity struct {
	// Threshold is the incidence below which a condition counts as rare.
	Threshold float64 `json:"threshold" yaml:"threshold"`

	// Incidence maps a normalized condition name to its reference prevalence (0-1).
	Incidence map[string]float64 `json:"incidence" yaml:"incidence"`
}

// DampingBand maps an inclusive age range to a damping factor. A nil MaxAge
// leaves the band open-ended.
type DampingBand struct {
	MinAge int     `json:"min_age" yaml:"min_age"`
	MaxAge *int    `json:"max_age,omitempty" yaml:"max_age,omitempty"`
	Factor float64 `json:"factor" yaml:"factor"`
}

func (b DampingBand) contains(age int) bool {
	return age >= b.MinAge && (b.MaxAge == nil || age <= *b.MaxAge)
}

// Fairness holds the condition-frequency boost and age damping constants.
type Fairness struct {
	MaxBoost        float64         `json:"max_boost" yaml:"max_boost"`
	DampingBands    []DampingBand   `json:"damping_bands" yaml:"damping_bands"`
	DampingPriority []types.Section `json:"damping_priority" yaml:"damping_priority"`
}

// Baseline describes the typical patient cohort the bias monitor compares against.
type Baseline struct {
	SectionCount     float64 `json:"section_count" yaml:"section_count"`
	SimilarityWeight float64 `json:"similarity_weight" yaml:"similarity_weight"`
}

// Monitor holds the bias score classification cut-offs.
type Monitor struct {
	// PassThreshold is the highest score that still passes (NONE severity).
	PassThreshold float64 `json:"pass_threshold" yaml:"pass_threshold"`

	// HighThreshold is the highest score still classed MODERATE.
	HighThreshold float64 `json:"high_threshold" yaml:"high_threshold"`
}

// Polypharmacy configures the medication-count calibration rule.
type Polypharmacy struct {
	MinMedications             int             `json:"min_medications" yaml:"min_medications"`
	Sections                   []types.Section `json:"sections" yaml:"sections"`
	OrganDysfunctionConditions []string        `json:"organ_dysfunction_conditions" yaml:"organ_dysfunction_conditions"`
}

// Findings configures the categorical (non-threshold) record findings.
type Findings struct {
	AllergySections []types.Section `json:"allergy_sections" yaml:"allergy_sections"`
	HepaticSections []types.Section `json:"hepatic_sections" yaml:"hepatic_sections"`
	HepaticLabs     []string        `json:"hepatic_labs" yaml:"hepatic_labs"`
	HepaticMarker   string          `json:"hepatic_marker" yaml:"hepatic_marker"`
}

// Document is the serializable form of the reference tables. Files passed to
// Load are decoded over Default, so they only need to name what they change.
type Document struct {
	Rules        thresholds.Table                `json:"rules" yaml:"rules"`
	Rarity       Rarity                          `json:"rarity" yaml:"rarity"`
	Fairness     Fairness                        `json:"fairness" yaml:"fairness"`
	Baseline     Baseline                        `json:"baseline" yaml:"baseline"`
	Monitor      Monitor                         `json:"monitor" yaml:"monitor"`
	Polypharmacy Polypharmacy                    `json:"polypharmacy" yaml:"polypharmacy"`
	Findings     Findings                        `json:"findings" yaml:"findings"`
	LabAliases   map[string]thresholds.Parameter `json:"lab_aliases" yaml:"lab_aliases"`
}

func intPtr(v int) *int { return &v }

// DefaultDocument returns the built-in reference tables.
func DefaultDocument() Document {
	return Document{
		Rules: thresholds.Default(),
		Rarity: Rarity{
			Threshold: 0.01,
			Incidence: map[string]float64{
				"hypertension":                  0.452,
				"arthritis":                     0.234,
				"hyperlipidemia":                0.28,
				"kidney disease":                0.15,
				"chronic kidney disease":        0.15,
				"diabetes":                      0.104,
				"type 2 diabetes":               0.095,
				"depression":                    0.084,
				"asthma":                        0.082,
				"heart disease":                 0.064,
				"copd":                          0.062,
				"fibromyalgia":                  0.03,
				"atrial fibrillation":           0.02,
				"heart failure":                 0.019,
				"polymyalgia rheumatica":        0.007,
				"rheumatoid arthritis":          0.005,
				"ulcerative colitis":            0.004,
				"crohn's disease":               0.003,
				"psoriatic arthritis":           0.002,
				"ankylosing spondylitis":        0.002,
				"multiple sclerosis":            0.001,
				"lupus":                         0.0007,
				"systemic lupus erythematosus":  0.0007,
				"scleroderma":                   0.0003,
				"systemic sclerosis":            0.0003,
				"myasthenia gravis":             0.0002,
				"temporal arteritis":            0.0002,
				"kawasaki disease":              0.0002,
				"marfan syndrome":               0.0002,
				"guillain-barré syndrome":       0.0001,
				"guillain-barre syndrome":       0.0001,
				"behçet's disease":              0.0001,
				"huntington's disease":          0.00005,
				"amyotrophic lateral sclerosis": 0.00005,
				"als":                           0.00005,
			},
		},
		Fairness: Fairness{
			MaxBoost: 2.0,
			DampingBands: []DampingBand{
				{MinAge: 0, MaxAge: intPtr(64), Factor: 1.0},
				{MinAge: 65, MaxAge: intPtr(75), Factor: 0.75},
				{MinAge: 76, MaxAge: intPtr(85), Factor: 0.65},
				{MinAge: 86, Factor: 0.60},
			},
			DampingPriority: []types.Section{
				types.SectionMetabolism,
				types.SectionDosage,
				types.SectionPharmacology,
				types.SectionNames,
			},
		},
		Baseline: Baseline{SectionCount: 6.0, SimilarityWeight: 1.0},
		Monitor:  Monitor{PassThreshold: 1.1, HighThreshold: 2.0},
		Polypharmacy: Polypharmacy{
			MinMedications: 3,
			Sections:       []types.Section{types.SectionInteractions},
			OrganDysfunctionConditions: []string{
				"chronic kidney disease", "ckd", "kidney disease", "renal failure",
				"renal impairment", "liver disease", "cirrhosis", "hepatic impairment",
				"heart failure", "congestive heart failure",
			},
		},
		Findings: Findings{
			AllergySections: []types.Section{types.SectionIndications},
			HepaticSections: []types.Section{types.SectionToxicity, types.SectionMetabolism},
			HepaticLabs:     []string{"lft", "lfts", "liver_function"},
			HepaticMarker:   "abnormal",
		},
		LabAliases: map[string]thresholds.Parameter{
			"egfr":             thresholds.ParamEGFR,
			"gfr":              thresholds.ParamEGFR,
			"creatinine":       thresholds.ParamCreatinine,
			"serum_creatinine": thresholds.ParamCreatinine,
			"scr":              thresholds.ParamCreatinine,
			"hba1c":            thresholds.ParamHbA1c,
			"a1c":              thresholds.ParamHbA1c,
			"hemoglobin_a1c":   thresholds.ParamHbA1c,
			"weight":           thresholds.ParamWeight,
			"weight_kg":        thresholds.ParamWeight,
		},
	}
}

// Reference is the immutable, validated form of a Document.
type Reference struct {
	doc        Document
	incidence  map[string]float64
	organ      map[string]bool
	aliases    map[string]thresholds.Parameter
	hepaticLab map[string]bool
}

// Default returns a Reference built from the built-in tables.
func Default() *Reference {
	ref, err := New(DefaultDocument())
	if err != nil {
		panic(fmt.Sprintf("built-in reference tables are invalid: %v", err))
	}
	return ref
}

// New validates doc and freezes it into a Reference.
func New(doc Document) (*Reference, error) {
	if err := validate(doc); err != nil {
		return nil, err
	}

	ref := &Reference{
		doc:        cloneDocument(doc),
		incidence:  make(map[string]float64, len(doc.Rarity.Incidence)),
		organ:      make(map[string]bool, len(doc.Polypharmacy.OrganDysfunctionConditions)),
		aliases:    make(map[string]thresholds.Parameter, len(doc.LabAliases)),
		hepaticLab: make(map[string]bool, len(doc.Findings.HepaticLabs)),
	}
	for name, v := range doc.Rarity.Incidence {
		ref.incidence[NormalizeCondition(name)] = v
	}
	for _, c := range doc.Polypharmacy.OrganDysfunctionConditions {
		ref.organ[NormalizeCondition(c)] = true
	}
	for alias, p := range doc.LabAliases {
		ref.aliases[strings.ToLower(strings.TrimSpace(alias))] = p
	}
	for _, l := range doc.Findings.HepaticLabs {
		ref.hepaticLab[strings.ToLower(strings.TrimSpace(l))] = true
	}
	return ref, nil
}

// Load reads a YAML reference file, checks it against the reference schema,
// decodes it over the built-in tables, and freezes the result. An empty path
// returns Default.
func Load(path string) (*Reference, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading reference file %s: %w", path, err)
	}
	ref, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("reference file %s: %w", path, err)
	}
	return ref, nil
}

// Parse is Load for in-memory YAML.
func Parse(data []byte) (*Reference, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}
	doc := DefaultDocument()
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding reference YAML: %w", err)
	}
	return New(doc)
}

func validateSchema(data []byte) error {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("parsing reference YAML: %w", err)
	}
	if generic == nil {
		return nil
	}
	asJSON, err := json.Marshal(generic)
	if err != nil {
		return fmt.Errorf("converting reference YAML to JSON: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(schemaJSON)
	if err != nil {
		return fmt.Errorf("compile reference schema: %w", err)
	}
	result := schema.ValidateJSON(asJSON)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("schema validation failed: %v", result.Errors)
}

// Bounds on the fairness constants. A reference file may tighten them but
// never widen them.
const (
	BoostCeiling = 2.0
	DampingFloor = 0.60
)

func validate(doc Document) error {
	if err := doc.Rules.Validate(); err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	if doc.Rarity.Threshold <= 0 || doc.Rarity.Threshold >= 1 {
		return fmt.Errorf("rarity threshold must be in (0, 1), got %v", doc.Rarity.Threshold)
	}
	if doc.Fairness.MaxBoost < 1 || doc.Fairness.MaxBoost > BoostCeiling {
		return fmt.Errorf("max boost must be in [1, %v], got %v", BoostCeiling, doc.Fairness.MaxBoost)
	}
	if len(doc.Fairness.DampingBands) == 0 {
		return fmt.Errorf("at least one damping band is required")
	}
	for i, b := range doc.Fairness.DampingBands {
		if b.Factor < DampingFloor || b.Factor > 1 {
			return fmt.Errorf("damping band %d: factor must be in [%v, 1], got %v", i, DampingFloor, b.Factor)
		}
		if b.MaxAge != nil && *b.MaxAge < b.MinAge {
			return fmt.Errorf("damping band %d: max age %d below min age %d", i, *b.MaxAge, b.MinAge)
		}
	}
	if err := validatePriority(doc.Fairness.DampingPriority); err != nil {
		return err
	}
	if doc.Baseline.SectionCount <= 0 || doc.Baseline.SimilarityWeight <= 0 {
		return fmt.Errorf("baseline section count and similarity weight must be positive")
	}
	if doc.Monitor.PassThreshold <= 0 || doc.Monitor.HighThreshold < doc.Monitor.PassThreshold {
		return fmt.Errorf("monitor thresholds must satisfy 0 < pass <= high, got pass=%v high=%v",
			doc.Monitor.PassThreshold, doc.Monitor.HighThreshold)
	}
	if doc.Polypharmacy.MinMedications < 1 {
		return fmt.Errorf("polypharmacy min medications must be at least 1")
	}
	for _, group := range [][]types.Section{doc.Polypharmacy.Sections, doc.Findings.AllergySections, doc.Findings.HepaticSections} {
		for _, s := range group {
			if !s.Valid() {
				return &types.UnknownSectionError{Name: s.String()}
			}
		}
	}
	for alias, p := range doc.LabAliases {
		if !p.Known() {
			return fmt.Errorf("lab alias %q maps to unknown parameter %q", alias, string(p))
		}
	}
	return nil
}

// validatePriority requires the damping priority to list every non-critical
// section exactly once and nothing else.
func validatePriority(priority []types.Section) error {
	var seen types.SectionSet
	for _, s := range priority {
		if !s.Valid() {
			return &types.UnknownSectionError{Name: s.String()}
		}
		if types.SafetyCritical.Has(s) {
			return fmt.Errorf("damping priority lists safety-critical section %s", s)
		}
		if seen.Has(s) {
			return fmt.Errorf("damping priority lists %s twice", s)
		}
		seen = seen.Add(s)
	}
	if want := types.FullCoverage.Minus(types.SafetyCritical); seen != want {
		return fmt.Errorf("damping priority must cover %s, got %s", want, seen)
	}
	return nil
}

func cloneDocument(doc Document) Document {
	out := doc
	out.Rules = make(thresholds.Table, len(doc.Rules))
	for i, r := range doc.Rules {
		r.Sections = append([]types.Section(nil), r.Sections...)
		out.Rules[i] = r
	}
	out.Rarity.Incidence = make(map[string]float64, len(doc.Rarity.Incidence))
	for k, v := range doc.Rarity.Incidence {
		out.Rarity.Incidence[k] = v
	}
	out.Fairness.DampingBands = make([]DampingBand, len(doc.Fairness.DampingBands))
	for i, b := range doc.Fairness.DampingBands {
		if b.MaxAge != nil {
			b.MaxAge = intPtr(*b.MaxAge)
		}
		out.Fairness.DampingBands[i] = b
	}
	out.Fairness.DampingPriority = append([]types.Section(nil), doc.Fairness.DampingPriority...)
	out.Polypharmacy.Sections = append([]types.Section(nil), doc.Polypharmacy.Sections...)
	out.Polypharmacy.OrganDysfunctionConditions = append([]string(nil), doc.Polypharmacy.OrganDysfunctionConditions...)
	out.Findings.AllergySections = append([]types.Section(nil), doc.Findings.AllergySections...)
	out.Findings.HepaticSections = append([]types.Section(nil), doc.Findings.HepaticSections...)
	out.Findings.HepaticLabs = append([]string(nil), doc.Findings.HepaticLabs...)
	out.LabAliases = make(map[string]thresholds.Parameter, len(doc.LabAliases))
	for k, v := range doc.LabAliases {
		out.LabAliases[k] = v
	}
	return out
}

// NormalizeCondition lowercases, trims, and collapses internal whitespace.
func NormalizeCondition(c string) string {
	return strings.Join(strings.Fields(strings.ToLower(c)), " ")
}

// Document returns a copy of the reference tables.
func (r *Reference) Document() Document { return cloneDocument(r.doc) }

// Rules returns a copy of the threshold table.
func (r *Reference) Rules() thresholds.Table { return cloneDocument(r.doc).Rules }

// Incidence returns the reference prevalence of a condition, if known.
func (r *Reference) Incidence(condition string) (float64, bool) {
	v, ok := r.incidence[NormalizeCondition(condition)]
	return v, ok
}

// RarityThreshold is the incidence below which a condition is rare.
func (r *Reference) RarityThreshold() float64 { return r.doc.Rarity.Threshold }

// MaxBoost caps the rare-condition boost.
func (r *Reference) MaxBoost() float64 { return r.doc.Fairness.MaxBoost }

// DampingFactor returns the factor of the first band containing age, or 1.0.
func (r *Reference) DampingFactor(age int) float64 {
	for _, b := range r.doc.Fairness.DampingBands {
		if b.contains(age) {
			return b.Factor
		}
	}
	return 1.0
}

// DampingPriority returns non-critical sections from most to least important.
func (r *Reference) DampingPriority() []types.Section {
	return append([]types.Section(nil), r.doc.Fairness.DampingPriority...)
}

// Baseline returns the typical-cohort statistics.
func (r *Reference) Baseline() Baseline { return r.doc.Baseline }

// Monitor returns the bias score cut-offs.
func (r *Reference) Monitor() Monitor { return r.doc.Monitor }

// PolypharmacyMin is the medication count at which POLYPHARMACY may be set.
func (r *Reference) PolypharmacyMin() int { return r.doc.Polypharmacy.MinMedications }

// PolypharmacySections returns the sections POLYPHARMACY contributes.
func (r *Reference) PolypharmacySections() types.SectionSet {
	return types.NewSectionSet(r.doc.Polypharmacy.Sections...)
}

// IsOrganDysfunction reports whether a condition counts as organ dysfunction.
func (r *Reference) IsOrganDysfunction(condition string) bool {
	return r.organ[NormalizeCondition(condition)]
}

// AllergySections returns the sections a documented allergy contributes.
func (r *Reference) AllergySections() types.SectionSet {
	return types.NewSectionSet(r.doc.Findings.AllergySections...)
}

// HepaticSections returns the sections an abnormal liver panel contributes.
func (r *Reference) HepaticSections() types.SectionSet {
	return types.NewSectionSet(r.doc.Findings.HepaticSections...)
}

// IsHepaticLab reports whether a lab name carries a liver function result.
func (r *Reference) IsHepaticLab(name string) bool {
	return r.hepaticLab[strings.ToLower(strings.TrimSpace(name))]
}

// HepaticMarker is the substring that marks a liver panel as abnormal.
func (r *Reference) HepaticMarker() string { return r.doc.Findings.HepaticMarker }

// CanonicalLab resolves a lab name through the alias table.
func (r *Reference) CanonicalLab(name string) (thresholds.Parameter, bool) {
	p, ok := r.aliases[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// RareConditions lists the known conditions below the rarity threshold, sorted.
func (r *Reference) RareConditions() []string {
	var out []string
	for c, v := range r.incidence {
		if v < r.doc.Rarity.Threshold {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

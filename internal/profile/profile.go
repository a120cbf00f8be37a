// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package profile derives a PatientRiskProfile from a normalized patient
// record by running the threshold rule table over the record's numeric
// fields and adding the categorical findings (polypharmacy, documented
// allergy, abnormal liver panel).
//
// Only age is mandatory. Any other field that is missing or malformed skips
// the rules that depend on it and nothing else.
package profile

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/medscope/internal/reference"
	"github.com/pdiddy/medscope/internal/thresholds"
	"github.com/pdiddy/medscope/pkg/types"
)

// Builder turns records into risk profiles. A Builder holds no per-record
// state and is safe for concurrent use.
type Builder struct {
	ref   *reference.Reference
	rules thresholds.Table
	log   *zap.Logger
	now   func() time.Time
}

// NewBuilder creates a Builder over the given reference tables. A nil logger
// disables logging.
func NewBuilder(ref *reference.Reference, log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{ref: ref, rules: ref.Rules(), log: log, now: time.Now}
}

// Build derives the risk profile for rec. Age falls back to the completed
// years since DateOfBirth (YYYY-MM-DD) when the record has none. It returns
// *types.IncompleteProfileError when neither yields a non-negative whole number.
func (b *Builder) Build(rec types.PatientRecord) (types.PatientRiskProfile, error) {
	log := b.log.With(zap.String("patient_id", rec.PatientID))

	age, ok := wholeNumber(rec.Age)
	if !ok && rec.Age.IsZero() && rec.DateOfBirth != "" {
		age, ok = ageFromDOB(rec.DateOfBirth, b.now())
		if ok {
			log.Debug("age derived from date of birth", zap.String("dob", rec.DateOfBirth), zap.Int("age", age))
		}
	}
	if !ok {
		return types.PatientRiskProfile{}, &types.IncompleteProfileError{PatientID: rec.PatientID, Field: "age"}
	}

	values := map[thresholds.Parameter]float64{thresholds.ParamAge: float64(age)}
	b.collectLabs(rec, values, log)
	if rec.WeightKg.Valid && rec.WeightKg.Value > 0 {
		values[thresholds.ParamWeight] = rec.WeightKg.Value
	} else if !rec.WeightKg.IsZero() {
		log.Debug("skipping malformed weight", zap.String("raw", rec.WeightKg.Raw), zap.Float64("value", rec.WeightKg.Value))
	}

	hits := b.rules.Hits(values)
	conditions := dedupeConditions(rec.Conditions)
	medCount := b.medicationCount(rec, log)

	if hit, ok := b.polypharmacy(medCount, conditions); ok {
		hits = append(hits, hit)
	}
	if n := len(nonEmpty(rec.Allergies)); n > 0 {
		hits = append(hits, types.RuleHit{
			Rule:     "allergies documented",
			Flag:     types.FlagDocumentedAllergy,
			Observed: float64(n),
			Sections: b.ref.AllergySections(),
		})
	}
	if hit, ok := b.hepatic(rec.Labs); ok {
		hits = append(hits, hit)
	}

	prof := types.PatientRiskProfile{
		PatientID:       rec.PatientID,
		Age:             age,
		Gender:          rec.Gender,
		LabValues:       copyLabs(rec.Labs),
		Conditions:      conditions,
		MedicationCount: medCount,
		Flags:           make(types.FlagSet, len(hits)),
		Hits:            hits,
	}
	for _, h := range hits {
		prof.Flags[h.Flag] = struct{}{}
		prof.Triggered = prof.Triggered.Union(h.Sections)
	}

	log.Debug("built risk profile",
		zap.Int("age", age),
		zap.Int("rule_hits", len(hits)),
		zap.Stringer("triggered", prof.Triggered),
	)
	return prof, nil
}

// collectLabs maps recognised labs to rule parameters. When several aliases
// name the same parameter, the lexically first lab name wins. Age never comes
// from labs.
func (b *Builder) collectLabs(rec types.PatientRecord, values map[thresholds.Parameter]float64, log *zap.Logger) {
	names := make([]string, 0, len(rec.Labs))
	for name := range rec.Labs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		param, ok := b.ref.CanonicalLab(name)
		if !ok || param == thresholds.ParamAge {
			continue
		}
		if _, seen := values[param]; seen {
			continue
		}
		lab := rec.Labs[name]
		if !lab.Value.Valid || lab.Value.Value < 0 {
			log.Debug("skipping malformed lab", zap.String("lab", name), zap.String("raw", lab.Value.Raw))
			continue
		}
		values[param] = lab.Value.Value
	}
}

func (b *Builder) medicationCount(rec types.PatientRecord, log *zap.Logger) int {
	if n, ok := wholeNumber(rec.MedicationCount); ok {
		return n
	}
	if !rec.MedicationCount.IsZero() {
		log.Debug("medication count malformed, counting medication list", zap.String("raw", rec.MedicationCount.Raw))
	}
	return len(rec.MedicationNames())
}

// polypharmacy fires when the medication count reaches the configured minimum
// and no organ-dysfunction condition explains the regimen.
func (b *Builder) polypharmacy(count int, conditions []string) (types.RuleHit, bool) {
	minMeds := b.ref.PolypharmacyMin()
	if count < minMeds {
		return types.RuleHit{}, false
	}
	for _, c := range conditions {
		if b.ref.IsOrganDysfunction(c) {
			return types.RuleHit{}, false
		}
	}
	return types.RuleHit{
		Rule:     "medication_count >= " + strconv.Itoa(minMeds),
		Flag:     types.FlagPolypharmacy,
		Observed: float64(count),
		Sections: b.ref.PolypharmacySections(),
	}, true
}

func (b *Builder) hepatic(labs map[string]types.LabValue) (types.RuleHit, bool) {
	marker := strings.ToLower(b.ref.HepaticMarker())
	if marker == "" {
		return types.RuleHit{}, false
	}
	names := make([]string, 0, len(labs))
	for name := range labs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !b.ref.IsHepaticLab(name) {
			continue
		}
		lab := labs[name]
		if strings.Contains(strings.ToLower(lab.Value.Raw), marker) || strings.Contains(strings.ToLower(lab.Unit), marker) {
			return types.RuleHit{
				Rule:     name + " " + marker,
				Flag:     types.FlagHepaticAbnormality,
				Sections: b.ref.HepaticSections(),
			}, true
		}
	}
	return types.RuleHit{}, false
}

// wholeNumber returns m as a non-negative int, rejecting fractions.
func wholeNumber(m types.Measurement) (int, bool) {
	if !m.Valid || m.Value < 0 || m.Value != math.Trunc(m.Value) || m.Value > math.MaxInt32 {
		return 0, false
	}
	return int(m.Value), true
}

// ageFromDOB returns the completed years between dob and now.
func ageFromDOB(dob string, now time.Time) (int, bool) {
	born, err := time.Parse(time.DateOnly, strings.TrimSpace(dob))
	if err != nil {
		return 0, false
	}
	now = now.UTC()
	age := now.Year() - born.Year()
	if now.Month() < born.Month() || (now.Month() == born.Month() && now.Day() < born.Day()) {
		age--
	}
	if age < 0 {
		return 0, false
	}
	return age, true
}

// dedupeConditions normalizes condition names and returns the distinct ones, sorted.
func dedupeConditions(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		n := reference.NormalizeCondition(c)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func copyLabs(in map[string]types.LabValue) map[string]types.LabValue {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]types.LabValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

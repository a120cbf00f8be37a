// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package monitor scores how far a patient's fairness-adjusted scoping drifts
// from a typical baseline patient and raises an alert when it fails.
package monitor

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/medscope/internal/reference"
	"github.com/pdiddy/medscope/pkg/types"
)

// AlertSink receives bias alerts. Emit must not block the caller for long;
// delivery is fire-and-forget and no acknowledgment is expected.
type AlertSink interface {
	Emit(ctx context.Context, alert types.BiasAlert)
}

// Input carries everything the monitor needs about one analysis run.
type Input struct {
	Profile        types.PatientRiskProfile
	Selections     []types.SectionSelection
	Boost          float64
	DampingFactor  float64
	DampingApplied bool
}

// Monitor computes bias assessments. It is safe for concurrent use.
type Monitor struct {
	ref  *reference.Reference
	sink AlertSink
	now  func() time.Time
	log  *zap.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSink sets the alert sink. Without one, alerts are dropped.
func WithSink(s AlertSink) Option { return func(m *Monitor) { m.sink = s } }

// WithClock overrides the alert timestamp source.
func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(m *Monitor) { m.log = l } }

// New creates a Monitor over the given reference tables.
func New(ref *reference.Reference, opts ...Option) *Monitor {
	m := &Monitor{ref: ref, now: time.Now, log: zap.NewNop()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Score returns max(mean adjusted sections / baseline sections, weight /
// baseline weight), rounded to three decimals. With no selections the
// section ratio is 0 and weight is the boost alone.
func (m *Monitor) Score(sels []types.SectionSelection, boost float64) float64 {
	base := m.ref.Baseline()

	var sections float64
	weight := boost
	for _, s := range sels {
		sections += float64(s.AdjustedSections.Len())
		weight = math.Max(weight, s.SimilarityWeight)
	}
	var sectionRatio float64
	if len(sels) > 0 {
		sectionRatio = sections / float64(len(sels)) / base.SectionCount
	}
	weightRatio := weight / base.SimilarityWeight
	return round3(math.Max(sectionRatio, weightRatio))
}

// Classify maps a score to severity and fairness status.
func (m *Monitor) Classify(score float64) (types.Severity, types.FairnessStatus) {
	th := m.ref.Monitor()
	switch {
	case score <= th.PassThreshold:
		return types.SeverityNone, types.FairnessPass
	case score <= th.HighThreshold:
		return types.SeverityModerate, types.FairnessFail
	default:
		return types.SeverityHigh, types.FairnessFail
	}
}

// Bias level cutoffs. Scores up to the pass threshold are minimal below
// minimalBelow and acceptable above it; failing scores are moderate below
// moderateBelow and high from there on.
const (
	minimalBelow  = 1.05
	moderateBelow = 1.2
)

var recommendations = map[types.BiasLevel]string{
	types.BiasMinimal:    "Bias levels are minimal. System is operating with high fairness.",
	types.BiasAcceptable: "Bias levels are acceptable. Continue monitoring.",
	types.BiasModerate:   "Moderate bias detected. Consider additional bias mitigation strategies.",
	types.BiasHigh:       "High bias detected. Immediate intervention required before clinical use.",
}

// Level grades a score and returns the matching recommendation.
func (m *Monitor) Level(score float64) (types.BiasLevel, string) {
	var lvl types.BiasLevel
	switch {
	case score < minimalBelow:
		lvl = types.BiasMinimal
	case score <= m.ref.Monitor().PassThreshold:
		lvl = types.BiasAcceptable
	case score < moderateBelow:
		lvl = types.BiasModerate
	default:
		lvl = types.BiasHigh
	}
	return lvl, recommendations[lvl]
}

// Assess scores the run, and emits a BiasAlert to the sink when the run fails.
func (m *Monitor) Assess(ctx context.Context, in Input) types.BiasAssessment {
	boost := in.Boost
	if boost < 1 {
		boost = 1
	}
	factor := in.DampingFactor
	if factor == 0 {
		factor = 1
	}

	score := m.Score(in.Selections, boost)
	severity, status := m.Classify(score)
	level, advice := m.Level(score)
	a := types.BiasAssessment{
		RareConditionBoost: boost,
		AgeDampingFactor:   factor,
		DampingApplied:     in.DampingApplied,
		BiasScore:          score,
		Severity:           severity,
		FairnessStatus:     status,
		Factors:            m.factors(in, boost, factor),
		Level:              level,
		Recommendation:     advice,
	}

	if status == types.FairnessFail {
		m.emit(ctx, in.Profile, a)
	}
	return a
}

func (m *Monitor) factors(in Input, boost, factor float64) []string {
	base := m.ref.Baseline()
	pass := m.ref.Monitor().PassThreshold

	var out []string
	if boost > 1 {
		out = append(out, fmt.Sprintf("Rare condition boost %.2fx", boost))
	}
	if in.DampingApplied {
		out = append(out, fmt.Sprintf("Age damping %.2f applied (age %d)", factor, in.Profile.Age))
	}
	if n := len(in.Selections); n > 0 {
		var total int
		for _, s := range in.Selections {
			total += s.AdjustedSections.Len()
		}
		mean := float64(total) / float64(n)
		if mean/base.SectionCount > pass {
			out = append(out, fmt.Sprintf("Mean section count %.1f exceeds baseline %.1f", mean, base.SectionCount))
		}
	}
	if boost/base.SimilarityWeight > pass {
		out = append(out, fmt.Sprintf("Similarity weight %.2f exceeds baseline %.2f", boost, base.SimilarityWeight))
	}
	return out
}

func (m *Monitor) emit(ctx context.Context, p types.PatientRiskProfile, a types.BiasAssessment) {
	alert := types.BiasAlert{
		PatientID: p.PatientID,
		Demographics: types.Demographics{
			Age:               p.Age,
			Gender:            p.Gender,
			Conditions:        append([]string{}, p.Conditions...),
			Flags:             p.Flags.Sorted(),
			IsElderly:         p.Flags.Has(types.FlagElderly),
			HasRareConditions: a.RareConditionBoost > 1,
		},
		BiasScore: a.BiasScore,
		Severity:  a.Severity,
		Factors:   a.Factors,
		RaisedAt:  m.now().UTC(),
	}
	m.log.Warn("bias check failed",
		zap.String("patient_id", p.PatientID),
		zap.Float64("bias_score", a.BiasScore),
		zap.String("severity", string(a.Severity)),
		zap.Strings("factors", a.Factors),
	)
	if m.sink != nil {
		m.sink.Emit(ctx, alert)
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

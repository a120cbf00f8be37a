// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package scope runs the scoping pipeline for one patient record:
// build the risk profile, select sections per medication, apply the
// rare-condition boost, apply age damping, and score the run for bias.
//
// An Engine holds only immutable reference data and is safe for concurrent
// use. Each Analyze call builds its state from scratch and returns it.
package scope

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pdiddy/medscope/internal/fairness"
	"github.com/pdiddy/medscope/internal/monitor"
	"github.com/pdiddy/medscope/internal/profile"
	"github.com/pdiddy/medscope/internal/reference"
	"github.com/pdiddy/medscope/internal/selector"
	"github.com/pdiddy/medscope/pkg/types"
)

// ConflictRecorder persists fairness override conflicts for audit.
type ConflictRecorder interface {
	RecordConflict(ctx context.Context, c types.FairnessOverrideConflict) error
}

// Engine runs the scoping pipeline.
type Engine struct {
	ref         *reference.Reference
	builder     *profile.Builder
	rare        *fairness.ConditionAdjuster
	age         *fairness.AgeDampener
	monitor     *monitor.Monitor
	recorder    ConflictRecorder
	log         *zap.Logger
	parallelism int
}

type options struct {
	log         *zap.Logger
	sink        monitor.AlertSink
	monitorOpts []monitor.Option
	recorder    ConflictRecorder
	parallelism int
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the logger used by every stage.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

// WithAlertSink sets where bias alerts go.
func WithAlertSink(s monitor.AlertSink) Option { return func(o *options) { o.sink = s } }

// WithMonitorOptions passes extra options to the bias monitor.
func WithMonitorOptions(opts ...monitor.Option) Option {
	return func(o *options) { o.monitorOpts = append(o.monitorOpts, opts...) }
}

// WithConflictRecorder sets the audit destination for override conflicts.
func WithConflictRecorder(r ConflictRecorder) Option { return func(o *options) { o.recorder = r } }

// WithParallelism bounds concurrent analyses in AnalyzeBatch (default 8).
func WithParallelism(n int) Option { return func(o *options) { o.parallelism = n } }

// NewEngine creates an Engine over the given reference tables.
func NewEngine(ref *reference.Reference, opts ...Option) *Engine {
	o := options{parallelism: 8}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if o.parallelism < 1 {
		o.parallelism = 1
	}

	monOpts := []monitor.Option{monitor.WithLogger(o.log)}
	if o.sink != nil {
		monOpts = append(monOpts, monitor.WithSink(o.sink))
	}
	monOpts = append(monOpts, o.monitorOpts...)

	return &Engine{
		ref:         ref,
		builder:     profile.NewBuilder(ref, o.log),
		rare:        fairness.NewConditionAdjuster(ref),
		age:         fairness.NewAgeDampener(ref),
		monitor:     monitor.New(ref, monOpts...),
		recorder:    o.recorder,
		log:         o.log,
		parallelism: o.parallelism,
	}
}

// Reference returns the reference tables the engine was built with.
func (e *Engine) Reference() *reference.Reference { return e.ref }

// Analyze scopes one patient record. The only error besides context
// cancellation is *types.IncompleteProfileError. A FAIL fairness status is
// reported in the result, not as an error.
func (e *Engine) Analyze(ctx context.Context, rec types.PatientRecord) (*types.ScopeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := &run{engine: e, log: e.log.With(zap.String("patient_id", rec.PatientID))}

	r.enter(StageBuildProfile)
	prof, err := e.builder.Build(rec)
	if err != nil {
		r.log.Info("analysis aborted", zap.Stringer("stage", r.stage), zap.Error(err))
		return nil, fmt.Errorf("building risk profile: %w", err)
	}

	r.enter(StageSelectSections)
	sels := selector.SelectAll(prof, rec.MedicationNames())

	r.enter(StageAdjustRare)
	boost := e.rare.Boost(prof.Conditions)
	sels = e.rare.Apply(sels, boost)
	fairness.EnsureAll(sels)

	r.enter(StageAdjustAge)
	outcome := e.age.Apply(prof, sels)
	sels = outcome.Selections
	fairness.EnsureAll(sels)
	r.recordConflicts(ctx, outcome.Conflicts)

	r.enter(StageMonitorBias)
	assessment := e.monitor.Assess(ctx, monitor.Input{
		Profile:        prof,
		Selections:     sels,
		Boost:          boost,
		DampingFactor:  outcome.Factor,
		DampingApplied: outcome.Applied,
	})

	r.enter(StageDone)
	res := &types.ScopeResult{
		PatientID:      rec.PatientID,
		PerMedication:  make([]types.MedicationScope, len(sels)),
		Efficiency:     selector.Summarize(sels),
		BiasAssessment: assessment,
		RiskFlags:      prof.Flags.Sorted(),
		Conflicts:      outcome.Conflicts,
		Selections:     sels,
	}
	for i, s := range sels {
		res.PerMedication[i] = types.MedicationScope{
			Medication:       s.Medication,
			Sections:         s.AdjustedSections,
			SimilarityWeight: s.SimilarityWeight,
			BaseEfficiency:   selector.BaseEfficiency(s),
		}
	}
	if fp, err := Fingerprint(rec); err != nil {
		r.log.Warn("fingerprinting record", zap.Error(err))
	} else {
		res.Fingerprint = fp
	}

	r.log.Info("scoped patient",
		zap.Int("medications", len(sels)),
		zap.Int("sections_requested", res.Efficiency.SectionsRequested),
		zap.Float64("percent_reduction", res.Efficiency.PercentReduction),
		zap.Float64("bias_score", assessment.BiasScore),
		zap.String("fairness_status", string(assessment.FairnessStatus)),
	)
	return res, nil
}

// run tracks one pass through the pipeline.
type run struct {
	engine *Engine
	stage  Stage
	log    *zap.Logger
}

func (r *run) enter(s Stage) {
	r.stage = s
	r.log.Debug("entering stage", zap.Stringer("stage", s))
}

// recordConflicts logs each conflict and hands it to the recorder. Recorder
// failures are logged and never fail the analysis.
func (r *run) recordConflicts(ctx context.Context, conflicts []types.FairnessOverrideConflict) {
	for _, c := range conflicts {
		r.log.Warn("fairness override conflict",
			zap.String("medication", string(c.Medication)),
			zap.Int("age", c.Age),
			zap.Float64("boost", c.Boost),
			zap.Float64("damping_factor", c.DampingFactor),
			zap.String("resolution", c.Resolution),
		)
		if r.engine.recorder == nil {
			continue
		}
		if err := r.engine.recorder.RecordConflict(ctx, c); err != nil {
			r.log.Error("recording override conflict", zap.Error(err))
		}
	}
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package alert delivers bias alerts raised by the bias monitor: to the
// process log, to an MQTT broker, or to several sinks at once.
package alert

import (
	"context"

	"go.uber.org/zap"

	"github.com/pdiddy/medscope/pkg/types"
)

// Sink receives bias alerts. It has the same shape as monitor.AlertSink.
type Sink interface {
	Emit(ctx context.Context, alert types.BiasAlert)
}

// LogSink writes each alert as a structured warning.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink returns a sink logging to log.
func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log.Named("alert")}
}

// Emit logs the alert.
func (s *LogSink) Emit(_ context.Context, a types.BiasAlert) {
	s.log.Warn("bias alert",
		zap.String("patient_id", a.PatientID),
		zap.Float64("bias_score", a.BiasScore),
		zap.String("severity", string(a.Severity)),
		zap.Int("age", a.Demographics.Age),
		zap.Bool("is_elderly", a.Demographics.IsElderly),
		zap.Bool("has_rare_conditions", a.Demographics.HasRareConditions),
		zap.Strings("factors", a.Factors),
		zap.Time("raised_at", a.RaisedAt),
	)
}

// Multi fans an alert out to every sink in order. Nil sinks are skipped.
type Multi []Sink

// Emit forwards the alert to each sink.
func (m Multi) Emit(ctx context.Context, a types.BiasAlert) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, a)
		}
	}
}

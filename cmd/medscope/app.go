// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pdiddy/medscope/internal/alert"
	"github.com/pdiddy/medscope/internal/audit"
	"github.com/pdiddy/medscope/internal/cache"
	"github.com/pdiddy/medscope/internal/knowledge"
	"github.com/pdiddy/medscope/internal/reference"
	"github.com/pdiddy/medscope/internal/retrieval"
	"github.com/pdiddy/medscope/internal/scope"
	"github.com/pdiddy/medscope/pkg/types"
)

var (
	_ retrieval.Backend = (*knowledge.Store)(nil)
	_ retrieval.Backend = (*retrieval.HTTPBackend)(nil)
)

// app holds the engine and the resources wired around it.
type app struct {
	ref    *reference.Reference
	engine *scope.Engine
	audit  *audit.Store
	mqtt   *alert.MQTTSink
}

// newApp loads the reference tables and wires alert sinks and the conflict
// recorder from configuration.
func newApp(c types.Config, log *zap.Logger) (*app, error) {
	ref, err := reference.Load(c.Engine.ReferenceFile)
	if err != nil {
		return nil, err
	}

	a := &app{ref: ref}
	sinks := alert.Multi{alert.NewLogSink(log)}
	opts := []scope.Option{
		scope.WithLogger(log),
		scope.WithParallelism(c.Engine.Parallelism),
	}

	if c.Alerts.AuditDB != "" {
		a.audit, err = audit.Open(c.Alerts.AuditDB, log)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, a.audit)
		opts = append(opts, scope.WithConflictRecorder(a.audit))
	}

	if c.Alerts.MQTTBroker != "" {
		a.mqtt, err = alert.DialMQTT(c.Alerts, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		sinks = append(sinks, a.mqtt)
	}

	a.engine = scope.NewEngine(ref, append(opts, scope.WithAlertSink(sinks))...)
	return a, nil
}

// Close releases the alert sinks.
func (a *app) Close() {
	if a.mqtt != nil {
		a.mqtt.Close()
	}
	if a.audit != nil {
		a.audit.Close()
	}
}

// dialCache connects the result cache when one is configured. The cache
// namespace is the reference fingerprint so results never outlive a table change.
func (a *app) dialCache(ctx context.Context, c types.CacheConfig, log *zap.Logger) (*cache.Cache, error) {
	if c.Addr == "" {
		return nil, nil
	}
	ns, err := scope.Fingerprint(a.ref.Document())
	if err != nil {
		return nil, err
	}
	return cache.Dial(ctx, c, ns[:16], log)
}

// openBackend returns the configured retrieval backend and a function
// releasing it.
func openBackend(c types.Config, log *zap.Logger) (retrieval.Backend, func(), error) {
	switch c.Retrieval.Backend {
	case types.RetrievalHTTP:
		b, err := retrieval.NewHTTPBackend(c.Retrieval, log)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	case types.RetrievalLocal, "":
		kb := c.KnowledgeBase
		if c.Retrieval.PerSection > 0 {
			kb.PerSection = c.Retrieval.PerSection
		}
		s, err := knowledge.NewStore(kb)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown retrieval backend %q", c.Retrieval.Backend)
	}
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package retrieval turns a scope result into per-medication retrieval
// requests and runs them against a backend. A failed or slow backend call
// is recorded on that medication's result; the scope result itself stays
// valid and the same requests can be retried later.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/medscope/pkg/types"
)

// Defaults applied when Options leave a field unset.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultParallelism = 4
)

// Backend answers one scoped retrieval request.
type Backend interface {
	Retrieve(ctx context.Context, req types.RetrievalRequest) ([]types.ScoredPassage, error)
}

// Options tune Run.
type Options struct {
	// Timeout bounds each medication's backend call.
	Timeout time.Duration

	// Parallelism bounds concurrent backend calls.
	Parallelism int

	Log *zap.Logger
}

// Plan builds one request per medication of res. contextTerms are extra
// query terms shared by every request, usually the patient's conditions.
func Plan(res *types.ScopeResult, contextTerms []string, perSection int) []types.RetrievalRequest {
	reqs := make([]types.RetrievalRequest, 0, len(res.PerMedication))
	for _, m := range res.PerMedication {
		reqs = append(reqs, types.RetrievalRequest{
			Medication:       m.Medication,
			Sections:         m.Sections,
			SimilarityWeight: m.SimilarityWeight,
			ContextTerms:     append([]string(nil), contextTerms...),
			PerSection:       perSection,
		})
	}
	return reqs
}

// Run executes reqs against b. Results are returned in request order, one
// per request. Backend failures and timeouts are recorded in the result's
// Error field. Run itself only fails when ctx is done.
func Run(ctx context.Context, b Backend, reqs []types.RetrievalRequest, opts Options) ([]types.RetrievalResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	results := make([]types.RetrievalResult, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, req := range reqs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = retrieveOne(gctx, b, req, timeout, log)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

func retrieveOne(ctx context.Context, b Backend, req types.RetrievalRequest, timeout time.Duration, log *zap.Logger) types.RetrievalResult {
	res := types.RetrievalResult{Medication: req.Medication}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	passages, err := b.Retrieve(cctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("retrieval timed out after %s: %w", timeout, err)
		}
		log.Warn("retrieval failed",
			zap.String("medication", string(req.Medication)),
			zap.Stringer("sections", req.Sections),
			zap.Error(err),
		)
		res.Error = err.Error()
		return res
	}

	res.Passages = make([]types.ScoredPassage, 0, len(passages))
	for _, p := range passages {
		if !req.Sections.Has(p.Section) {
			log.Debug("dropping passage outside requested sections",
				zap.String("medication", string(req.Medication)),
				zap.String("passage", p.ID),
				zap.Stringer("section", p.Section),
			)
			continue
		}
		res.Passages = append(res.Passages, p)
	}
	return res
}

// Failed returns the medications whose retrieval did not complete.
func Failed(results []types.RetrievalResult) []types.MedicationRef {
	var out []types.MedicationRef
	for _, r := range results {
		if r.Error != "" {
			out = append(out, r.Medication)
		}
	}
	return out
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package scope

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/medscope/pkg/types"
)

// Outcome is the result of one record in a batch. Exactly one of Result and
// Err is set.
type Outcome struct {
	PatientID string
	Result    *types.ScopeResult
	Err       error
}

// AnalyzeBatch scopes records concurrently, at most the engine's parallelism
// at a time. Outcomes are returned in input order. A record failing with
// an incomplete profile does not affect the others; the returned error is
// non-nil only when ctx is cancelled before every record has run.
func (e *Engine) AnalyzeBatch(ctx context.Context, recs []types.PatientRecord) ([]Outcome, error) {
	out := make([]Outcome, len(recs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i, rec := range recs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				out[i] = Outcome{PatientID: rec.PatientID, Err: err}
				return err
			}
			res, err := e.Analyze(gctx, rec)
			out[i] = Outcome{PatientID: rec.PatientID, Result: res, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

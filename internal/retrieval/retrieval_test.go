// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pdiddy/medscope/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type backendFunc func(ctx context.Context, req types.RetrievalRequest) ([]types.ScoredPassage, error)

func (f backendFunc) Retrieve(ctx context.Context, req types.RetrievalRequest) ([]types.ScoredPassage, error) {
	return f(ctx, req)
}

func passage(id string, sec types.Section) types.ScoredPassage {
	return types.ScoredPassage{MonographPassage: types.MonographPassage{ID: id, Section: sec, Content: id}}
}

func sampleResult() *types.ScopeResult {
	return &types.ScopeResult{
		PatientID: "p1",
		PerMedication: []types.MedicationScope{
			{Medication: "warfarin", Sections: types.FullCoverage, SimilarityWeight: 2.0},
			{Medication: "amlodipine", Sections: types.SafetyCritical.Union(types.MinimumIdentification), SimilarityWeight: 1.0},
		},
	}
}

func TestPlan(t *testing.T) {
	terms := []string{"lupus"}
	reqs := Plan(sampleResult(), terms, 2)
	require.Len(t, reqs, 2)

	assert.Equal(t, types.MedicationRef("warfarin"), reqs[0].Medication)
	assert.Equal(t, types.FullCoverage, reqs[0].Sections)
	assert.Equal(t, 2.0, reqs[0].SimilarityWeight)
	assert.Equal(t, 2, reqs[0].PerSection)
	assert.Equal(t, []string{"lupus"}, reqs[1].ContextTerms)

	terms[0] = "mutated"
	assert.Equal(t, "lupus", reqs[0].ContextTerms[0], "plan keeps its own copy of context terms")
}

func TestRunKeepsOrderAndFiltersSections(t *testing.T) {
	b := backendFunc(func(_ context.Context, req types.RetrievalRequest) ([]types.ScoredPassage, error) {
		return []types.ScoredPassage{
			passage(string(req.Medication)+"-tox", types.SectionToxicity),
			passage(string(req.Medication)+"-dose", types.SectionDosage),
		}, nil
	})

	results, err := Run(context.Background(), b, Plan(sampleResult(), nil, 0), Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, types.MedicationRef("warfarin"), results[0].Medication)
	assert.Len(t, results[0].Passages, 2)

	assert.Equal(t, types.MedicationRef("amlodipine"), results[1].Medication)
	require.Len(t, results[1].Passages, 1, "dosage is outside the requested sections")
	assert.Equal(t, "amlodipine-tox", results[1].Passages[0].ID)
	assert.Empty(t, Failed(results))
}

func TestRunRecordsTimeoutPerMedication(t *testing.T) {
	b := backendFunc(func(ctx context.Context, req types.RetrievalRequest) ([]types.ScoredPassage, error) {
		if req.Medication == "warfarin" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return []types.ScoredPassage{passage("ok", types.SectionToxicity)}, nil
	})

	results, err := Run(context.Background(), b, Plan(sampleResult(), nil, 0), Options{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	assert.Contains(t, results[0].Error, "timed out")
	assert.Empty(t, results[0].Passages)
	assert.Empty(t, results[1].Error)
	assert.Len(t, results[1].Passages, 1)
	assert.Equal(t, []types.MedicationRef{"warfarin"}, Failed(results))
}

func TestRunRecordsBackendError(t *testing.T) {
	b := backendFunc(func(context.Context, types.RetrievalRequest) ([]types.ScoredPassage, error) {
		return nil, errors.New("index offline")
	})

	results, err := Run(context.Background(), b, Plan(sampleResult(), nil, 0), Options{Parallelism: 1})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "index offline", r.Error)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	b := backendFunc(func(context.Context, types.RetrievalRequest) ([]types.ScoredPassage, error) {
		calls.Add(1)
		return nil, nil
	})

	_, err := Run(ctx, b, Plan(sampleResult(), nil, 0), Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load())
}

func TestHTTPBackend(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, searchPath, r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		var req types.RetrievalRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, types.FullCoverage, req.Sections)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"passages": []map[string]any{
				{"id": "a", "section": "TOXICITY", "content": "bleeding", "drug": "Warfarin", "base_score": 70},
				{"id": "b", "section": "NAMES", "content": "coumadin", "drug": "Warfarin", "base_score": 30},
			},
		})
	}))
	defer ts.Close()

	b, err := NewHTTPBackend(types.RetrievalConfig{Endpoint: ts.URL + "/", APIKey: "secret"}, nil)
	require.NoError(t, err)
	defer b.Close()

	got, err := b.Retrieve(context.Background(), types.RetrievalRequest{
		Medication:       "warfarin",
		Sections:         types.FullCoverage,
		SimilarityWeight: 2.0,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, types.SectionToxicity, got[0].Section)
	assert.Equal(t, 100.0, got[0].Score, "weighted score caps at 100")
	assert.Equal(t, 60.0, got[1].Score)
}

func TestHTTPBackendErrors(t *testing.T) {
	_, err := NewHTTPBackend(types.RetrievalConfig{}, nil)
	assert.Error(t, err)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad query", http.StatusBadRequest)
	}))
	defer ts.Close()

	b, err := NewHTTPBackend(types.RetrievalConfig{Endpoint: ts.URL}, nil)
	require.NoError(t, err)
	defer b.Close()
	_, err = b.Retrieve(context.Background(), types.RetrievalRequest{Medication: "x", Sections: types.SafetyCritical})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "bad query")
}

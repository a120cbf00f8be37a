// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pdiddy/medscope/internal/reference"
	"github.com/pdiddy/medscope/pkg/types"
)

// CacheHeader reports whether a single-record response came from the cache.
const CacheHeader = "X-Cache"

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "ok",
		"version":   s.version,
		"reference": s.refPrint,
	})
}

func (s *Server) analyze(c echo.Context) error {
	var rec types.PatientRecord
	if err := json.NewDecoder(c.Request().Body).Decode(&rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("decoding patient record: %v", err))
	}

	ctx := c.Request().Context()
	if s.cache != nil {
		res, hit, err := s.cache.Analyze(ctx, s.engine, rec)
		if err != nil {
			return err
		}
		if hit {
			c.Response().Header().Set(CacheHeader, "hit")
		} else {
			c.Response().Header().Set(CacheHeader, "miss")
		}
		return c.JSON(http.StatusOK, res)
	}

	res, err := s.engine.Analyze(ctx, rec)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// BatchItem is one entry of a batch response. Exactly one of Result and
// Error is set.
type BatchItem struct {
	PatientID string             `json:"patient_id"`
	Result    *types.ScopeResult `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// BatchResponse is the body of POST /v1/scope/batch.
type BatchResponse struct {
	Results   []BatchItem `json:"results"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

func (s *Server) analyzeBatch(c echo.Context) error {
	var recs []types.PatientRecord
	if err := json.NewDecoder(c.Request().Body).Decode(&recs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("decoding patient records: %v", err))
	}
	if len(recs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "batch is empty")
	}
	if len(recs) > s.cfg.MaxBatch {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("batch of %d records exceeds limit of %d", len(recs), s.cfg.MaxBatch))
	}

	outcomes, err := s.engine.AnalyzeBatch(c.Request().Context(), recs)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, fmt.Sprintf("batch aborted: %v", err))
	}

	resp := BatchResponse{Results: make([]BatchItem, len(outcomes))}
	for i, o := range outcomes {
		item := BatchItem{PatientID: o.PatientID, Result: o.Result}
		if o.Err != nil {
			item.Error = o.Err.Error()
			resp.Failed++
		} else {
			resp.Succeeded++
		}
		resp.Results[i] = item
	}
	return c.JSON(http.StatusOK, resp)
}

// ReferenceResponse is the body of GET /v1/reference.
type ReferenceResponse struct {
	Fingerprint string             `json:"fingerprint"`
	Document    reference.Document `json:"document"`
}

func (s *Server) reference(c echo.Context) error {
	return c.JSON(http.StatusOK, ReferenceResponse{
		Fingerprint: s.refPrint,
		Document:    s.engine.Reference().Document(),
	})
}

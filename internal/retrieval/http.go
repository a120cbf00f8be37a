// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/medscope/internal/httputil"
	"github.com/pdiddy/medscope/pkg/types"
)

const (
	searchPath       = "/v1/search"
	defaultUserAgent = "medscope/0.1"
	maxErrorBody     = 512
)

// HTTPBackend sends retrieval requests to a remote semantic search service.
// The service receives the request as JSON and answers with
// {"passages": [...]} carrying base scores; weighting happens here.
type HTTPBackend struct {
	client   *http.Client
	endpoint string
	apiKey   string
	agent    string
	retry    httputil.Retry
}

// NewHTTPBackend builds a backend from configuration.
func NewHTTPBackend(cfg types.RetrievalConfig, log *zap.Logger) (*HTTPBackend, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("retrieval endpoint is not configured")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	agent := cfg.UserAgent
	if agent == "" {
		agent = defaultUserAgent
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPBackend{
		client:   &http.Client{Timeout: timeout},
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		agent:    agent,
		retry:    httputil.Retry{Log: log.Named("retrieval")},
	}, nil
}

// Close releases idle connections.
func (h *HTTPBackend) Close() {
	h.client.CloseIdleConnections()
}

type searchResponse struct {
	Passages []types.ScoredPassage `json:"passages"`
}

// Retrieve implements Backend.
func (h *HTTPBackend) Retrieve(ctx context.Context, req types.RetrievalRequest) ([]types.ScoredPassage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+searchPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", h.agent)
	if h.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.retry.DoWithRetry(ctx, h.client, httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling search service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("search service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	weight := req.SimilarityWeight
	if weight <= 0 {
		weight = 1
	}
	for i := range out.Passages {
		p := &out.Passages[i]
		p.Score = math.Min(math.Round(p.BaseScore*weight*100)/100, 100)
	}
	return out.Passages, nil
}

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/searchgate/searchgate/pkg/models"
)

// ── Exact-match driver ──────────────────────────────────────

// grepDriver talks to a trigram/literal code-search service (zoekt- or
// livegrep-style JSON API).
type grepDriver struct {
	client *http.Client
}

func (d *grepDriver) Kind() string { return "grep" }

type grepRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

type grepResponse struct {
	Hits       json.RawMessage `json:"hits"`
	TookMs     int64           `json:"took_ms"`
	TokensUsed int64           `json:"tokens_used"` // 0 when the service doesn't report cost
}

func (d *grepDriver) Search(ctx context.Context, backend *models.Backend, req *models.SearchRequest) (*models.SearchResult, error) {
	body, _ := json.Marshal(grepRequest{Query: req.Text, MaxResults: req.MaxResults})

	url := backend.Endpoint + "/api/v1/search"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("grep: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("grep: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("grep: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var gr grepResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("grep: decode response: %w", err)
	}

	tokens := gr.TokensUsed
	if tokens == 0 {
		tokens = estimateTokens(gr.Hits)
	}

	return &models.SearchResult{
		Payload:    gr.Hits,
		TokensUsed: tokens,
	}, nil
}

func (d *grepDriver) HealthCheck(ctx context.Context, backend *models.Backend) error {
	return probeEndpoint(ctx, d.client, backend.Endpoint+"/healthz", nil)
}

// ── Semantic driver ─────────────────────────────────────────

// vectorDriver talks to an embedding-backed semantic search service with
// OpenAI-style bearer auth.
type vectorDriver struct {
	client *http.Client
}

func (d *vectorDriver) Kind() string { return "vector" }

type vectorRequest struct {
	Query   string `json:"query"`
	Context string `json:"context,omitempty"`
	TopK    int    `json:"top_k,omitempty"`
}

type vectorResponse struct {
	Matches json.RawMessage `json:"matches"`
	Usage   struct {
		TotalTokens int64 `json:"total_tokens"`
	} `json:"usage"`
}

func (d *vectorDriver) Search(ctx context.Context, backend *models.Backend, req *models.SearchRequest) (*models.SearchResult, error) {
	body, _ := json.Marshal(vectorRequest{Query: req.Text, Context: req.Context, TopK: req.MaxResults})

	url := backend.Endpoint + "/v1/search"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("vector: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey, _ := backend.Config["api_key"].(string); apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("vector: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("vector: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var vr vectorResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("vector: decode response: %w", err)
	}

	tokens := vr.Usage.TotalTokens
	if tokens == 0 {
		tokens = estimateTokens(vr.Matches)
	}

	return &models.SearchResult{
		Payload:    vr.Matches,
		TokensUsed: tokens,
	}, nil
}

func (d *vectorDriver) HealthCheck(ctx context.Context, backend *models.Backend) error {
	apiKey, _ := backend.Config["api_key"].(string)
	var headers map[string]string
	if apiKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + apiKey}
	}
	return probeEndpoint(ctx, d.client, backend.Endpoint+"/v1/health", headers)
}

// ── Helpers ─────────────────────────────────────────────────

func probeEndpoint(ctx context.Context, client *http.Client, url string, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// estimateTokens approximates the token cost of a payload the backend
// didn't price itself. Four bytes per token is the usual rough figure for
// English-heavy text.
func estimateTokens(payload json.RawMessage) int64 {
	return int64(len(payload)+3) / 4
}

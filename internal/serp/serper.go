package serp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SerperClient implements Provider against Serper.dev's Google-search API,
// the concrete collaborator the §4.G budget-guard key prefix
// (sourcing:serper:<tenantId>:<date>) is named after. Only the shape the
// orchestrator needs — searchLinkedInProfilesWithMeta — is implemented;
// the rest of Serper's API surface is out of scope (§1 Non-goals).
type SerperClient struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// NewSerperClient builds a client against Serper.dev's /search endpoint.
func NewSerperClient(apiKey string) *SerperClient {
	return &SerperClient{
		httpClient: &http.Client{Timeout: 8 * time.Second},
		apiKey:     apiKey,
		baseURL:    "https://google.serper.dev",
	}
}

type serperRequest struct {
	Q  string `json:"q"`
	Num int   `json:"num"`
}

type serperOrganicResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

type serperResponse struct {
	Organic []serperOrganicResult `json:"organic"`
}

// SearchLinkedInProfilesWithMeta issues one Serper.dev search and maps
// organic results onto ProfileSummary. It never falls back to another
// provider itself (§6 says the SERP provider is a black box to this core);
// UsedFallback stays false and ProviderUsed is always "serper".
func (c *SerperClient) SearchLinkedInProfilesWithMeta(ctx context.Context, query string, limit int) (Result, error) {
	if c.apiKey == "" {
		return Result{}, fmt.Errorf("serper api key not configured")
	}
	if limit <= 0 || limit > 20 {
		limit = 20
	}

	body, err := json.Marshal(serperRequest{Q: query, Num: limit})
	if err != nil {
		return Result{}, fmt.Errorf("marshal serper request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build serper request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("serper request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read serper response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("serper http %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed serperResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{}, fmt.Errorf("unmarshal serper response: %w", err)
	}

	summaries := make([]ProfileSummary, 0, len(parsed.Organic))
	for _, r := range parsed.Organic {
		meta, _ := json.Marshal(map[string]string{"link": r.Link})
		summaries = append(summaries, ProfileSummary{
			ProfileURL:   r.Link,
			Title:        r.Title,
			Snippet:      r.Snippet,
			ProviderMeta: meta,
		})
	}

	return Result{
		Results:      summaries,
		ProviderUsed: "serper",
		UsedFallback: false,
	}, nil
}

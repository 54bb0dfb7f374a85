// Package enrichment implements the EnrichmentEnqueuer the orchestrator
// depends on: a thin HTTP client against the external enrichment
// subsystem's createEnrichmentSession endpoint (§6 external interfaces),
// following internal/llm/groq.go's bounded-timeout client shape.
package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client schedules enrichment sessions against the external subsystem.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient builds a Client against the enrichment service's base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
	}
}

type sessionRequest struct {
	TenantID    string `json:"tenantId"`
	CandidateID string `json:"candidateId"`
	Priority    int    `json:"priority"`
}

// Enqueue calls createEnrichmentSession for one candidate at the given
// priority (1..99, lower runs sooner).
func (c *Client) Enqueue(ctx context.Context, tenantID, candidateID string, priority int) error {
	if c.baseURL == "" {
		return fmt.Errorf("enrichment service url not configured")
	}
	body, err := json.Marshal(sessionRequest{TenantID: tenantID, CandidateID: candidateID, Priority: priority})
	if err != nil {
		return fmt.Errorf("marshal enrichment session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/enrichment-sessions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build enrichment session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("enrichment session request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("enrichment session http %d: %s", resp.StatusCode, string(respBody))
}

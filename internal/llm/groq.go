package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// GroqClient implements ObjectGenerator against a Groq-compatible
// chat-completions endpoint, following the reference stack's
// internal/tools/web/search.go shape: a bounded-timeout http.Client, a
// single retry helper layered on top by the caller (not here — §6's
// "one attempt + retries" policy belongs to the classifier/planner,
// since only they know whether a given failure was a timeout).
type GroqClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewGroqClient builds a client against the given base URL (defaults to
// Groq's OpenAI-compatible endpoint when empty).
func NewGroqClient(apiKey, model, baseURL string) *GroqClient {
	if baseURL == "" {
		baseURL = "https://api.groq.com/openai/v1"
	}
	if model == "" {
		model = "llama-3.1-8b-instant"
	}
	return &GroqClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Temperature    float64         `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate issues one chat-completion call constrained to JSON-object mode
// and returns the assistant message content as raw JSON bytes. The caller
// is responsible for validating the result against schema; schema is
// embedded into the prompt here since Groq's JSON mode does not accept a
// schema directly.
func (g *GroqClient) Generate(ctx context.Context, schema map[string]any, prompt string) ([]byte, error) {
	schemaJSON, _ := json.Marshal(schema)
	fullPrompt := fmt.Sprintf("%s\n\nRespond with a single JSON object matching this schema:\n%s", prompt, schemaJSON)

	reqBody := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "user", Content: fullPrompt},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
		Temperature:    0,
	}
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal groq request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("build groq request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("groq request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read groq response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("groq http %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal groq response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("groq response had no choices")
	}
	return []byte(parsed.Choices[0].Message.Content), nil
}

// WithTimeout returns a context derived from ctx bounded by d, and the
// associated cancel func. Call sites use this once per attempt so a
// timed-out attempt is distinguishable from a transport error (callers
// check ctx.Err() after a failure to decide whether to retry).
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

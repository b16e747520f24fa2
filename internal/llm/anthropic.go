package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/nhle/lifeflow/internal/flow"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
	apiURL           = "https://api.anthropic.com/v1/messages"
	apiVersion       = "2023-06-01"
)

// AnthropicClient talks to the Claude Messages API.
type AnthropicClient struct {
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
}

// NewAnthropicClient creates a client for the given model. Empty model and
// non-positive maxTokens fall back to defaults.
func NewAnthropicClient(apiKey, model string, maxTokens int) *AnthropicClient {
	if model == "" {
		model = defaultModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &AnthropicClient{
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		client:    &http.Client{},
	}
}

var _ Chatter = (*AnthropicClient)(nil)

// Complete makes a single request to the Claude Messages API and returns
// the concatenated text blocks of the response.
func (c *AnthropicClient) Complete(ctx context.Context, system, user string) (string, error) {
	reqBody := apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages: []apiMessage{
			{Role: "user", Content: []apiContentBlock{{Type: "text", Text: user}}},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", flow.Errorf(flow.KindInvalidRequest, "llm.complete", "marshaling request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", flow.Errorf(flow.KindInvalidRequest, "llm.complete", "creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", flow.E(flow.KindTransient, "llm.complete", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", flow.E(flow.KindTransient, "llm.complete", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return "", flow.Errorf(flow.KindRateLimited, "llm.complete", "API error (429): %s", msg)
		case resp.StatusCode == http.StatusUnauthorized:
			return "", flow.Errorf(flow.KindAuthRequired, "llm.complete", "API error (401): %s", msg)
		case resp.StatusCode >= 500:
			return "", flow.Errorf(flow.KindTransient, "llm.complete", "API error (%d): %s", resp.StatusCode, msg)
		default:
			return "", flow.Errorf(flow.KindInvalidRequest, "llm.complete", "API error (%d): %s", resp.StatusCode, msg)
		}
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", flow.Errorf(flow.KindTransient, "llm.complete", "decoding response: %v", err)
	}

	var parts []string
	for _, block := range result.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", flow.Errorf(flow.KindTransient, "llm.complete", "response had no text content")
	}
	return strings.Join(parts, ""), nil
}

// ExtractJSON strips a markdown code fence from a model response and
// returns the inner JSON. Responses without a fence pass through trimmed.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// --- Claude API types ---

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string            `json:"role"`
	Content []apiContentBlock `json:"content"`
}

type apiContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiResponse struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Role       string            `json:"role"`
	Content    []apiContentBlock `json:"content"`
	Model      string            `json:"model"`
	StopReason string            `json:"stop_reason"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

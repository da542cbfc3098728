package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/parley-chat/parley/internal/models"
)

// Prompt is one turn of model context.
type Prompt struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Caller produces an assistant reply for the given context window. The
// backend is opaque to the rest of the service; failures never reach
// the request pipeline (the chat service substitutes a placeholder).
type Caller interface {
	Complete(ctx context.Context, prompts []Prompt) (string, error)
}

// HTTPCaller talks to an OpenAI-style chat-completions endpoint.
type HTTPCaller struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

func NewHTTPCaller(baseURL, model, apiKey string) *HTTPCaller {
	return &HTTPCaller{
		baseURL: baseURL,
		model:   model,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *HTTPCaller) Complete(ctx context.Context, prompts []Prompt) (string, error) {
	payload := map[string]interface{}{
		"model":    c.model,
		"messages": prompts,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model backend returned status %d", resp.StatusCode)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("model backend returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// EchoCaller is the local/dev fallback when no model backend is
// configured. It parrots the last user message.
type EchoCaller struct{}

func (EchoCaller) Complete(_ context.Context, prompts []Prompt) (string, error) {
	for i := len(prompts) - 1; i >= 0; i-- {
		if prompts[i].Role == string(models.RoleUser) {
			return "You said: " + prompts[i].Content, nil
		}
	}
	return "You said: ", nil
}

// EstimateTokens is a quick heuristic: ~4 chars per token, minimum 1.
func EstimateTokens(s string) int32 {
	n := (len(s) + 3) / 4
	if n < 1 {
		n = 1
	}
	return int32(n)
}

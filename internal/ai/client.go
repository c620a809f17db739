package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// ErrBudgetExhausted is returned when the per-minute call budget has no
// token available. Callers requeue for a later window instead of dropping
// the work.
var ErrBudgetExhausted = errors.New("llm call budget exhausted")

// Client talks to the language-model service (Ollama-compatible API). Every
// call carries its own timeout, separate from any fetch timeout, and draws
// from a per-minute budget.
type Client struct {
	BaseURL     string
	Model       string
	CallTimeout time.Duration

	http   *http.Client
	budget *rate.Limiter
}

func NewClient(baseURL, model string, callsPerMinute int, callTimeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "qwen2.5:14b"
	}
	if callsPerMinute <= 0 {
		callsPerMinute = 20
	}
	if callTimeout <= 0 {
		callTimeout = 60 * time.Second
	}
	return &Client{
		BaseURL:     baseURL,
		Model:       model,
		CallTimeout: callTimeout,
		http:        &http.Client{Timeout: callTimeout},
		budget:      rate.NewLimiter(rate.Limit(float64(callsPerMinute)/60.0), callsPerMinute),
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Format string `json:"format,omitempty"` // For JSON mode
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (c *Client) GenerateCompletion(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	if !c.budget.Allow() {
		return "", ErrBudgetExhausted
	}

	reqBody := generateRequest{
		Model:  c.Model,
		Prompt: prompt,
		Stream: false,
	}
	if jsonMode {
		reqBody.Format = "json"
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.CallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/generate", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", ErrBudgetExhausted
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm returned status: %d", resp.StatusCode)
	}

	var parsedResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsedResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	return parsedResp.Response, nil
}

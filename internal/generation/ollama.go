package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaClient uses the /api/generate endpoint of a local Ollama server.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaClient(cfg ServiceConfig) *OllamaClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	model := cfg.Model
	if model == "" {
		model = "llama3.2"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaClient{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *OllamaClient) Name() string {
	return "ollama"
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (c *OllamaClient) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.model
	}

	var prompt bytes.Buffer
	for i, m := range req.Conversation() {
		if i > 0 {
			prompt.WriteString("\n\n")
		}
		prompt.WriteString(m.Content)
	}

	body := ollamaRequest{
		Model:   model,
		System:  req.System(),
		Prompt:  prompt.String(),
		Stream:  false,
		Options: map[string]any{},
	}
	if req.MaxOutputTokens > 0 {
		body.Options["num_predict"] = req.MaxOutputTokens
	}
	if req.Temperature > 0 {
		body.Options["temperature"] = req.Temperature
	}
	if req.Shape.Format == FormatJSON {
		body.Format = "json"
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, NewError(KindInvalidRequest, fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, NewError(KindInvalidRequest, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, FromTransport(c.Name(), fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, FromStatus(c.Name(), resp.StatusCode, nil)
	}

	var decoded ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, FromTransport(c.Name(), fmt.Errorf("failed to decode response: %w", err))
	}

	out := &Response{
		Provider: c.Name(),
		Model:    model,
		Status:   StatusCompleted,
		Output:   []string{decoded.Response},
		Usage: Usage{
			InputTokens:  decoded.PromptEvalCount,
			OutputTokens: decoded.EvalCount,
			TotalTokens:  decoded.PromptEvalCount + decoded.EvalCount,
		},
		Latency: time.Since(start),
	}
	if decoded.DoneReason == "length" {
		out.Status = StatusIncomplete
		out.IncompleteReason = ReasonMaxOutputTokens
	}
	return out, nil
}

// Ping checks that the Ollama server is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama not available: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}

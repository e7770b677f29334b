package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultOpenRouterURL = "https://openrouter.ai/api/v1"

// OpenRouterClient talks to the OpenRouter chat-completions endpoint.
type OpenRouterClient struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewOpenRouterClient(cfg ServiceConfig) (*OpenRouterClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenRouter API key required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenRouterURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenRouterClient{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (c *OpenRouterClient) Name() string {
	return "openrouter"
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Temperature    float64           `json:"temperature,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *OpenRouterClient) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.model
	}

	body := chatRequest{
		Model:       model,
		MaxTokens:   req.MaxOutputTokens,
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	if req.Shape.Format == FormatJSON {
		body.ResponseFormat = map[string]string{"type": "json_object"}
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, NewError(KindInvalidRequest, fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, NewError(KindInvalidRequest, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("HTTP-Referer", "https://peredoc.local")
	httpReq.Header.Set("X-Title", "PereDoc")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, FromTransport(c.Name(), fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		genErr := FromStatus(c.Name(), resp.StatusCode, fmt.Errorf("API returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg)))
		genErr.RetryAfter = parseRetryAfter(resp.Header)
		return nil, genErr
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, FromTransport(c.Name(), fmt.Errorf("failed to decode response: %w", err))
	}
	if len(decoded.Choices) == 0 {
		return nil, &Error{Kind: KindTransient, Provider: c.Name(), Err: fmt.Errorf("empty response from API")}
	}

	choice := decoded.Choices[0]
	out := &Response{
		ID:       decoded.ID,
		Provider: c.Name(),
		Model:    decoded.Model,
		Status:   StatusCompleted,
		Output:   []string{choice.Message.Content},
		Usage: Usage{
			InputTokens:  decoded.Usage.PromptTokens,
			OutputTokens: decoded.Usage.CompletionTokens,
			TotalTokens:  decoded.Usage.TotalTokens,
		},
		Latency: time.Since(start),
	}
	if out.Model == "" {
		out.Model = model
	}
	markFinish(out, choice.FinishReason)
	return out, nil
}

// markFinish maps an OpenAI-style finish reason onto the response status.
func markFinish(resp *Response, finishReason string) {
	switch finishReason {
	case "length":
		resp.Status = StatusIncomplete
		resp.IncompleteReason = ReasonMaxOutputTokens
	case "content_filter":
		resp.Status = StatusIncomplete
		resp.IncompleteReason = ReasonContentFilter
	}
}

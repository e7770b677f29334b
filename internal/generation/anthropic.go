package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient uses the Messages API.
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

func NewAnthropicClient(cfg ServiceConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &AnthropicClient{client: anthropic.NewClient(opts...), model: cfg.Model}, nil
}

func (c *AnthropicClient) Name() string {
	return "anthropic"
}

func (c *AnthropicClient) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if sys := req.System(); sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}
	for _, m := range req.Conversation() {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			genErr := FromStatus(c.Name(), apiErr.StatusCode, err)
			if apiErr.Response != nil {
				genErr.RetryAfter = parseRetryAfter(apiErr.Response.Header)
			}
			return nil, genErr
		}
		return nil, FromTransport(c.Name(), err)
	}

	out := &Response{
		ID:       resp.ID,
		Provider: c.Name(),
		Model:    string(resp.Model),
		Status:   StatusCompleted,
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
			TotalTokens:  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
		Latency: time.Since(start),
	}
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.Output = append(out.Output, block.Text)
		}
	}
	switch string(resp.StopReason) {
	case "max_tokens":
		out.Status = StatusIncomplete
		out.IncompleteReason = ReasonMaxOutputTokens
	case "refusal":
		out.Status = StatusIncomplete
		out.IncompleteReason = ReasonContentFilter
	}
	return out, nil
}

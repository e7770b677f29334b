package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient uses the official OpenAI SDK. SDK-level retries are disabled
// because the orchestrator owns the retry policy.
type OpenAIClient struct {
	client openai.Client
	model  string
}

func NewOpenAIClient(cfg ServiceConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
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
	return &OpenAIClient{client: openai.NewClient(opts...), model: cfg.Model}, nil
}

func (c *OpenAIClient) Name() string {
	return "openai"
}

func (c *OpenAIClient) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.model
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.Shape.Format == FormatJSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			genErr := FromStatus(c.Name(), apiErr.StatusCode, err)
			if apiErr.Response != nil {
				genErr.RetryAfter = parseRetryAfter(apiErr.Response.Header)
			}
			return nil, genErr
		}
		return nil, FromTransport(c.Name(), err)
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Kind: KindTransient, Provider: c.Name(), Err: fmt.Errorf("openai returned no choices")}
	}

	choice := resp.Choices[0]
	out := &Response{
		ID:       resp.ID,
		Provider: c.Name(),
		Model:    resp.Model,
		Status:   StatusCompleted,
		Output:   []string{choice.Message.Content},
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
		Latency: time.Since(start),
	}
	markFinish(out, string(choice.FinishReason))
	return out, nil
}

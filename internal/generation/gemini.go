package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiClient uses the Gemini API through the genai SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
}

func NewGeminiClient(ctx context.Context, cfg ServiceConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}
	return &GeminiClient{client: client, model: cfg.Model}, nil
}

func (c *GeminiClient) Name() string {
	return "gemini"
}

func (c *GeminiClient) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.model
	}

	config := &genai.GenerateContentConfig{}
	if req.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		config.Temperature = &t
	}
	if req.Shape.Format == FormatJSON {
		config.ResponseMIMEType = "application/json"
	}
	if sys := req.System(); sys != "" {
		config.SystemInstruction = genai.NewContentFromText(sys, genai.RoleUser)
	}

	var prompt []string
	for _, m := range req.Conversation() {
		prompt = append(prompt, m.Content)
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(strings.Join(prompt, "\n\n")), config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, FromStatus(c.Name(), apiErr.Code, err)
		}
		var apiErrPtr *genai.APIError
		if errors.As(err, &apiErrPtr) {
			return nil, FromStatus(c.Name(), apiErrPtr.Code, err)
		}
		return nil, FromTransport(c.Name(), err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, &Error{Kind: KindTransient, Provider: c.Name(), Err: fmt.Errorf("google returned no candidates")}
	}

	candidate := resp.Candidates[0]
	out := &Response{
		ID:       resp.ResponseID,
		Provider: c.Name(),
		Model:    model,
		Status:   StatusCompleted,
		Latency:  time.Since(start),
	}
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				out.Output = append(out.Output, part.Text)
			}
		}
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	switch candidate.FinishReason {
	case genai.FinishReasonMaxTokens:
		out.Status = StatusIncomplete
		out.IncompleteReason = ReasonMaxOutputTokens
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent:
		out.Status = StatusIncomplete
		out.IncompleteReason = ReasonContentFilter
	}
	return out, nil
}

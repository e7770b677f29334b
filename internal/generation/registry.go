package generation

import (
	"context"
	"fmt"
)

// New constructs the client named by cfg.Provider and applies its rate limit.
func New(ctx context.Context, cfg ServiceConfig) (Client, error) {
	var (
		client Client
		err    error
	)
	switch cfg.Provider {
	case "openai":
		client, err = NewOpenAIClient(cfg)
	case "anthropic":
		client, err = NewAnthropicClient(cfg)
	case "gemini", "google":
		client, err = NewGeminiClient(ctx, cfg)
	case "openrouter":
		client, err = NewOpenRouterClient(cfg)
	case "ollama":
		client = NewOllamaClient(cfg)
	default:
		return nil, fmt.Errorf("unknown provider: %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewLimited(client, cfg.RequestsPerSecond, cfg.Burst), nil
}

// Package generation defines the contract with remote text-generation
// services and the providers that implement it.
package generation

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Format selects the response shape asked of the service.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Shape describes the desired response. Schema is advisory: providers that
// support schema-constrained output may forward it, others ignore it.
type Shape struct {
	Name   string          `json:"name"`
	Format Format          `json:"format"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

type Request struct {
	Model           string    `json:"model"`
	MaxOutputTokens int       `json:"max_output_tokens"`
	Shape           Shape     `json:"shape"`
	Messages        []Message `json:"messages"`
	Temperature     float64   `json:"temperature,omitempty"`
}

// System returns the concatenated system messages.
func (r Request) System() string {
	var parts []string
	for _, m := range r.Messages {
		if m.Role == RoleSystem {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Conversation returns the non-system messages in order.
func (r Request) Conversation() []Message {
	out := make([]Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		if m.Role != RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

type Status string

const (
	StatusCompleted  Status = "completed"
	StatusIncomplete Status = "incomplete"
)

// Incomplete reasons reported by providers.
const (
	ReasonMaxOutputTokens = "max_output_tokens"
	ReasonContentFilter   = "content_filter"
)

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add returns the field-wise sum of u and o. A missing total is derived from
// the input and output counts of that operand.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		TotalTokens:  u.total() + o.total(),
	}
}

func (u Usage) total() int {
	if u.TotalTokens == 0 {
		return u.InputTokens + u.OutputTokens
	}
	return u.TotalTokens
}

// Response is a provider-neutral generation result. Parsed carries a
// structured payload when the provider returns one natively; Output holds the
// raw text fragments otherwise.
type Response struct {
	ID               string          `json:"id"`
	Provider         string          `json:"provider"`
	Model            string          `json:"model"`
	Status           Status          `json:"status"`
	IncompleteReason string          `json:"incomplete_reason,omitempty"`
	Usage            Usage           `json:"usage"`
	Parsed           json.RawMessage `json:"parsed,omitempty"`
	Output           []string        `json:"output,omitempty"`
	Latency          time.Duration   `json:"latency"`
}

// Incomplete reports whether the service stopped early because it ran out of
// output budget. Other incomplete reasons are not size related.
func (r *Response) Incomplete() bool {
	return r != nil && r.Status == StatusIncomplete && r.IncompleteReason == ReasonMaxOutputTokens
}

// Text joins all output fragments.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return strings.Join(r.Output, "")
}

// Client is a single text-generation backend.
type Client interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ServiceConfig configures one provider.
type ServiceConfig struct {
	Provider          string        `mapstructure:"provider" json:"provider" yaml:"provider"`
	APIKey            string        `mapstructure:"api_key" json:"api_key" yaml:"api_key"`
	Model             string        `mapstructure:"model" json:"model" yaml:"model"`
	BaseURL           string        `mapstructure:"base_url" json:"base_url" yaml:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" json:"burst" yaml:"burst"`
}

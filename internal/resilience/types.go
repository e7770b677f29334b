// Package resilience drives calls to a failure-prone generation service
// through an escalating recovery policy: shrink the output budget, switch to
// a fallback model and finally hand the batch to decomposition.
package resilience

import (
	"context"
	"time"
)

// Stage is one rung of the recovery ladder.
type Stage string

const (
	StagePrimary   Stage = "primary"
	StageDownshift Stage = "downshift"
	StageMinimal   Stage = "minimal"
	StageFallback  Stage = "fallback"
	StageSegment   Stage = "segment"
)

// Reason records why an attempt was scheduled.
type Reason string

const (
	ReasonInitial    Reason = "initial"
	ReasonIncomplete Reason = "incomplete"
	ReasonJSONParse  Reason = "json_parse"
	ReasonRateLimit  Reason = "rate_limit"
	ReasonTransient  Reason = "transient"
)

// multiplierPct is the output-budget multiplier of each stage, in percent.
var multiplierPct = map[Stage]int{
	StagePrimary:   100,
	StageDownshift: 70,
	StageMinimal:   49,
	StageFallback:  49,
	StageSegment:   100,
}

// AttemptContext describes one attempt. It is created by Run and never
// modified afterwards.
type AttemptContext struct {
	AttemptIndex       int    `json:"attempt_index"`
	MaxOutputTokens    int    `json:"max_output_tokens"`
	Stage              Stage  `json:"stage"`
	Reason             Reason `json:"reason"`
	UsingFallbackModel bool   `json:"using_fallback_model"`
	UsingSegmentRetry  bool   `json:"using_segment_retry"`
}

// Outcome is implemented by values returned from request callbacks.
// Incomplete reports that the service stopped because of the output budget.
type Outcome interface {
	Incomplete() bool
}

// RequestFunc performs a single attempt.
type RequestFunc[T Outcome] func(ctx context.Context, attempt AttemptContext) (T, error)

// DecomposeFunc hands the whole batch to decomposition. ok=false means the
// batch could not be split any further.
type DecomposeFunc[T Outcome] func(ctx context.Context, attempt AttemptContext) (value T, ok bool, err error)

// Calls bundles the callbacks for one logical call. Request is required.
type Calls[T Outcome] struct {
	Request   RequestFunc[T]
	Fallback  RequestFunc[T]
	Decompose DecomposeFunc[T]
	// OnAttempt observes every attempt before it is dispatched.
	OnAttempt func(AttemptContext)
}

// Metrics summarises a logical call for observability.
type Metrics struct {
	Downshifts          int  `json:"downshifts"`
	RateLimitRetries    int  `json:"rate_limit_retries"`
	TransientFailures   int  `json:"transient_failures"`
	IncompleteResponses int  `json:"incomplete_responses"`
	ParseFailures       int  `json:"parse_failures"`
	FallbackUsed        bool `json:"fallback_used"`
	SegmentRetryUsed    bool `json:"segment_retry_used"`
}

// Result is the outcome of a logical call. Attempts always equals
// len(History).
type Result[T Outcome] struct {
	Value           T
	Attempts        int
	MaxOutputTokens int
	Truncated       bool
	History         []AttemptContext
	Metrics         Metrics
}

// Policy bounds a logical call.
type Policy struct {
	InitialBudget int `mapstructure:"initial_budget"`
	// Cap is the largest budget ever requested; zero means no cap.
	Cap         int `mapstructure:"cap"`
	MinBudget   int `mapstructure:"min_budget"`
	MaxAttempts int `mapstructure:"max_attempts"`

	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`

	RateLimitBackoff time.Duration `mapstructure:"rate_limit_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		Cap:              8192,
		MinBudget:        64,
		MaxAttempts:      5,
		AttemptTimeout:   2 * time.Minute,
		CallTimeout:      10 * time.Minute,
		RateLimitBackoff: 500 * time.Millisecond,
		MaxBackoff:       10 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.MinBudget <= 0 {
		p.MinBudget = 1
	}
	if p.Cap > 0 && p.Cap < p.MinBudget {
		p.Cap = p.MinBudget
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 10 * time.Second
	}
	return p
}

// budget returns the output cap for stage. Shrinking multipliers only apply
// once size truncation or a parse failure has been seen.
func (p Policy) budget(stage Stage, escalated bool) int {
	pct := multiplierPct[stage]
	if !escalated {
		pct = 100
	}
	b := p.InitialBudget * pct / 100
	if b < p.MinBudget {
		b = p.MinBudget
	}
	if p.Cap > 0 && b > p.Cap {
		b = p.Cap
	}
	return b
}

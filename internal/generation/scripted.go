package generation

import (
	"context"
	"fmt"
	"sync"
)

// Step is one scripted reply: either a response or an error.
type Step struct {
	Response *Response
	Err      error
}

// Scripted replays a fixed sequence of steps, or delegates to Responder once
// the script runs out. It records every request it receives and is safe for
// concurrent use.
type Scripted struct {
	Label     string
	Responder func(ctx context.Context, req Request) (*Response, error)

	mu       sync.Mutex
	steps    []Step
	requests []Request
}

func NewScripted(steps ...Step) *Scripted {
	return &Scripted{Label: "scripted", steps: steps}
}

func (s *Scripted) Name() string {
	if s.Label == "" {
		return "scripted"
	}
	return s.Label
}

func (s *Scripted) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	var step *Step
	if len(s.steps) > 0 {
		step = &s.steps[0]
		s.steps = s.steps[1:]
	}
	responder := s.Responder
	s.mu.Unlock()

	if step != nil {
		if step.Err != nil {
			return nil, step.Err
		}
		resp := *step.Response
		if resp.Provider == "" {
			resp.Provider = s.Name()
		}
		return &resp, nil
	}
	if responder != nil {
		return responder(ctx, req)
	}
	return nil, fmt.Errorf("%s: script exhausted", s.Name())
}

// Requests returns a copy of the requests received so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Calls returns the number of Generate calls received.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// TextResponse builds a completed response holding text.
func TextResponse(text string) *Response {
	return &Response{Status: StatusCompleted, Output: []string{text}}
}

// TruncatedResponse builds a response cut off by the output budget.
func TruncatedResponse(text string) *Response {
	return &Response{
		Status:           StatusIncomplete,
		IncompleteReason: ReasonMaxOutputTokens,
		Output:           []string{text},
	}
}

package generation

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"tagged", NewError(KindJSONParse, errors.New("bad")), KindJSONParse},
		{"wrapped", fmt.Errorf("stage: %w", Errorf(KindRateLimit, "slow down")), KindRateLimit},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"plain", errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFromTransport_KeepsCancellation(t *testing.T) {
	err := FromTransport("x", context.Canceled)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled to pass through, got %v", err)
	}
	if KindOf(err) == KindTransient {
		t.Error("cancellation must not be classified as transient")
	}
}

func TestError_Message(t *testing.T) {
	err := FromStatus("openai", 429, errors.New("too many"))
	want := "openai: rate_limit (status 429): too many"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestUsage_Add(t *testing.T) {
	got := Usage{InputTokens: 3, OutputTokens: 4}.Add(Usage{InputTokens: 1, OutputTokens: 2})
	if got.TotalTokens != 10 {
		t.Errorf("expected derived total 10, got %d", got.TotalTokens)
	}
}

func TestScripted_ReplaysSteps(t *testing.T) {
	s := NewScripted(
		Step{Err: Errorf(KindRateLimit, "429")},
		Step{Response: TextResponse("ok")},
	)

	if _, err := s.Generate(context.Background(), Request{}); KindOf(err) != KindRateLimit {
		t.Errorf("expected rate limit on first call, got %v", err)
	}
	resp, err := s.Generate(context.Background(), Request{})
	if err != nil || resp.Text() != "ok" {
		t.Errorf("expected ok response, got %v, %v", resp, err)
	}
	if _, err := s.Generate(context.Background(), Request{}); err == nil {
		t.Error("expected error once the script is exhausted")
	}
	if s.Calls() != 3 {
		t.Errorf("expected 3 calls, got %d", s.Calls())
	}
}

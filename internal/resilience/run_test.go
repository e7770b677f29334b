package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/valpere/peredoc/internal/generation"
)

type fakeOutcome struct {
	label      string
	incomplete bool
}

func (f fakeOutcome) Incomplete() bool { return f.incomplete }

// script returns a RequestFunc that replays steps in order, repeating the
// last one once exhausted.
func script(steps ...func(AttemptContext) (fakeOutcome, error)) (RequestFunc[fakeOutcome], *int32) {
	var calls int32
	return func(_ context.Context, ac AttemptContext) (fakeOutcome, error) {
		i := int(atomic.AddInt32(&calls, 1)) - 1
		if i >= len(steps) {
			i = len(steps) - 1
		}
		return steps[i](ac)
	}, &calls
}

func ok(label string) func(AttemptContext) (fakeOutcome, error) {
	return func(AttemptContext) (fakeOutcome, error) { return fakeOutcome{label: label}, nil }
}

func truncated(label string) func(AttemptContext) (fakeOutcome, error) {
	return func(AttemptContext) (fakeOutcome, error) { return fakeOutcome{label: label, incomplete: true}, nil }
}

func fail(kind generation.Kind) func(AttemptContext) (fakeOutcome, error) {
	return func(AttemptContext) (fakeOutcome, error) {
		return fakeOutcome{}, generation.Errorf(kind, "scripted %s", kind)
	}
}

func testPolicy(maxAttempts int) Policy {
	return Policy{
		InitialBudget:    280,
		Cap:              1000,
		MinBudget:        16,
		MaxAttempts:      maxAttempts,
		RateLimitBackoff: time.Millisecond,
		MaxBackoff:       2 * time.Millisecond,
	}
}

func stagesOf(history []AttemptContext) []Stage {
	out := make([]Stage, len(history))
	for i, ac := range history {
		out[i] = ac.Stage
	}
	return out
}

func TestRun_StageEscalationToSegment(t *testing.T) {
	request, _ := script(truncated("partial"))
	var segmentCalls int
	calls := Calls[fakeOutcome]{
		Request: request,
		Decompose: func(_ context.Context, ac AttemptContext) (fakeOutcome, bool, error) {
			segmentCalls++
			if !ac.UsingSegmentRetry {
				t.Error("expected UsingSegmentRetry on the segment attempt")
			}
			return fakeOutcome{label: "merged"}, true, nil
		},
	}

	res, err := Run(context.Background(), testPolicy(3), calls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if diff := cmp.Diff([]Stage{StagePrimary, StageDownshift, StageSegment}, stagesOf(res.History)); diff != "" {
		t.Errorf("stage sequence mismatch (-want +got):\n%s", diff)
	}
	if res.History[0].MaxOutputTokens != 280 {
		t.Errorf("primary budget = %d, want 280", res.History[0].MaxOutputTokens)
	}
	if res.History[1].MaxOutputTokens != 196 {
		t.Errorf("downshift budget = %d, want 196", res.History[1].MaxOutputTokens)
	}
	if res.Attempts != 3 || len(res.History) != 3 {
		t.Errorf("attempts = %d, history = %d, want 3", res.Attempts, len(res.History))
	}
	if res.Truncated {
		t.Error("expected truncated=false after segment retry")
	}
	if res.Value.label != "merged" || segmentCalls != 1 {
		t.Errorf("expected merged value from one segment call, got %q after %d calls", res.Value.label, segmentCalls)
	}
	if res.History[1].Reason != ReasonIncomplete || res.History[2].Reason != ReasonIncomplete {
		t.Errorf("unexpected reasons: %+v", res.History)
	}
}

func TestRun_RateLimitDoesNotConsumeStage(t *testing.T) {
	request, calls := script(fail(generation.KindRateLimit), fail(generation.KindRateLimit), fail(generation.KindRateLimit), ok("done"))

	res, err := Run(context.Background(), testPolicy(4), Calls[fakeOutcome]{Request: request})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *calls != 4 {
		t.Errorf("expected 4 calls, got %d", *calls)
	}
	for _, ac := range res.History {
		if ac.Stage != StagePrimary {
			t.Errorf("attempt %d ran at stage %s, want primary", ac.AttemptIndex, ac.Stage)
		}
		if ac.MaxOutputTokens != 280 {
			t.Errorf("attempt %d budget %d, want 280", ac.AttemptIndex, ac.MaxOutputTokens)
		}
	}
	if res.Metrics.RateLimitRetries != 3 {
		t.Errorf("expected 3 rate-limit retries, got %d", res.Metrics.RateLimitRetries)
	}
	if res.History[3].Reason != ReasonRateLimit {
		t.Errorf("expected final attempt reason rate_limit, got %s", res.History[3].Reason)
	}
}

func TestRun_RateLimitExhaustionPropagates(t *testing.T) {
	request, _ := script(truncated("partial"), fail(generation.KindRateLimit))

	res, err := Run(context.Background(), testPolicy(3), Calls[fakeOutcome]{Request: request})
	if generation.KindOf(err) != generation.KindRateLimit {
		t.Fatalf("expected rate-limit error, got %v", err)
	}
	if res.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", res.Attempts)
	}
}

func TestRun_InvalidRequestIsFatal(t *testing.T) {
	request, calls := script(fail(generation.KindInvalidRequest), ok("never"))

	res, err := Run(context.Background(), testPolicy(5), Calls[fakeOutcome]{Request: request})
	if generation.KindOf(err) != generation.KindInvalidRequest {
		t.Fatalf("expected invalid_request error, got %v", err)
	}
	if *calls != 1 || res.Attempts != 1 {
		t.Errorf("expected a single attempt, got %d calls / %d attempts", *calls, res.Attempts)
	}
}

func TestRun_ParseFailureDownshifts(t *testing.T) {
	request, _ := script(fail(generation.KindJSONParse), ok("done"))

	res, err := Run(context.Background(), testPolicy(5), Calls[fakeOutcome]{Request: request})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second := res.History[1]
	if second.Stage != StageDownshift || second.Reason != ReasonJSONParse || second.MaxOutputTokens != 196 {
		t.Errorf("unexpected second attempt: %+v", second)
	}
	if res.MaxOutputTokens != 196 {
		t.Errorf("expected result budget 196, got %d", res.MaxOutputTokens)
	}
	if res.Metrics.ParseFailures != 1 || res.Metrics.Downshifts != 1 {
		t.Errorf("unexpected metrics: %+v", res.Metrics)
	}
}

func TestRun_SchemaValidationEscalatesLikeParse(t *testing.T) {
	request, _ := script(fail(generation.KindSchemaValidation), ok("done"))

	res, err := Run(context.Background(), testPolicy(5), Calls[fakeOutcome]{Request: request})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.History[1].MaxOutputTokens != 196 {
		t.Errorf("expected downshifted budget, got %d", res.History[1].MaxOutputTokens)
	}
}

func TestRun_TransientRetriesAtFullBudget(t *testing.T) {
	request, _ := script(fail(generation.KindTransient), ok("done"))

	res, err := Run(context.Background(), testPolicy(5), Calls[fakeOutcome]{Request: request})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second := res.History[1]
	if second.Stage != StageDownshift || second.MaxOutputTokens != 280 {
		t.Errorf("expected downshift stage at full budget, got %+v", second)
	}
	if res.Metrics.Downshifts != 0 {
		t.Errorf("expected no downshift to be counted, got %d", res.Metrics.Downshifts)
	}
}

func TestRun_KeepsLastIncompleteCandidate(t *testing.T) {
	request, _ := script(truncated("partial"), fail(generation.KindTransient))

	res, err := Run(context.Background(), testPolicy(5), Calls[fakeOutcome]{Request: request})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Truncated || res.Value.label != "partial" {
		t.Errorf("expected truncated partial candidate, got %+v truncated=%v", res.Value, res.Truncated)
	}
	if res.MaxOutputTokens != 280 {
		t.Errorf("expected candidate budget 280, got %d", res.MaxOutputTokens)
	}
	if res.Attempts != 3 {
		t.Errorf("expected the full ladder of 3 attempts, got %d", res.Attempts)
	}
}

func TestRun_CallDeadlineDuringSegmentKeepsCandidate(t *testing.T) {
	request, _ := script(truncated("partial"))
	calls := Calls[fakeOutcome]{
		Request: request,
		Decompose: func(ctx context.Context, _ AttemptContext) (fakeOutcome, bool, error) {
			<-ctx.Done()
			return fakeOutcome{}, false, ctx.Err()
		},
	}
	policy := testPolicy(2)
	policy.CallTimeout = 50 * time.Millisecond

	res, err := Run(context.Background(), policy, calls)
	if err != nil {
		t.Fatalf("expected the kept candidate, got error %v", err)
	}
	if !res.Truncated || res.Value.label != "partial" {
		t.Errorf("expected truncated partial candidate, got %+v truncated=%v", res.Value, res.Truncated)
	}
	if diff := cmp.Diff([]Stage{StagePrimary, StageSegment}, stagesOf(res.History)); diff != "" {
		t.Errorf("stage sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_CallDeadlineBetweenAttemptsKeepsCandidate(t *testing.T) {
	request, calls := script(func(AttemptContext) (fakeOutcome, error) {
		time.Sleep(60 * time.Millisecond)
		return fakeOutcome{label: "partial", incomplete: true}, nil
	})
	policy := testPolicy(3)
	policy.CallTimeout = 30 * time.Millisecond

	res, err := Run(context.Background(), policy, Calls[fakeOutcome]{Request: request})
	if err != nil {
		t.Fatalf("expected the kept candidate, got error %v", err)
	}
	if !res.Truncated || res.Value.label != "partial" {
		t.Errorf("expected truncated partial candidate, got %+v truncated=%v", res.Value, res.Truncated)
	}
	if *calls != 1 {
		t.Errorf("expected no attempt after the deadline, got %d calls", *calls)
	}
}

func TestRun_CancelDuringSegmentDropsCandidate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	request, _ := script(truncated("partial"))
	calls := Calls[fakeOutcome]{
		Request: request,
		Decompose: func(ctx context.Context, _ AttemptContext) (fakeOutcome, bool, error) {
			cancel()
			return fakeOutcome{}, false, ctx.Err()
		},
	}

	_, err := Run(ctx, testPolicy(2), calls)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRun_IncompleteOnLastStageIsReturned(t *testing.T) {
	request, _ := script(truncated("a"), truncated("b"), truncated("c"))

	res, err := Run(context.Background(), testPolicy(5), Calls[fakeOutcome]{Request: request})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Truncated || res.Value.label != "c" {
		t.Errorf("expected last truncated response, got %+v", res.Value)
	}
	if res.MaxOutputTokens != 137 {
		t.Errorf("expected minimal budget 137, got %d", res.MaxOutputTokens)
	}
}

func TestRun_FallbackStage(t *testing.T) {
	request, _ := script(fail(generation.KindJSONParse))
	fallback, fallbackCalls := script(ok("fallback"))

	res, err := Run(context.Background(), testPolicy(5), Calls[fakeOutcome]{Request: request, Fallback: fallback})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last := res.History[len(res.History)-1]
	if last.Stage != StageFallback || !last.UsingFallbackModel {
		t.Errorf("expected fallback attempt, got %+v", last)
	}
	if last.MaxOutputTokens != 137 {
		t.Errorf("expected fallback budget 137, got %d", last.MaxOutputTokens)
	}
	if *fallbackCalls != 1 || !res.Metrics.FallbackUsed {
		t.Errorf("expected one fallback call, got %d (metrics %+v)", *fallbackCalls, res.Metrics)
	}
}

func TestRun_SegmentMissPropagatesOriginalFailure(t *testing.T) {
	request, _ := script(fail(generation.KindJSONParse))
	calls := Calls[fakeOutcome]{
		Request: request,
		Decompose: func(context.Context, AttemptContext) (fakeOutcome, bool, error) {
			return fakeOutcome{}, false, nil
		},
	}

	res, err := Run(context.Background(), testPolicy(5), calls)
	if generation.KindOf(err) != generation.KindJSONParse {
		t.Fatalf("expected the original json_parse error, got %v", err)
	}
	if diff := cmp.Diff([]Stage{StagePrimary, StageDownshift, StageMinimal, StageSegment}, stagesOf(res.History)); diff != "" {
		t.Errorf("stage sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_SegmentErrorKeepsOriginalKind(t *testing.T) {
	request, _ := script(fail(generation.KindIncomplete))
	calls := Calls[fakeOutcome]{
		Request: request,
		Decompose: func(context.Context, AttemptContext) (fakeOutcome, bool, error) {
			return fakeOutcome{}, false, errors.New("half failed")
		},
	}

	_, err := Run(context.Background(), testPolicy(3), calls)
	if generation.KindOf(err) != generation.KindIncomplete {
		t.Errorf("expected incomplete error, got %v", err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	request, calls := script(ok("never"))
	_, err := Run(ctx, testPolicy(3), Calls[fakeOutcome]{Request: request})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if *calls != 0 {
		t.Errorf("expected no calls, got %d", *calls)
	}
}

func TestRun_AttemptTimeout(t *testing.T) {
	var calls int32
	request := func(ctx context.Context, ac AttemptContext) (fakeOutcome, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			<-ctx.Done()
			return fakeOutcome{}, ctx.Err()
		}
		return fakeOutcome{label: "second"}, nil
	}
	policy := testPolicy(3)
	policy.AttemptTimeout = 10 * time.Millisecond

	res, err := Run(context.Background(), policy, Calls[fakeOutcome]{Request: request})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Value.label != "second" {
		t.Errorf("expected second attempt to win, got %q", res.Value.label)
	}
	if res.History[1].Reason != ReasonTransient {
		t.Errorf("expected transient reason after timeout, got %s", res.History[1].Reason)
	}
}

func TestRun_OnAttemptSeesEveryAttempt(t *testing.T) {
	request, _ := script(fail(generation.KindTransient), fail(generation.KindJSONParse), ok("done"))
	var seen []AttemptContext

	res, err := Run(context.Background(), testPolicy(5), Calls[fakeOutcome]{
		Request:   request,
		OnAttempt: func(ac AttemptContext) { seen = append(seen, ac) },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(res.History, seen); diff != "" {
		t.Errorf("OnAttempt mismatch (-history +seen):\n%s", diff)
	}
}

func TestRun_NilRequest(t *testing.T) {
	_, err := Run(context.Background(), testPolicy(3), Calls[fakeOutcome]{})
	if generation.KindOf(err) != generation.KindInvalidRequest {
		t.Errorf("expected invalid_request, got %v", err)
	}
}

func TestPolicy_BudgetClamp(t *testing.T) {
	p := Policy{InitialBudget: 120, MinBudget: 100, Cap: 110}.withDefaults()
	if got := p.budget(StagePrimary, false); got != 110 {
		t.Errorf("primary budget = %d, want cap 110", got)
	}
	if got := p.budget(StageMinimal, true); got != 100 {
		t.Errorf("minimal budget = %d, want floor 100", got)
	}
	if got := p.budget(StageMinimal, false); got != 110 {
		t.Errorf("unescalated minimal budget = %d, want 110", got)
	}
}

func TestPlan(t *testing.T) {
	request, _ := script(ok("x"))
	decompose := func(context.Context, AttemptContext) (fakeOutcome, bool, error) { return fakeOutcome{}, false, nil }

	tests := []struct {
		name        string
		maxAttempts int
		calls       Calls[fakeOutcome]
		want        []Stage
	}{
		{"base", 5, Calls[fakeOutcome]{Request: request}, []Stage{StagePrimary, StageDownshift, StageMinimal}},
		{"fallback", 5, Calls[fakeOutcome]{Request: request, Fallback: request}, []Stage{StagePrimary, StageDownshift, StageMinimal, StageFallback}},
		{"segment fits", 5, Calls[fakeOutcome]{Request: request, Fallback: request, Decompose: decompose}, []Stage{StagePrimary, StageDownshift, StageMinimal, StageFallback, StageSegment}},
		{"segment shortened", 3, Calls[fakeOutcome]{Request: request, Fallback: request, Decompose: decompose}, []Stage{StagePrimary, StageDownshift, StageSegment}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, plan(tt.maxAttempts, tt.calls)); diff != "" {
				t.Errorf("plan mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

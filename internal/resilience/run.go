package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/valpere/peredoc/internal/generation"
)

// Run drives one logical call through the stage ladder. Attempts are strictly
// sequential: each decision depends on the classified outcome of the
// previous attempt.
//
// On error the returned Result is still non-nil and carries the attempt
// history and metrics; its Value is the zero value.
func Run[T Outcome](ctx context.Context, policy Policy, calls Calls[T]) (*Result[T], error) {
	res := &Result[T]{}
	if calls.Request == nil {
		return res, generation.Errorf(generation.KindInvalidRequest, "resilience: nil request callback")
	}

	policy = policy.withDefaults()
	if policy.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.CallTimeout)
		defer cancel()
	}

	stages := plan(policy.MaxAttempts, calls)

	var (
		stageIdx        int
		reason          = ReasonInitial
		escalated       bool
		lastErr         error
		candidate       T
		haveCandidate   bool
		candidateBudget int
		rateLimitStreak int
	)

	// An expired call deadline still yields the incomplete candidate kept
	// from an earlier attempt; cancellation never does.
	keepCandidate := func(ctxErr error) bool {
		return haveCandidate && errors.Is(ctxErr, context.DeadlineExceeded) &&
			generation.KindOf(lastErr) != generation.KindRateLimit
	}

loop:
	for attempt := 0; attempt < policy.MaxAttempts && stageIdx < len(stages); attempt++ {
		if err := ctx.Err(); err != nil {
			if keepCandidate(err) {
				break
			}
			return res, err
		}

		stage := stages[stageIdx]
		ac := AttemptContext{
			AttemptIndex:       attempt,
			MaxOutputTokens:    policy.budget(stage, escalated),
			Stage:              stage,
			Reason:             reason,
			UsingFallbackModel: stage == StageFallback,
			UsingSegmentRetry:  stage == StageSegment,
		}
		res.History = append(res.History, ac)
		res.Attempts++
		if ac.MaxOutputTokens < policy.budget(StagePrimary, false) {
			res.Metrics.Downshifts++
		}
		if calls.OnAttempt != nil {
			calls.OnAttempt(ac)
		}

		if stage == StageSegment {
			res.Metrics.SegmentRetryUsed = true
			value, ok, err := calls.Decompose(ctx, ac)
			if err == nil && ok {
				res.Value = value
				res.MaxOutputTokens = ac.MaxOutputTokens
				res.Truncated = false
				return res, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				if keepCandidate(ctxErr) {
					break loop
				}
				return res, ctxErr
			}
			lastErr = segmentMiss(lastErr, err)
			stageIdx++
			rateLimitStreak = 0
			continue
		}

		value, err := dispatch(ctx, policy, calls, ac)
		if err == nil {
			if stage == StageFallback {
				res.Metrics.FallbackUsed = true
			}
			if !value.Incomplete() {
				res.Value = value
				res.MaxOutputTokens = ac.MaxOutputTokens
				res.Truncated = false
				return res, nil
			}
			res.Metrics.IncompleteResponses++
			candidate, haveCandidate, candidateBudget = value, true, ac.MaxOutputTokens
			lastErr = generation.Errorf(generation.KindIncomplete, "output truncated at %d tokens", ac.MaxOutputTokens)
			escalated = true
			reason = ReasonIncomplete
			stageIdx++
			rateLimitStreak = 0
			continue
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			if keepCandidate(ctxErr) {
				break
			}
			return res, ctxErr
		}

		lastErr = err
		switch generation.KindOf(err) {
		case generation.KindInvalidRequest:
			return res, err
		case generation.KindRateLimit:
			res.Metrics.RateLimitRetries++
			reason = ReasonRateLimit
			if attempt+1 < policy.MaxAttempts {
				wait := backoff(policy, rateLimitStreak, generation.RetryAfterOf(err))
				if err := sleepWithContext(ctx, wait); err != nil {
					return res, err
				}
			}
			rateLimitStreak++
			continue
		case generation.KindIncomplete:
			res.Metrics.IncompleteResponses++
			escalated = true
			reason = ReasonIncomplete
		case generation.KindJSONParse, generation.KindSchemaValidation:
			res.Metrics.ParseFailures++
			escalated = true
			reason = ReasonJSONParse
		default:
			res.Metrics.TransientFailures++
			reason = ReasonTransient
		}
		stageIdx++
		rateLimitStreak = 0
	}

	if haveCandidate && generation.KindOf(lastErr) != generation.KindRateLimit {
		res.Value = candidate
		res.MaxOutputTokens = candidateBudget
		res.Truncated = true
		return res, nil
	}
	if lastErr == nil {
		lastErr = generation.Errorf(generation.KindUnknown, "no result after %d attempts", res.Attempts)
	}
	return res, lastErr
}

// plan lists the stages available to a call. When segment retry is
// configured but the full ladder does not fit in maxAttempts, the ladder is
// shortened so that segment retry is still the final attempt.
func plan[T Outcome](maxAttempts int, calls Calls[T]) []Stage {
	stages := []Stage{StagePrimary, StageDownshift, StageMinimal}
	if calls.Fallback != nil {
		stages = append(stages, StageFallback)
	}
	if calls.Decompose != nil {
		if keep := maxAttempts - 1; keep < len(stages) {
			if keep < 1 {
				keep = 1
			}
			stages = stages[:keep]
		}
		stages = append(stages, StageSegment)
	}
	return stages
}

func dispatch[T Outcome](ctx context.Context, policy Policy, calls Calls[T], ac AttemptContext) (T, error) {
	if policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.AttemptTimeout)
		defer cancel()
	}
	if ac.Stage == StageFallback {
		return calls.Fallback(ctx, ac)
	}
	return calls.Request(ctx, ac)
}

// segmentMiss keeps the failure that triggered decomposition as the error to
// propagate, noting why decomposition did not recover.
func segmentMiss(orig, err error) error {
	switch {
	case orig == nil && err == nil:
		return generation.Errorf(generation.KindSegmentRetryExhausted, "batch cannot be split further")
	case orig == nil:
		return generation.NewError(generation.KindSegmentRetryExhausted, err)
	case err == nil:
		return orig
	default:
		return fmt.Errorf("%w (segment retry: %v)", orig, err)
	}
}

func backoff(policy Policy, streak int, hint time.Duration) time.Duration {
	wait := policy.RateLimitBackoff
	for i := 0; i < streak && wait < policy.MaxBackoff; i++ {
		wait *= 2
	}
	if hint > wait {
		wait = hint
	}
	if wait > policy.MaxBackoff {
		wait = policy.MaxBackoff
	}
	return wait
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

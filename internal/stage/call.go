package stage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/valpere/peredoc/internal"
	"github.com/valpere/peredoc/internal/generation"
	"github.com/valpere/peredoc/internal/resilience"
	"github.com/valpere/peredoc/internal/segment"
)

// call describes one logical generation call over a batch of units.
type call[R any] struct {
	units     []internal.Unit
	direction string
	// single marks calls that yield one result for the whole batch. They
	// are never decomposed.
	single bool
	shape  generation.Shape
	build  func(units []internal.Unit, compact bool) []generation.Message
	// parse returns one result per unit. Units missing from an incomplete
	// response get the zero value; missing from a complete one is an error.
	parse func(resp *generation.Response, units []internal.Unit) (results []R, repaired bool, err error)
	join  func(unit internal.Unit, parts []internal.Unit, results []R) (R, error)
}

type reply[R any] struct {
	results  []R
	resp     *generation.Response
	repaired bool

	// Set when the reply was assembled by decomposition.
	decomposed bool
	sub        Report
	history    []resilience.AttemptContext
}

func (r *reply[R]) Incomplete() bool {
	return r != nil && r.resp.Incomplete()
}

type outcome[R any] struct {
	results []R
	report  Report
	history []resilience.AttemptContext
}

func execute[R any](ctx context.Context, r *Runner, c call[R], parentID string) (*outcome[R], error) {
	opts := r.Options.withDefaults()
	policy := r.Policy
	policy.InitialBudget = r.estimator().Estimate(c.units, r.Mode, c.direction)

	callID := uuid.NewString()
	log := r.log().WithFields(logrus.Fields{
		"stage":   r.Mode,
		"call_id": callID,
		"units":   len(c.units),
	})
	if parentID != "" {
		log = log.WithField("parent_id", parentID)
	}

	var spent generation.Usage
	calls := resilience.Calls[*reply[R]]{
		Request: func(ctx context.Context, ac resilience.AttemptContext) (*reply[R], error) {
			return attempt(ctx, r.Primary, c, ac, opts.Temperature, &spent)
		},
		OnAttempt: func(ac resilience.AttemptContext) {
			log.WithFields(logrus.Fields{
				"event":             "attempt",
				"attempt":           ac.AttemptIndex,
				"rung":              ac.Stage,
				"reason":            ac.Reason,
				"max_output_tokens": ac.MaxOutputTokens,
			}).Debug("generation attempt")
		},
	}
	if r.Fallback != nil && r.Fallback.Client != nil {
		fallback := *r.Fallback
		calls.Fallback = func(ctx context.Context, ac resilience.AttemptContext) (*reply[R], error) {
			return attempt(ctx, fallback, c, ac, opts.Temperature, &spent)
		}
	}
	if parentID == "" && !c.single && !opts.DisableSegment {
		calls.Decompose = func(ctx context.Context, ac resilience.AttemptContext) (*reply[R], bool, error) {
			return decompose(ctx, r, c, ac, callID, opts)
		}
	}

	res, err := resilience.Run(ctx, policy, calls)
	if r.OnCall != nil {
		r.OnCall(CallReport{
			CallID:   callID,
			ParentID: parentID,
			Mode:     r.Mode,
			Units:    len(c.units),
			History:  res.History,
			Metrics:  res.Metrics,
			Err:      err,
		})
	}
	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"event":    "call_failed",
			"attempts": res.Attempts,
		}).Warn("generation call failed")
		return nil, fmt.Errorf("%s call over %d units: %w", r.Mode, len(c.units), err)
	}

	out := &outcome[R]{
		results: res.Value.results,
		history: res.History,
		report: Report{
			Calls:           1,
			Attempts:        res.Attempts,
			MaxOutputTokens: res.MaxOutputTokens,
			Truncated:       res.Truncated,
			RepairApplied:   res.Value.repaired,
			Metrics:         res.Metrics,
			Usage:           spent,
		},
	}
	if res.Value.decomposed {
		out.report.add(res.Value.sub)
		out.history = append(out.history, res.Value.history...)
	}
	if res.Truncated {
		log.WithFields(logrus.Fields{
			"event":             "truncated",
			"max_output_tokens": res.MaxOutputTokens,
		}).Warn("accepted truncated result")
	}
	return out, nil
}

func attempt[R any](ctx context.Context, t Target, c call[R], ac resilience.AttemptContext, temperature float64, spent *generation.Usage) (*reply[R], error) {
	if t.Client == nil {
		return nil, generation.Errorf(generation.KindInvalidRequest, "no client configured")
	}

	// The last rungs ask for the leanest shape: terse instructions and no
	// schema.
	compact := ac.Stage == resilience.StageMinimal || ac.Stage == resilience.StageFallback
	req := generation.Request{
		Model:           t.Model,
		MaxOutputTokens: ac.MaxOutputTokens,
		Shape:           c.shape,
		Messages:        c.build(c.units, compact),
		Temperature:     temperature,
	}
	if compact {
		req.Shape.Schema = nil
	}

	resp, err := t.Client.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	*spent = spent.Add(resp.Usage)

	results, repaired, err := c.parse(resp, c.units)
	if err != nil {
		if resp.Incomplete() {
			return nil, generation.NewError(generation.KindIncomplete, err)
		}
		return nil, err
	}
	want := len(c.units)
	if c.single {
		want = 1
	}
	if len(results) != want {
		return nil, generation.Errorf(generation.KindSchemaValidation, "expected %d results, got %d", want, len(results))
	}
	return &reply[R]{results: results, resp: resp, repaired: repaired}, nil
}

// decompose re-runs the call on smaller pieces. Pieces run as nested calls
// that cannot decompose again and must not be truncated.
func decompose[R any](ctx context.Context, r *Runner, c call[R], ac resilience.AttemptContext, callID string, opts Options) (*reply[R], bool, error) {
	var (
		mu  sync.Mutex
		sub Report
	)
	process := func(ctx context.Context, units []internal.Unit) (*segment.Batch[R], error) {
		piece := c
		piece.units = units
		out, err := execute(ctx, r, piece, callID)
		if err != nil {
			return nil, err
		}
		if out.report.Truncated {
			return nil, generation.Errorf(generation.KindIncomplete, "piece of %d units still truncated", len(units))
		}
		mu.Lock()
		sub.add(out.report)
		mu.Unlock()
		return &segment.Batch[R]{Results: out.results, Usage: out.report.Usage, History: out.history}, nil
	}

	d, err := segment.Decompose(ctx, c.units, ac, process, segment.Options[R]{
		MaxDepth:    opts.SegmentDepth,
		Concurrency: opts.SegmentConcurrency,
		Join:        c.join,
	})
	if err != nil {
		return nil, false, err
	}
	if d == nil {
		return nil, false, nil
	}
	return &reply[R]{results: d.Results, decomposed: true, sub: sub, history: d.History}, true, nil
}

// runBatches runs mk's call for every batch of units and places the results
// back in unit order.
func runBatches[R any](ctx context.Context, r *Runner, units []internal.Unit, mk func(i int, batch []internal.Unit) call[R]) ([]R, Report, error) {
	opts := r.Options.withDefaults()
	groups := batches(units, opts.BatchUnits, opts.BatchChars)

	results := make([]R, len(units))
	var (
		mu     sync.Mutex
		report Report
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	offset := 0
	for i, batch := range groups {
		start := offset
		offset += len(batch)
		g.Go(func() error {
			out, err := execute(gctx, r, mk(i, batch), "")
			if err != nil {
				return err
			}
			copy(results[start:], out.results)
			mu.Lock()
			report.add(out.report)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, report, err
	}
	return results, report, nil
}

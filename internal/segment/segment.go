// Package segment recovers a failed batch by splitting it into smaller
// batches, running each independently and stitching the per-unit results
// back together in original order.
//
// Splitting is driven by an explicit work queue of (units, depth) tasks
// rather than recursion, so the number of splitting levels a single failure
// can cause is bounded by Options.MaxDepth.
package segment

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/valpere/peredoc/internal"
	"github.com/valpere/peredoc/internal/generation"
	"github.com/valpere/peredoc/internal/resilience"
)

// Batch is the outcome of processing a slice of units. Results holds one
// entry per unit, in unit order.
type Batch[R any] struct {
	Results []R
	Usage   generation.Usage
	History []resilience.AttemptContext
}

// Process runs the full stage call for units. Implementations must not
// decompose again.
type Process[R any] func(ctx context.Context, units []internal.Unit) (*Batch[R], error)

// Options controls decomposition.
type Options[R any] struct {
	// MaxDepth bounds how many times a failing piece may be split again.
	// Defaults to 1: one level of splitting per failure event.
	MaxDepth int
	// Concurrency bounds how many pieces run at once. Defaults to 2.
	Concurrency int
	// Join folds the results of a single unit's sentence-level parts back
	// into one result. Single units are not split when Join is nil.
	Join func(unit internal.Unit, parts []internal.Unit, results []R) (R, error)
}

func (o Options[R]) withDefaults() Options[R] {
	if o.MaxDepth <= 0 {
		o.MaxDepth = 1
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 2
	}
	return o
}

// Decomposition is the merged result of all pieces. It is never truncated:
// every unit has a result.
type Decomposition[R any] struct {
	Results   []R
	Usage     generation.Usage
	History   []resilience.AttemptContext
	Trigger   resilience.AttemptContext
	Pieces    int
	Truncated bool
}

type task[R any] struct {
	units []internal.Unit
	// parts is set when a single unit was split into sentence-level
	// sub-units.
	parts []internal.Unit
	depth int

	batch *Batch[R]
	err   error
}

// Decompose splits units, processes every piece and merges the results.
//
// It returns (nil, nil) when units cannot be split any further and a non-nil
// error when a piece failed and could not be split again. In both cases the
// caller should report the failure that triggered decomposition.
func Decompose[R any](ctx context.Context, units []internal.Unit, trigger resilience.AttemptContext, process Process[R], opts Options[R]) (*Decomposition[R], error) {
	opts = opts.withDefaults()

	frontier, ok := split(&task[R]{units: units}, opts)
	if !ok {
		return nil, nil
	}

	for {
		var pending []*task[R]
		for _, t := range frontier {
			if t.batch == nil {
				pending = append(pending, t)
			}
		}
		if len(pending) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Concurrency)
		for _, t := range pending {
			g.Go(func() error {
				t.batch, t.err = t.run(gctx, process, opts)
				return gctx.Err()
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		next := make([]*task[R], 0, len(frontier))
		for _, t := range frontier {
			if t.err == nil {
				next = append(next, t)
				continue
			}
			if t.depth >= opts.MaxDepth {
				return nil, fmt.Errorf("segment: piece of %d units: %w", len(t.units), t.err)
			}
			children, ok := split(t, opts)
			if !ok {
				return nil, fmt.Errorf("segment: piece of %d units: %w", len(t.units), t.err)
			}
			next = append(next, children...)
		}
		frontier = next
	}

	out := &Decomposition[R]{
		Results: make([]R, 0, len(units)),
		Trigger: trigger,
		Pieces:  len(frontier),
	}
	for _, t := range frontier {
		out.Results = append(out.Results, t.batch.Results...)
		out.Usage = out.Usage.Add(t.batch.Usage)
		out.History = append(out.History, t.batch.History...)
	}
	if len(out.Results) != len(units) {
		return nil, fmt.Errorf("segment: merged %d results for %d units", len(out.Results), len(units))
	}
	return out, nil
}

// split returns the children of t, or false when t is at minimum
// granularity.
func split[R any](t *task[R], opts Options[R]) ([]*task[R], bool) {
	if t.parts != nil {
		return nil, false
	}
	switch n := len(t.units); {
	case n > 1:
		mid := (n + 1) / 2
		return []*task[R]{
			{units: t.units[:mid], depth: t.depth + 1},
			{units: t.units[mid:], depth: t.depth + 1},
		}, true
	case n == 1 && opts.Join != nil:
		parts := SplitUnit(t.units[0])
		if len(parts) < 2 {
			return nil, false
		}
		return []*task[R]{{units: t.units, parts: parts, depth: t.depth + 1}}, true
	default:
		return nil, false
	}
}

func (t *task[R]) run(ctx context.Context, process Process[R], opts Options[R]) (*Batch[R], error) {
	if t.parts == nil {
		b, err := process(ctx, t.units)
		if err != nil {
			return nil, err
		}
		if b == nil || len(b.Results) != len(t.units) {
			return nil, generation.Errorf(generation.KindSchemaValidation, "expected %d results", len(t.units))
		}
		return b, nil
	}

	// Sentence-level parts run in order so their results line up with the
	// proportional slices of the parent text.
	merged := &Batch[R]{}
	results := make([]R, 0, len(t.parts))
	for _, part := range t.parts {
		b, err := process(ctx, []internal.Unit{part})
		if err != nil {
			return nil, err
		}
		if b == nil || len(b.Results) != 1 {
			return nil, generation.Errorf(generation.KindSchemaValidation, "expected 1 result for %s", part.ID)
		}
		results = append(results, b.Results[0])
		merged.Usage = merged.Usage.Add(b.Usage)
		merged.History = append(merged.History, b.History...)
	}
	joined, err := opts.Join(t.units[0], t.parts, results)
	if err != nil {
		return nil, err
	}
	merged.Results = []R{joined}
	return merged, nil
}

package pipeline

import (
	"context"

	"github.com/sourcegraph/conc/pool"
)

// queue feeds jobs of one stage to a bounded worker pool. The dispatcher
// blocks while every worker is busy, so the buffered channel is the only
// backlog.
type queue struct {
	name string
	ch   chan *run
	pool *pool.Pool
	done chan struct{}
}

func newQueue(name string, size, workers int) *queue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 64
	}
	return &queue{
		name: name,
		ch:   make(chan *run, size),
		pool: pool.New().WithMaxGoroutines(workers),
		done: make(chan struct{}),
	}
}

func (q *queue) start(ctx context.Context, work func(*run)) {
	go func() {
		defer close(q.done)
		defer q.pool.Wait()
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-q.ch:
				q.pool.Go(func() { work(r) })
			}
		}
	}()
}

// push enqueues r unless ctx ends first.
func (q *queue) push(ctx context.Context, r *run) error {
	select {
	case q.ch <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

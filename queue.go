package layerkv

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// queue bounds how many operations run against the backend at once.
// It gives backpressure, not ordering: tasks on the same key may interleave.
type queue struct {
	sem *semaphore.Weighted
}

func newQueue(n int) *queue { return &queue{sem: semaphore.NewWeighted(int64(n))} }

// do waits for a slot and runs fn. A cancelled ctx aborts before fn starts.
// fn must not call do again: nested waits can exhaust the slots.
func (q *queue) do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := q.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer q.sem.Release(1)
	return fn(ctx)
}

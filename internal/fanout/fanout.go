// Package fanout runs independent tasks concurrently and joins their results.
package fanout

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Task produces one result. It must return promptly once ctx is done.
type Task[T any] func(ctx context.Context) (T, error)

// Run executes tasks concurrently with at most limit in flight (limit <= 0
// runs them all at once) and returns their results in task order.
//
// The first failure cancels the context shared by the remaining tasks and
// is returned once they have all exited. No partial results are returned.
func Run[T any](ctx context.Context, limit int, tasks ...Task[T]) ([]T, error) {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	results := make([]T, len(tasks))
	for i, task := range tasks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, err := task(gctx)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

package common

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// FanOut runs fn for every index in [0, n) on a pool of at most limit
// goroutines and returns once every call has completed. A limit <= 0 means
// one goroutine per index.
//
// fn never aborts its siblings: each call records its own outcome, and the
// barrier at the end is the only synchronization point. The context is
// handed to every call unchanged.
func FanOut(ctx context.Context, limit int, n int, fn func(ctx context.Context, i int)) {
	if n <= 0 {
		return
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
}

// Package util provides shared helper utilities.
//revive:disable:var-naming // Package name follows project convention.
package util

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// minChunk keeps tiny loops on the calling goroutine.
const minChunk = 4096

var workerLimit = runtime.GOMAXPROCS(0)

// SetWorkers caps the goroutines used by ParallelFor and ParallelEach.
func SetWorkers(n int) {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	workerLimit = n
}

// Workers returns the current worker cap.
func Workers() int {
	return workerLimit
}

// ParallelFor runs fn over [0, n) split into contiguous chunks. fn must only
// touch state owned by its index range.
func ParallelFor(n int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	workers := workerLimit
	if workers <= 1 || n < minChunk {
		fn(0, n)
		return
	}
	chunk := (n + workers - 1) / workers
	if chunk < minChunk {
		chunk = minChunk
	}
	var g errgroup.Group
	for lo := 0; lo < n; lo += chunk {
		lo, hi := lo, min(lo+chunk, n)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
}

// ParallelEach runs fn for every index in [0, n) with at most Workers()
// concurrent calls and returns the first error.
func ParallelEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workerLimit, 1))
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(ctx, i)
		})
	}
	return g.Wait()
}

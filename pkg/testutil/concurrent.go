package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"parcelproof/pkg/platform/sentinel"
)

// ConcurrentResult tracks outcomes of concurrent test operations.
type ConcurrentResult struct {
	Successes int32
	Errors    int32
	Conflicts int32
	NotFounds int32
	Cancelled int32
}

// Total returns the total number of operations executed.
func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Errors + r.Conflicts + r.NotFounds + r.Cancelled
}

// RunConcurrent executes fn in parallel goroutines and buckets each error as a
// conflict, not found, cancellation, or generic error.
func RunConcurrent(goroutines int, fn func(idx int) error) *ConcurrentResult {
	var (
		wg                                    sync.WaitGroup
		successes, errs, conflicts, notFounds atomic.Int32
		cancelled                             atomic.Int32
	)
	for i := range goroutines {
		wg.Go(func() {
			err := fn(i)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			case errors.Is(err, sentinel.ErrNotFound):
				notFounds.Add(1)
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				cancelled.Add(1)
			default:
				errs.Add(1)
			}
		})
	}
	wg.Wait()

	return &ConcurrentResult{
		Successes: successes.Load(),
		Errors:    errs.Load(),
		Conflicts: conflicts.Load(),
		NotFounds: notFounds.Load(),
		Cancelled: cancelled.Load(),
	}
}

// RunConcurrentCollect executes fn in parallel and returns every error so the
// caller can inspect types beyond the standard buckets.
func RunConcurrentCollect(goroutines int, fn func(idx int) error) (successes int32, errs []error) {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		count atomic.Int32
	)
	for i := range goroutines {
		wg.Go(func() {
			if err := fn(i); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}
			count.Add(1)
		})
	}
	wg.Wait()
	return count.Load(), errs
}

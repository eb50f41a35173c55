package service

import (
	"context"
	"time"

	"parcelproof/internal/handover/models"
	"parcelproof/internal/platform/tracer"
)

// await runs fn and stops waiting when ctx is done, even if fn ignores ctx.
// Past the still-trying threshold the attempt's progress callback fires once.
func await[T any](ctx context.Context, s *Service, a *attempt, step string, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{value: v, err: err}
	}()

	start := time.Now()
	defer func() { s.observeStep(step, time.Since(start)) }()
	timer := time.NewTimer(s.stillTryingAfter)
	defer timer.Stop()

	for {
		select {
		case r := <-done:
			return r.value, r.err
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-timer.C:
			elapsed := time.Since(start)
			a.span.AddEvent(tracer.EventStillTrying,
				tracer.String("step", step),
				tracer.Duration("elapsed_ms", elapsed),
			)
			s.incrementStillTrying(step)
			if a.opts.OnProgress != nil {
				a.opts.OnProgress(models.Progress{Step: step, Elapsed: elapsed})
			}
		}
	}
}

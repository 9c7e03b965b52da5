package resilience

import (
	"context"
	"time"
)

// Retry calls fn through cb until it succeeds or ctx ends, waiting interval
// before every attempt. Attempts rejected by an open breaker count as
// failures and are retried on the next tick. It returns nil on success and
// ctx.Err() otherwise.
func Retry(ctx context.Context, cb *CircuitBreaker, interval time.Duration, fn func(context.Context) error) error {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTimer(interval)
	defer t.Stop()
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		err := cb.Execute(func() error { return fn(ctx) })
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		cb.cfg.Logger.Debug("retry attempt failed", "name", cb.Name(), "attempt", attempt, "err", err)
		t.Reset(interval)
	}
}

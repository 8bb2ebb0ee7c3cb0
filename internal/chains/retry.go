package chains

import (
	"context"
	"fmt"
	"time"
)

// WithRetry runs fn with the chain's call timeout, retrying up to the
// configured budget with the block time as backoff. Exhausting the budget
// returns the last error; it never panics the caller into a crash path.
func WithRetry[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := cfg.RetryBudget
	if attempts < 1 {
		attempts = 1
	}
	backoff := cfg.BlockTime
	if backoff <= 0 {
		backoff = time.Second
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if cfg.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, cfg.CallTimeout)
		}
		out, err := fn(callCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return out, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return zero, fmt.Errorf("retry budget (%d) exhausted: %w", attempts, lastErr)
}

package util

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
)

// RetryPolicy bounds a remote call. Each attempt runs under Timeout.
type RetryPolicy struct {
	Attempts uint
	Delay    time.Duration
	Timeout  time.Duration
}

// Retry runs fn until it succeeds, the attempts are exhausted, retryable
// reports false, or ctx is done. The last error is returned.
func Retry(ctx context.Context, policy RetryPolicy, logger zerolog.Logger, retryable func(error) bool, fn func(ctx context.Context) error) error {
	attempts := policy.Attempts
	if attempts == 0 {
		attempts = 1
	}
	return retry.Do(
		func() error {
			attemptCtx, cancel := contextWithOptionalTimeout(ctx, policy.Timeout)
			defer cancel()
			return fn(attemptCtx)
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(policy.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if ctx.Err() != nil {
				return false
			}
			return retryable == nil || retryable(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn().Err(err).Uint("attempt", n+1).Msg("remote call failed, retrying")
		}),
	)
}

func contextWithOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

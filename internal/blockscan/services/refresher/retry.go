package refresher

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// minDelay is used when a zero delay is configured; constant backoff
// requires a positive interval.
const minDelay = time.Millisecond

// RetryPolicy bounds how often an operation is attempted.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

func (p RetryPolicy) backoff() retry.Backoff {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Delay
	if delay <= 0 {
		delay = minDelay
	}
	return retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(delay))
}

// Retry runs fn until it succeeds, the attempts are exhausted or ctx is done.
// Each attempt is awaited before the next one starts. onFailure, if set, sees
// every failed attempt. The error of the last attempt is returned.
func Retry[T any](ctx context.Context, policy RetryPolicy, onFailure func(attempt int, err error), fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		result  T
		attempt int
	)
	err := retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		attempt++
		v, err := fn(ctx)
		if err != nil {
			if onFailure != nil {
				onFailure(attempt, err)
			}
			return retry.RetryableError(err)
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
